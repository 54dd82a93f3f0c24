package fixtures

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/service"
)

// Factory creates test records directly in a store, bypassing the
// dispatcher. Guards are not checked; use it to arrange state, not to test
// transitions.
type Factory struct {
	store service.Store
	now   func() time.Time
}

// New creates a new fixture factory
func New(store service.Store) *Factory {
	return &Factory{store: store, now: time.Now}
}

// WithClock makes the factory stamp records from now
func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

// RandomID generates a random hex ID
func RandomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

// ============================================================================
// Ticket Fixtures
// ============================================================================

// TicketOpts customizes ticket creation
type TicketOpts struct {
	CommunityID string
	RequesterID string
	ChannelRef  string
	Status      model.TicketStatus
	UpdatedOn   time.Time
}

// WithCommunity sets the ticket's community
func WithCommunity(id string) func(*TicketOpts) {
	return func(o *TicketOpts) { o.CommunityID = id }
}

// WithRequester sets the ticket's requester
func WithRequester(id string) func(*TicketOpts) {
	return func(o *TicketOpts) { o.RequesterID = id }
}

// WithChannel sets the ticket's channel reference
func WithChannel(ref string) func(*TicketOpts) {
	return func(o *TicketOpts) { o.ChannelRef = ref }
}

// WithStatus sets the initial status. Use CreateQueuedTicket for queued
// statuses so the ticket gets a queue number.
func WithStatus(s model.TicketStatus) func(*TicketOpts) {
	return func(o *TicketOpts) { o.Status = s }
}

// UpdatedAt backdates the ticket, for idle sweeps
func UpdatedAt(ts time.Time) func(*TicketOpts) {
	return func(o *TicketOpts) { o.UpdatedOn = ts }
}

// CreateTicket creates an active ticket awaiting evidence
func (f *Factory) CreateTicket(t *testing.T, opts ...func(*TicketOpts)) *model.Ticket {
	t.Helper()

	now := f.now().UTC()
	o := &TicketOpts{
		CommunityID: "community_" + RandomID(),
		RequesterID: "user_" + RandomID(),
		ChannelRef:  "channel_" + RandomID(),
		Status:      model.TicketStatusAwaitingEvidence,
		UpdatedOn:   now,
	}
	for _, fn := range opts {
		fn(o)
	}

	c := ctx(t)
	number, err := f.store.Settings.NextTicketNumber(c, o.CommunityID)
	if err != nil {
		t.Fatalf("fixtures: failed to allocate ticket number: %v", err)
	}

	ticket := &model.Ticket{
		ID:          uuid.NewString(),
		CommunityID: o.CommunityID,
		Number:      number,
		ChannelRef:  o.ChannelRef,
		RequesterID: o.RequesterID,
		Status:      o.Status,
		Version:     1,
		CreatedOn:   now,
		UpdatedOn:   o.UpdatedOn.UTC(),
	}
	if err := f.store.Tickets.Create(c, ticket); err != nil {
		t.Fatalf("fixtures: failed to create ticket: %v", err)
	}
	return ticket
}

// CreateQueuedTicket creates a ticket and admits it to the queue. An empty
// identifier admits without registering one.
func (f *Factory) CreateQueuedTicket(t *testing.T, identifier string, opts ...func(*TicketOpts)) *model.Ticket {
	t.Helper()

	ticket := f.CreateTicket(t, opts...)

	var rec *model.TransactionRecord
	if identifier != "" {
		rec = &model.TransactionRecord{
			CommunityID: ticket.CommunityID,
			Value:       identifier,
			TicketID:    ticket.ID,
			CreatedOn:   f.now().UTC(),
		}
	}

	admitted, err := f.store.Tickets.Admit(ctx(t), model.AdmissionParams{
		TicketID:        ticket.ID,
		CommunityID:     ticket.CommunityID,
		ExpectedVersion: ticket.Version,
		Identifier:      rec,
		At:              f.now().UTC(),
	})
	if err != nil {
		t.Fatalf("fixtures: failed to admit ticket: %v", err)
	}
	return admitted
}

// CloseTicket moves a ticket straight to closed
func (f *Factory) CloseTicket(t *testing.T, ticket *model.Ticket, reason model.CloseReason) *model.Ticket {
	t.Helper()

	closed, err := f.store.Tickets.Transition(ctx(t), model.TransitionParams{
		TicketID:        ticket.ID,
		ExpectedVersion: ticket.Version,
		To:              model.TicketStatusClosed,
		CloseReason:     &reason,
		At:              f.now().UTC(),
	})
	if err != nil {
		t.Fatalf("fixtures: failed to close ticket: %v", err)
	}
	return closed
}

// ============================================================================
// Community Fixtures
// ============================================================================

// ReserveIdentifier marks an identifier as used without a ticket
func (f *Factory) ReserveIdentifier(t *testing.T, communityID, value string) *model.TransactionRecord {
	t.Helper()

	rec := &model.TransactionRecord{
		CommunityID: communityID,
		Value:       value,
		CreatedOn:   f.now().UTC(),
	}
	if err := f.store.Identifiers.Register(ctx(t), rec); err != nil {
		t.Fatalf("fixtures: failed to reserve identifier: %v", err)
	}
	return rec
}

// SetOnDuty flags staff members as taking tickets
func (f *Factory) SetOnDuty(t *testing.T, communityID string, userIDs ...string) {
	t.Helper()

	c := ctx(t)
	for _, userID := range userIDs {
		err := f.store.Duty.SetDuty(c, &model.StaffDuty{
			CommunityID: communityID,
			UserID:      userID,
			OnDuty:      true,
			UpdatedOn:   f.now().UTC(),
		})
		if err != nil {
			t.Fatalf("fixtures: failed to set duty for %s: %v", userID, err)
		}
	}
}
