package service

import (
	"context"
	"time"

	"github.com/forgo/queuedesk/internal/model"
)

// DefaultStoreTimeout bounds a single store call when none is configured
const DefaultStoreTimeout = 5 * time.Second

// BoundStore returns a Store whose every call runs under its own timeout.
// A call that overruns surfaces context.DeadlineExceeded, which
// database.IsTransient classifies as retryable.
func BoundStore(s Store, timeout time.Duration) Store {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return Store{
		Tickets:     boundedTickets{next: s.Tickets, timeout: timeout},
		Identifiers: boundedIdentifiers{next: s.Identifiers, timeout: timeout},
		Settings:    boundedSettings{next: s.Settings, timeout: timeout},
		Duty:        boundedDuty{next: s.Duty, timeout: timeout},
	}
}

type boundedTickets struct {
	next    TicketRepository
	timeout time.Duration
}

func (b boundedTickets) Create(ctx context.Context, ticket *model.Ticket) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Create(ctx, ticket)
}

func (b boundedTickets) GetByID(ctx context.Context, ticketID string) (*model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.GetByID(ctx, ticketID)
}

func (b boundedTickets) GetByChannel(ctx context.Context, communityID, channelRef string) (*model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.GetByChannel(ctx, communityID, channelRef)
}

func (b boundedTickets) GetActiveByRequester(ctx context.Context, communityID, requesterID string) (*model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.GetActiveByRequester(ctx, communityID, requesterID)
}

func (b boundedTickets) ListIdle(ctx context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.ListIdle(ctx, statuses, before, limit)
}

func (b boundedTickets) Transition(ctx context.Context, p model.TransitionParams) (*model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Transition(ctx, p)
}

func (b boundedTickets) Admit(ctx context.Context, p model.AdmissionParams) (*model.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Admit(ctx, p)
}

func (b boundedTickets) QueuePosition(ctx context.Context, ticketID string) (*model.QueuePosition, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.QueuePosition(ctx, ticketID)
}

func (b boundedTickets) QueueSnapshot(ctx context.Context, communityID string) (*model.QueueSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.QueueSnapshot(ctx, communityID)
}

type boundedIdentifiers struct {
	next    IdentifierRepository
	timeout time.Duration
}

func (b boundedIdentifiers) Register(ctx context.Context, rec *model.TransactionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Register(ctx, rec)
}

func (b boundedIdentifiers) Get(ctx context.Context, communityID, value string) (*model.TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Get(ctx, communityID, value)
}

type boundedSettings struct {
	next    SettingsRepository
	timeout time.Duration
}

func (b boundedSettings) Get(ctx context.Context, communityID string) (*model.CommunitySettings, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Get(ctx, communityID)
}

func (b boundedSettings) NextTicketNumber(ctx context.Context, communityID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.NextTicketNumber(ctx, communityID)
}

func (b boundedSettings) SetPanelChannel(ctx context.Context, communityID, channelRef string) (*model.CommunitySettings, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.SetPanelChannel(ctx, communityID, channelRef)
}

type boundedDuty struct {
	next    DutyRepository
	timeout time.Duration
}

func (b boundedDuty) SetDuty(ctx context.Context, duty *model.StaffDuty) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.SetDuty(ctx, duty)
}

func (b boundedDuty) ListOnDuty(ctx context.Context, communityID string) ([]*model.StaffDuty, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.ListOnDuty(ctx, communityID)
}
