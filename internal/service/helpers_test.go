package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/forgo/queuedesk/internal/clock"
	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/storage/memory"
)

// ============================================================================
// Mock Collaborators
// ============================================================================

type mockAuthorizer struct {
	isStaffFunc func(ctx context.Context, communityID, userID string) (bool, error)
}

func (m *mockAuthorizer) IsStaff(ctx context.Context, communityID, userID string) (bool, error) {
	if m.isStaffFunc != nil {
		return m.isStaffFunc(ctx, communityID, userID)
	}
	return false, nil
}

// staffSet answers from a fixed set of user ids
func staffSet(ids ...string) *mockAuthorizer {
	staff := make(map[string]bool, len(ids))
	for _, id := range ids {
		staff[id] = true
	}
	return &mockAuthorizer{
		isStaffFunc: func(_ context.Context, _, userID string) (bool, error) {
			return staff[userID], nil
		},
	}
}

type mockChannels struct {
	mu      sync.Mutex
	next    int
	members map[string][]string // channelRef -> members
	deleted []string

	createFunc  func(ctx context.Context, req ChannelRequest) (string, error)
	membersFunc func(ctx context.Context, communityID, channelRef string) ([]string, error)
}

func newMockChannels() *mockChannels {
	return &mockChannels{members: make(map[string][]string)}
}

func (m *mockChannels) CreateTicketChannel(ctx context.Context, req ChannelRequest) (string, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	ref := fmt.Sprintf("chan-%d", m.next)
	m.members[ref] = []string{req.RequesterID}
	return ref, nil
}

func (m *mockChannels) ChannelMembers(ctx context.Context, communityID, channelRef string) ([]string, error) {
	if m.membersFunc != nil {
		return m.membersFunc(ctx, communityID, channelRef)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.members[channelRef]...), nil
}

func (m *mockChannels) DestroyChannel(_ context.Context, _, channelRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channelRef)
	delete(m.members, channelRef)
	return nil
}

func (m *mockChannels) join(channelRef string, userIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[channelRef] = append(m.members[channelRef], userIDs...)
}

type recordingPublisher struct {
	mu           sync.Mutex
	instructions []model.Instruction
}

func (p *recordingPublisher) Publish(_ context.Context, instructions []model.Instruction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instructions = append(p.instructions, instructions...)
	return nil
}

func (p *recordingPublisher) byNotice(n model.Notice) []model.Instruction {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Instruction
	for _, in := range p.instructions {
		if in.Notice == n {
			out = append(out, in)
		}
	}
	return out
}

// ============================================================================
// Harness
// ============================================================================

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testCommunity = "g1"
	testStaff     = "staff-1"
	otherStaff    = "staff-2"
)

type harness struct {
	db        *memory.DB
	store     Store
	clock     *clock.FakeClock
	channels  *mockChannels
	published *recordingPublisher
	scheduler *Scheduler
	tickets   *TicketService
	dispatch  *Dispatcher
}

func testPolicy(evidence model.EvidencePolicy) model.CommunityPolicy {
	return model.CommunityPolicy{
		EvidencePolicy:     evidence,
		CloseAction:        model.CloseActionDestroy,
		StaffRoleRef:       "role-staff",
		MarkerRoleRef:      "role-served",
		ClaimNoticeDelay:   5 * time.Second,
		ClaimTeardownDelay: 60 * time.Second,
	}
}

func newHarness(t *testing.T, policy model.CommunityPolicy) *harness {
	t.Helper()

	db := memory.New()
	store := Store{
		Tickets:     db.Tickets(),
		Identifiers: db.Identifiers(),
		Settings:    db.Settings(),
		Duty:        db.Duty(),
	}
	clk := clock.Fake(testEpoch)
	channels := newMockChannels()
	published := &recordingPublisher{}
	scheduler := NewScheduler(SchedulerConfig{Clock: clk})
	t.Cleanup(scheduler.Stop)

	tickets := NewTicketService(TicketServiceConfig{
		Store:      store,
		Authorizer: staffSet(testStaff, otherStaff),
		Channels:   channels,
		Policies:   StaticPolicy(policy),
		Scheduler:  scheduler,
		Clock:      clk,
	})
	dispatch := NewDispatcher(DispatcherConfig{
		Tickets:   tickets,
		Publisher: published,
		Backoff:   time.Millisecond,
	})
	scheduler.Bind(dispatch)

	return &harness{
		db:        db,
		store:     store,
		clock:     clk,
		channels:  channels,
		published: published,
		scheduler: scheduler,
		tickets:   tickets,
		dispatch:  dispatch,
	}
}

func (h *harness) mustDispatch(t *testing.T, ev model.Event) *model.Outcome {
	t.Helper()
	out := h.dispatch.Dispatch(context.Background(), ev)
	if out.Rejected() {
		t.Fatalf("%s rejected: %s (%s)", ev.Type(), out.Rejection.Code, out.Rejection.Reason)
	}
	return out
}

func (h *harness) expectRejection(t *testing.T, ev model.Event, code model.RejectionCode) *model.Outcome {
	t.Helper()
	out := h.dispatch.Dispatch(context.Background(), ev)
	if !out.Rejected() {
		t.Fatalf("%s: expected rejection %s, got outcome %s", ev.Type(), code, out.Kind)
	}
	if out.Rejection.Code != code {
		t.Fatalf("%s: expected rejection %s, got %s (%s)", ev.Type(), code, out.Rejection.Code, out.Rejection.Reason)
	}
	return out
}

func (h *harness) open(t *testing.T, requesterID string) *model.Ticket {
	t.Helper()
	out := h.mustDispatch(t, &model.CreateTicket{CommunityID: testCommunity, RequesterID: requesterID})
	return out.Ticket
}

func (h *harness) submit(t *testing.T, ticket *model.Ticket, identifier string) *model.Outcome {
	t.Helper()
	return h.mustDispatch(t, &model.SubmitEvidence{
		CommunityID: testCommunity,
		ActorID:     ticket.RequesterID,
		TicketRef:   model.TicketRef{TicketID: ticket.ID},
		Identifier:  identifier,
	})
}

func (h *harness) reload(t *testing.T, ticketID string) *model.Ticket {
	t.Helper()
	ticket, err := h.store.Tickets.GetByID(context.Background(), ticketID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return ticket
}
