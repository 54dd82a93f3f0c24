// Package storetest is the conformance suite every ticket store backend
// must pass. Backends call Run from their own tests with a factory that
// returns an empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/service"
)

// Factory returns an empty store for one test
type Factory func(t *testing.T) service.Store

var epoch = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

// Run executes the suite against a backend
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s service.Store)
	}{
		{"CreateRejectsSecondActiveTicket", testCreateRejectsSecondActiveTicket},
		{"CreateAllowedAfterClose", testCreateAllowedAfterClose},
		{"ConcurrentCreatesForOneRequester", testConcurrentCreatesForOneRequester},
		{"GetByChannel", testGetByChannel},
		{"MissingRecordsReadAsNil", testMissingRecordsReadAsNil},
		{"TransitionCompareAndSwap", testTransitionCompareAndSwap},
		{"AdmitAssignsIncreasingNumbers", testAdmitAssignsIncreasingNumbers},
		{"AdmitDuplicateIdentifierWritesNothing", testAdmitDuplicateIdentifierWritesNothing},
		{"AdmitRejectsQueuedOrStale", testAdmitRejectsQueuedOrStale},
		{"ConcurrentAdmissions", testConcurrentAdmissions},
		{"ConcurrentIdentifierRegistration", testConcurrentIdentifierRegistration},
		{"QueuePositionIsDerived", testQueuePositionIsDerived},
		{"SnapshotSkipsUnnumberedProcessing", testSnapshotSkipsUnnumberedProcessing},
		{"ListIdle", testListIdle},
		{"Settings", testSettings},
		{"Duty", testDuty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

// newTicket builds an unsaved ticket
func newTicket(communityID, requesterID string, status model.TicketStatus) *model.Ticket {
	id := uuid.NewString()
	return &model.Ticket{
		ID:          id,
		CommunityID: communityID,
		Number:      1,
		ChannelRef:  "chan-" + id[:8],
		RequesterID: requesterID,
		Status:      status,
		Version:     1,
		CreatedOn:   epoch,
		UpdatedOn:   epoch,
	}
}

func mustCreate(t *testing.T, s service.Store, communityID, requesterID string) *model.Ticket {
	t.Helper()
	ticket := newTicket(communityID, requesterID, model.TicketStatusAwaitingEvidence)
	require.NoError(t, s.Tickets.Create(context.Background(), ticket))
	return ticket
}

func mustAdmit(t *testing.T, s service.Store, ticket *model.Ticket, identifier string) *model.Ticket {
	t.Helper()
	p := model.AdmissionParams{
		TicketID:        ticket.ID,
		CommunityID:     ticket.CommunityID,
		ExpectedVersion: ticket.Version,
		At:              epoch.Add(time.Minute),
	}
	if identifier != "" {
		p.Identifier = &model.TransactionRecord{
			CommunityID: ticket.CommunityID,
			Value:       identifier,
			TicketID:    ticket.ID,
			CreatedOn:   epoch,
		}
	}
	updated, err := s.Tickets.Admit(context.Background(), p)
	require.NoError(t, err)
	return updated
}

func mustClose(t *testing.T, s service.Store, ticket *model.Ticket) *model.Ticket {
	t.Helper()
	reason := model.CloseReasonStaff
	updated, err := s.Tickets.Transition(context.Background(), model.TransitionParams{
		TicketID:        ticket.ID,
		ExpectedVersion: ticket.Version,
		To:              model.TicketStatusClosed,
		CloseReason:     &reason,
		At:              epoch.Add(time.Hour),
	})
	require.NoError(t, err)
	return updated
}

func testCreateRejectsSecondActiveTicket(t *testing.T, s service.Store) {
	ctx := context.Background()
	mustCreate(t, s, "g1", "u1")

	err := s.Tickets.Create(ctx, newTicket("g1", "u1", model.TicketStatusOpen))
	assert.True(t, errors.Is(err, database.ErrDuplicate), "got %v", err)

	// Other communities are independent
	require.NoError(t, s.Tickets.Create(ctx, newTicket("g2", "u1", model.TicketStatusOpen)))
}

func testCreateAllowedAfterClose(t *testing.T, s service.Store) {
	ctx := context.Background()
	first := mustCreate(t, s, "g1", "u1")
	mustClose(t, s, first)

	second := newTicket("g1", "u1", model.TicketStatusOpen)
	require.NoError(t, s.Tickets.Create(ctx, second))

	active, err := s.Tickets.GetActiveByRequester(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
}

func testConcurrentCreatesForOneRequester(t *testing.T, s service.Store) {
	const n = 16
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Tickets.Create(context.Background(), newTicket("g1", "u1", model.TicketStatusOpen))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, database.ErrDuplicate):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, duplicates)

	// The survivor can still close and make room for the next ticket
	active, err := s.Tickets.GetActiveByRequester(context.Background(), "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	mustClose(t, s, active)
	mustCreate(t, s, "g1", "u1")
}

func testGetByChannel(t *testing.T, s service.Store) {
	ctx := context.Background()
	ticket := mustCreate(t, s, "g1", "u1")

	got, err := s.Tickets.GetByChannel(ctx, "g1", ticket.ChannelRef)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ticket.ID, got.ID)
	assert.Equal(t, model.TicketStatusAwaitingEvidence, got.Status)
	assert.Equal(t, int64(1), got.Version)

	got, err = s.Tickets.GetByChannel(ctx, "g2", ticket.ChannelRef)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testMissingRecordsReadAsNil(t *testing.T, s service.Store) {
	ctx := context.Background()

	ticket, err := s.Tickets.GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, ticket)

	ticket, err = s.Tickets.GetActiveByRequester(ctx, "g1", "nobody")
	require.NoError(t, err)
	assert.Nil(t, ticket)

	rec, err := s.Identifiers.Get(ctx, "g1", "unused")
	require.NoError(t, err)
	assert.Nil(t, rec)

	pos, err := s.Tickets.QueuePosition(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func testTransitionCompareAndSwap(t *testing.T, s service.Store) {
	ctx := context.Background()
	ticket := mustCreate(t, s, "g1", "u1")

	staff := "staff-1"
	updated, err := s.Tickets.Transition(ctx, model.TransitionParams{
		TicketID:        ticket.ID,
		ExpectedVersion: ticket.Version,
		To:              model.TicketStatusProcessing,
		ClaimedBy:       &staff,
		At:              epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusProcessing, updated.Status)
	assert.Equal(t, ticket.Version+1, updated.Version)
	require.NotNil(t, updated.ClaimedBy)
	assert.Equal(t, staff, *updated.ClaimedBy)

	// The old version no longer matches
	_, err = s.Tickets.Transition(ctx, model.TransitionParams{
		TicketID:        ticket.ID,
		ExpectedVersion: ticket.Version,
		To:              model.TicketStatusClosed,
		At:              epoch.Add(time.Minute),
	})
	assert.True(t, errors.Is(err, database.ErrConflict), "got %v", err)

	closed := mustClose(t, s, updated)
	assert.Equal(t, model.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedOn)
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, model.CloseReasonStaff, *closed.CloseReason)

	// Closed is terminal
	_, err = s.Tickets.Transition(ctx, model.TransitionParams{
		TicketID:        ticket.ID,
		ExpectedVersion: closed.Version,
		To:              model.TicketStatusOpen,
		At:              epoch.Add(2 * time.Hour),
	})
	assert.True(t, errors.Is(err, database.ErrConflict), "got %v", err)

	_, err = s.Tickets.Transition(ctx, model.TransitionParams{
		TicketID:        uuid.NewString(),
		ExpectedVersion: 1,
		To:              model.TicketStatusClosed,
		At:              epoch,
	})
	assert.True(t, errors.Is(err, database.ErrNotFound), "got %v", err)
}

func testAdmitAssignsIncreasingNumbers(t *testing.T, s service.Store) {
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		ticket := mustCreate(t, s, "g1", fmt.Sprintf("u%d", i))
		admitted := mustAdmit(t, s, ticket, fmt.Sprintf("tx-%d", i))

		require.NotNil(t, admitted.QueueNumber)
		assert.Greater(t, *admitted.QueueNumber, last)
		last = *admitted.QueueNumber

		assert.Equal(t, model.TicketStatusPaid, admitted.Status)
		require.NotNil(t, admitted.TransactionID)
		assert.Equal(t, fmt.Sprintf("tx-%d", i), *admitted.TransactionID)
	}
	assert.Equal(t, int64(3), last)

	settings, err := s.Settings.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), settings.QueueCounter)

	// Counters are per community
	other := mustAdmit(t, s, mustCreate(t, s, "g2", "u1"), "tx-0")
	assert.Equal(t, int64(1), *other.QueueNumber)
}

func testAdmitDuplicateIdentifierWritesNothing(t *testing.T, s service.Store) {
	ctx := context.Background()
	t1 := mustCreate(t, s, "g1", "u1")
	mustAdmit(t, s, t1, "abc123")

	t3 := mustCreate(t, s, "g1", "u3")
	_, err := s.Tickets.Admit(ctx, model.AdmissionParams{
		TicketID:        t3.ID,
		CommunityID:     "g1",
		ExpectedVersion: t3.Version,
		Identifier:      &model.TransactionRecord{CommunityID: "g1", Value: "abc123", TicketID: t3.ID, CreatedOn: epoch},
		At:              epoch,
	})
	assert.True(t, errors.Is(err, database.ErrDuplicate), "got %v", err)

	got, err := s.Tickets.GetByID(ctx, t3.ID)
	require.NoError(t, err)
	assert.Nil(t, got.QueueNumber)
	assert.Nil(t, got.TransactionID)
	assert.Equal(t, t3.Version, got.Version)
	assert.Equal(t, model.TicketStatusAwaitingEvidence, got.Status)

	settings, err := s.Settings.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), settings.QueueCounter)

	rec, err := s.Identifiers.Get(ctx, "g1", "abc123")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, t1.ID, rec.TicketID)
}

func testAdmitRejectsQueuedOrStale(t *testing.T, s service.Store) {
	ctx := context.Background()
	ticket := mustCreate(t, s, "g1", "u1")
	admitted := mustAdmit(t, s, ticket, "")
	assert.Nil(t, admitted.TransactionID)

	_, err := s.Tickets.Admit(ctx, model.AdmissionParams{
		TicketID:        ticket.ID,
		CommunityID:     "g1",
		ExpectedVersion: admitted.Version,
		At:              epoch,
	})
	assert.True(t, errors.Is(err, database.ErrConflict), "got %v", err)

	fresh := mustCreate(t, s, "g1", "u2")
	_, err = s.Tickets.Admit(ctx, model.AdmissionParams{
		TicketID:        fresh.ID,
		CommunityID:     "g1",
		ExpectedVersion: fresh.Version + 1,
		At:              epoch,
	})
	assert.True(t, errors.Is(err, database.ErrConflict), "got %v", err)

	settings, err := s.Settings.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), settings.QueueCounter)
}

func testConcurrentAdmissions(t *testing.T, s service.Store) {
	const n = 16
	tickets := make([]*model.Ticket, n)
	for i := range tickets {
		tickets[i] = mustCreate(t, s, "g1", fmt.Sprintf("u%d", i))
	}

	numbers := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range tickets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			updated, err := s.Tickets.Admit(context.Background(), model.AdmissionParams{
				TicketID:        tickets[i].ID,
				CommunityID:     "g1",
				ExpectedVersion: tickets[i].Version,
				At:              epoch,
			})
			errs[i] = err
			if err == nil {
				numbers[i] = *updated.QueueNumber
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i := range numbers {
		require.NoError(t, errs[i])
		assert.False(t, seen[numbers[i]], "queue number %d assigned twice", numbers[i])
		seen[numbers[i]] = true
	}
	for want := int64(1); want <= n; want++ {
		assert.True(t, seen[want], "queue number %d never assigned", want)
	}

	snap, err := s.Tickets.QueueSnapshot(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, n, snap.Total())
}

func testConcurrentIdentifierRegistration(t *testing.T, s service.Store) {
	const n = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Identifiers.Register(context.Background(), &model.TransactionRecord{
				CommunityID: "g1",
				Value:       "same-value",
				TicketID:    fmt.Sprintf("t%d", i),
				CreatedOn:   epoch,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, database.ErrDuplicate):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, duplicates)
}

func testQueuePositionIsDerived(t *testing.T, s service.Store) {
	ctx := context.Background()
	t1 := mustAdmit(t, s, mustCreate(t, s, "g1", "u1"), "abc123")
	t2 := mustAdmit(t, s, mustCreate(t, s, "g1", "u2"), "xyz789")

	assert.Equal(t, int64(1), *t1.QueueNumber)
	assert.Equal(t, int64(2), *t2.QueueNumber)

	pos, err := s.Tickets.QueuePosition(ctx, t2.ID)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 2, pos.Rank)
	assert.Equal(t, 2, pos.Total)

	mustClose(t, s, t1)

	pos, err = s.Tickets.QueuePosition(ctx, t2.ID)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 1, pos.Rank)
	assert.Equal(t, 1, pos.Total)
	assert.Equal(t, int64(2), pos.QueueNumber)

	pos, err = s.Tickets.QueuePosition(ctx, t1.ID)
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func testSnapshotSkipsUnnumberedProcessing(t *testing.T, s service.Store) {
	ctx := context.Background()
	queued := mustAdmit(t, s, mustCreate(t, s, "g1", "u1"), "")

	forced := mustCreate(t, s, "g1", "u2")
	_, err := s.Tickets.Transition(ctx, model.TransitionParams{
		TicketID:        forced.ID,
		ExpectedVersion: forced.Version,
		To:              model.TicketStatusProcessing,
		At:              epoch,
	})
	require.NoError(t, err)

	// Processing keeps its queue number and its place
	_, err = s.Tickets.Transition(ctx, model.TransitionParams{
		TicketID:        queued.ID,
		ExpectedVersion: queued.Version,
		To:              model.TicketStatusProcessing,
		At:              epoch,
	})
	require.NoError(t, err)
	later := mustAdmit(t, s, mustCreate(t, s, "g1", "u3"), "")

	snap, err := s.Tickets.QueueSnapshot(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, 2, snap.Total())
	assert.Equal(t, queued.ID, snap.Entries[0].TicketID)
	assert.Equal(t, model.TicketStatusProcessing, snap.Entries[0].Status)
	assert.Equal(t, 1, snap.Entries[0].Rank)
	assert.Equal(t, later.ID, snap.Entries[1].TicketID)
	assert.Equal(t, 2, snap.Entries[1].Rank)

	pos, err := s.Tickets.QueuePosition(ctx, forced.ID)
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func testListIdle(t *testing.T, s service.Store) {
	ctx := context.Background()
	idle := mustCreate(t, s, "g1", "u1")
	queued := mustAdmit(t, s, mustCreate(t, s, "g1", "u2"), "")

	statuses := []model.TicketStatus{model.TicketStatusOpen, model.TicketStatusAwaitingEvidence}
	got, err := s.Tickets.ListIdle(ctx, statuses, epoch.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, idle.ID, got[0].ID)

	got, err = s.Tickets.ListIdle(ctx, statuses, epoch, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Tickets.ListIdle(ctx, []model.TicketStatus{model.TicketStatusPaid}, queued.UpdatedOn.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, queued.ID, got[0].ID)
}

func testSettings(t *testing.T, s service.Store) {
	ctx := context.Background()

	settings, err := s.Settings.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", settings.CommunityID)
	assert.Zero(t, settings.QueueCounter)
	assert.Zero(t, settings.TicketCounter)
	assert.Nil(t, settings.PanelChannelRef)

	for want := int64(1); want <= 3; want++ {
		n, err := s.Settings.NextTicketNumber(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	settings, err = s.Settings.SetPanelChannel(ctx, "g1", "panel-1")
	require.NoError(t, err)
	require.NotNil(t, settings.PanelChannelRef)
	assert.Equal(t, "panel-1", *settings.PanelChannelRef)
	assert.Equal(t, int64(3), settings.TicketCounter)

	// Ticket numbers do not touch the queue counter
	assert.Zero(t, settings.QueueCounter)
}

func testDuty(t *testing.T, s service.Store) {
	ctx := context.Background()

	require.NoError(t, s.Duty.SetDuty(ctx, &model.StaffDuty{CommunityID: "g1", UserID: "s2", OnDuty: true, UpdatedOn: epoch}))
	require.NoError(t, s.Duty.SetDuty(ctx, &model.StaffDuty{CommunityID: "g1", UserID: "s1", OnDuty: true, UpdatedOn: epoch}))
	require.NoError(t, s.Duty.SetDuty(ctx, &model.StaffDuty{CommunityID: "g2", UserID: "s3", OnDuty: true, UpdatedOn: epoch}))

	onDuty, err := s.Duty.ListOnDuty(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, onDuty, 2)
	assert.Equal(t, "s1", onDuty[0].UserID)
	assert.Equal(t, "s2", onDuty[1].UserID)

	require.NoError(t, s.Duty.SetDuty(ctx, &model.StaffDuty{CommunityID: "g1", UserID: "s2", OnDuty: false, UpdatedOn: epoch}))

	onDuty, err = s.Duty.ListOnDuty(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, onDuty, 1)
	assert.Equal(t, "s1", onDuty[0].UserID)
}
