package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/forgo/queuedesk/internal/clock"
	"github.com/forgo/queuedesk/internal/model"
)

type mockLister struct {
	ListIdleFunc func(ctx context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error)
}

func (m *mockLister) ListIdle(ctx context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error) {
	return m.ListIdleFunc(ctx, statuses, before, limit)
}

type mockDispatcher struct {
	DispatchFunc func(ctx context.Context, ev model.Event) *model.Outcome
	events       []model.Event
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ev model.Event) *model.Outcome {
	m.events = append(m.events, ev)
	return m.DispatchFunc(ctx, ev)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTicketTimeout_RunOnce(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.Fake(now)

	var gotBefore time.Time
	var gotStatuses []model.TicketStatus
	var gotLimit int
	lister := &mockLister{
		ListIdleFunc: func(_ context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error) {
			gotStatuses, gotBefore, gotLimit = statuses, before, limit
			return []*model.Ticket{
				{ID: "t1", CommunityID: "g1"},
				{ID: "t2", CommunityID: "g1"},
				{ID: "t3", CommunityID: "g2"},
			}, nil
		},
	}
	dispatcher := &mockDispatcher{
		DispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			timeout := ev.(*model.TimeoutTicket)
			switch timeout.TicketID {
			case "t2":
				// evidence arrived after the listing
				return &model.Outcome{Event: ev.Type(), Kind: model.OutcomeNoOp}
			case "t3":
				return &model.Outcome{
					Event:     ev.Type(),
					Kind:      model.OutcomeRejected,
					Rejection: &model.Rejection{Code: model.RejectionTransientStore},
				}
			}
			return &model.Outcome{Event: ev.Type(), Kind: model.OutcomeTicketClosed}
		},
	}

	p := NewTicketTimeoutProcessor(TicketTimeoutConfig{
		Tickets:     lister,
		Dispatcher:  dispatcher,
		Clock:       clk,
		Logger:      quietLogger(),
		IdleTimeout: 24 * time.Hour,
		BatchSize:   50,
	})

	closed, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != 1 {
		t.Errorf("expected 1 closed, got %d", closed)
	}
	if !gotBefore.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("cutoff = %v", gotBefore)
	}
	if gotLimit != 50 {
		t.Errorf("limit = %d", gotLimit)
	}
	if len(gotStatuses) != 2 {
		t.Errorf("statuses = %v", gotStatuses)
	}
	if len(dispatcher.events) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(dispatcher.events))
	}

	first := dispatcher.events[0].(*model.TimeoutTicket)
	if first.CommunityID != "g1" || !first.IdleBefore.Equal(gotBefore) {
		t.Errorf("unexpected event: %+v", first)
	}
}

func TestTicketTimeout_ListError(t *testing.T) {
	lister := &mockLister{
		ListIdleFunc: func(context.Context, []model.TicketStatus, time.Time, int) ([]*model.Ticket, error) {
			return nil, errors.New("store unavailable")
		},
	}
	dispatcher := &mockDispatcher{}

	p := NewTicketTimeoutProcessor(TicketTimeoutConfig{
		Tickets:     lister,
		Dispatcher:  dispatcher,
		Logger:      quietLogger(),
		IdleTimeout: time.Hour,
	})

	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(dispatcher.events) != 0 {
		t.Error("nothing should be dispatched when listing fails")
	}
}

func TestTicketTimeout_DisabledDoesNotStart(t *testing.T) {
	p := NewTicketTimeoutProcessor(TicketTimeoutConfig{Logger: quietLogger()})
	p.Start()
	if p.IsRunning() {
		t.Error("sweeper with zero idle timeout must not run")
	}
	p.Stop()
}

func TestTicketTimeout_StartStop(t *testing.T) {
	lister := &mockLister{
		ListIdleFunc: func(context.Context, []model.TicketStatus, time.Time, int) ([]*model.Ticket, error) {
			return nil, nil
		},
	}
	p := NewTicketTimeoutProcessor(TicketTimeoutConfig{
		Tickets:     lister,
		Dispatcher:  &mockDispatcher{},
		Logger:      quietLogger(),
		IdleTimeout: time.Hour,
		StartDelay:  time.Hour,
	})

	p.Start()
	p.Start()
	if !p.IsRunning() {
		t.Fatal("expected running")
	}
	p.Stop()
	if p.IsRunning() {
		t.Error("expected stopped")
	}
	p.Stop()
}
