package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgo/queuedesk/internal/clock"
	"github.com/forgo/queuedesk/internal/model"
)

// TaskKind names a deferred per-ticket task
type TaskKind string

const (
	TaskClaimNotice TaskKind = "claim_notice"
	TaskTeardown    TaskKind = "teardown"
)

// minTaskDelay keeps a zero delay from firing inline while the caller still
// holds the community lock.
const minTaskDelay = time.Millisecond

// EventSink receives events produced by fired tasks
type EventSink interface {
	Dispatch(ctx context.Context, ev model.Event) *model.Outcome
}

type scheduledTask struct {
	timer clock.Timer
	seq   uint64
}

// Scheduler runs deferred ticket tasks on cancellable timers keyed by
// ticket id and task kind. A fired task only dispatches an event; the
// controller re-reads the ticket and does nothing if it is gone or closed.
type Scheduler struct {
	clock   clock.Clock
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	sink    EventSink
	tasks   map[string]map[TaskKind]scheduledTask
	seq     uint64
	stopped bool
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	Clock  clock.Clock  // Optional, real clock if nil
	Logger *slog.Logger // Optional
	// TaskTimeout bounds the dispatch of one fired task
	TaskTimeout time.Duration
}

// NewScheduler creates a new deferred-task scheduler
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	return &Scheduler{
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		timeout: cfg.TaskTimeout,
		tasks:   make(map[string]map[TaskKind]scheduledTask),
	}
}

// Bind sets the sink fired tasks dispatch into
func (s *Scheduler) Bind(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Schedule arranges for ev to be dispatched after delay. Scheduling the same
// ticket and kind again replaces the pending task.
func (s *Scheduler) Schedule(ticketID string, kind TaskKind, delay time.Duration, ev model.Event) {
	if delay < minTaskDelay {
		delay = minTaskDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	byKind := s.tasks[ticketID]
	if byKind == nil {
		byKind = make(map[TaskKind]scheduledTask)
		s.tasks[ticketID] = byKind
	}
	if prev, ok := byKind[kind]; ok {
		prev.timer.Stop()
	}

	s.seq++
	seq := s.seq
	timer := s.clock.AfterFunc(delay, func() { s.fire(ticketID, kind, seq, ev) })
	byKind[kind] = scheduledTask{timer: timer, seq: seq}
}

func (s *Scheduler) fire(ticketID string, kind TaskKind, seq uint64, ev model.Event) {
	s.mu.Lock()
	task, ok := s.tasks[ticketID][kind]
	if !ok || task.seq != seq || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.tasks[ticketID], kind)
	if len(s.tasks[ticketID]) == 0 {
		delete(s.tasks, ticketID)
	}
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		s.logger.Warn("deferred task fired without a sink", "ticket_id", ticketID, "task", kind)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out := sink.Dispatch(ctx, ev)
	if out.Rejected() {
		s.logger.Warn("deferred task rejected",
			"ticket_id", ticketID,
			"task", kind,
			"code", out.Rejection.Code,
			"reason", out.Rejection.Reason,
		)
	}
}

// CancelTicket stops every pending task of a ticket and returns how many
// were stopped
func (s *Scheduler) CancelTicket(ticketID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, task := range s.tasks[ticketID] {
		if task.timer.Stop() {
			n++
		}
	}
	delete(s.tasks, ticketID)
	return n
}

// Pending returns the number of tasks waiting for a ticket
func (s *Scheduler) Pending(ticketID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks[ticketID])
}

// Stop cancels all pending tasks and refuses new ones
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, byKind := range s.tasks {
		for _, task := range byKind {
			task.timer.Stop()
		}
		delete(s.tasks, id)
	}
}
