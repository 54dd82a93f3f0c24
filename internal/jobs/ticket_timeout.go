package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgo/queuedesk/internal/clock"
	"github.com/forgo/queuedesk/internal/model"
)

// IdleLister finds tickets that have not changed since a cutoff
type IdleLister interface {
	ListIdle(ctx context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error)
}

// Dispatcher runs an event through the controller
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) *model.Outcome
}

// idleStatuses are the statuses a ticket can time out in. Queued tickets
// wait on staff, not on the requester, and never time out.
var idleStatuses = []model.TicketStatus{
	model.TicketStatusOpen,
	model.TicketStatusAwaitingEvidence,
}

// TicketTimeoutConfig holds configuration for the idle-ticket sweeper
type TicketTimeoutConfig struct {
	Tickets     IdleLister
	Dispatcher  Dispatcher
	Clock       clock.Clock  // Optional, real clock if nil
	Logger      *slog.Logger // Optional
	IdleTimeout time.Duration
	Interval    time.Duration // Optional, one minute if zero
	BatchSize   int           // Optional, 100 if zero
	// StartDelay lets the other services initialize before the first sweep
	StartDelay time.Duration
}

// TicketTimeoutProcessor closes tickets left idle in Open or
// AwaitingEvidence. It only finds candidates; the close itself goes
// through the dispatcher, which re-checks the ticket under its community
// lock.
type TicketTimeoutProcessor struct {
	tickets     IdleLister
	dispatcher  Dispatcher
	clock       clock.Clock
	logger      *slog.Logger
	idleTimeout time.Duration
	interval    time.Duration
	batchSize   int
	startDelay  time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
}

// NewTicketTimeoutProcessor creates a new idle-ticket sweeper
func NewTicketTimeoutProcessor(cfg TicketTimeoutConfig) *TicketTimeoutProcessor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 1 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &TicketTimeoutProcessor{
		tickets:     cfg.Tickets,
		dispatcher:  cfg.Dispatcher,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		idleTimeout: cfg.IdleTimeout,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		startDelay:  cfg.StartDelay,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the sweeper. It does nothing when the idle timeout is zero.
func (p *TicketTimeoutProcessor) Start() {
	if p.idleTimeout <= 0 {
		p.logger.Info("ticket timeout sweeper disabled")
		return
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()
	p.logger.Info("ticket timeout sweeper started", "interval", p.interval, "idle_timeout", p.idleTimeout)
}

// Stop gracefully stops the sweeper
func (p *TicketTimeoutProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("ticket timeout sweeper stopped")
}

func (p *TicketTimeoutProcessor) run() {
	defer p.wg.Done()

	select {
	case <-time.After(p.startDelay):
	case <-p.stopCh:
		return
	}
	p.sweep()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

func (p *TicketTimeoutProcessor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := p.RunOnce(ctx); err != nil {
		p.logger.Error("ticket timeout sweep failed", "error", err)
	}
}

// RunOnce dispatches a TimeoutTicket for every idle ticket found and
// returns how many were closed
func (p *TicketTimeoutProcessor) RunOnce(ctx context.Context) (int, error) {
	cutoff := p.clock.Now().Add(-p.idleTimeout)

	idle, err := p.tickets.ListIdle(ctx, idleStatuses, cutoff, p.batchSize)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, t := range idle {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		out := p.dispatcher.Dispatch(ctx, &model.TimeoutTicket{
			CommunityID: t.CommunityID,
			TicketID:    t.ID,
			IdleBefore:  cutoff,
		})
		switch {
		case out.Rejected():
			p.logger.Warn("ticket timeout rejected",
				"ticket_id", t.ID,
				"community_id", t.CommunityID,
				"code", out.Rejection.Code,
			)
		case out.Kind == model.OutcomeTicketClosed:
			closed++
		}
	}

	if closed > 0 {
		p.logger.Info("closed idle tickets", "count", closed)
	}
	return closed, nil
}

// IsRunning returns whether the sweeper is running
func (p *TicketTimeoutProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
