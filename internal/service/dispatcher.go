package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgo/queuedesk/internal/model"
)

const tracerName = "github.com/forgo/queuedesk/internal/service"

// Dispatcher is the single entry point for events. It validates each event,
// runs it under the lock of its community, retries stale and transient
// failures, and publishes the resulting instructions.
type Dispatcher struct {
	tickets     *TicketService
	publisher   Publisher
	logger      *slog.Logger
	tracer      trace.Tracer
	locks       *keyedMutex
	maxAttempts int
	backoff     time.Duration
}

// DispatcherConfig holds configuration for the dispatcher
type DispatcherConfig struct {
	Tickets     *TicketService
	Publisher   Publisher    // Optional
	Logger      *slog.Logger // Optional
	Tracer      trace.Tracer // Optional, global tracer if nil
	MaxAttempts int
	Backoff     time.Duration
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	return &Dispatcher{
		tickets:     cfg.Tickets,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		locks:       newKeyedMutex(),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
}

// Dispatch handles one event and always returns an outcome
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.Event) (out *model.Outcome) {
	if ev == nil {
		return rejected("", &model.Rejection{Code: model.RejectionInvalidEvent, Reason: "event is required"})
	}

	ctx, span := d.tracer.Start(ctx, "dispatch "+string(ev.Type()),
		trace.WithAttributes(
			attribute.String("queuedesk.event", string(ev.Type())),
			attribute.String("queuedesk.community_id", ev.Community()),
		),
	)
	defer span.End()

	if errs := ev.Validate(); len(errs) > 0 {
		span.SetStatus(codes.Error, "invalid event")
		return rejected(ev.Type(), &model.Rejection{
			Code:   model.RejectionInvalidEvent,
			Reason: "event failed validation",
			Errors: errs,
		})
	}

	unlock := d.locks.Lock(ev.Community())
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while dispatching event",
				"event", ev.Type(),
				"community_id", ev.Community(),
				"panic", fmt.Sprint(r),
			)
			span.SetStatus(codes.Error, "panic")
			out = rejected(ev.Type(), RejectionFor(fmt.Errorf("panic: %v", r)))
		}
	}()

	out, err := d.run(ctx, ev)
	if err != nil {
		rej := RejectionFor(err)
		span.SetAttributes(attribute.String("queuedesk.rejection", string(rej.Code)))
		if rej.Code == model.RejectionInternal || rej.Retryable {
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error("event failed",
				"event", ev.Type(),
				"community_id", ev.Community(),
				"code", rej.Code,
				"error", err,
			)
		} else {
			d.logger.Info("event rejected",
				"event", ev.Type(),
				"community_id", ev.Community(),
				"code", rej.Code,
			)
		}
		return rejected(ev.Type(), rej)
	}

	out.Event = ev.Type()
	span.SetAttributes(attribute.String("queuedesk.outcome", string(out.Kind)))

	if len(out.Instructions) > 0 && d.publisher != nil {
		if err := d.publisher.Publish(ctx, out.Instructions); err != nil {
			d.logger.Warn("failed to publish instructions",
				"event", ev.Type(),
				"community_id", ev.Community(),
				"count", len(out.Instructions),
				"error", err,
			)
		}
	}
	return out
}

// run handles the event, re-running it from scratch on retryable failures
func (d *Dispatcher) run(ctx context.Context, ev model.Event) (*model.Outcome, error) {
	wait := d.backoff
	for attempt := 1; ; attempt++ {
		out, err := d.handle(ctx, ev)
		if err == nil || !isRetryable(err) || attempt >= d.maxAttempts {
			return out, err
		}

		d.logger.Debug("retrying event",
			"event", ev.Type(),
			"attempt", attempt,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
		wait *= 2
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev model.Event) (*model.Outcome, error) {
	switch e := ev.(type) {
	case *model.SetupPanel:
		return d.tickets.SetupPanel(ctx, e)
	case *model.SetStaffDuty:
		return d.tickets.SetStaffDuty(ctx, e)
	case *model.CreateTicket:
		return d.tickets.CreateTicket(ctx, e)
	case *model.SubmitEvidence:
		return d.tickets.SubmitEvidence(ctx, e)
	case *model.SetStatus:
		return d.tickets.SetStatus(ctx, e)
	case *model.ClaimTicket:
		return d.tickets.Claim(ctx, e)
	case *model.CloseTicket:
		return d.tickets.Close(ctx, e)
	case *model.ReserveIdentifier:
		return d.tickets.ReserveIdentifier(ctx, e)
	case *model.TimeoutTicket:
		return d.tickets.AutoClose(ctx, e)
	case *model.ClaimNoticeDue:
		return d.tickets.ClaimNotice(ctx, e)
	case *model.TeardownDue:
		return d.tickets.Teardown(ctx, e)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Type())
	}
}

func rejected(t model.EventType, rej *model.Rejection) *model.Outcome {
	return &model.Outcome{Event: t, Kind: model.OutcomeRejected, Rejection: rej}
}
