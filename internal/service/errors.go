package service

import (
	"errors"
	"fmt"

	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
)

// Centralized service layer errors.
// Every error a controller operation returns either is, or wraps, one of
// these; RejectionFor turns them into caller-visible outcomes.

// ===== Authorization Errors =====
var (
	ErrUnauthorized             = errors.New("staff role required")
	ErrNotRequester             = errors.New("only the ticket requester may submit evidence")
	ErrAuthorizationUnavailable = errors.New("authorization source unavailable")
)

// ===== Ticket Errors =====
var (
	ErrDuplicateActiveTicket = errors.New("requester already has an active ticket")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrTicketClosed          = errors.New("ticket is closed")
	ErrInvalidTransition     = errors.New("transition not allowed from current status")
	ErrAmbiguousRequester    = errors.New("channel must contain exactly one non-staff member")
	ErrAlreadyClaimed        = errors.New("ticket already claimed by another staff member")
)

// ===== Evidence Errors =====
var (
	ErrDuplicateIdentifier = errors.New("transaction identifier already used")
	ErrIdentifierRequired  = errors.New("a transaction identifier is required")
	ErrInvalidIdentifier   = errors.New("invalid transaction identifier")
)

// ===== Queue Errors =====
var (
	ErrNotQueued = errors.New("ticket is not in the queue")
)

// ===== Store Errors =====
var (
	ErrTransientStore = errors.New("ticket store temporarily unavailable")
	ErrStaleTicket    = errors.New("ticket changed concurrently")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// storeError wraps a backend failure. Transient failures are marked so the
// dispatcher retries the whole event.
func storeError(op string, err error) error {
	if database.IsTransient(err) {
		return fmt.Errorf("%w: %s: %v", ErrTransientStore, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// isRetryable reports whether the dispatcher should re-run an event
func isRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore) ||
		errors.Is(err, ErrStaleTicket) ||
		errors.Is(err, ErrAuthorizationUnavailable)
}

// RejectionFor converts a controller error into a caller-visible rejection
func RejectionFor(err error) *model.Rejection {
	r := &model.Rejection{Reason: err.Error()}
	switch {
	case errors.Is(err, ErrUnauthorized):
		r.Code = model.RejectionUnauthorized
	case errors.Is(err, ErrNotRequester):
		r.Code = model.RejectionNotRequester
	case errors.Is(err, ErrDuplicateActiveTicket):
		r.Code = model.RejectionDuplicateActiveTicket
	case errors.Is(err, ErrDuplicateIdentifier):
		r.Code = model.RejectionDuplicateIdentifier
	case errors.Is(err, ErrTicketNotFound), errors.Is(err, ErrTicketClosed):
		r.Code = model.RejectionTicketNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotQueued):
		r.Code = model.RejectionInvalidTransition
	case errors.Is(err, ErrIdentifierRequired):
		r.Code = model.RejectionIdentifierRequired
	case errors.Is(err, ErrInvalidIdentifier):
		r.Code = model.RejectionInvalidIdentifier
	case errors.Is(err, ErrAmbiguousRequester):
		r.Code = model.RejectionAmbiguousRequester
	case errors.Is(err, ErrAlreadyClaimed):
		r.Code = model.RejectionAlreadyClaimed
	case errors.Is(err, ErrUnknownEvent):
		r.Code = model.RejectionInvalidEvent
	case errors.Is(err, ErrStaleTicket):
		r.Code = model.RejectionStaleGuard
		r.Retryable = true
	case errors.Is(err, ErrTransientStore), errors.Is(err, ErrAuthorizationUnavailable):
		r.Code = model.RejectionTransientStore
		r.Reason = "temporarily unavailable, try again"
		r.Retryable = true
	default:
		r.Code = model.RejectionInternal
		r.Reason = "an unexpected error occurred"
	}
	return r
}
