package service

import (
	"context"
	"errors"
	"time"

	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
)

// QueueAllocator assigns queue numbers and derives queue positions.
// Ranks are never stored; they are computed from persisted state on demand.
type QueueAllocator struct {
	tickets TicketRepository
}

// NewQueueAllocator creates a new queue allocator
func NewQueueAllocator(tickets TicketRepository) *QueueAllocator {
	return &QueueAllocator{tickets: tickets}
}

// AdmitToQueue moves ticket into the queue with a fresh queue number,
// registering rec in the same atomic unit when given. A ticket that already
// holds a queue number is returned unchanged and admitted is false.
func (a *QueueAllocator) AdmitToQueue(ctx context.Context, ticket *model.Ticket, rec *model.TransactionRecord, at time.Time) (updated *model.Ticket, admitted bool, err error) {
	if ticket.QueueNumber != nil {
		return ticket, false, nil
	}

	updated, err = a.tickets.Admit(ctx, model.AdmissionParams{
		TicketID:        ticket.ID,
		CommunityID:     ticket.CommunityID,
		ExpectedVersion: ticket.Version,
		Identifier:      rec,
		At:              at,
	})
	if err != nil {
		switch {
		case errors.Is(err, database.ErrDuplicate):
			return nil, false, ErrDuplicateIdentifier
		case errors.Is(err, database.ErrConflict):
			return nil, false, ErrStaleTicket
		case errors.Is(err, database.ErrNotFound):
			return nil, false, ErrTicketNotFound
		default:
			return nil, false, storeError("admit ticket", err)
		}
	}
	return updated, true, nil
}

// ComputeRank returns the ticket's rank and the queue total
func (a *QueueAllocator) ComputeRank(ctx context.Context, ticket *model.Ticket) (*model.QueuePosition, error) {
	if !ticket.InQueue() {
		return nil, ErrNotQueued
	}
	pos, err := a.tickets.QueuePosition(ctx, ticket.ID)
	if err != nil {
		return nil, storeError("compute queue position", err)
	}
	if pos == nil {
		return nil, ErrNotQueued
	}
	return pos, nil
}

// Snapshot returns the community queue ordered by queue number
func (a *QueueAllocator) Snapshot(ctx context.Context, communityID string) (*model.QueueSnapshot, error) {
	snap, err := a.tickets.QueueSnapshot(ctx, communityID)
	if err != nil {
		return nil, storeError("read queue snapshot", err)
	}
	return snap, nil
}
