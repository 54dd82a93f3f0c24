package service

import (
	"context"
	"time"

	"github.com/forgo/queuedesk/internal/model"
)

// TicketRepository is the ticket half of the persistent store. Missing
// records read as (nil, nil). Mutations report database.ErrDuplicate,
// database.ErrConflict or database.ErrNotFound.
type TicketRepository interface {
	// Create inserts a ticket unless the requester already has an active one
	Create(ctx context.Context, ticket *model.Ticket) error
	GetByID(ctx context.Context, ticketID string) (*model.Ticket, error)
	GetByChannel(ctx context.Context, communityID, channelRef string) (*model.Ticket, error)
	GetActiveByRequester(ctx context.Context, communityID, requesterID string) (*model.Ticket, error)
	// ListIdle returns active tickets in statuses not updated since before
	ListIdle(ctx context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error)

	// Transition applies a status change if the ticket is still at ExpectedVersion
	Transition(ctx context.Context, p model.TransitionParams) (*model.Ticket, error)
	// Admit registers the optional identifier, increments the community queue
	// counter and moves the ticket to paid in one atomic unit
	Admit(ctx context.Context, p model.AdmissionParams) (*model.Ticket, error)

	// QueuePosition derives rank and total from one snapshot; nil if not queued
	QueuePosition(ctx context.Context, ticketID string) (*model.QueuePosition, error)
	QueueSnapshot(ctx context.Context, communityID string) (*model.QueueSnapshot, error)
}

// IdentifierRepository stores used transaction identifiers
type IdentifierRepository interface {
	// Register inserts the record; database.ErrDuplicate if already present
	Register(ctx context.Context, rec *model.TransactionRecord) error
	Get(ctx context.Context, communityID, value string) (*model.TransactionRecord, error)
}

// SettingsRepository stores per-community settings and counters
type SettingsRepository interface {
	// Get returns the settings, creating them on first use
	Get(ctx context.Context, communityID string) (*model.CommunitySettings, error)
	NextTicketNumber(ctx context.Context, communityID string) (int64, error)
	SetPanelChannel(ctx context.Context, communityID, channelRef string) (*model.CommunitySettings, error)
}

// DutyRepository stores staff on-duty flags
type DutyRepository interface {
	SetDuty(ctx context.Context, duty *model.StaffDuty) error
	ListOnDuty(ctx context.Context, communityID string) ([]*model.StaffDuty, error)
}

// Store bundles one backend's repositories
type Store struct {
	Tickets     TicketRepository
	Identifiers IdentifierRepository
	Settings    SettingsRepository
	Duty        DutyRepository
}
