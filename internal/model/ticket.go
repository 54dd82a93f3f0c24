package model

import (
	"fmt"
	"time"
)

// TicketStatus is the lifecycle state of a support ticket
type TicketStatus string

const (
	TicketStatusOpen             TicketStatus = "open"
	TicketStatusAwaitingEvidence TicketStatus = "awaiting_evidence"
	TicketStatusPaid             TicketStatus = "paid"
	TicketStatusProcessing       TicketStatus = "processing"
	TicketStatusClosed           TicketStatus = "closed"
)

// IsValid returns true if the status is a known ticket status
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusAwaitingEvidence, TicketStatusPaid,
		TicketStatusProcessing, TicketStatusClosed:
		return true
	default:
		return false
	}
}

// IsActive returns true for every non-terminal status
func (s TicketStatus) IsActive() bool {
	return s.IsValid() && s != TicketStatusClosed
}

// IsQueued returns true for the statuses that make up the active queue
func (s TicketStatus) IsQueued() bool {
	return s == TicketStatusPaid || s == TicketStatusProcessing
}

// AcceptsEvidence returns true while the ticket is waiting for payment proof
func (s TicketStatus) AcceptsEvidence() bool {
	return s == TicketStatusOpen || s == TicketStatusAwaitingEvidence
}

// ActiveStatuses lists the non-terminal statuses
var ActiveStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusAwaitingEvidence,
	TicketStatusPaid,
	TicketStatusProcessing,
}

// QueuedStatuses lists the statuses counted for rank and total
var QueuedStatuses = []TicketStatus{
	TicketStatusPaid,
	TicketStatusProcessing,
}

// CloseReason records why a ticket reached the closed state
type CloseReason string

const (
	CloseReasonStaff     CloseReason = "staff"
	CloseReasonTimeout   CloseReason = "timeout"
	CloseReasonCompleted CloseReason = "completed"
)

// Ticket is one requester's support ticket within a community
type Ticket struct {
	ID            string       `json:"id"`
	CommunityID   string       `json:"community_id"`
	Number        int64        `json:"number"`
	ChannelRef    string       `json:"channel_ref"`
	RequesterID   string       `json:"requester_id"`
	Status        TicketStatus `json:"status"`
	TransactionID *string      `json:"transaction_id,omitempty"`
	QueueNumber   *int64       `json:"queue_number,omitempty"`
	ClaimedBy     *string      `json:"claimed_by,omitempty"`
	CloseReason   *CloseReason `json:"close_reason,omitempty"`
	Version       int64        `json:"version"`
	CreatedOn     time.Time    `json:"created_on"`
	UpdatedOn     time.Time    `json:"updated_on"`
	ClosedOn      *time.Time   `json:"closed_on,omitempty"`
}

// InQueue returns true if the ticket participates in rank and total
func (t *Ticket) InQueue() bool {
	return t.Status.IsQueued() && t.QueueNumber != nil
}

// ChannelName is the display name of the ticket's dedicated channel
func (t *Ticket) ChannelName() string {
	return TicketChannelName(t.Number)
}

// ClosedChannelName is the name an archived ticket channel is renamed to
func (t *Ticket) ClosedChannelName() string {
	return fmt.Sprintf("closed-%d", t.Number)
}

// TicketChannelName formats the channel name for a ticket number
func TicketChannelName(number int64) string {
	return fmt.Sprintf("ticket-%d", number)
}

// QueuePosition is a ticket's derived place in its community queue
type QueuePosition struct {
	TicketID    string `json:"ticket_id"`
	QueueNumber int64  `json:"queue_number"`
	Rank        int    `json:"rank"`
	Total       int    `json:"total"`
}

// QueueEntry is one row of a community queue snapshot
type QueueEntry struct {
	TicketID     string       `json:"ticket_id"`
	TicketNumber int64        `json:"ticket_number"`
	ChannelRef   string       `json:"channel_ref"`
	RequesterID  string       `json:"requester_id"`
	Status       TicketStatus `json:"status"`
	QueueNumber  int64        `json:"queue_number"`
	Rank         int          `json:"rank"`
}

// QueueSnapshot is the full active queue of a community read at one instant
type QueueSnapshot struct {
	CommunityID string       `json:"community_id"`
	Entries     []QueueEntry `json:"entries"`
}

// Total returns the queue size
func (s *QueueSnapshot) Total() int {
	return len(s.Entries)
}

// Head returns the rank-1 entry, or nil for an empty queue
func (s *QueueSnapshot) Head() *QueueEntry {
	if len(s.Entries) == 0 {
		return nil
	}
	return &s.Entries[0]
}

// NextAfter returns the first entry that is not the given ticket
func (s *QueueSnapshot) NextAfter(ticketID string) *QueueEntry {
	for i := range s.Entries {
		if s.Entries[i].TicketID != ticketID {
			return &s.Entries[i]
		}
	}
	return nil
}

// PositionOf returns the position of a ticket within the snapshot
func (s *QueueSnapshot) PositionOf(ticketID string) *QueuePosition {
	for _, e := range s.Entries {
		if e.TicketID == ticketID {
			return &QueuePosition{
				TicketID:    e.TicketID,
				QueueNumber: e.QueueNumber,
				Rank:        e.Rank,
				Total:       len(s.Entries),
			}
		}
	}
	return nil
}

// TransitionParams describes a compare-and-swap status change
type TransitionParams struct {
	TicketID        string
	ExpectedVersion int64
	To              TicketStatus
	ClaimedBy       *string
	CloseReason     *CloseReason
	At              time.Time
}

// AdmissionParams describes the atomic queue admission of a ticket
type AdmissionParams struct {
	TicketID        string
	CommunityID     string
	ExpectedVersion int64
	Identifier      *TransactionRecord
	At              time.Time
}

// Business constraints
const (
	MaxIdentifierLength = 128
	MaxReferenceLength  = 128
)
