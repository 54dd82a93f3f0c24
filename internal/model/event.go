package model

import (
	"strings"
	"time"
)

// EventType names an inbound event variant on the wire
type EventType string

const (
	EventSetupPanel        EventType = "setup_panel"
	EventSetStaffDuty      EventType = "set_staff_duty"
	EventCreateTicket      EventType = "create_ticket"
	EventSubmitEvidence    EventType = "submit_evidence"
	EventSetStatus         EventType = "set_status"
	EventClaimTicket       EventType = "claim_ticket"
	EventCloseTicket       EventType = "close_ticket"
	EventReserveIdentifier EventType = "reserve_identifier"
	EventTimeoutTicket     EventType = "timeout_ticket"
	EventClaimNoticeDue    EventType = "claim_notice_due"
	EventTeardownDue       EventType = "teardown_due"
)

// Event is one unit of work for the dispatcher. The set of variants is closed.
type Event interface {
	Type() EventType
	Community() string
	Validate() []FieldError
	isEvent()
}

// NewEvent returns an empty event of the named variant for decoding into
func NewEvent(t EventType) (Event, bool) {
	switch t {
	case EventSetupPanel:
		return &SetupPanel{}, true
	case EventSetStaffDuty:
		return &SetStaffDuty{}, true
	case EventCreateTicket:
		return &CreateTicket{}, true
	case EventSubmitEvidence:
		return &SubmitEvidence{}, true
	case EventSetStatus:
		return &SetStatus{}, true
	case EventClaimTicket:
		return &ClaimTicket{}, true
	case EventCloseTicket:
		return &CloseTicket{}, true
	case EventReserveIdentifier:
		return &ReserveIdentifier{}, true
	case EventTimeoutTicket:
		return &TimeoutTicket{}, true
	case EventClaimNoticeDue:
		return &ClaimNoticeDue{}, true
	case EventTeardownDue:
		return &TeardownDue{}, true
	default:
		return nil, false
	}
}

// TicketRef addresses a ticket by id or by its channel
type TicketRef struct {
	TicketID   string `json:"ticket_id,omitempty"`
	ChannelRef string `json:"channel_ref,omitempty"`
}

func (r TicketRef) validate(errs []FieldError) []FieldError {
	if strings.TrimSpace(r.TicketID) == "" && strings.TrimSpace(r.ChannelRef) == "" {
		errs = append(errs, FieldError{Field: "ticket_id", Message: "ticket_id or channel_ref is required"})
	}
	return errs
}

func requireField(errs []FieldError, field, value string) []FieldError {
	if strings.TrimSpace(value) == "" {
		return append(errs, FieldError{Field: field, Message: field + " is required"})
	}
	if len(value) > MaxReferenceLength {
		return append(errs, FieldError{Field: field, Message: field + " is too long"})
	}
	return errs
}

// SetupPanel configures the channel that hosts the ticket-creation panel
type SetupPanel struct {
	CommunityID string `json:"community_id"`
	ActorID     string `json:"actor_id"`
	ChannelRef  string `json:"channel_ref"`
}

func (e *SetupPanel) Type() EventType   { return EventSetupPanel }
func (e *SetupPanel) Community() string { return e.CommunityID }
func (e *SetupPanel) isEvent()          {}

func (e *SetupPanel) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "actor_id", e.ActorID)
	errs = requireField(errs, "channel_ref", e.ChannelRef)
	return errs
}

// SetStaffDuty marks a staff member on or off duty
type SetStaffDuty struct {
	CommunityID string `json:"community_id"`
	ActorID     string `json:"actor_id"`
	UserID      string `json:"user_id"`
	OnDuty      bool   `json:"on_duty"`
}

func (e *SetStaffDuty) Type() EventType   { return EventSetStaffDuty }
func (e *SetStaffDuty) Community() string { return e.CommunityID }
func (e *SetStaffDuty) isEvent()          {}

func (e *SetStaffDuty) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "actor_id", e.ActorID)
	errs = requireField(errs, "user_id", e.UserID)
	return errs
}

// CreateTicket opens a new ticket for a requester
type CreateTicket struct {
	CommunityID string `json:"community_id"`
	RequesterID string `json:"requester_id"`
}

func (e *CreateTicket) Type() EventType   { return EventCreateTicket }
func (e *CreateTicket) Community() string { return e.CommunityID }
func (e *CreateTicket) isEvent()          {}

func (e *CreateTicket) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "requester_id", e.RequesterID)
	return errs
}

// SubmitEvidence carries a requester's proof of payment
type SubmitEvidence struct {
	CommunityID string `json:"community_id"`
	ActorID     string `json:"actor_id"`
	TicketRef
	Identifier string `json:"identifier,omitempty"`
	Attachment bool   `json:"attachment,omitempty"`
}

func (e *SubmitEvidence) Type() EventType   { return EventSubmitEvidence }
func (e *SubmitEvidence) Community() string { return e.CommunityID }
func (e *SubmitEvidence) isEvent()          {}

func (e *SubmitEvidence) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "actor_id", e.ActorID)
	errs = e.TicketRef.validate(errs)
	if strings.TrimSpace(e.Identifier) == "" && !e.Attachment {
		errs = append(errs, FieldError{Field: "identifier", Message: "identifier or attachment is required"})
	}
	return errs
}

// SetStatus is a staff command that forces a ticket status
type SetStatus struct {
	CommunityID string `json:"community_id"`
	ActorID     string `json:"actor_id"`
	TicketRef
	Target TicketStatus `json:"target"`
}

func (e *SetStatus) Type() EventType   { return EventSetStatus }
func (e *SetStatus) Community() string { return e.CommunityID }
func (e *SetStatus) isEvent()          {}

func (e *SetStatus) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "actor_id", e.ActorID)
	errs = e.TicketRef.validate(errs)
	if !e.Target.IsValid() {
		errs = append(errs, FieldError{Field: "target", Message: "target must be a ticket status"})
	}
	return errs
}

// ClaimTicket is a staff member taking a ticket into service
type ClaimTicket struct {
	CommunityID string `json:"community_id"`
	ActorID     string `json:"actor_id"`
	TicketRef
}

func (e *ClaimTicket) Type() EventType   { return EventClaimTicket }
func (e *ClaimTicket) Community() string { return e.CommunityID }
func (e *ClaimTicket) isEvent()          {}

func (e *ClaimTicket) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "actor_id", e.ActorID)
	return e.TicketRef.validate(errs)
}

// CloseTicket is an explicit staff close
type CloseTicket struct {
	CommunityID string `json:"community_id"`
	ActorID     string `json:"actor_id"`
	TicketRef
}

func (e *CloseTicket) Type() EventType   { return EventCloseTicket }
func (e *CloseTicket) Community() string { return e.CommunityID }
func (e *CloseTicket) isEvent()          {}

func (e *CloseTicket) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "actor_id", e.ActorID)
	return e.TicketRef.validate(errs)
}

// ReserveIdentifier marks a transaction identifier as used without a ticket
type ReserveIdentifier struct {
	CommunityID string `json:"community_id"`
	ActorID     string `json:"actor_id"`
	Value       string `json:"value"`
}

func (e *ReserveIdentifier) Type() EventType   { return EventReserveIdentifier }
func (e *ReserveIdentifier) Community() string { return e.CommunityID }
func (e *ReserveIdentifier) isEvent()          {}

func (e *ReserveIdentifier) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "actor_id", e.ActorID)
	if strings.TrimSpace(e.Value) == "" {
		errs = append(errs, FieldError{Field: "value", Message: "value is required"})
	}
	return errs
}

// TimeoutTicket auto-closes a ticket left idle since IdleBefore
type TimeoutTicket struct {
	CommunityID string    `json:"community_id"`
	TicketID    string    `json:"ticket_id"`
	IdleBefore  time.Time `json:"idle_before"`
}

func (e *TimeoutTicket) Type() EventType   { return EventTimeoutTicket }
func (e *TimeoutTicket) Community() string { return e.CommunityID }
func (e *TimeoutTicket) isEvent()          {}

func (e *TimeoutTicket) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	errs = requireField(errs, "ticket_id", e.TicketID)
	if e.IdleBefore.IsZero() {
		errs = append(errs, FieldError{Field: "idle_before", Message: "idle_before is required"})
	}
	return errs
}

// ClaimNoticeDue fires when a claimed ticket's completion notice is due
type ClaimNoticeDue struct {
	CommunityID string `json:"community_id"`
	TicketID    string `json:"ticket_id"`
}

func (e *ClaimNoticeDue) Type() EventType   { return EventClaimNoticeDue }
func (e *ClaimNoticeDue) Community() string { return e.CommunityID }
func (e *ClaimNoticeDue) isEvent()          {}

func (e *ClaimNoticeDue) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	return requireField(errs, "ticket_id", e.TicketID)
}

// TeardownDue fires when a claimed ticket's channel should be torn down
type TeardownDue struct {
	CommunityID string `json:"community_id"`
	TicketID    string `json:"ticket_id"`
}

func (e *TeardownDue) Type() EventType   { return EventTeardownDue }
func (e *TeardownDue) Community() string { return e.CommunityID }
func (e *TeardownDue) isEvent()          {}

func (e *TeardownDue) Validate() []FieldError {
	var errs []FieldError
	errs = requireField(errs, "community_id", e.CommunityID)
	return requireField(errs, "ticket_id", e.TicketID)
}
