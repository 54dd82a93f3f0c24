package model

// OutcomeKind summarises what an event did
type OutcomeKind string

const (
	OutcomeTicketCreated      OutcomeKind = "ticket_created"
	OutcomeTicketQueued       OutcomeKind = "ticket_queued"
	OutcomeAlreadyQueued      OutcomeKind = "already_queued"
	OutcomeStatusChanged      OutcomeKind = "status_changed"
	OutcomeTicketClaimed      OutcomeKind = "ticket_claimed"
	OutcomeTicketClosed       OutcomeKind = "ticket_closed"
	OutcomePanelConfigured    OutcomeKind = "panel_configured"
	OutcomeDutyUpdated        OutcomeKind = "duty_updated"
	OutcomeIdentifierReserved OutcomeKind = "identifier_reserved"
	OutcomeNoticeSent         OutcomeKind = "notice_sent"
	OutcomeNoOp               OutcomeKind = "no_op"
	OutcomeRejected           OutcomeKind = "rejected"
)

// RejectionCode classifies a refused event
type RejectionCode string

const (
	RejectionUnauthorized          RejectionCode = "unauthorized"
	RejectionDuplicateActiveTicket RejectionCode = "duplicate_active_ticket"
	RejectionDuplicateIdentifier   RejectionCode = "duplicate_identifier"
	RejectionTicketNotFound        RejectionCode = "ticket_not_found"
	RejectionTransientStore        RejectionCode = "transient_store_failure"
	RejectionStaleGuard            RejectionCode = "stale_guard_violation"
	RejectionInvalidTransition     RejectionCode = "invalid_transition"
	RejectionIdentifierRequired    RejectionCode = "identifier_required"
	RejectionInvalidIdentifier     RejectionCode = "invalid_identifier"
	RejectionNotRequester          RejectionCode = "not_requester"
	RejectionAmbiguousRequester    RejectionCode = "ambiguous_requester"
	RejectionAlreadyClaimed        RejectionCode = "already_claimed"
	RejectionInvalidEvent          RejectionCode = "invalid_event"
	RejectionInternal              RejectionCode = "internal"
)

// Rejection is the caller-visible form of a refused event. Nothing was written.
type Rejection struct {
	Code      RejectionCode `json:"code"`
	Reason    string        `json:"reason"`
	Retryable bool          `json:"retryable"`
	Errors    []FieldError  `json:"errors,omitempty"`
}

// Outcome is the result of dispatching one event
type Outcome struct {
	Event        EventType          `json:"event"`
	Kind         OutcomeKind        `json:"kind"`
	Ticket       *Ticket            `json:"ticket,omitempty"`
	Position     *QueuePosition     `json:"position,omitempty"`
	Settings     *CommunitySettings `json:"settings,omitempty"`
	Duty         *StaffDuty         `json:"duty,omitempty"`
	Instructions []Instruction      `json:"instructions,omitempty"`
	Rejection    *Rejection         `json:"rejection,omitempty"`
}

// Rejected returns true if the event was refused
func (o *Outcome) Rejected() bool {
	return o != nil && o.Rejection != nil
}
