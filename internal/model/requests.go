package model

// CreateTicketRequest opens a ticket. RequesterID defaults to the caller.
type CreateTicketRequest struct {
	RequesterID string `json:"requester_id,omitempty"`
}

// SubmitEvidenceRequest carries proof of payment for a ticket
type SubmitEvidenceRequest struct {
	Identifier string `json:"identifier,omitempty"`
	Attachment bool   `json:"attachment,omitempty"`
}

// SetStatusRequest forces a ticket status
type SetStatusRequest struct {
	Status TicketStatus `json:"status"`
}

// SetupPanelRequest configures the panel channel of a community
type SetupPanelRequest struct {
	ChannelRef string `json:"channel_ref"`
}

// ReserveIdentifierRequest marks an identifier as already used
type ReserveIdentifierRequest struct {
	Value string `json:"value"`
}
