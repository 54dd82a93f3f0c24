package model

import "time"

// EvidencePolicy selects how a deployment accepts proof of payment
type EvidencePolicy string

const (
	// EvidencePolicyExplicitIdentifier requires a transaction identifier string
	EvidencePolicyExplicitIdentifier EvidencePolicy = "explicit_identifier"
	// EvidencePolicyAttachment treats any attachment in the ticket channel as proof
	EvidencePolicyAttachment EvidencePolicy = "attachment"
)

// IsValid returns true if the policy is known
func (p EvidencePolicy) IsValid() bool {
	return p == EvidencePolicyExplicitIdentifier || p == EvidencePolicyAttachment
}

// InitialStatus is the status a new ticket starts in under this policy
func (p EvidencePolicy) InitialStatus() TicketStatus {
	if p == EvidencePolicyExplicitIdentifier {
		return TicketStatusAwaitingEvidence
	}
	return TicketStatusOpen
}

// CloseAction selects what happens to a ticket channel on close
type CloseAction string

const (
	CloseActionDestroy CloseAction = "destroy"
	CloseActionArchive CloseAction = "archive"
)

// IsValid returns true if the action is known
func (a CloseAction) IsValid() bool {
	return a == CloseActionDestroy || a == CloseActionArchive
}

// CommunityPolicy is the resolved deployment configuration for one community
type CommunityPolicy struct {
	EvidencePolicy     EvidencePolicy
	CloseAction        CloseAction
	StaffRoleRef       string
	MarkerRoleRef      string
	StaffUserIDs       []string
	ClaimNoticeDelay   time.Duration
	ClaimTeardownDelay time.Duration
}

// IsStaffUser reports whether userID is on the configured staff roster
func (p CommunityPolicy) IsStaffUser(userID string) bool {
	for _, id := range p.StaffUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CommunitySettings holds the per-community counters and configured channels
type CommunitySettings struct {
	CommunityID     string    `json:"community_id"`
	QueueCounter    int64     `json:"queue_counter"`
	TicketCounter   int64     `json:"ticket_counter"`
	PanelChannelRef *string   `json:"panel_channel_ref,omitempty"`
	CreatedOn       time.Time `json:"created_on"`
	UpdatedOn       time.Time `json:"updated_on"`
}

// StaffDuty records whether a staff member is currently taking tickets
type StaffDuty struct {
	CommunityID string    `json:"community_id"`
	UserID      string    `json:"user_id"`
	OnDuty      bool      `json:"on_duty"`
	UpdatedOn   time.Time `json:"updated_on"`
}

// TransactionRecord is a used transaction identifier
type TransactionRecord struct {
	CommunityID string    `json:"community_id"`
	Value       string    `json:"value"`
	TicketID    string    `json:"ticket_id,omitempty"` // empty for reserved identifiers
	CreatedOn   time.Time `json:"created_on"`
}
