package model

import "time"

// InstructionKind is an effect the presentation layer must carry out
type InstructionKind string

const (
	InstructionNotifyChannel  InstructionKind = "notify_channel"
	InstructionNotifyUser     InstructionKind = "notify_user"
	InstructionQueuePosition  InstructionKind = "queue_position"
	InstructionGrantRole      InstructionKind = "grant_role"
	InstructionRevokeAccess   InstructionKind = "revoke_access"
	InstructionRenameChannel  InstructionKind = "rename_channel"
	InstructionDestroyChannel InstructionKind = "destroy_channel"
	InstructionPostPanel      InstructionKind = "post_panel"
)

// Notice identifies the human-facing message attached to a notify instruction
type Notice string

const (
	NoticeTicketOpened     Notice = "ticket_opened"
	NoticeEvidenceRequired Notice = "evidence_required"
	NoticeQueued           Notice = "queued"
	NoticeTicketQueued     Notice = "ticket_queued" // to on-duty staff
	NoticeProcessing       Notice = "processing"
	NoticeClaimed          Notice = "claimed"
	NoticeCompleted        Notice = "completed"
	NoticeStaffNextUp      Notice = "staff_next_up"
	NoticeClosed           Notice = "closed"
	NoticeNextInLine       Notice = "next_in_line"
	NoticeDutyChanged      Notice = "duty_changed"
)

// Instruction is one side effect emitted by the lifecycle controller
type Instruction struct {
	Kind             InstructionKind `json:"kind"`
	Notice           Notice          `json:"notice,omitempty"`
	CommunityID      string          `json:"community_id"`
	TicketID         string          `json:"ticket_id,omitempty"`
	TicketNumber     int64           `json:"ticket_number,omitempty"`
	ChannelRef       string          `json:"channel_ref,omitempty"`
	UserID           string          `json:"user_id,omitempty"`
	RoleRef          string          `json:"role_ref,omitempty"`
	Name             string          `json:"name,omitempty"`
	Position         *QueuePosition  `json:"position,omitempty"`
	NextTicketNumber *int64          `json:"next_ticket_number,omitempty"`
	IssuedOn         time.Time       `json:"issued_on"`
}
