package discord

import (
	"fmt"

	"github.com/forgo/queuedesk/internal/model"
)

// noticeText renders the single line posted for a notice
func noticeText(in model.Instruction) string {
	switch in.Notice {
	case model.NoticeTicketOpened:
		return fmt.Sprintf("Ticket #%d opened. Post your payment proof here.", in.TicketNumber)
	case model.NoticeEvidenceRequired:
		return fmt.Sprintf("Ticket #%d opened. Use /submit with your transaction id.", in.TicketNumber)
	case model.NoticeQueued:
		return fmt.Sprintf("Payment received. Ticket #%d is in the queue.", in.TicketNumber)
	case model.NoticeTicketQueued:
		if in.Position != nil {
			return fmt.Sprintf("Ticket #%d joined the queue at position %d of %d.", in.TicketNumber, in.Position.Rank, in.Position.Total)
		}
		return fmt.Sprintf("Ticket #%d joined the queue.", in.TicketNumber)
	case model.NoticeProcessing:
		return fmt.Sprintf("Ticket #%d is being processed.", in.TicketNumber)
	case model.NoticeClaimed:
		return fmt.Sprintf("Ticket #%d was claimed by <@%s>.", in.TicketNumber, in.UserID)
	case model.NoticeCompleted:
		return fmt.Sprintf("Ticket #%d is complete. Thank you!", in.TicketNumber)
	case model.NoticeStaffNextUp:
		if in.NextTicketNumber != nil {
			return fmt.Sprintf("Next in the queue: ticket #%d.", *in.NextTicketNumber)
		}
		return "The queue is empty."
	case model.NoticeClosed:
		return fmt.Sprintf("Ticket #%d was closed.", in.TicketNumber)
	case model.NoticeNextInLine:
		return fmt.Sprintf("Ticket #%d, you are next in line.", in.TicketNumber)
	case model.NoticeDutyChanged:
		return fmt.Sprintf("<@%s> duty status updated.", in.UserID)
	default:
		return string(in.Notice)
	}
}

// positionText renders a queue position refresh
func positionText(in model.Instruction) string {
	if in.Position == nil {
		return fmt.Sprintf("Ticket #%d is no longer in the queue.", in.TicketNumber)
	}
	return fmt.Sprintf("Queue position: %d of %d (queue number %d).", in.Position.Rank, in.Position.Total, in.Position.QueueNumber)
}

// outcomeText renders the ephemeral reply to the user who triggered an event
func outcomeText(out *model.Outcome) string {
	if out.Rejected() {
		return rejectionText(out.Rejection)
	}
	switch out.Kind {
	case model.OutcomeTicketCreated:
		return fmt.Sprintf("Ticket created: <#%s>", out.Ticket.ChannelRef)
	case model.OutcomeTicketQueued, model.OutcomeAlreadyQueued:
		if out.Position != nil {
			return fmt.Sprintf("You are number %d of %d in the queue.", out.Position.Rank, out.Position.Total)
		}
		return "You are in the queue."
	case model.OutcomeStatusChanged:
		return fmt.Sprintf("Status set to %s.", out.Ticket.Status)
	case model.OutcomeTicketClaimed:
		return "Ticket claimed."
	case model.OutcomeTicketClosed:
		return "Ticket closed."
	case model.OutcomePanelConfigured:
		return "Ticket panel installed."
	case model.OutcomeDutyUpdated:
		if out.Duty != nil && out.Duty.OnDuty {
			return "You are now on duty."
		}
		return "You are now off duty."
	case model.OutcomeIdentifierReserved:
		return "Identifier reserved."
	default:
		return "Done."
	}
}

func rejectionText(r *model.Rejection) string {
	switch r.Code {
	case model.RejectionUnauthorized:
		return "Only staff can do that."
	case model.RejectionDuplicateActiveTicket:
		return "You already have an open ticket."
	case model.RejectionDuplicateIdentifier:
		return "That transaction id has already been used."
	case model.RejectionTicketNotFound:
		return "This is not an open ticket channel."
	case model.RejectionIdentifierRequired:
		return "Please submit your transaction id with /submit."
	case model.RejectionInvalidIdentifier:
		return "That transaction id is not valid."
	case model.RejectionNotRequester:
		return "Only the ticket owner can submit payment proof."
	case model.RejectionAmbiguousRequester:
		return "Could not tell who owns this ticket."
	case model.RejectionAlreadyClaimed:
		return "Another staff member already claimed this ticket."
	case model.RejectionInvalidTransition:
		return "That status change is not allowed."
	case model.RejectionTransientStore, model.RejectionStaleGuard:
		return "Busy right now, please try again."
	default:
		return "Something went wrong."
	}
}
