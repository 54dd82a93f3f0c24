package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/forgo/queuedesk/internal/clock"
	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
)

// TicketService is the ticket lifecycle controller. Every operation re-reads
// the ticket, checks its guards, then applies one conditional write. Effects
// on the chat platform are returned as instructions, never performed here,
// except for channel allocation which must happen before the ticket exists.
type TicketService struct {
	store     Store
	registry  *IdentifierRegistry
	allocator *QueueAllocator
	auth      Authorizer
	channels  ChannelProvider
	policies  PolicySource
	scheduler *Scheduler
	clock     clock.Clock
	logger    *slog.Logger
}

// TicketServiceConfig holds configuration for the ticket service
type TicketServiceConfig struct {
	Store      Store
	Authorizer Authorizer
	Channels   ChannelProvider
	Policies   PolicySource
	Scheduler  *Scheduler   // Optional, claims schedule nothing without one
	Clock      clock.Clock  // Optional, real clock if nil
	Logger     *slog.Logger // Optional
}

// NewTicketService creates a new ticket service
func NewTicketService(cfg TicketServiceConfig) *TicketService {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TicketService{
		store:     cfg.Store,
		registry:  NewIdentifierRegistry(cfg.Store.Identifiers, cfg.Clock),
		allocator: NewQueueAllocator(cfg.Store.Tickets),
		auth:      cfg.Authorizer,
		channels:  cfg.Channels,
		policies:  cfg.Policies,
		scheduler: cfg.Scheduler,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Registry exposes the identifier registry
func (s *TicketService) Registry() *IdentifierRegistry {
	return s.registry
}

// ===== Commands =====

// CreateTicket opens a ticket and its dedicated channel for a requester
func (s *TicketService) CreateTicket(ctx context.Context, ev *model.CreateTicket) (*model.Outcome, error) {
	policy := s.policies.Policy(ev.CommunityID)

	existing, err := s.store.Tickets.GetActiveByRequester(ctx, ev.CommunityID, ev.RequesterID)
	if err != nil {
		return nil, storeError("check active ticket", err)
	}
	if existing != nil {
		return nil, ErrDuplicateActiveTicket
	}

	number, err := s.store.Settings.NextTicketNumber(ctx, ev.CommunityID)
	if err != nil {
		return nil, storeError("allocate ticket number", err)
	}

	channelRef, err := s.channels.CreateTicketChannel(ctx, ChannelRequest{
		CommunityID:  ev.CommunityID,
		RequesterID:  ev.RequesterID,
		Name:         model.TicketChannelName(number),
		StaffRoleRef: policy.StaffRoleRef,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket channel: %w", err)
	}

	now := s.clock.Now().UTC()
	ticket := &model.Ticket{
		ID:          uuid.NewString(),
		CommunityID: ev.CommunityID,
		Number:      number,
		ChannelRef:  channelRef,
		RequesterID: ev.RequesterID,
		Status:      policy.EvidencePolicy.InitialStatus(),
		Version:     1,
		CreatedOn:   now,
		UpdatedOn:   now,
	}

	if err := s.store.Tickets.Create(ctx, ticket); err != nil {
		s.releaseChannel(ctx, ev.CommunityID, channelRef)
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrDuplicateActiveTicket
		}
		return nil, storeError("create ticket", err)
	}

	instructions := []model.Instruction{
		s.instruction(model.InstructionNotifyChannel, model.NoticeTicketOpened, ticket),
	}
	if ticket.Status == model.TicketStatusAwaitingEvidence {
		instructions = append(instructions,
			s.instruction(model.InstructionNotifyChannel, model.NoticeEvidenceRequired, ticket))
	}

	s.logger.Info("ticket created",
		"community_id", ticket.CommunityID,
		"ticket_id", ticket.ID,
		"number", ticket.Number,
	)

	return &model.Outcome{
		Kind:         model.OutcomeTicketCreated,
		Ticket:       ticket,
		Instructions: instructions,
	}, nil
}

// releaseChannel destroys a channel whose ticket could not be persisted
func (s *TicketService) releaseChannel(ctx context.Context, communityID, channelRef string) {
	if err := s.channels.DestroyChannel(context.WithoutCancel(ctx), communityID, channelRef); err != nil {
		s.logger.Warn("failed to release orphaned ticket channel",
			"community_id", communityID,
			"channel_ref", channelRef,
			"error", err,
		)
	}
}

// SubmitEvidence queues a ticket on proof of payment from its requester
func (s *TicketService) SubmitEvidence(ctx context.Context, ev *model.SubmitEvidence) (*model.Outcome, error) {
	ticket, err := s.resolveTicket(ctx, ev.CommunityID, ev.TicketRef)
	if err != nil {
		return nil, err
	}
	if ticket.RequesterID != ev.ActorID {
		return nil, ErrNotRequester
	}

	if ticket.QueueNumber != nil {
		return s.alreadyQueued(ctx, ticket)
	}
	if !ticket.Status.AcceptsEvidence() {
		return nil, ErrInvalidTransition
	}

	var rec *model.TransactionRecord
	policy := s.policies.Policy(ev.CommunityID)
	if policy.EvidencePolicy == model.EvidencePolicyExplicitIdentifier {
		if strings.TrimSpace(ev.Identifier) == "" {
			return nil, ErrIdentifierRequired
		}
		rec, err = s.registry.Record(ev.CommunityID, ev.Identifier, ticket.ID)
		if err != nil {
			return nil, err
		}
	}

	return s.admit(ctx, ticket, rec)
}

// SetStatus is the staff override of a ticket's status
func (s *TicketService) SetStatus(ctx context.Context, ev *model.SetStatus) (*model.Outcome, error) {
	if err := s.requireStaff(ctx, ev.CommunityID, ev.ActorID); err != nil {
		return nil, err
	}
	ticket, err := s.resolveTicket(ctx, ev.CommunityID, ev.TicketRef)
	if err != nil {
		return nil, err
	}

	switch ev.Target {
	case model.TicketStatusProcessing:
		if ticket.Status == model.TicketStatusProcessing {
			return &model.Outcome{Kind: model.OutcomeNoOp, Ticket: ticket}, nil
		}
		updated, err := s.transition(ctx, ticket, model.TicketStatusProcessing, nil, nil)
		if err != nil {
			return nil, err
		}
		return &model.Outcome{
			Kind:   model.OutcomeStatusChanged,
			Ticket: updated,
			Instructions: []model.Instruction{
				s.instruction(model.InstructionNotifyChannel, model.NoticeProcessing, updated),
			},
		}, nil

	case model.TicketStatusPaid:
		if ticket.Status == model.TicketStatusProcessing {
			return nil, ErrInvalidTransition
		}
		if ticket.QueueNumber != nil {
			return s.alreadyQueued(ctx, ticket)
		}
		return s.admit(ctx, ticket, nil)

	case model.TicketStatusClosed:
		return s.closeTicket(ctx, ticket, model.CloseReasonStaff, s.policies.Policy(ev.CommunityID).CloseAction)

	default:
		return nil, fmt.Errorf("%w: cannot set status %s", ErrInvalidTransition, ev.Target)
	}
}

// Claim hands a ticket to the claiming staff member
func (s *TicketService) Claim(ctx context.Context, ev *model.ClaimTicket) (*model.Outcome, error) {
	if err := s.requireStaff(ctx, ev.CommunityID, ev.ActorID); err != nil {
		return nil, err
	}
	ticket, err := s.resolveTicket(ctx, ev.CommunityID, ev.TicketRef)
	if err != nil {
		return nil, err
	}

	if ticket.ClaimedBy != nil {
		if *ticket.ClaimedBy == ev.ActorID {
			return &model.Outcome{Kind: model.OutcomeNoOp, Ticket: ticket}, nil
		}
		return nil, ErrAlreadyClaimed
	}

	requesterID, err := s.soleRequester(ctx, ticket)
	if err != nil {
		return nil, err
	}

	claimedBy := ev.ActorID
	updated, err := s.transition(ctx, ticket, model.TicketStatusProcessing, &claimedBy, nil)
	if err != nil {
		return nil, err
	}

	policy := s.policies.Policy(ev.CommunityID)
	claimed := s.instruction(model.InstructionNotifyChannel, model.NoticeClaimed, updated)
	claimed.UserID = ev.ActorID
	instructions := []model.Instruction{claimed}
	if policy.MarkerRoleRef != "" {
		grant := s.instruction(model.InstructionGrantRole, "", updated)
		grant.UserID = requesterID
		grant.RoleRef = policy.MarkerRoleRef
		instructions = append(instructions, grant)
	}

	if s.scheduler != nil {
		s.scheduler.Schedule(updated.ID, TaskClaimNotice, policy.ClaimNoticeDelay,
			&model.ClaimNoticeDue{CommunityID: updated.CommunityID, TicketID: updated.ID})
		s.scheduler.Schedule(updated.ID, TaskTeardown, policy.ClaimTeardownDelay,
			&model.TeardownDue{CommunityID: updated.CommunityID, TicketID: updated.ID})
	}

	s.logger.Info("ticket claimed",
		"community_id", updated.CommunityID,
		"ticket_id", updated.ID,
		"staff_id", ev.ActorID,
	)

	return &model.Outcome{
		Kind:         model.OutcomeTicketClaimed,
		Ticket:       updated,
		Instructions: instructions,
	}, nil
}

// soleRequester returns the single non-staff member of the ticket channel
func (s *TicketService) soleRequester(ctx context.Context, ticket *model.Ticket) (string, error) {
	members, err := s.channels.ChannelMembers(ctx, ticket.CommunityID, ticket.ChannelRef)
	if err != nil {
		return "", fmt.Errorf("failed to list channel members: %w", err)
	}

	var found []string
	for _, userID := range members {
		staff, err := s.isStaff(ctx, ticket.CommunityID, userID)
		if err != nil {
			return "", err
		}
		if !staff {
			found = append(found, userID)
		}
	}
	if len(found) != 1 {
		return "", fmt.Errorf("%w: found %d", ErrAmbiguousRequester, len(found))
	}
	return found[0], nil
}

// Close is an explicit staff close
func (s *TicketService) Close(ctx context.Context, ev *model.CloseTicket) (*model.Outcome, error) {
	if err := s.requireStaff(ctx, ev.CommunityID, ev.ActorID); err != nil {
		return nil, err
	}
	ticket, err := s.resolveTicket(ctx, ev.CommunityID, ev.TicketRef)
	if err != nil {
		return nil, err
	}
	return s.closeTicket(ctx, ticket, model.CloseReasonStaff, s.policies.Policy(ev.CommunityID).CloseAction)
}

// AutoClose closes a ticket still waiting for evidence since before the
// idle cutoff. A ticket that moved on in the meantime is left alone.
func (s *TicketService) AutoClose(ctx context.Context, ev *model.TimeoutTicket) (*model.Outcome, error) {
	ticket, err := s.currentTicket(ctx, ev.CommunityID, ev.TicketID)
	if err != nil || ticket == nil {
		return noOp(nil), err
	}
	if !ticket.Status.AcceptsEvidence() || ticket.UpdatedOn.After(ev.IdleBefore) {
		return noOp(ticket), nil
	}
	return s.closeTicket(ctx, ticket, model.CloseReasonTimeout, s.policies.Policy(ev.CommunityID).CloseAction)
}

// ClaimNotice tells a claimed ticket's channel and its requester that it is
// done, and points staff at the next ticket in line
func (s *TicketService) ClaimNotice(ctx context.Context, ev *model.ClaimNoticeDue) (*model.Outcome, error) {
	ticket, err := s.currentTicket(ctx, ev.CommunityID, ev.TicketID)
	if err != nil || ticket == nil {
		return noOp(nil), err
	}

	dm := s.instruction(model.InstructionNotifyUser, model.NoticeCompleted, ticket)
	dm.UserID = ticket.RequesterID
	instructions := []model.Instruction{
		s.instruction(model.InstructionNotifyChannel, model.NoticeCompleted, ticket),
		dm,
	}

	snap, err := s.allocator.Snapshot(ctx, ticket.CommunityID)
	if err != nil {
		return nil, err
	}
	if next := snap.NextAfter(ticket.ID); next != nil {
		nextUp := s.instruction(model.InstructionNotifyChannel, model.NoticeStaffNextUp, ticket)
		number := next.TicketNumber
		nextUp.NextTicketNumber = &number
		nextUp.Position = snap.PositionOf(next.TicketID)
		instructions = append(instructions, nextUp)
	}

	return &model.Outcome{
		Kind:         model.OutcomeNoticeSent,
		Ticket:       ticket,
		Instructions: instructions,
	}, nil
}

// Teardown completes a claimed ticket and destroys its channel
func (s *TicketService) Teardown(ctx context.Context, ev *model.TeardownDue) (*model.Outcome, error) {
	ticket, err := s.currentTicket(ctx, ev.CommunityID, ev.TicketID)
	if err != nil || ticket == nil {
		return noOp(nil), err
	}
	return s.closeTicket(ctx, ticket, model.CloseReasonCompleted, model.CloseActionDestroy)
}

// SetupPanel records the channel hosting the ticket-creation panel
func (s *TicketService) SetupPanel(ctx context.Context, ev *model.SetupPanel) (*model.Outcome, error) {
	if err := s.requireStaff(ctx, ev.CommunityID, ev.ActorID); err != nil {
		return nil, err
	}

	settings, err := s.store.Settings.SetPanelChannel(ctx, ev.CommunityID, ev.ChannelRef)
	if err != nil {
		return nil, storeError("set panel channel", err)
	}

	return &model.Outcome{
		Kind:     model.OutcomePanelConfigured,
		Settings: settings,
		Instructions: []model.Instruction{{
			Kind:        model.InstructionPostPanel,
			CommunityID: ev.CommunityID,
			ChannelRef:  ev.ChannelRef,
			IssuedOn:    s.clock.Now().UTC(),
		}},
	}, nil
}

// SetStaffDuty marks a staff member on or off duty
func (s *TicketService) SetStaffDuty(ctx context.Context, ev *model.SetStaffDuty) (*model.Outcome, error) {
	if err := s.requireStaff(ctx, ev.CommunityID, ev.ActorID); err != nil {
		return nil, err
	}
	if ev.UserID != ev.ActorID {
		staff, err := s.isStaff(ctx, ev.CommunityID, ev.UserID)
		if err != nil {
			return nil, err
		}
		if !staff {
			return nil, fmt.Errorf("%w: %s is not staff", ErrUnauthorized, ev.UserID)
		}
	}

	duty := &model.StaffDuty{
		CommunityID: ev.CommunityID,
		UserID:      ev.UserID,
		OnDuty:      ev.OnDuty,
		UpdatedOn:   s.clock.Now().UTC(),
	}
	if err := s.store.Duty.SetDuty(ctx, duty); err != nil {
		return nil, storeError("set staff duty", err)
	}

	return &model.Outcome{
		Kind: model.OutcomeDutyUpdated,
		Duty: duty,
		Instructions: []model.Instruction{{
			Kind:        model.InstructionNotifyUser,
			Notice:      model.NoticeDutyChanged,
			CommunityID: ev.CommunityID,
			UserID:      ev.UserID,
			IssuedOn:    duty.UpdatedOn,
		}},
	}, nil
}

// ReserveIdentifier marks an identifier as used without binding it to a ticket
func (s *TicketService) ReserveIdentifier(ctx context.Context, ev *model.ReserveIdentifier) (*model.Outcome, error) {
	if err := s.requireStaff(ctx, ev.CommunityID, ev.ActorID); err != nil {
		return nil, err
	}
	if _, err := s.registry.TryRegister(ctx, ev.CommunityID, ev.Value, ""); err != nil {
		return nil, err
	}
	return &model.Outcome{Kind: model.OutcomeIdentifierReserved}, nil
}

// ===== Reads =====

// GetTicket returns a ticket by id
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	ticket, err := s.store.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError("get ticket", err)
	}
	if ticket == nil {
		return nil, ErrTicketNotFound
	}
	return ticket, nil
}

// QueuePosition returns the derived rank and total of a queued ticket
func (s *TicketService) QueuePosition(ctx context.Context, ticketID string) (*model.QueuePosition, error) {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return s.allocator.ComputeRank(ctx, ticket)
}

// QueueSnapshot returns the active queue of a community
func (s *TicketService) QueueSnapshot(ctx context.Context, communityID string) (*model.QueueSnapshot, error) {
	return s.allocator.Snapshot(ctx, communityID)
}

// OnDutyStaff lists the staff currently taking tickets
func (s *TicketService) OnDutyStaff(ctx context.Context, communityID string) ([]*model.StaffDuty, error) {
	duty, err := s.store.Duty.ListOnDuty(ctx, communityID)
	if err != nil {
		return nil, storeError("list on-duty staff", err)
	}
	return duty, nil
}

// ===== Helpers =====

// admit moves a ticket into the queue and reports its position
func (s *TicketService) admit(ctx context.Context, ticket *model.Ticket, rec *model.TransactionRecord) (*model.Outcome, error) {
	updated, admitted, err := s.allocator.AdmitToQueue(ctx, ticket, rec, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !admitted {
		return s.alreadyQueued(ctx, updated)
	}

	pos, err := s.allocator.ComputeRank(ctx, updated)
	if err != nil {
		return nil, err
	}

	queued := s.instruction(model.InstructionNotifyChannel, model.NoticeQueued, updated)
	queued.UserID = updated.RequesterID
	queued.Position = pos
	instructions := []model.Instruction{queued, s.positionInstruction(updated, pos)}

	onDuty, err := s.store.Duty.ListOnDuty(ctx, updated.CommunityID)
	if err != nil {
		// The admission is committed; staff simply miss this ping.
		s.logger.Warn("failed to list on-duty staff",
			"community_id", updated.CommunityID,
			"error", err,
		)
	}
	for _, duty := range onDuty {
		notify := s.instruction(model.InstructionNotifyUser, model.NoticeTicketQueued, updated)
		notify.UserID = duty.UserID
		notify.Position = pos
		instructions = append(instructions, notify)
	}

	s.logger.Info("ticket queued",
		"community_id", updated.CommunityID,
		"ticket_id", updated.ID,
		"queue_number", *updated.QueueNumber,
		"rank", pos.Rank,
		"total", pos.Total,
	)

	return &model.Outcome{
		Kind:         model.OutcomeTicketQueued,
		Ticket:       updated,
		Position:     pos,
		Instructions: instructions,
	}, nil
}

// alreadyQueued reports the current position of a ticket holding a queue number
func (s *TicketService) alreadyQueued(ctx context.Context, ticket *model.Ticket) (*model.Outcome, error) {
	out := &model.Outcome{Kind: model.OutcomeAlreadyQueued, Ticket: ticket}
	if !ticket.InQueue() {
		return out, nil
	}
	pos, err := s.allocator.ComputeRank(ctx, ticket)
	if err != nil {
		return nil, err
	}
	out.Position = pos
	out.Instructions = []model.Instruction{s.positionInstruction(ticket, pos)}
	return out, nil
}

// closeTicket closes a ticket and refreshes everyone left in the queue
func (s *TicketService) closeTicket(ctx context.Context, ticket *model.Ticket, reason model.CloseReason, action model.CloseAction) (*model.Outcome, error) {
	wasQueued := ticket.InQueue()

	updated, err := s.transition(ctx, ticket, model.TicketStatusClosed, nil, &reason)
	if err != nil {
		return nil, err
	}
	if s.scheduler != nil {
		s.scheduler.CancelTicket(updated.ID)
	}

	revoke := s.instruction(model.InstructionRevokeAccess, "", updated)
	revoke.UserID = updated.RequesterID
	instructions := []model.Instruction{
		s.instruction(model.InstructionNotifyChannel, model.NoticeClosed, updated),
		revoke,
	}
	if action == model.CloseActionArchive {
		rename := s.instruction(model.InstructionRenameChannel, "", updated)
		rename.Name = updated.ClosedChannelName()
		instructions = append(instructions, rename)
	} else {
		instructions = append(instructions, s.instruction(model.InstructionDestroyChannel, "", updated))
	}

	if wasQueued {
		instructions = append(instructions, s.queueRefresh(ctx, updated.CommunityID)...)
	}

	s.logger.Info("ticket closed",
		"community_id", updated.CommunityID,
		"ticket_id", updated.ID,
		"reason", reason,
	)

	return &model.Outcome{
		Kind:         model.OutcomeTicketClosed,
		Ticket:       updated,
		Instructions: instructions,
	}, nil
}

// queueRefresh announces the new head of the queue and every entry's
// position, all read from one snapshot
func (s *TicketService) queueRefresh(ctx context.Context, communityID string) []model.Instruction {
	snap, err := s.allocator.Snapshot(ctx, communityID)
	if err != nil {
		s.logger.Warn("failed to read queue after close",
			"community_id", communityID,
			"error", err,
		)
		return nil
	}

	now := s.clock.Now().UTC()
	var instructions []model.Instruction
	if head := snap.Head(); head != nil {
		instructions = append(instructions, model.Instruction{
			Kind:         model.InstructionNotifyChannel,
			Notice:       model.NoticeNextInLine,
			CommunityID:  communityID,
			TicketID:     head.TicketID,
			TicketNumber: head.TicketNumber,
			ChannelRef:   head.ChannelRef,
			UserID:       head.RequesterID,
			Position:     snap.PositionOf(head.TicketID),
			IssuedOn:     now,
		})
	}
	for _, e := range snap.Entries {
		instructions = append(instructions, model.Instruction{
			Kind:         model.InstructionQueuePosition,
			CommunityID:  communityID,
			TicketID:     e.TicketID,
			TicketNumber: e.TicketNumber,
			ChannelRef:   e.ChannelRef,
			UserID:       e.RequesterID,
			Position:     snap.PositionOf(e.TicketID),
			IssuedOn:     now,
		})
	}
	return instructions
}

func (s *TicketService) transition(ctx context.Context, ticket *model.Ticket, to model.TicketStatus, claimedBy *string, reason *model.CloseReason) (*model.Ticket, error) {
	updated, err := s.store.Tickets.Transition(ctx, model.TransitionParams{
		TicketID:        ticket.ID,
		ExpectedVersion: ticket.Version,
		To:              to,
		ClaimedBy:       claimedBy,
		CloseReason:     reason,
		At:              s.clock.Now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, database.ErrConflict):
			return nil, ErrStaleTicket
		case errors.Is(err, database.ErrNotFound):
			return nil, ErrTicketNotFound
		default:
			return nil, storeError("transition ticket", err)
		}
	}
	return updated, nil
}

// resolveTicket loads the active ticket a command refers to
func (s *TicketService) resolveTicket(ctx context.Context, communityID string, ref model.TicketRef) (*model.Ticket, error) {
	var (
		ticket *model.Ticket
		err    error
	)
	if ref.TicketID != "" {
		ticket, err = s.store.Tickets.GetByID(ctx, ref.TicketID)
	} else {
		ticket, err = s.store.Tickets.GetByChannel(ctx, communityID, ref.ChannelRef)
	}
	if err != nil {
		return nil, storeError("get ticket", err)
	}
	if ticket == nil || ticket.CommunityID != communityID {
		return nil, ErrTicketNotFound
	}
	if ticket.Status == model.TicketStatusClosed {
		return nil, ErrTicketClosed
	}
	return ticket, nil
}

// currentTicket loads a ticket for a deferred task. A missing or closed
// ticket reads as nil with no error.
func (s *TicketService) currentTicket(ctx context.Context, communityID, ticketID string) (*model.Ticket, error) {
	ticket, err := s.store.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError("get ticket", err)
	}
	if ticket == nil || ticket.CommunityID != communityID || !ticket.Status.IsActive() {
		return nil, nil
	}
	return ticket, nil
}

func (s *TicketService) isStaff(ctx context.Context, communityID, userID string) (bool, error) {
	ok, err := s.auth.IsStaff(ctx, communityID, userID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAuthorizationUnavailable, err)
	}
	return ok, nil
}

func (s *TicketService) requireStaff(ctx context.Context, communityID, userID string) error {
	ok, err := s.isStaff(ctx, communityID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (s *TicketService) instruction(kind model.InstructionKind, notice model.Notice, ticket *model.Ticket) model.Instruction {
	return model.Instruction{
		Kind:         kind,
		Notice:       notice,
		CommunityID:  ticket.CommunityID,
		TicketID:     ticket.ID,
		TicketNumber: ticket.Number,
		ChannelRef:   ticket.ChannelRef,
		IssuedOn:     s.clock.Now().UTC(),
	}
}

func (s *TicketService) positionInstruction(ticket *model.Ticket, pos *model.QueuePosition) model.Instruction {
	in := s.instruction(model.InstructionQueuePosition, "", ticket)
	in.UserID = ticket.RequesterID
	in.Position = pos
	return in
}

func noOp(ticket *model.Ticket) *model.Outcome {
	return &model.Outcome{Kind: model.OutcomeNoOp, Ticket: ticket}
}
