package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/forgo/queuedesk/internal/model"
)

// Applier carries out controller instructions against the guild
type Applier struct {
	api    API
	logger *slog.Logger
}

// NewApplier creates an instruction applier
func NewApplier(api API, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{api: api, logger: logger}
}

// Publish applies every instruction in order. A failed instruction does not
// stop the rest; all failures are returned joined.
func (a *Applier) Publish(ctx context.Context, instructions []model.Instruction) error {
	var errs []error
	for _, in := range instructions {
		if err := a.apply(ctx, in); err != nil {
			a.logger.Warn("discord instruction failed",
				"kind", in.Kind,
				"community_id", in.CommunityID,
				"channel_ref", in.ChannelRef,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", in.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Applier) apply(ctx context.Context, in model.Instruction) error {
	opt := discordgo.WithContext(ctx)

	switch in.Kind {
	case model.InstructionNotifyChannel:
		if in.Notice == model.NoticeTicketOpened {
			_, err := a.api.ChannelMessageSendComplex(in.ChannelRef, &discordgo.MessageSend{
				Content:    noticeText(in),
				Components: ticketButtons(),
			}, opt)
			return err
		}
		_, err := a.api.ChannelMessageSend(in.ChannelRef, noticeText(in), opt)
		return err

	case model.InstructionNotifyUser:
		dm, err := a.api.UserChannelCreate(in.UserID, opt)
		if err != nil {
			return err
		}
		_, err = a.api.ChannelMessageSend(dm.ID, noticeText(in), opt)
		return err

	case model.InstructionQueuePosition:
		_, err := a.api.ChannelMessageSend(in.ChannelRef, positionText(in), opt)
		return err

	case model.InstructionGrantRole:
		return a.api.GuildMemberRoleAdd(in.CommunityID, in.UserID, in.RoleRef, opt)

	case model.InstructionRevokeAccess:
		err := a.api.ChannelPermissionDelete(in.ChannelRef, in.UserID, opt)
		if isNotFound(err) {
			return nil
		}
		return err

	case model.InstructionRenameChannel:
		_, err := a.api.ChannelEdit(in.ChannelRef, &discordgo.ChannelEdit{Name: in.Name}, opt)
		return err

	case model.InstructionDestroyChannel:
		_, err := a.api.ChannelDelete(in.ChannelRef, opt)
		if isNotFound(err) {
			return nil
		}
		return err

	case model.InstructionPostPanel:
		_, err := a.api.ChannelMessageSendComplex(in.ChannelRef, panelMessage(), opt)
		return err

	default:
		return fmt.Errorf("unknown instruction kind %q", in.Kind)
	}
}

func panelMessage() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content: "Need help? Open a ticket and a staff member will take it from the queue.",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Create Ticket",
						Style:    discordgo.SuccessButton,
						CustomID: ButtonCreateTicket,
					},
				},
			},
		},
	}
}

// ticketButtons is attached to the opening notice of a ticket channel
func ticketButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Claim Ticket", Style: discordgo.PrimaryButton, CustomID: ButtonClaimTicket},
				discordgo.Button{Label: "Close Ticket", Style: discordgo.DangerButton, CustomID: ButtonCloseTicket},
			},
		},
	}
}
