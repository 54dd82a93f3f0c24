package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/forgo/queuedesk/internal/model"
)

var errUnknownInteraction = errors.New("unknown interaction")

// Router turns gateway events into dispatcher events and replies with the outcome
type Router struct {
	dispatcher Dispatcher
	api        API
	logger     *slog.Logger
	timeout    time.Duration
}

// NewRouter creates a router. timeout bounds each dispatch and defaults to 10s.
func NewRouter(dispatcher Dispatcher, api API, logger *slog.Logger, timeout time.Duration) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{dispatcher: dispatcher, api: api, logger: logger, timeout: timeout}
}

// Register installs the router's gateway handlers on a session
func (r *Router) Register(s *discordgo.Session) {
	s.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		r.HandleInteraction(context.Background(), ic.Interaction)
	})
	s.AddHandler(func(_ *discordgo.Session, mc *discordgo.MessageCreate) {
		r.HandleMessage(context.Background(), mc.Message)
	})
}

// replyTimeout bounds the acknowledgement and the follow-up edit of an
// interaction, separately from the dispatch itself
const replyTimeout = 5 * time.Second

// HandleInteraction dispatches a button click or slash command and replies
// to the invoking user only. Known interactions are acknowledged with a
// deferred reply before dispatching so a slow dispatch (channel creation,
// retries) cannot miss Discord's acknowledgement window; the deferred reply
// is then edited with the outcome.
func (r *Router) HandleInteraction(ctx context.Context, i *discordgo.Interaction) {
	ev, err := eventFromInteraction(i)
	if err != nil {
		r.logger.Debug("ignoring interaction", "guild_id", i.GuildID, "error", err)
		r.reply(ctx, i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Unknown command.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		return
	}

	deferred := r.reply(ctx, i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})

	dispatchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	out := r.dispatcher.Dispatch(dispatchCtx, ev)
	cancel()

	if !deferred {
		return
	}
	content := outcomeText(out)
	editCtx, cancelEdit := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancelEdit()
	if _, err := r.api.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(editCtx)); err != nil {
		r.logger.Warn("failed to edit interaction reply",
			"guild_id", i.GuildID,
			"channel_id", i.ChannelID,
			"event", ev.Type(),
			"error", err,
		)
	}
}

// reply sends the initial interaction response and reports whether it went out
func (r *Router) reply(ctx context.Context, i *discordgo.Interaction, resp *discordgo.InteractionResponse) bool {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if err := r.api.InteractionRespond(i, resp, discordgo.WithContext(ctx)); err != nil {
		r.logger.Warn("failed to respond to interaction",
			"guild_id", i.GuildID,
			"channel_id", i.ChannelID,
			"error", err,
		)
		return false
	}
	return true
}

// HandleMessage treats attachments posted in a ticket channel as evidence.
// Messages outside ticket channels are ignored.
func (r *Router) HandleMessage(ctx context.Context, m *discordgo.Message) {
	ev := eventFromMessage(m)
	if ev == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out := r.dispatcher.Dispatch(ctx, ev)
	if !out.Rejected() || out.Rejection.Code == model.RejectionTicketNotFound {
		return
	}
	if _, err := r.api.ChannelMessageSend(m.ChannelID, rejectionText(out.Rejection), discordgo.WithContext(ctx)); err != nil {
		r.logger.Warn("failed to reply to evidence message",
			"guild_id", m.GuildID,
			"channel_id", m.ChannelID,
			"error", err,
		)
	}
}

func interactionActor(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func eventFromInteraction(i *discordgo.Interaction) (model.Event, error) {
	if i.GuildID == "" {
		return nil, fmt.Errorf("%w: not in a guild", errUnknownInteraction)
	}
	actor := interactionActor(i)
	here := model.TicketRef{ChannelRef: i.ChannelID}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		switch id := i.MessageComponentData().CustomID; id {
		case ButtonCreateTicket:
			return &model.CreateTicket{CommunityID: i.GuildID, RequesterID: actor}, nil
		case ButtonClaimTicket:
			return &model.ClaimTicket{CommunityID: i.GuildID, ActorID: actor, TicketRef: here}, nil
		case ButtonCloseTicket:
			return &model.CloseTicket{CommunityID: i.GuildID, ActorID: actor, TicketRef: here}, nil
		default:
			return nil, fmt.Errorf("%w: button %q", errUnknownInteraction, id)
		}

	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		opts := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
		for _, o := range data.Options {
			opts[o.Name] = o
		}
		str := func(name string) string {
			if o, ok := opts[name]; ok {
				return o.StringValue()
			}
			return ""
		}

		switch data.Name {
		case "setup":
			return &model.SetupPanel{CommunityID: i.GuildID, ActorID: actor, ChannelRef: i.ChannelID}, nil
		case "on", "off":
			target := actor
			if o, ok := opts["user"]; ok {
				target = o.UserValue(nil).ID
			}
			return &model.SetStaffDuty{CommunityID: i.GuildID, ActorID: actor, UserID: target, OnDuty: data.Name == "on"}, nil
		case "status":
			return &model.SetStatus{
				CommunityID: i.GuildID,
				ActorID:     actor,
				TicketRef:   here,
				Target:      model.TicketStatus(str("status")),
			}, nil
		case "close":
			return &model.CloseTicket{CommunityID: i.GuildID, ActorID: actor, TicketRef: here}, nil
		case "submit":
			return &model.SubmitEvidence{
				CommunityID: i.GuildID,
				ActorID:     actor,
				TicketRef:   here,
				Identifier:  str("identifier"),
			}, nil
		case "reserve":
			return &model.ReserveIdentifier{CommunityID: i.GuildID, ActorID: actor, Value: str("value")}, nil
		default:
			return nil, fmt.Errorf("%w: command %q", errUnknownInteraction, data.Name)
		}
	}
	return nil, fmt.Errorf("%w: type %d", errUnknownInteraction, i.Type)
}

func eventFromMessage(m *discordgo.Message) model.Event {
	if m == nil || m.GuildID == "" || m.Author == nil || m.Author.Bot || len(m.Attachments) == 0 {
		return nil
	}
	return &model.SubmitEvidence{
		CommunityID: m.GuildID,
		ActorID:     m.Author.ID,
		TicketRef:   model.TicketRef{ChannelRef: m.ChannelID},
		Attachment:  true,
	}
}
