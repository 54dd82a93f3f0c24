// Package discord adapts queuedesk to a Discord guild through discordgo.
//
// The adapter has four parts: Authorizer answers live staff checks from
// guild member roles, Channels allocates private ticket channels, Applier
// carries out controller instructions, and Router turns button clicks,
// slash commands and evidence attachments into dispatcher events. A
// community id is a guild id; a channel ref is a Discord channel id.
package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/forgo/queuedesk/internal/model"
)

// API is the subset of *discordgo.Session the adapter calls
type API interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error

	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error

	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ API = (*discordgo.Session)(nil)

// Dispatcher runs one event to completion
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) *model.Outcome
}

// Button custom ids
const (
	ButtonCreateTicket = "create_ticket"
	ButtonClaimTicket  = "claim_ticket"
	ButtonCloseTicket  = "close_ticket"
)

// isNotFound reports a 404 from the REST API
func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
