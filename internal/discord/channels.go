package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/forgo/queuedesk/internal/service"
)

const (
	requesterPermissions = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionAttachFiles |
		discordgo.PermissionReadMessageHistory
	staffPermissions = requesterPermissions | discordgo.PermissionManageMessages
)

// Channels allocates private ticket text channels
type Channels struct {
	api API
	// parentID is the category new ticket channels are created under, if set
	parentID string
}

// NewChannels creates a Discord channel provider
func NewChannels(api API, parentID string) *Channels {
	return &Channels{api: api, parentID: parentID}
}

// CreateTicketChannel creates a text channel hidden from @everyone and
// visible to the requester and the staff role
func (c *Channels) CreateTicketChannel(ctx context.Context, req service.ChannelRequest) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			// @everyone shares the guild id
			ID:   req.CommunityID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    req.RequesterID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: requesterPermissions,
		},
	}
	if req.StaffRoleRef != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    req.StaffRoleRef,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: staffPermissions,
		})
	}

	ch, err := c.api.GuildChannelCreateComplex(req.CommunityID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             c.parentID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create ticket channel: %w", err)
	}
	return ch.ID, nil
}

// ChannelMembers lists the users granted view access by a member overwrite.
// Staff see the channel through their role and are not listed.
func (c *Channels) ChannelMembers(ctx context.Context, communityID, channelRef string) ([]string, error) {
	ch, err := c.api.Channel(channelRef, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if ch.GuildID != communityID {
		return nil, fmt.Errorf("channel %s is not in guild %s", channelRef, communityID)
	}

	var members []string
	for _, o := range ch.PermissionOverwrites {
		if o.Type == discordgo.PermissionOverwriteTypeMember && o.Allow&discordgo.PermissionViewChannel != 0 {
			members = append(members, o.ID)
		}
	}
	return members, nil
}

// DestroyChannel deletes the channel; an already deleted channel is not an error
func (c *Channels) DestroyChannel(ctx context.Context, _, channelRef string) error {
	if _, err := c.api.ChannelDelete(channelRef, discordgo.WithContext(ctx)); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	return nil
}
