package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/forgo/queuedesk/internal/service"
)

// Authorizer checks the staff role with a live guild member lookup on every
// call. Users on the community's staff roster are staff without a lookup.
type Authorizer struct {
	api      API
	policies service.PolicySource
}

// NewAuthorizer creates a Discord authorizer
func NewAuthorizer(api API, policies service.PolicySource) *Authorizer {
	return &Authorizer{api: api, policies: policies}
}

func (a *Authorizer) IsStaff(ctx context.Context, communityID, userID string) (bool, error) {
	policy := a.policies.Policy(communityID)
	if policy.IsStaffUser(userID) {
		return true, nil
	}
	if policy.StaffRoleRef == "" {
		return false, nil
	}

	member, err := a.api.GuildMember(communityID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up guild member: %w", err)
	}
	for _, role := range member.Roles {
		if role == policy.StaffRoleRef {
			return true, nil
		}
	}
	return false, nil
}
