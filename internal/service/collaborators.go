package service

import (
	"context"
	"errors"

	"github.com/forgo/queuedesk/internal/model"
)

// Authorizer answers whether a user currently holds the staff role.
// Implementations must not cache the answer across calls.
type Authorizer interface {
	IsStaff(ctx context.Context, communityID, userID string) (bool, error)
}

// ChannelRequest describes a dedicated ticket channel to allocate
type ChannelRequest struct {
	CommunityID  string
	RequesterID  string
	Name         string
	StaffRoleRef string
}

// ChannelProvider manages per-ticket channels on the chat platform
type ChannelProvider interface {
	CreateTicketChannel(ctx context.Context, req ChannelRequest) (string, error)
	// ChannelMembers lists the human members that can see the channel
	ChannelMembers(ctx context.Context, communityID, channelRef string) ([]string, error)
	DestroyChannel(ctx context.Context, communityID, channelRef string) error
}

// Publisher delivers controller instructions to the presentation layer
type Publisher interface {
	Publish(ctx context.Context, instructions []model.Instruction) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, instructions []model.Instruction) error

func (f PublisherFunc) Publish(ctx context.Context, instructions []model.Instruction) error {
	return f(ctx, instructions)
}

// MultiPublisher fans instructions out to every publisher and joins the errors
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, instructions []model.Instruction) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, instructions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PolicySource resolves the deployment policy of a community
type PolicySource interface {
	Policy(communityID string) model.CommunityPolicy
}

// StaticPolicy applies one policy to every community
type StaticPolicy model.CommunityPolicy

func (p StaticPolicy) Policy(string) model.CommunityPolicy {
	return model.CommunityPolicy(p)
}

// RosterAuthorizer checks staff membership against the configured roster
// of each community. It is used where no chat platform answers role
// membership.
type RosterAuthorizer struct {
	Policies PolicySource
}

func (a RosterAuthorizer) IsStaff(_ context.Context, communityID, userID string) (bool, error) {
	return a.Policies.Policy(communityID).IsStaffUser(userID), nil
}
