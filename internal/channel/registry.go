// Package channel provides an in-process ticket channel registry for
// deployments that run without a chat platform. It allocates channel
// references, tracks who can see each channel, and applies the channel
// instructions the controller emits.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/service"
)

// Channel is one allocated ticket channel
type Channel struct {
	Ref          string
	CommunityID  string
	Name         string
	StaffRoleRef string
	Members      []string
}

type entry struct {
	Channel
	members map[string]bool
}

// Registry is an in-memory ChannelProvider
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*entry // ref -> channel
	logger   *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]*entry),
		logger:   logger,
	}
}

// CreateTicketChannel allocates a channel visible to the requester
func (r *Registry) CreateTicketChannel(_ context.Context, req service.ChannelRequest) (string, error) {
	ref := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ref] = &entry{
		Channel: Channel{
			Ref:          ref,
			CommunityID:  req.CommunityID,
			Name:         req.Name,
			StaffRoleRef: req.StaffRoleRef,
		},
		members: map[string]bool{req.RequesterID: true},
	}
	return ref, nil
}

// ChannelMembers lists the users that can see the channel
func (r *Registry) ChannelMembers(_ context.Context, communityID, channelRef string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, err := r.lookup(communityID, channelRef)
	if err != nil {
		return nil, err
	}
	return e.memberList(), nil
}

// DestroyChannel removes the channel. Destroying a missing channel is not an error.
func (r *Registry) DestroyChannel(_ context.Context, communityID, channelRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.channels[channelRef]; ok && e.CommunityID == communityID {
		delete(r.channels, channelRef)
	}
	return nil
}

// Join adds users to a channel
func (r *Registry) Join(communityID, channelRef string, userIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(communityID, channelRef)
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		e.members[id] = true
	}
	return nil
}

// Get returns a copy of the channel, or nil
func (r *Registry) Get(communityID, channelRef string) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, err := r.lookup(communityID, channelRef)
	if err != nil {
		return nil
	}
	c := e.Channel
	c.Members = e.memberList()
	return &c
}

// Publish applies the channel-affecting instructions and ignores the rest
func (r *Registry) Publish(ctx context.Context, instructions []model.Instruction) error {
	for _, in := range instructions {
		switch in.Kind {
		case model.InstructionRevokeAccess:
			r.mu.Lock()
			if e, err := r.lookup(in.CommunityID, in.ChannelRef); err == nil {
				delete(e.members, in.UserID)
			}
			r.mu.Unlock()
		case model.InstructionRenameChannel:
			r.mu.Lock()
			if e, err := r.lookup(in.CommunityID, in.ChannelRef); err == nil {
				e.Name = in.Name
			}
			r.mu.Unlock()
		case model.InstructionDestroyChannel:
			_ = r.DestroyChannel(ctx, in.CommunityID, in.ChannelRef)
		default:
			continue
		}
		r.logger.Debug("channel instruction applied",
			"kind", in.Kind,
			"community_id", in.CommunityID,
			"channel_ref", in.ChannelRef,
		)
	}
	return nil
}

// Len returns the number of live channels
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// lookup requires the caller to hold r.mu
func (r *Registry) lookup(communityID, channelRef string) (*entry, error) {
	e, ok := r.channels[channelRef]
	if !ok || e.CommunityID != communityID {
		return nil, fmt.Errorf("channel %s not found in community %s", channelRef, communityID)
	}
	return e, nil
}

func (e *entry) memberList() []string {
	out := make([]string, 0, len(e.members))
	for id := range e.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
