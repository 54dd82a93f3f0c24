package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/service"
)

// ============================================================================
// Mock API
// ============================================================================

type call struct {
	method string
	target string
	value  string
}

type mockAPI struct {
	mu    sync.Mutex
	calls []call

	guildMemberFunc   func(guildID, userID string) (*discordgo.Member, error)
	channelFunc       func(channelID string) (*discordgo.Channel, error)
	channelCreateFunc func(guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)
	deleteFunc        func(channelID string) error
	responses         []*discordgo.InteractionResponse
	edits             []*discordgo.WebhookEdit
}

func (m *mockAPI) record(method, target, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{method: method, target: target, value: value})
}

func (m *mockAPI) called(method string) []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []call
	for _, c := range m.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockAPI) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if m.guildMemberFunc != nil {
		return m.guildMemberFunc(guildID, userID)
	}
	return &discordgo.Member{User: &discordgo.User{ID: userID}}, nil
}

func (m *mockAPI) GuildMemberRoleAdd(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	m.record("GuildMemberRoleAdd", userID, roleID)
	return nil
}

func (m *mockAPI) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if m.channelFunc != nil {
		return m.channelFunc(channelID)
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (m *mockAPI) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if m.channelCreateFunc != nil {
		return m.channelCreateFunc(guildID, data)
	}
	return &discordgo.Channel{ID: "c-new", GuildID: guildID, Name: data.Name}, nil
}

func (m *mockAPI) ChannelEdit(channelID string, data *discordgo.ChannelEdit, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.record("ChannelEdit", channelID, data.Name)
	return &discordgo.Channel{ID: channelID, Name: data.Name}, nil
}

func (m *mockAPI) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.record("ChannelDelete", channelID, "")
	if m.deleteFunc != nil {
		return nil, m.deleteFunc(channelID)
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (m *mockAPI) ChannelPermissionDelete(channelID, targetID string, _ ...discordgo.RequestOption) error {
	m.record("ChannelPermissionDelete", channelID, targetID)
	return nil
}

func (m *mockAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.record("ChannelMessageSend", channelID, content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (m *mockAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.record("ChannelMessageSendComplex", channelID, data.Content)
	return &discordgo.Message{ChannelID: channelID, Content: data.Content}, nil
}

func (m *mockAPI) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (m *mockAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockAPI) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, edit)
	return &discordgo.Message{Content: *edit.Content}, nil
}

func (m *mockAPI) responseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses)
}

type mockDispatcher struct {
	dispatchFunc func(ctx context.Context, ev model.Event) *model.Outcome
	events       []model.Event
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ev model.Event) *model.Outcome {
	m.events = append(m.events, ev)
	if m.dispatchFunc != nil {
		return m.dispatchFunc(ctx, ev)
	}
	return &model.Outcome{Event: ev.Type(), Kind: model.OutcomeNoOp}
}

func notFound() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

var staffPolicy = service.StaticPolicy(model.CommunityPolicy{
	StaffRoleRef: "role-staff",
	StaffUserIDs: []string{"owner"},
})

// ============================================================================
// Authorizer
// ============================================================================

func TestAuthorizer_IsStaff(t *testing.T) {
	t.Parallel()

	api := &mockAPI{
		guildMemberFunc: func(_, userID string) (*discordgo.Member, error) {
			switch userID {
			case "staff":
				return &discordgo.Member{Roles: []string{"role-other", "role-staff"}}, nil
			case "gone":
				return nil, notFound()
			case "flaky":
				return nil, errors.New("gateway timeout")
			default:
				return &discordgo.Member{Roles: []string{"role-other"}}, nil
			}
		},
	}
	auth := NewAuthorizer(api, staffPolicy)
	ctx := context.Background()

	tests := []struct {
		user    string
		want    bool
		wantErr bool
	}{
		{"staff", true, false},
		{"owner", true, false},
		{"member", false, false},
		{"gone", false, false},
		{"flaky", false, true},
	}
	for _, tt := range tests {
		got, err := auth.IsStaff(ctx, "g1", tt.user)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: unexpected error state %v", tt.user, err)
		}
		if got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.user, tt.want, got)
		}
	}
}

// ============================================================================
// Channels
// ============================================================================

func TestChannels_CreateTicketChannel(t *testing.T) {
	t.Parallel()

	var got discordgo.GuildChannelCreateData
	api := &mockAPI{
		channelCreateFunc: func(guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
			got = data
			return &discordgo.Channel{ID: "c1", GuildID: guildID}, nil
		},
	}
	ref, err := NewChannels(api, "cat-1").CreateTicketChannel(context.Background(), service.ChannelRequest{
		CommunityID:  "g1",
		RequesterID:  "u1",
		Name:         "ticket-4",
		StaffRoleRef: "role-staff",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ref != "c1" {
		t.Errorf("expected c1, got %s", ref)
	}
	if got.Name != "ticket-4" || got.ParentID != "cat-1" || got.Type != discordgo.ChannelTypeGuildText {
		t.Errorf("unexpected channel data %+v", got)
	}
	if len(got.PermissionOverwrites) != 3 {
		t.Fatalf("expected 3 overwrites, got %d", len(got.PermissionOverwrites))
	}
	everyone := got.PermissionOverwrites[0]
	if everyone.ID != "g1" || everyone.Deny&discordgo.PermissionViewChannel == 0 {
		t.Errorf("expected @everyone denied view, got %+v", everyone)
	}
}

func TestChannels_MembersFromOverwrites(t *testing.T) {
	t.Parallel()

	api := &mockAPI{
		channelFunc: func(channelID string) (*discordgo.Channel, error) {
			return &discordgo.Channel{
				ID:      channelID,
				GuildID: "g1",
				PermissionOverwrites: []*discordgo.PermissionOverwrite{
					{ID: "g1", Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
					{ID: "u1", Type: discordgo.PermissionOverwriteTypeMember, Allow: requesterPermissions},
					{ID: "role-staff", Type: discordgo.PermissionOverwriteTypeRole, Allow: staffPermissions},
					{ID: "muted", Type: discordgo.PermissionOverwriteTypeMember, Deny: discordgo.PermissionViewChannel},
				},
			}, nil
		},
	}
	ch := NewChannels(api, "")

	members, err := ch.ChannelMembers(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0] != "u1" {
		t.Errorf("expected [u1], got %v", members)
	}

	if _, err := ch.ChannelMembers(context.Background(), "g2", "c1"); err == nil {
		t.Error("expected error for channel in another guild")
	}
}

func TestChannels_DestroyIgnoresMissing(t *testing.T) {
	t.Parallel()

	api := &mockAPI{deleteFunc: func(string) error { return notFound() }}
	if err := NewChannels(api, "").DestroyChannel(context.Background(), "g1", "c1"); err != nil {
		t.Errorf("expected nil for deleted channel, got %v", err)
	}

	api.deleteFunc = func(string) error { return errors.New("forbidden") }
	if err := NewChannels(api, "").DestroyChannel(context.Background(), "g1", "c1"); err == nil {
		t.Error("expected error")
	}
}

// ============================================================================
// Applier
// ============================================================================

func TestApplier_AppliesEveryKind(t *testing.T) {
	t.Parallel()

	api := &mockAPI{}
	next := int64(9)
	err := NewApplier(api, nil).Publish(context.Background(), []model.Instruction{
		{Kind: model.InstructionNotifyChannel, Notice: model.NoticeTicketOpened, ChannelRef: "c1", TicketNumber: 3},
		{Kind: model.InstructionNotifyChannel, Notice: model.NoticeStaffNextUp, ChannelRef: "c1", NextTicketNumber: &next},
		{Kind: model.InstructionNotifyUser, Notice: model.NoticeTicketQueued, UserID: "staff-1", TicketNumber: 3},
		{Kind: model.InstructionQueuePosition, ChannelRef: "c1", Position: &model.QueuePosition{Rank: 1, Total: 2, QueueNumber: 5}},
		{Kind: model.InstructionGrantRole, CommunityID: "g1", UserID: "u1", RoleRef: "role-served"},
		{Kind: model.InstructionRevokeAccess, ChannelRef: "c1", UserID: "u1"},
		{Kind: model.InstructionRenameChannel, ChannelRef: "c1", Name: "closed-3"},
		{Kind: model.InstructionDestroyChannel, ChannelRef: "c2"},
		{Kind: model.InstructionPostPanel, ChannelRef: "panel"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if n := len(api.called("ChannelMessageSendComplex")); n != 2 {
		t.Errorf("expected opening notice and panel sent with buttons, got %d", n)
	}
	sends := api.called("ChannelMessageSend")
	if len(sends) != 3 {
		t.Fatalf("expected 3 plain messages, got %d", len(sends))
	}
	if sends[0].value != "Next in the queue: ticket #9." {
		t.Errorf("unexpected next-up text %q", sends[0].value)
	}
	if sends[1].target != "dm-staff-1" {
		t.Errorf("expected DM to staff, got %s", sends[1].target)
	}
	if c := api.called("GuildMemberRoleAdd"); len(c) != 1 || c[0].value != "role-served" {
		t.Errorf("expected role grant, got %+v", c)
	}
	if c := api.called("ChannelEdit"); len(c) != 1 || c[0].value != "closed-3" {
		t.Errorf("expected rename, got %+v", c)
	}
	if len(api.called("ChannelPermissionDelete")) != 1 || len(api.called("ChannelDelete")) != 1 {
		t.Error("expected revoke and delete")
	}
}

func TestApplier_ContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	api := &mockAPI{deleteFunc: func(string) error { return errors.New("forbidden") }}
	err := NewApplier(api, nil).Publish(context.Background(), []model.Instruction{
		{Kind: model.InstructionDestroyChannel, ChannelRef: "c1"},
		{Kind: model.InstructionNotifyChannel, Notice: model.NoticeClosed, ChannelRef: "c2"},
	})
	if err == nil {
		t.Error("expected joined error")
	}
	if len(api.called("ChannelMessageSend")) != 1 {
		t.Error("expected the second instruction to still run")
	}
}

// ============================================================================
// Router
// ============================================================================

func component(customID string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   "g1",
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID},
	}
}

func command(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "staff-1"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func TestEventFromInteraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    *discordgo.Interaction
		check func(t *testing.T, ev model.Event)
	}{
		{"create button", component(ButtonCreateTicket), func(t *testing.T, ev model.Event) {
			e := ev.(*model.CreateTicket)
			if e.RequesterID != "u1" || e.CommunityID != "g1" {
				t.Errorf("unexpected %+v", e)
			}
		}},
		{"claim button", component(ButtonClaimTicket), func(t *testing.T, ev model.Event) {
			if e := ev.(*model.ClaimTicket); e.ChannelRef != "c1" {
				t.Errorf("expected channel ref, got %+v", e)
			}
		}},
		{"close button", component(ButtonCloseTicket), func(t *testing.T, ev model.Event) {
			_ = ev.(*model.CloseTicket)
		}},
		{"setup", command("setup"), func(t *testing.T, ev model.Event) {
			if e := ev.(*model.SetupPanel); e.ChannelRef != "c1" {
				t.Errorf("expected panel in current channel, got %+v", e)
			}
		}},
		{"on", command("on"), func(t *testing.T, ev model.Event) {
			e := ev.(*model.SetStaffDuty)
			if !e.OnDuty || e.UserID != "staff-1" {
				t.Errorf("expected self on duty, got %+v", e)
			}
		}},
		{"off for user", command("off", &discordgo.ApplicationCommandInteractionDataOption{
			Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "staff-2",
		}), func(t *testing.T, ev model.Event) {
			e := ev.(*model.SetStaffDuty)
			if e.OnDuty || e.UserID != "staff-2" {
				t.Errorf("expected staff-2 off duty, got %+v", e)
			}
		}},
		{"status", command("status", stringOpt("status", "processing")), func(t *testing.T, ev model.Event) {
			if e := ev.(*model.SetStatus); e.Target != model.TicketStatusProcessing {
				t.Errorf("unexpected target %s", e.Target)
			}
		}},
		{"submit", command("submit", stringOpt("identifier", "tx-9")), func(t *testing.T, ev model.Event) {
			if e := ev.(*model.SubmitEvidence); e.Identifier != "tx-9" || e.Attachment {
				t.Errorf("unexpected %+v", e)
			}
		}},
		{"reserve", command("reserve", stringOpt("value", "old-1")), func(t *testing.T, ev model.Event) {
			if e := ev.(*model.ReserveIdentifier); e.Value != "old-1" {
				t.Errorf("unexpected %+v", e)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := eventFromInteraction(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, ev)
		})
	}

	if _, err := eventFromInteraction(component("unknown")); !errors.Is(err, errUnknownInteraction) {
		t.Errorf("expected unknown interaction, got %v", err)
	}
	dm := component(ButtonCreateTicket)
	dm.GuildID = ""
	if _, err := eventFromInteraction(dm); err == nil {
		t.Error("expected DM interactions to be refused")
	}
}

func TestRouter_DefersThenEditsReply(t *testing.T) {
	t.Parallel()

	api := &mockAPI{}
	acknowledged := false
	dispatcher := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			acknowledged = api.responseCount() == 1
			return &model.Outcome{
				Event:     ev.Type(),
				Kind:      model.OutcomeRejected,
				Rejection: &model.Rejection{Code: model.RejectionDuplicateActiveTicket},
			}
		},
	}
	NewRouter(dispatcher, api, nil, 0).HandleInteraction(context.Background(), component(ButtonCreateTicket))

	if !acknowledged {
		t.Error("expected the interaction to be acknowledged before dispatching")
	}
	if len(api.responses) != 1 {
		t.Fatalf("expected one response, got %d", len(api.responses))
	}
	resp := api.responses[0]
	if resp.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Errorf("expected deferred response, got %v", resp.Type)
	}
	if resp.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Error("expected ephemeral reply")
	}
	if len(api.edits) != 1 {
		t.Fatalf("expected one edit, got %d", len(api.edits))
	}
	if got := *api.edits[0].Content; got != "You already have an open ticket." {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestRouter_UnknownInteractionRepliesImmediately(t *testing.T) {
	t.Parallel()

	api := &mockAPI{}
	dispatcher := &mockDispatcher{}
	NewRouter(dispatcher, api, nil, 0).HandleInteraction(context.Background(), component("unknown"))

	if len(dispatcher.events) != 0 {
		t.Errorf("expected no dispatch, got %d events", len(dispatcher.events))
	}
	if len(api.responses) != 1 || len(api.edits) != 0 {
		t.Fatalf("expected a single direct reply, got %d responses and %d edits", len(api.responses), len(api.edits))
	}
	resp := api.responses[0]
	if resp.Type != discordgo.InteractionResponseChannelMessageWithSource || resp.Data.Content != "Unknown command." {
		t.Errorf("unexpected reply %+v", resp.Data)
	}
}

func TestRouter_AttachmentsAreEvidence(t *testing.T) {
	t.Parallel()

	api := &mockAPI{}
	dispatcher := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			e := ev.(*model.SubmitEvidence)
			code := model.RejectionTicketNotFound
			if e.ChannelRef == "ticket-chan" {
				code = model.RejectionNotRequester
			}
			return &model.Outcome{Event: ev.Type(), Kind: model.OutcomeRejected, Rejection: &model.Rejection{Code: code}}
		},
	}
	router := NewRouter(dispatcher, api, nil, 0)
	msg := func(channel string, bot bool, files int) *discordgo.Message {
		return &discordgo.Message{
			GuildID:     "g1",
			ChannelID:   channel,
			Author:      &discordgo.User{ID: "u1", Bot: bot},
			Attachments: make([]*discordgo.MessageAttachment, files),
		}
	}

	router.HandleMessage(context.Background(), msg("ticket-chan", false, 0))
	router.HandleMessage(context.Background(), msg("ticket-chan", true, 1))
	if len(dispatcher.events) != 0 {
		t.Fatalf("expected text-only and bot messages ignored, got %d events", len(dispatcher.events))
	}

	router.HandleMessage(context.Background(), msg("general", false, 1))
	if len(api.called("ChannelMessageSend")) != 0 {
		t.Error("expected silence outside ticket channels")
	}

	router.HandleMessage(context.Background(), msg("ticket-chan", false, 1))
	sends := api.called("ChannelMessageSend")
	if len(sends) != 1 || sends[0].value != "Only the ticket owner can submit payment proof." {
		t.Errorf("expected rejection reply, got %+v", sends)
	}
	if e := dispatcher.events[len(dispatcher.events)-1].(*model.SubmitEvidence); !e.Attachment || e.Identifier != "" {
		t.Errorf("expected attachment-only evidence, got %+v", e)
	}
}
