package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/forgo/queuedesk/internal/middleware"
	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/service"
	"github.com/forgo/queuedesk/pkg/jwt"
)

// ============================================================================
// Mock Dispatcher
// ============================================================================

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

// ============================================================================
// Mock TicketReader
// ============================================================================

type mockReader struct {
	getTicketFunc     func(ctx context.Context, ticketID string) (*model.Ticket, error)
	queuePositionFunc func(ctx context.Context, ticketID string) (*model.QueuePosition, error)
	queueSnapshotFunc func(ctx context.Context, communityID string) (*model.QueueSnapshot, error)
	onDutyStaffFunc   func(ctx context.Context, communityID string) ([]*model.StaffDuty, error)
}

func (m *mockReader) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	if m.getTicketFunc != nil {
		return m.getTicketFunc(ctx, ticketID)
	}
	return nil, service.ErrTicketNotFound
}

func (m *mockReader) QueuePosition(ctx context.Context, ticketID string) (*model.QueuePosition, error) {
	if m.queuePositionFunc != nil {
		return m.queuePositionFunc(ctx, ticketID)
	}
	return nil, service.ErrNotQueued
}

func (m *mockReader) QueueSnapshot(ctx context.Context, communityID string) (*model.QueueSnapshot, error) {
	if m.queueSnapshotFunc != nil {
		return m.queueSnapshotFunc(ctx, communityID)
	}
	return &model.QueueSnapshot{CommunityID: communityID}, nil
}

func (m *mockReader) OnDutyStaff(ctx context.Context, communityID string) ([]*model.StaffDuty, error) {
	if m.onDutyStaffFunc != nil {
		return m.onDutyStaffFunc(ctx, communityID)
	}
	return nil, nil
}

// ============================================================================
// Helpers
// ============================================================================

func ticketIn(community string) func(ctx context.Context, id string) (*model.Ticket, error) {
	return func(_ context.Context, id string) (*model.Ticket, error) {
		return &model.Ticket{ID: id, CommunityID: community, Status: model.TicketStatusOpen}, nil
	}
}

// serve routes req through a mux whose protect chain injects the actor and
// a token scoped to communities
func serve(t *testing.T, d Dispatcher, rd TicketReader, req *http.Request, communities ...string) *httptest.ResponseRecorder {
	t.Helper()
	protect := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &jwt.Claims{Role: jwt.RoleUser, Communities: communities}
			claims.Subject = "u1"
			ctx := context.WithValue(r.Context(), middleware.ActorIDKey, "u1")
			ctx = context.WithValue(ctx, middleware.ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	mux := http.NewServeMux()
	NewCommunityHandler(d, rd).RegisterRoutes(mux, protect)
	NewTicketHandler(d, rd).RegisterRoutes(mux, protect)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, path, body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(method, path, nil)
	}
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) model.ProblemDetails {
	t.Helper()
	var p model.ProblemDetails
	if err := json.NewDecoder(rr.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode problem: %v", err)
	}
	return p
}

// ============================================================================
// Community Routes
// ============================================================================

func TestCreateTicket_Created(t *testing.T) {
	d := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			ct := ev.(*model.CreateTicket)
			return &model.Outcome{
				Event:  ev.Type(),
				Kind:   model.OutcomeTicketCreated,
				Ticket: &model.Ticket{ID: "t1", CommunityID: ct.CommunityID, RequesterID: ct.RequesterID},
			}
		},
	}

	rr := serve(t, d, &mockReader{}, jsonRequest(http.MethodPost, "/v1/communities/g1/tickets", ""))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/tickets/t1" {
		t.Errorf("expected Location /v1/tickets/t1, got %q", loc)
	}
	ev := d.events[0].(*model.CreateTicket)
	if ev.CommunityID != "g1" || ev.RequesterID != "u1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestCreateTicket_ForAnotherUser(t *testing.T) {
	d := &mockDispatcher{}
	rr := serve(t, d, &mockReader{}, jsonRequest(http.MethodPost, "/v1/communities/g1/tickets", `{"requester_id":"u2"}`))

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
	if len(d.events) != 0 {
		t.Error("no event should be dispatched")
	}
}

func TestCreateTicket_DuplicateIsConflict(t *testing.T) {
	d := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			return &model.Outcome{
				Event: ev.Type(),
				Kind:  model.OutcomeRejected,
				Rejection: &model.Rejection{
					Code:   model.RejectionDuplicateActiveTicket,
					Reason: "requester already has an active ticket",
				},
			}
		},
	}

	rr := serve(t, d, &mockReader{}, jsonRequest(http.MethodPost, "/v1/communities/g1/tickets", ""))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem content type, got %q", ct)
	}
	if p := decodeProblem(t, rr); p.Code != model.ErrCodeDuplicateTicket {
		t.Errorf("expected code %d, got %d", model.ErrCodeDuplicateTicket, p.Code)
	}
}

func TestCreateTicket_UnknownField(t *testing.T) {
	d := &mockDispatcher{}
	rr := serve(t, d, &mockReader{}, jsonRequest(http.MethodPost, "/v1/communities/g1/tickets", `{"priority":1}`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestSetupPanel(t *testing.T) {
	d := &mockDispatcher{}
	rr := serve(t, d, &mockReader{}, jsonRequest(http.MethodPost, "/v1/communities/g1/panel", `{"channel_ref":"c9"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	ev := d.events[0].(*model.SetupPanel)
	if ev.CommunityID != "g1" || ev.ActorID != "u1" || ev.ChannelRef != "c9" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestStaffDuty(t *testing.T) {
	tests := []struct {
		method string
		onDuty bool
	}{
		{http.MethodPut, true},
		{http.MethodDelete, false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			d := &mockDispatcher{}
			rr := serve(t, d, &mockReader{}, jsonRequest(tt.method, "/v1/communities/g1/staff/s1/duty", ""))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			ev := d.events[0].(*model.SetStaffDuty)
			if ev.UserID != "s1" || ev.ActorID != "u1" || ev.OnDuty != tt.onDuty {
				t.Errorf("unexpected event: %+v", ev)
			}
		})
	}
}

func TestStaffDuty_UnauthorizedIsForbidden(t *testing.T) {
	d := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			return &model.Outcome{
				Event:     ev.Type(),
				Kind:      model.OutcomeRejected,
				Rejection: &model.Rejection{Code: model.RejectionUnauthorized, Reason: "staff role required"},
			}
		},
	}

	rr := serve(t, d, &mockReader{}, jsonRequest(http.MethodPut, "/v1/communities/g1/staff/s1/duty", ""))

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestOnDuty(t *testing.T) {
	rd := &mockReader{
		onDutyStaffFunc: func(_ context.Context, communityID string) ([]*model.StaffDuty, error) {
			return []*model.StaffDuty{
				{CommunityID: communityID, UserID: "s1", OnDuty: true},
				{CommunityID: communityID, UserID: "s2", OnDuty: true},
			}, nil
		},
	}

	rr := serve(t, &mockDispatcher{}, rd, jsonRequest(http.MethodGet, "/v1/communities/g1/staff/on-duty", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Data  []model.StaffDuty `json:"data"`
		Total int               `json:"total"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 2 {
		t.Errorf("expected 2 staff, got %+v", resp)
	}
}

func TestQueue_TransientIsUnavailable(t *testing.T) {
	rd := &mockReader{
		queueSnapshotFunc: func(context.Context, string) (*model.QueueSnapshot, error) {
			return nil, service.ErrTransientStore
		},
	}

	rr := serve(t, &mockDispatcher{}, rd, jsonRequest(http.MethodGet, "/v1/communities/g1/queue", ""))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestReserveIdentifier(t *testing.T) {
	d := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			return &model.Outcome{Event: ev.Type(), Kind: model.OutcomeIdentifierReserved}
		},
	}

	rr := serve(t, d, &mockReader{}, jsonRequest(http.MethodPost, "/v1/communities/g1/identifiers", `{"value":"tx-1"}`))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if ev := d.events[0].(*model.ReserveIdentifier); ev.Value != "tx-1" {
		t.Errorf("expected value tx-1, got %q", ev.Value)
	}
}

// ============================================================================
// Ticket Routes
// ============================================================================

func TestGetTicket(t *testing.T) {
	rr := serve(t, &mockDispatcher{}, &mockReader{getTicketFunc: ticketIn("g1")},
		jsonRequest(http.MethodGet, "/v1/tickets/t1", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp DataResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Links["position"] != "/v1/tickets/t1/position" {
		t.Errorf("unexpected links: %v", resp.Links)
	}
}

func TestGetTicket_NotFound(t *testing.T) {
	rr := serve(t, &mockDispatcher{}, &mockReader{}, jsonRequest(http.MethodGet, "/v1/tickets/missing", ""))

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestTicketRoutes_OutOfScopeCommunity(t *testing.T) {
	d := &mockDispatcher{}
	rd := &mockReader{getTicketFunc: ticketIn("g2")}

	for _, req := range []*http.Request{
		jsonRequest(http.MethodGet, "/v1/tickets/t1", ""),
		jsonRequest(http.MethodPost, "/v1/tickets/t1/claim", ""),
		jsonRequest(http.MethodPost, "/v1/tickets/t1/close", ""),
	} {
		rr := serve(t, d, rd, req, "g1")
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected status 403, got %d", req.Method, req.URL.Path, rr.Code)
		}
	}
	if len(d.events) != 0 {
		t.Errorf("expected no dispatch, got %d", len(d.events))
	}
}

func TestPosition_NotQueued(t *testing.T) {
	rr := serve(t, &mockDispatcher{}, &mockReader{getTicketFunc: ticketIn("g1")},
		jsonRequest(http.MethodGet, "/v1/tickets/t1/position", ""))

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestPosition(t *testing.T) {
	rd := &mockReader{
		getTicketFunc: ticketIn("g1"),
		queuePositionFunc: func(_ context.Context, id string) (*model.QueuePosition, error) {
			return &model.QueuePosition{TicketID: id, QueueNumber: 7, Rank: 2, Total: 3}, nil
		},
	}

	rr := serve(t, &mockDispatcher{}, rd, jsonRequest(http.MethodGet, "/v1/tickets/t1/position", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"rank":2`) {
		t.Errorf("expected rank in body, got %s", rr.Body.String())
	}
}

func TestSubmitEvidence(t *testing.T) {
	d := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			return &model.Outcome{Event: ev.Type(), Kind: model.OutcomeTicketQueued}
		},
	}

	rr := serve(t, d, &mockReader{getTicketFunc: ticketIn("g1")},
		jsonRequest(http.MethodPost, "/v1/tickets/t1/evidence", `{"identifier":"tx-9"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	ev := d.events[0].(*model.SubmitEvidence)
	if ev.CommunityID != "g1" || ev.TicketID != "t1" || ev.Identifier != "tx-9" || ev.ActorID != "u1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestSubmitEvidence_DuplicateIdentifier(t *testing.T) {
	d := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			return &model.Outcome{
				Event:     ev.Type(),
				Kind:      model.OutcomeRejected,
				Rejection: &model.Rejection{Code: model.RejectionDuplicateIdentifier, Reason: "transaction identifier already used"},
			}
		},
	}

	rr := serve(t, d, &mockReader{getTicketFunc: ticketIn("g1")},
		jsonRequest(http.MethodPost, "/v1/tickets/t1/evidence", `{"identifier":"tx-9"}`))

	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}
}

func TestSetStatus(t *testing.T) {
	d := &mockDispatcher{}
	rr := serve(t, d, &mockReader{getTicketFunc: ticketIn("g1")},
		jsonRequest(http.MethodPut, "/v1/tickets/t1/status", `{"status":"paid"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ev := d.events[0].(*model.SetStatus); ev.Target != model.TicketStatusPaid {
		t.Errorf("expected target paid, got %q", ev.Target)
	}
}

func TestClaim_AlreadyClaimed(t *testing.T) {
	d := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			return &model.Outcome{
				Event:     ev.Type(),
				Kind:      model.OutcomeRejected,
				Rejection: &model.Rejection{Code: model.RejectionAlreadyClaimed, Reason: "ticket already claimed by another staff member"},
			}
		},
	}

	rr := serve(t, d, &mockReader{getTicketFunc: ticketIn("g1")}, jsonRequest(http.MethodPost, "/v1/tickets/t1/claim", ""))

	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}
}

func TestClose(t *testing.T) {
	d := &mockDispatcher{
		dispatchFunc: func(_ context.Context, ev model.Event) *model.Outcome {
			return &model.Outcome{Event: ev.Type(), Kind: model.OutcomeTicketClosed}
		},
	}

	rr := serve(t, d, &mockReader{getTicketFunc: ticketIn("g1")}, jsonRequest(http.MethodPost, "/v1/tickets/t1/close", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ev := d.events[0].(*model.CloseTicket); ev.TicketID != "t1" || ev.ActorID != "u1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

// ============================================================================
// Error Mapping
// ============================================================================

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{service.ErrTicketNotFound, http.StatusNotFound},
		{service.ErrNotQueued, http.StatusNotFound},
		{service.ErrTransientStore, http.StatusServiceUnavailable},
		{service.ErrAuthorizationUnavailable, http.StatusServiceUnavailable},
		{service.ErrUnauthorized, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := MapServiceError(tt.err); got.Status != tt.status {
			t.Errorf("MapServiceError(%v) = %d, want %d", tt.err, got.Status, tt.status)
		}
	}
	if MapServiceError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

// ============================================================================
// Stream And Health
// ============================================================================

type stubHub struct {
	sub          *service.Subscriber
	unsubscribed bool
}

func (h *stubHub) Subscribe(communityID, subscriberID string) *service.Subscriber {
	h.sub.ID = subscriberID
	h.sub.CommunityID = communityID
	return h.sub
}

func (h *stubHub) Unsubscribe(string, string) { h.unsubscribed = true }

func TestStream(t *testing.T) {
	events := make(chan *service.StreamEvent, 1)
	events <- &service.StreamEvent{
		Type: service.StreamInstruction,
		Data: model.Instruction{Kind: model.InstructionPostPanel, CommunityID: "g1", ChannelRef: "c1"},
	}
	close(events)
	hub := &stubHub{sub: &service.Subscriber{Events: events, Done: make(chan struct{})}}

	mux := http.NewServeMux()
	NewStreamHandler(hub).RegisterRoutes(mux, func(next http.Handler) http.Handler { return next })

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/communities/g1/instructions/stream", nil))

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}
	body := rr.Body.String()
	if !strings.HasPrefix(body, "event: connected\n") {
		t.Errorf("expected connected event first, got %q", body)
	}
	if !strings.Contains(body, "event: instruction\n") || !strings.Contains(body, `"channel_ref":"c1"`) {
		t.Errorf("expected instruction event, got %q", body)
	}
	if hub.sub.CommunityID != "g1" {
		t.Errorf("expected subscription to g1, got %q", hub.sub.CommunityID)
	}
	if !hub.unsubscribed {
		t.Error("expected unsubscribe on return")
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		store  Pinger
		status int
	}{
		{"no store", nil, http.StatusOK},
		{"reachable", pingFunc(func(context.Context) error { return nil }), http.StatusOK},
		{"unreachable", pingFunc(func(context.Context) error { return errors.New("down") }), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			NewHealthHandler(tt.store).RegisterRoutes(mux)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
		})
	}
}
