package handler

import (
	"context"
	"net/http"

	"github.com/forgo/queuedesk/internal/middleware"
	"github.com/forgo/queuedesk/internal/model"
)

// Dispatcher runs one controller event
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) *model.Outcome
}

// TicketReader serves the read side of the controller
type TicketReader interface {
	GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error)
	QueuePosition(ctx context.Context, ticketID string) (*model.QueuePosition, error)
	QueueSnapshot(ctx context.Context, communityID string) (*model.QueueSnapshot, error)
	OnDutyStaff(ctx context.Context, communityID string) ([]*model.StaffDuty, error)
}

// CommunityHandler handles community-scoped commands and reads
type CommunityHandler struct {
	dispatcher Dispatcher
	reader     TicketReader
}

// NewCommunityHandler creates a new community handler
func NewCommunityHandler(dispatcher Dispatcher, reader TicketReader) *CommunityHandler {
	return &CommunityHandler{
		dispatcher: dispatcher,
		reader:     reader,
	}
}

// RegisterRoutes registers community routes wrapped by protect
func (h *CommunityHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protect(fn))
	}

	route("POST /v1/communities/{communityId}/panel", h.SetupPanel)
	route("PUT /v1/communities/{communityId}/staff/{userId}/duty", h.StartDuty)
	route("DELETE /v1/communities/{communityId}/staff/{userId}/duty", h.EndDuty)
	route("GET /v1/communities/{communityId}/staff/on-duty", h.OnDuty)
	route("POST /v1/communities/{communityId}/tickets", h.CreateTicket)
	route("GET /v1/communities/{communityId}/queue", h.Queue)
	route("POST /v1/communities/{communityId}/identifiers", h.ReserveIdentifier)
}

// SetupPanel handles POST /v1/communities/{communityId}/panel
func (h *CommunityHandler) SetupPanel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req model.SetupPanelRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}

	out := h.dispatcher.Dispatch(ctx, &model.SetupPanel{
		CommunityID: r.PathValue("communityId"),
		ActorID:     middleware.GetActorID(ctx),
		ChannelRef:  req.ChannelRef,
	})
	writeOutcome(w, http.StatusOK, out, nil)
}

// StartDuty handles PUT /v1/communities/{communityId}/staff/{userId}/duty
func (h *CommunityHandler) StartDuty(w http.ResponseWriter, r *http.Request) {
	h.setDuty(w, r, true)
}

// EndDuty handles DELETE /v1/communities/{communityId}/staff/{userId}/duty
func (h *CommunityHandler) EndDuty(w http.ResponseWriter, r *http.Request) {
	h.setDuty(w, r, false)
}

func (h *CommunityHandler) setDuty(w http.ResponseWriter, r *http.Request, onDuty bool) {
	ctx := r.Context()
	out := h.dispatcher.Dispatch(ctx, &model.SetStaffDuty{
		CommunityID: r.PathValue("communityId"),
		ActorID:     middleware.GetActorID(ctx),
		UserID:      r.PathValue("userId"),
		OnDuty:      onDuty,
	})
	writeOutcome(w, http.StatusOK, out, nil)
}

// OnDuty handles GET /v1/communities/{communityId}/staff/on-duty
func (h *CommunityHandler) OnDuty(w http.ResponseWriter, r *http.Request) {
	staff, err := h.reader.OnDutyStaff(r.Context(), r.PathValue("communityId"))
	if err != nil {
		WriteError(w, MapServiceError(err))
		return
	}
	WriteCollection(w, http.StatusOK, staff, len(staff), nil)
}

// CreateTicket handles POST /v1/communities/{communityId}/tickets
func (h *CommunityHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req model.CreateTicketRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}

	actorID := middleware.GetActorID(ctx)
	requesterID := req.RequesterID
	if requesterID == "" {
		requesterID = actorID
	}
	if requesterID != actorID {
		WriteError(w, model.NewForbiddenError("tickets may only be opened for yourself"))
		return
	}

	out := h.dispatcher.Dispatch(ctx, &model.CreateTicket{
		CommunityID: r.PathValue("communityId"),
		RequesterID: requesterID,
	})

	status := http.StatusOK
	var links map[string]string
	if out.Kind == model.OutcomeTicketCreated && out.Ticket != nil {
		status = http.StatusCreated
		links = ticketLinks(out.Ticket.ID)
		w.Header().Set("Location", links["self"])
	}
	writeOutcome(w, status, out, links)
}

// Queue handles GET /v1/communities/{communityId}/queue
func (h *CommunityHandler) Queue(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.reader.QueueSnapshot(r.Context(), r.PathValue("communityId"))
	if err != nil {
		WriteError(w, MapServiceError(err))
		return
	}
	WriteData(w, http.StatusOK, snapshot, nil)
}

// ReserveIdentifier handles POST /v1/communities/{communityId}/identifiers
func (h *CommunityHandler) ReserveIdentifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req model.ReserveIdentifierRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}

	out := h.dispatcher.Dispatch(ctx, &model.ReserveIdentifier{
		CommunityID: r.PathValue("communityId"),
		ActorID:     middleware.GetActorID(ctx),
		Value:       req.Value,
	})
	writeOutcome(w, http.StatusCreated, out, nil)
}
