package handler

import (
	"net/http"

	"github.com/forgo/queuedesk/internal/middleware"
	"github.com/forgo/queuedesk/internal/model"
)

// TicketHandler handles ticket-scoped commands and reads
type TicketHandler struct {
	dispatcher Dispatcher
	reader     TicketReader
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(dispatcher Dispatcher, reader TicketReader) *TicketHandler {
	return &TicketHandler{
		dispatcher: dispatcher,
		reader:     reader,
	}
}

// RegisterRoutes registers ticket routes wrapped by protect
func (h *TicketHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protect(fn))
	}

	route("GET /v1/tickets/{ticketId}", h.Get)
	route("GET /v1/tickets/{ticketId}/position", h.Position)
	route("POST /v1/tickets/{ticketId}/evidence", h.SubmitEvidence)
	route("PUT /v1/tickets/{ticketId}/status", h.SetStatus)
	route("POST /v1/tickets/{ticketId}/claim", h.Claim)
	route("POST /v1/tickets/{ticketId}/close", h.Close)
}

// load fetches the path ticket and checks the caller may see its community.
// It writes the error response itself and returns nil on failure.
func (h *TicketHandler) load(w http.ResponseWriter, r *http.Request) *model.Ticket {
	ctx := r.Context()
	ticket, err := h.reader.GetTicket(ctx, r.PathValue("ticketId"))
	if err != nil {
		WriteError(w, MapServiceError(err))
		return nil
	}
	if !middleware.CanAccessCommunity(ctx, ticket.CommunityID) {
		WriteError(w, model.NewForbiddenError("token is not scoped to this community"))
		return nil
	}
	return ticket
}

// Get handles GET /v1/tickets/{ticketId}
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	ticket := h.load(w, r)
	if ticket == nil {
		return
	}
	WriteData(w, http.StatusOK, ticket, ticketLinks(ticket.ID))
}

// Position handles GET /v1/tickets/{ticketId}/position
func (h *TicketHandler) Position(w http.ResponseWriter, r *http.Request) {
	ticket := h.load(w, r)
	if ticket == nil {
		return
	}
	pos, err := h.reader.QueuePosition(r.Context(), ticket.ID)
	if err != nil {
		WriteError(w, MapServiceError(err))
		return
	}
	WriteData(w, http.StatusOK, pos, map[string]string{"ticket": "/v1/tickets/" + ticket.ID})
}

// SubmitEvidence handles POST /v1/tickets/{ticketId}/evidence
func (h *TicketHandler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitEvidenceRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	ticket := h.load(w, r)
	if ticket == nil {
		return
	}

	ctx := r.Context()
	out := h.dispatcher.Dispatch(ctx, &model.SubmitEvidence{
		CommunityID: ticket.CommunityID,
		ActorID:     middleware.GetActorID(ctx),
		TicketRef:   model.TicketRef{TicketID: ticket.ID},
		Identifier:  req.Identifier,
		Attachment:  req.Attachment,
	})
	writeOutcome(w, http.StatusOK, out, ticketLinks(ticket.ID))
}

// SetStatus handles PUT /v1/tickets/{ticketId}/status
func (h *TicketHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req model.SetStatusRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	ticket := h.load(w, r)
	if ticket == nil {
		return
	}

	ctx := r.Context()
	out := h.dispatcher.Dispatch(ctx, &model.SetStatus{
		CommunityID: ticket.CommunityID,
		ActorID:     middleware.GetActorID(ctx),
		TicketRef:   model.TicketRef{TicketID: ticket.ID},
		Target:      req.Status,
	})
	writeOutcome(w, http.StatusOK, out, ticketLinks(ticket.ID))
}

// Claim handles POST /v1/tickets/{ticketId}/claim
func (h *TicketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	ticket := h.load(w, r)
	if ticket == nil {
		return
	}

	ctx := r.Context()
	out := h.dispatcher.Dispatch(ctx, &model.ClaimTicket{
		CommunityID: ticket.CommunityID,
		ActorID:     middleware.GetActorID(ctx),
		TicketRef:   model.TicketRef{TicketID: ticket.ID},
	})
	writeOutcome(w, http.StatusOK, out, ticketLinks(ticket.ID))
}

// Close handles POST /v1/tickets/{ticketId}/close
func (h *TicketHandler) Close(w http.ResponseWriter, r *http.Request) {
	ticket := h.load(w, r)
	if ticket == nil {
		return
	}

	ctx := r.Context()
	out := h.dispatcher.Dispatch(ctx, &model.CloseTicket{
		CommunityID: ticket.CommunityID,
		ActorID:     middleware.GetActorID(ctx),
		TicketRef:   model.TicketRef{TicketID: ticket.ID},
	})
	writeOutcome(w, http.StatusOK, out, nil)
}
