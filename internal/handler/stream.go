package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/service"
)

// StreamHub is the subscription side of the instruction hub
type StreamHub interface {
	Subscribe(communityID, subscriberID string) *service.Subscriber
	Unsubscribe(communityID, subscriberID string)
}

// StreamHandler streams controller instructions over SSE
type StreamHandler struct {
	hub StreamHub
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub StreamHub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// RegisterRoutes registers the stream route wrapped by protect
func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /v1/communities/{communityId}/instructions/stream", protect(http.HandlerFunc(h.Stream)))
}

// Stream handles GET /v1/communities/{communityId}/instructions/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	communityID := r.PathValue("communityId")
	if communityID == "" {
		WriteError(w, model.NewBadRequestError("community ID required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, model.NewInternalError("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The server write timeout would otherwise end every stream
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	subscriberID := uuid.New().String()
	sub := h.hub.Subscribe(communityID, subscriberID)
	defer h.hub.Unsubscribe(communityID, subscriberID)

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\":\"%s\"}\n\n", subscriberID)
	flusher.Flush()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			fmt.Fprint(w, event.Format())
			flusher.Flush()

		case <-sub.Done:
			return

		case <-r.Context().Done():
			return
		}
	}
}
