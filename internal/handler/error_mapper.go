package handler

import (
	"errors"
	"net/http"

	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/service"
)

// MapServiceError converts an error from a ticket read into a ProblemDetails
// response. Dispatched commands never return errors; their rejections go
// through writeOutcome instead.
func MapServiceError(err error) *model.ProblemDetails {
	if err == nil {
		return nil
	}

	switch {
	// ===== Not Found Errors → 404 =====
	case errors.Is(err, service.ErrTicketNotFound):
		return model.NewNotFoundError("ticket")
	case errors.Is(err, service.ErrNotQueued):
		p := model.NewNotFoundError("queue position")
		p.Detail = err.Error()
		return p

	// ===== Availability Errors → 503 =====
	case errors.Is(err, service.ErrTransientStore),
		errors.Is(err, service.ErrAuthorizationUnavailable):
		return model.NewServiceUnavailableError("temporarily unavailable, try again", 1)
	}

	return model.ProblemFromRejection(service.RejectionFor(err))
}

// writeOutcome renders a dispatcher outcome. Rejections become problem
// documents; everything else is returned as data with the given status.
func writeOutcome(w http.ResponseWriter, status int, out *model.Outcome, links map[string]string) {
	if out.Rejected() {
		WriteError(w, model.ProblemFromRejection(out.Rejection))
		return
	}
	WriteData(w, status, out, links)
}

// ticketLinks returns the HATEOAS links of a ticket
func ticketLinks(ticketID string) map[string]string {
	if ticketID == "" {
		return nil
	}
	base := "/v1/tickets/" + ticketID
	return map[string]string{
		"self":     base,
		"position": base + "/position",
		"evidence": base + "/evidence",
		"claim":    base + "/claim",
		"close":    base + "/close",
	}
}
