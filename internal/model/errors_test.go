package model

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Error() Interface Tests
// ============================================================================

func TestProblemDetails_Error_ReturnsFormattedMessage(t *testing.T) {
	t.Parallel()

	pd := &ProblemDetails{
		Status: http.StatusNotFound,
		Title:  "Not Found",
		Detail: "ticket not found",
	}

	errMsg := pd.Error()

	if !strings.Contains(errMsg, "404") {
		t.Errorf("error message should contain status code, got: %s", errMsg)
	}
	if !strings.Contains(errMsg, "ticket not found") {
		t.Errorf("error message should contain detail, got: %s", errMsg)
	}
}

// ============================================================================
// WriteJSON Tests
// ============================================================================

func TestProblemDetails_WriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewNotFoundError("ticket").WriteJSON(rec)

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json content type, got %q", ct)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	var body ProblemDetails
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != ErrCodeNotFound {
		t.Errorf("expected code %d, got %d", ErrCodeNotFound, body.Code)
	}
}

func TestProblemDetails_WriteJSON_SetsRetryAfter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewServiceUnavailableError("try again", 2).WriteJSON(rec)

	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After 2, got %q", got)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

// ============================================================================
// Constructor Tests
// ============================================================================

func TestNewValidationError_MultipleFields_SummarizesCount(t *testing.T) {
	t.Parallel()

	pd := NewValidationError([]FieldError{
		{Field: "community_id", Message: "community_id is required"},
		{Field: "requester_id", Message: "requester_id is required"},
	})

	if pd.Status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", pd.Status)
	}
	if !strings.Contains(pd.Detail, "and 1 more") {
		t.Errorf("expected summary of remaining errors, got %q", pd.Detail)
	}
	if len(pd.Errors) != 2 {
		t.Errorf("expected 2 field errors, got %d", len(pd.Errors))
	}
}

func TestNewValidationError_EmptyErrors_ReturnsDefaultMessage(t *testing.T) {
	t.Parallel()

	pd := NewValidationError(nil)
	if pd.Detail != "One or more fields failed validation" {
		t.Errorf("unexpected detail %q", pd.Detail)
	}
}

func TestNewInternalError_EmptyDetail_UsesDefault(t *testing.T) {
	t.Parallel()

	pd := NewInternalError("")
	if pd.Detail == "" {
		t.Error("expected default detail")
	}
	if pd.Status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", pd.Status)
	}
}

// ============================================================================
// ProblemFromRejection Tests
// ============================================================================

func TestProblemFromRejection_MapsCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code   RejectionCode
		status int
		ec     ErrorCode
	}{
		{RejectionUnauthorized, http.StatusForbidden, ErrCodeNotStaff},
		{RejectionNotRequester, http.StatusForbidden, ErrCodeNotRequester},
		{RejectionTicketNotFound, http.StatusNotFound, ErrCodeNotFound},
		{RejectionDuplicateActiveTicket, http.StatusConflict, ErrCodeDuplicateTicket},
		{RejectionDuplicateIdentifier, http.StatusConflict, ErrCodeDuplicateIdentifier},
		{RejectionAlreadyClaimed, http.StatusConflict, ErrCodeAlreadyClaimed},
		{RejectionStaleGuard, http.StatusConflict, ErrCodeConflict},
		{RejectionInvalidTransition, http.StatusUnprocessableEntity, ErrCodeInvalidTransition},
		{RejectionIdentifierRequired, http.StatusUnprocessableEntity, ErrCodeEvidenceRequired},
		{RejectionTransientStore, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{RejectionInternal, http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			pd := ProblemFromRejection(&Rejection{Code: tt.code, Reason: "reason"})
			if pd.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, pd.Status)
			}
			if pd.Code != tt.ec {
				t.Errorf("expected code %d, got %d", tt.ec, pd.Code)
			}
		})
	}
}

func TestProblemFromRejection_TransientIsRetryable(t *testing.T) {
	t.Parallel()

	pd := ProblemFromRejection(&Rejection{Code: RejectionTransientStore, Reason: "try again", Retryable: true})
	if !pd.Retryable {
		t.Error("expected transient failure to be retryable")
	}
	if pd.RetryAfter <= 0 {
		t.Error("expected a Retry-After hint")
	}
}

func TestProblemFromRejection_InvalidEventCarriesFieldErrors(t *testing.T) {
	t.Parallel()

	pd := ProblemFromRejection(&Rejection{
		Code:   RejectionInvalidEvent,
		Errors: []FieldError{{Field: "requester_id", Message: "requester_id is required"}},
	})
	if len(pd.Errors) != 1 || pd.Errors[0].Field != "requester_id" {
		t.Errorf("expected requester_id field error, got %v", pd.Errors)
	}
}
