package model

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ErrorCode represents API error codes
type ErrorCode int

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized ErrorCode = 1001
	ErrCodeTokenExpired ErrorCode = 1002
	ErrCodeTokenInvalid ErrorCode = 1003

	// Authorization errors (2xxx)
	ErrCodeForbidden    ErrorCode = 2001
	ErrCodeNotStaff     ErrorCode = 2002
	ErrCodeNotRequester ErrorCode = 2003

	// Resource errors (3xxx)
	ErrCodeNotFound            ErrorCode = 3001
	ErrCodeDuplicateTicket     ErrorCode = 3002
	ErrCodeConflict            ErrorCode = 3003
	ErrCodeDuplicateIdentifier ErrorCode = 3004
	ErrCodeAlreadyClaimed      ErrorCode = 3005

	// Validation errors (4xxx)
	ErrCodeValidation        ErrorCode = 4001
	ErrCodeInvalidInput      ErrorCode = 4002
	ErrCodeInvalidTransition ErrorCode = 4003
	ErrCodeEvidenceRequired  ErrorCode = 4004

	// Internal errors (5xxx)
	ErrCodeInternal    ErrorCode = 5001
	ErrCodeUnavailable ErrorCode = 5002
)

const problemTypeBase = "https://queuedesk.forgo.software/errors/"

// ProblemDetails represents RFC 9457 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
	// Extension fields
	Code       ErrorCode `json:"code,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	RetryAfter int       `json:"-"`
}

// FieldError represents a validation error on a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

// WriteJSON writes the problem details as JSON response
func (p *ProblemDetails) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(p.RetryAfter))
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Common error constructors

func NewUnauthorizedError(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemTypeBase + "unauthorized",
		Title:  "Unauthorized",
		Status: http.StatusUnauthorized,
		Detail: detail,
		Code:   ErrCodeUnauthorized,
	}
}

func NewForbiddenError(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemTypeBase + "forbidden",
		Title:  "Forbidden",
		Status: http.StatusForbidden,
		Detail: detail,
		Code:   ErrCodeForbidden,
	}
}

func NewNotFoundError(resource string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemTypeBase + "not-found",
		Title:  "Not Found",
		Status: http.StatusNotFound,
		Detail: fmt.Sprintf("%s not found", resource),
		Code:   ErrCodeNotFound,
	}
}

func NewValidationError(errors []FieldError) *ProblemDetails {
	detail := "One or more fields failed validation"
	if len(errors) > 0 {
		detail = fmt.Sprintf("%s: %s", errors[0].Field, errors[0].Message)
		if len(errors) > 1 {
			detail = fmt.Sprintf("%s (and %d more errors)", detail, len(errors)-1)
		}
	}
	return &ProblemDetails{
		Type:   problemTypeBase + "validation",
		Title:  "Validation Error",
		Status: http.StatusUnprocessableEntity,
		Detail: detail,
		Code:   ErrCodeValidation,
		Errors: errors,
	}
}

func NewConflictError(code ErrorCode, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemTypeBase + "conflict",
		Title:  "Conflict",
		Status: http.StatusConflict,
		Detail: detail,
		Code:   code,
	}
}

func NewUnprocessableError(code ErrorCode, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemTypeBase + "unprocessable",
		Title:  "Unprocessable Request",
		Status: http.StatusUnprocessableEntity,
		Detail: detail,
		Code:   code,
	}
}

func NewServiceUnavailableError(detail string, retryAfter int) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemTypeBase + "unavailable",
		Title:      "Service Unavailable",
		Status:     http.StatusServiceUnavailable,
		Detail:     detail,
		Code:       ErrCodeUnavailable,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

func NewInternalError(detail string) *ProblemDetails {
	if detail == "" {
		detail = "An unexpected error occurred"
	}
	return &ProblemDetails{
		Type:   problemTypeBase + "internal",
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
		Detail: detail,
		Code:   ErrCodeInternal,
	}
}

func NewBadRequestError(detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemTypeBase + "bad-request",
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
		Detail: detail,
		Code:   ErrCodeInvalidInput,
	}
}

func NewRateLimitError(retryAfter int) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemTypeBase + "rate-limited",
		Title:      "Too Many Requests",
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Rate limit exceeded. Retry after %d seconds", retryAfter),
		RetryAfter: retryAfter,
	}
}

// ProblemFromRejection converts a dispatcher rejection into an HTTP problem
func ProblemFromRejection(r *Rejection) *ProblemDetails {
	switch r.Code {
	case RejectionUnauthorized:
		p := NewForbiddenError(r.Reason)
		p.Code = ErrCodeNotStaff
		return p
	case RejectionNotRequester:
		p := NewForbiddenError(r.Reason)
		p.Code = ErrCodeNotRequester
		return p
	case RejectionTicketNotFound:
		p := NewNotFoundError("ticket")
		p.Detail = r.Reason
		return p
	case RejectionDuplicateActiveTicket:
		return NewConflictError(ErrCodeDuplicateTicket, r.Reason)
	case RejectionDuplicateIdentifier:
		return NewConflictError(ErrCodeDuplicateIdentifier, r.Reason)
	case RejectionAlreadyClaimed:
		return NewConflictError(ErrCodeAlreadyClaimed, r.Reason)
	case RejectionStaleGuard:
		p := NewConflictError(ErrCodeConflict, r.Reason)
		p.Retryable = true
		return p
	case RejectionInvalidTransition:
		return NewUnprocessableError(ErrCodeInvalidTransition, r.Reason)
	case RejectionIdentifierRequired:
		return NewUnprocessableError(ErrCodeEvidenceRequired, r.Reason)
	case RejectionInvalidIdentifier, RejectionAmbiguousRequester:
		return NewUnprocessableError(ErrCodeInvalidInput, r.Reason)
	case RejectionInvalidEvent:
		return NewValidationError(r.Errors)
	case RejectionTransientStore:
		return NewServiceUnavailableError(r.Reason, 1)
	default:
		return NewInternalError("")
	}
}
