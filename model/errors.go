package model

import (
	"fmt"
	"strings"
)

// Error codes carried in ErrorEnvelope.Code. transport maps each to an HTTP
// status.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrBackendDataError   = "BACKEND_DATA_ERROR"
)

// Mutation and confirmation error codes.
const (
	ErrMutationFailed       = "MUTATION_FAILED"
	ErrConfirmationNotFound = "CONFIRMATION_NOT_FOUND"
	ErrConfirmationDeclined = "CONFIRMATION_DECLINED"
)

// ErrorEnvelope is the body of every BFF error response.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServiceError is a classified failure reported by the GraphQL backend.
// Transport failures carry the HTTP status as Code; data errors carry
// DataErrorCode and the concatenated GraphQL messages.
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// DataErrorCode is the code of errors built from a GraphQL "errors" array.
const DataErrorCode = "Data error"

// Error implements the error interface.
func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

// IsDataError reports whether the error came from a GraphQL "errors" array
// rather than from the HTTP transport.
func (e *ServiceError) IsDataError() bool {
	return e.Code == DataErrorCode
}

func envelope(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

// Messages for errors whose text never varies. They are shown to end users.
var fixedMessages = map[string]string{
	ErrValidationError:      "One or more fields are invalid",
	ErrInternalError:        "An unexpected error occurred",
	ErrBackendUnavailable:   "The backend service is temporarily unavailable",
	ErrBackendTimeout:       "The backend service did not respond in time",
	ErrRateLimited:          "Rate limit exceeded. Please try again later.",
	ErrConfirmationDeclined: "The action was not confirmed",
}

func fixed(code string) *ErrorEnvelope {
	return envelope(code, fixedMessages[code])
}

func NewBadRequestError(msg string) *ErrorEnvelope { return envelope(ErrBadRequest, msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return envelope(ErrUnauthorized, msg) }
func NewForbiddenError(msg string) *ErrorEnvelope { return envelope(ErrForbidden, msg) }
func NewNotFoundError(msg string) *ErrorEnvelope { return envelope(ErrNotFound, msg) }
func NewConflictError(msg string) *ErrorEnvelope { return envelope(ErrConflict, msg) }

// NewInvalidTransitionError reports an action the current state does not
// allow, such as saving a role that is not being edited.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return envelope(ErrInvalidTransition, msg)
}

// NewValidationError carries per-field failures in Details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := fixed(ErrValidationError)
	e.Details = details
	return e
}

func NewInternalError() *ErrorEnvelope { return fixed(ErrInternalError) }
func NewBackendUnavailableError() *ErrorEnvelope { return fixed(ErrBackendUnavailable) }
func NewBackendTimeoutError() *ErrorEnvelope { return fixed(ErrBackendTimeout) }
func NewRateLimitedError() *ErrorEnvelope { return fixed(ErrRateLimited) }

// NewBackendDataError relays the messages of a GraphQL "errors" array.
func NewBackendDataError(msg string) *ErrorEnvelope {
	return envelope(ErrBackendDataError, msg)
}

// NewMutationFailedError reports a mutation the backend accepted and then
// recorded as failed.
func NewMutationFailedError(msg string) *ErrorEnvelope {
	return envelope(ErrMutationFailed, msg)
}

func NewConfirmationNotFoundError(id string) *ErrorEnvelope {
	return envelope(ErrConfirmationNotFound, fmt.Sprintf("confirmation %q is not pending", id))
}

func NewConfirmationDeclinedError() *ErrorEnvelope {
	return fixed(ErrConfirmationDeclined)
}
