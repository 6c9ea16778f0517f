package model

import (
	"errors"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	var err error = NewConfirmationNotFoundError("c-7")
	want := `CONFIRMATION_NOT_FOUND: confirmation "c-7" is not pending`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var env *ErrorEnvelope
	if !errors.As(err, &env) || env.Code != ErrConfirmationNotFound {
		t.Errorf("errors.As did not recover the envelope: %v", err)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrorEnvelope
		code string
	}{
		{"bad request", NewBadRequestError("bad json"), ErrBadRequest},
		{"unauthorized", NewUnauthorizedError("missing token"), ErrUnauthorized},
		{"forbidden", NewForbiddenError("missing right 122001"), ErrForbidden},
		{"not found", NewNotFoundError("role missing"), ErrNotFound},
		{"conflict", NewConflictError("role name taken"), ErrConflict},
		{"invalid transition", NewInvalidTransitionError("already deleted"), ErrInvalidTransition},
		{"internal", NewInternalError(), ErrInternalError},
		{"backend unavailable", NewBackendUnavailableError(), ErrBackendUnavailable},
		{"backend timeout", NewBackendTimeoutError(), ErrBackendTimeout},
		{"rate limited", NewRateLimitedError(), ErrRateLimited},
		{"mutation failed", NewMutationFailedError("role is in use"), ErrMutationFailed},
		{"declined", NewConfirmationDeclinedError(), ErrConfirmationDeclined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestNewValidationError_keepsDetails(t *testing.T) {
	e := NewValidationError([]FieldError{
		{Field: "name", Code: "required", Message: "name is required"},
		{Field: "roleRights.0", Code: "schema_type", Message: "value must be an integer"},
	})
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 2 || e.Details[1].Field != "roleRights.0" {
		t.Errorf("Details = %+v", e.Details)
	}
}

func TestNewBackendDataError(t *testing.T) {
	e := NewBackendDataError("name already used")
	if e.Code != ErrBackendDataError {
		t.Errorf("Code = %q, want %q", e.Code, ErrBackendDataError)
	}
	if e.Message != "name already used" {
		t.Errorf("Message = %q, want %q", e.Message, "name already used")
	}
}

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{"code only", &ServiceError{Code: "500"}, "500"},
		{"code and message", &ServiceError{Code: "404", Message: "Not Found"}, "404: Not Found"},
		{"with detail", &ServiceError{Code: "500", Message: "Internal Server Error", Detail: "boom"}, "500: Internal Server Error (boom)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServiceError_IsDataError(t *testing.T) {
	if !(&ServiceError{Code: DataErrorCode}).IsDataError() {
		t.Error("IsDataError() = false for data error")
	}
	if (&ServiceError{Code: "502"}).IsDataError() {
		t.Error("IsDataError() = true for transport error")
	}
}
