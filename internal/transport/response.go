// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the BFF API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:           http.StatusBadRequest,
	model.ErrUnauthorized:         http.StatusUnauthorized,
	model.ErrForbidden:            http.StatusForbidden,
	model.ErrNotFound:             http.StatusNotFound,
	model.ErrConflict:             http.StatusConflict,
	model.ErrValidationError:      http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:    http.StatusUnprocessableEntity,
	model.ErrRateLimited:          http.StatusTooManyRequests,
	model.ErrInternalError:        http.StatusInternalServerError,
	model.ErrBackendUnavailable:   http.StatusBadGateway,
	model.ErrBackendTimeout:       http.StatusGatewayTimeout,
	model.ErrBackendDataError:     http.StatusUnprocessableEntity,
	model.ErrMutationFailed:       http.StatusUnprocessableEntity,
	model.ErrConfirmationNotFound: http.StatusNotFound,
	model.ErrConfirmationDeclined: http.StatusConflict,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Backend failures are classified by envelopeFor; anything unrecognised
// becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee := envelopeFor(err)

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// envelopeFor converts err into the envelope returned to clients.
func envelopeFor(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}

	var serr *model.ServiceError
	if errors.As(err, &serr) {
		switch {
		case serr.IsDataError():
			return model.NewBackendDataError(serr.Message)
		case serr.Status == http.StatusUnauthorized:
			return model.NewUnauthorizedError(serr.Message)
		case serr.Status == http.StatusForbidden:
			return model.NewForbiddenError(serr.Message)
		case serr.Status == http.StatusNotFound:
			return model.NewNotFoundError(serr.Message)
		case serr.Code == graphql.CodeTimeout:
			return model.NewBackendTimeoutError()
		default:
			return model.NewBackendUnavailableError()
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewBackendTimeoutError()
	}
	return model.NewInternalError()
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}
