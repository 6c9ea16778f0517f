package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pitabwire/portico/internal/openapi"
	"github.com/pitabwire/portico/model"
)

const maxBodyBytes = 1 << 20

// ValidateBody checks a JSON request body against the contract's schema for
// operationID before the handler runs. Bodies that are not JSON are passed
// through for the handler to reject. A nil contract disables validation.
func ValidateBody(contract *openapi.Index, operationID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if contract == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			r.Body.Close()
			if err != nil {
				WriteError(w, model.NewBadRequestError("could not read request body"))
				return
			}
			if len(data) > maxBodyBytes {
				WriteError(w, model.NewBadRequestError("request body too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(data))

			var body any
			if err := json.Unmarshal(data, &body); err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if errs := contract.ValidateRequest(operationID, body); len(errs) > 0 {
				WriteValidationError(w, errs)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *handlers) contract(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Contract.Document())
}
