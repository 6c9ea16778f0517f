package graphql

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pitabwire/portico/model"
)

// Transport-level error codes that do not carry an HTTP status.
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeCircuitOpen  = "CIRCUIT_OPEN"
)

// GQLError is one entry of a GraphQL response's errors array.
type GQLError struct {
	Message   string         `json:"message"`
	Path      []any          `json:"path,omitempty"`
	Locations []GQLLocation  `json:"locations,omitempty"`
	Extension map[string]any `json:"extensions,omitempty"`
}

// GQLLocation is a position in the GraphQL document.
type GQLLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// FormatServerError classifies a non-2xx HTTP response. statusText defaults
// to the standard text for status.
func FormatServerError(status int, statusText, detail string) *model.ServiceError {
	if statusText == "" {
		statusText = http.StatusText(status)
	}
	return &model.ServiceError{
		Code:    strconv.Itoa(status),
		Message: statusText,
		Detail:  detail,
		Status:  status,
	}
}

// FormatGraphQLError classifies a response carrying a GraphQL errors array.
// It returns nil when errs is empty. Messages are joined with "; ".
func FormatGraphQLError(errs []GQLError) *model.ServiceError {
	if len(errs) == 0 {
		return nil
	}
	messages := make([]string, 0, len(errs))
	var paths []string
	for _, e := range errs {
		messages = append(messages, e.Message)
		if len(e.Path) > 0 {
			parts := make([]string, 0, len(e.Path))
			for _, p := range e.Path {
				switch v := p.(type) {
				case string:
					parts = append(parts, v)
				case float64:
					parts = append(parts, strconv.Itoa(int(v)))
				}
			}
			paths = append(paths, strings.Join(parts, "."))
		}
	}
	return &model.ServiceError{
		Code:    model.DataErrorCode,
		Message: strings.Join(messages, "; "),
		Detail:  strings.Join(paths, "; "),
	}
}

// responseDetail extracts a human-readable detail from an error body. JSON
// bodies contribute their "detail" or "message" field; other bodies are
// used verbatim, truncated.
func responseDetail(body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if s, ok := parsed[key].(string); ok && s != "" {
				return s
			}
		}
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	return detail
}
