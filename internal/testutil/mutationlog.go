package testutil

import (
	"net/http"
	"regexp"
	"time"
)

var clientMutationIDArg = regexp.MustCompile(`clientMutationId: "([^"]*)"`)

// ClientMutationID returns the clientMutationId argument of a document, or
// "" when it has none.
func ClientMutationID(document string) string {
	m := clientMutationIDArg.FindStringSubmatch(document)
	if m == nil {
		return ""
	}
	return m[1]
}

// MutationLog answers a mutationLogs query with a single entry for the
// queried clientMutationId. An empty errMsg leaves error null.
func MutationLog(status int, errMsg string) func(*RecordedRequest) (int, any) {
	return func(r *RecordedRequest) (int, any) {
		var errField any
		if errMsg != "" {
			errField = errMsg
		}
		node := map[string]any{
			"id":                  "log-1",
			"status":              status,
			"error":               errField,
			"clientMutationId":    ClientMutationID(r.Document),
			"clientMutationLabel": "",
			"requestDateTime":     time.Now().UTC().Format("2006-01-02T15:04:05.999999"),
		}
		return http.StatusOK, map[string]any{"data": map[string]any{
			"mutationLogs": map[string]any{
				"pageInfo": map[string]any{},
				"edges":    []any{map[string]any{"node": node}},
			},
		}}
	}
}

// MutationAccepted answers a mutation with the echo the backend sends on
// acceptance.
func MutationAccepted(field string) func(*RecordedRequest) (int, any) {
	return func(r *RecordedRequest) (int, any) {
		return http.StatusOK, map[string]any{"data": map[string]any{
			field: map[string]any{
				"clientMutationId": ClientMutationID(r.Document),
				"internalId":       "1",
			},
		}}
	}
}
