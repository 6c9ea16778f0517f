package model

import (
	"encoding/json"
	"time"
)

// MutationStatus is the processing status of a mutation as recorded in the
// backend's mutation log.
type MutationStatus int

const (
	MutationPending   MutationStatus = 0
	MutationError     MutationStatus = 1
	MutationSucceeded MutationStatus = 2
)

// String returns the lowercase status name.
func (s MutationStatus) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationError:
		return "error"
	case MutationSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// MutationRecord tracks one submitted mutation. Records are created with
// status pending on submission and updated in place once the backend log
// entry is known. They are never deleted.
type MutationRecord struct {
	ClientMutationID      string          `json:"clientMutationId"`
	ClientMutationLabel   string          `json:"clientMutationLabel"`
	ClientMutationDetails []string        `json:"clientMutationDetails,omitempty"`
	Status                MutationStatus  `json:"status"`
	Error                 string          `json:"error,omitempty"`
	ParsedError           json.RawMessage `json:"parsedError,omitempty"`
	RequestDateTime       time.Time       `json:"requestDateTime"`
	SubjectID             string          `json:"subjectId,omitempty"`
	Version               int             `json:"version"`
}

// IsFinal reports whether the backend finished processing the mutation.
// Only the error and succeeded statuses are final; an unrecognised status
// is treated as still pending.
func (r *MutationRecord) IsFinal() bool {
	return r.Status == MutationError || r.Status == MutationSucceeded
}

// ParseError stores a JSON-decoded form of Error when it holds valid JSON.
// Non-JSON error strings are left as the raw message only.
func (r *MutationRecord) ParseError() {
	if r.Error == "" {
		r.ParsedError = nil
		return
	}
	if json.Valid([]byte(r.Error)) {
		r.ParsedError = json.RawMessage(r.Error)
	}
}
