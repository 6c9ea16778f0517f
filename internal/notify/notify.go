// Package notify publishes settled mutation outcomes so other systems can
// react to completed, failed or timed-out backend mutations.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/mutation"
)

// Event is the published form of a mutation outcome.
type Event struct {
	ClientMutationID string          `json:"clientMutationId"`
	Label            string          `json:"clientMutationLabel,omitempty"`
	Details          []string        `json:"clientMutationDetails,omitempty"`
	SubjectID        string          `json:"subjectId,omitempty"`
	Outcome          string          `json:"outcome"`
	Error            string          `json:"error,omitempty"`
	ParsedError      json.RawMessage `json:"parsedError,omitempty"`
	Attempts         int             `json:"attempts,omitempty"`
	RequestDateTime  time.Time       `json:"requestDateTime"`
	PublishedAt      time.Time       `json:"publishedAt"`
}

// EventFrom converts an outcome.
func EventFrom(out mutation.Outcome, now time.Time) Event {
	return Event{
		ClientMutationID: out.Record.ClientMutationID,
		Label:            out.Record.ClientMutationLabel,
		Details:          out.Record.ClientMutationDetails,
		SubjectID:        out.Record.SubjectID,
		Outcome:          out.Kind.String(),
		Error:            out.Record.Error,
		ParsedError:      out.Record.ParsedError,
		Attempts:         out.Attempts,
		RequestDateTime:  out.Record.RequestDateTime,
		PublishedAt:      now.UTC(),
	}
}

// Subject is the subject an outcome is published on: <prefix>.<outcome>.
func Subject(prefix string, kind mutation.OutcomeKind) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return kind.String()
	}
	return prefix + "." + kind.String()
}

// Publisher is a mutation.Publisher with a health check and a lifecycle.
type Publisher interface {
	mutation.Publisher
	Ping(ctx context.Context) error
	Close() error
}

// New builds the publisher selected by cfg.Driver.
func New(cfg config.NotifyConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "", "inprocess":
		return NewInProcess(cfg.SubjectPrefix), nil
	case "nats":
		return DialNATS(cfg.NATSURL, cfg.SubjectPrefix, logger)
	default:
		return nil, fmt.Errorf("notify: unsupported driver %q", cfg.Driver)
	}
}
