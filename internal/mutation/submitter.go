package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/model"
)

// Publisher announces settled mutation outcomes to other systems.
type Publisher interface {
	Publish(ctx context.Context, out Outcome) error
}

// SubmitOptions controls one submission.
type SubmitOptions struct {
	// Wait polls the mutation log until completion before returning.
	Wait bool
	// Types is the lifecycle triplet dispatched around the submission.
	Types model.ActionTypes
	// Meta is attached to the lifecycle actions.
	Meta any
}

// Submitter sends mutations, journals them and optionally waits for their
// completion.
type Submitter struct {
	ex        graphql.Executor
	tracker   *Tracker
	journal   JournalStore
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithPublisher publishes settled outcomes.
func WithPublisher(p Publisher) SubmitterOption {
	return func(s *Submitter) { s.publisher = p }
}

// WithSubmitterLogger sets the submitter's logger.
func WithSubmitterLogger(l *zap.Logger) SubmitterOption {
	return func(s *Submitter) { s.logger = l }
}

// NewSubmitter creates a submitter. journal may be nil to skip persistence.
func NewSubmitter(ex graphql.Executor, tracker *Tracker, journal JournalStore, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		ex:      ex,
		tracker: tracker,
		journal: journal,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tracker returns the submitter's tracker.
func (s *Submitter) Tracker() *Tracker { return s.tracker }

// Submit sends m. A pending record is journaled and dispatched before the
// request. Without opts.Wait the outcome is OutcomePending with the raw
// response. With opts.Wait the mutation log is polled and the journal
// updated with the final record. A failed mutation is returned as an
// OutcomeFailed outcome, not as an error.
func (s *Submitter) Submit(ctx context.Context, d model.Dispatcher, m graphql.Mutation, details []string, opts SubmitOptions) (Outcome, error) {
	if d == nil {
		d = model.DispatchFunc(func(model.Action) {})
	}

	rec := model.MutationRecord{
		ClientMutationID:      m.ClientMutationID,
		ClientMutationLabel:   m.ClientMutationLabel,
		ClientMutationDetails: details,
		Status:                model.MutationPending,
		RequestDateTime:       s.now().UTC(),
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		rec.SubjectID = rctx.SubjectID
	}
	logger := observability.MutationLogger(observability.RequestLogger(ctx, s.logger), &rec)

	if s.journal != nil {
		if err := s.journal.Append(ctx, rec); err != nil {
			return Outcome{}, fmt.Errorf("journal mutation: %w", err)
		}
	}
	d.Dispatch(model.Action{Type: model.ActionJournalAppend, Payload: rec})

	resp, err := s.ex.Execute(ctx, d, graphql.Request{Query: m.Payload}, opts.Types, opts.Meta)
	if err != nil {
		failed := rec
		failed.Status = model.MutationError
		failed.Error = err.Error()
		s.settle(ctx, d, logger, Outcome{Kind: OutcomeFailed, Record: failed})
		return Outcome{}, err
	}

	if !opts.Wait {
		logger.Debug("mutation: submitted")
		return Outcome{Kind: OutcomePending, Record: rec, Response: resp}, nil
	}

	out, err := s.tracker.Wait(ctx, d, m.ClientMutationID)
	if err != nil {
		return Outcome{}, err
	}
	out.Record.SubjectID = rec.SubjectID
	if out.Record.ClientMutationLabel == "" {
		out.Record.ClientMutationLabel = rec.ClientMutationLabel
	}
	if out.Record.ClientMutationDetails == nil {
		out.Record.ClientMutationDetails = rec.ClientMutationDetails
	}
	if out.Record.RequestDateTime.IsZero() {
		out.Record.RequestDateTime = rec.RequestDateTime
	}

	s.settle(ctx, d, logger, out)
	return out, nil
}

// Refresh re-reads one journaled mutation from the backend log and updates
// the journal when the status changed.
func (s *Submitter) Refresh(ctx context.Context, d model.Dispatcher, subjectID, clientMutationID string) (model.MutationRecord, error) {
	if s.journal == nil {
		return model.MutationRecord{}, errors.New("mutation: no journal configured")
	}
	current, err := s.journal.Get(ctx, subjectID, clientMutationID)
	if err != nil {
		return model.MutationRecord{}, err
	}
	if current.IsFinal() {
		return current, nil
	}

	fetched, err := s.tracker.Refresh(ctx, d, clientMutationID)
	if err != nil {
		return model.MutationRecord{}, err
	}
	if fetched == nil || fetched.Status == current.Status {
		return current, nil
	}

	next := current
	next.Status = fetched.Status
	next.Error = fetched.Error
	next.ParsedError = fetched.ParsedError
	if err := s.journal.Update(ctx, next); err != nil {
		return model.MutationRecord{}, fmt.Errorf("update journal: %w", err)
	}
	next.Version++
	d.Dispatch(model.Action{Type: model.ActionJournalUpdate, Payload: next})
	return next, nil
}

// settle records a final outcome in the journal, dispatches the update and
// publishes it. Journal and publish failures are logged, not returned.
func (s *Submitter) settle(ctx context.Context, d model.Dispatcher, logger *zap.Logger, out Outcome) {
	rec := out.Record
	if s.journal != nil {
		if stored, err := s.journal.Get(ctx, rec.SubjectID, rec.ClientMutationID); err == nil {
			rec.Version = stored.Version
			if err := s.journal.Update(ctx, rec); err != nil {
				logger.Error("mutation: journal update failed", zap.Error(err))
			} else {
				rec.Version++
			}
		}
	}
	d.Dispatch(model.Action{Type: model.ActionJournalUpdate, Payload: rec})

	switch out.Kind {
	case OutcomeFailed:
		logger.Warn("mutation: failed", zap.String("error", rec.Error))
	case OutcomeTimedOut:
		logger.Warn("mutation: still pending after polling", zap.Int("attempts", out.Attempts))
	default:
		logger.Info("mutation: completed", zap.Int("attempts", out.Attempts))
	}

	if s.publisher != nil {
		out.Record = rec
		if err := s.publisher.Publish(ctx, out); err != nil {
			logger.Error("mutation: publish outcome failed", zap.Error(err))
		}
	}
}
