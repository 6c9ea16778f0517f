package mutation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/model"
)

// OutcomeKind classifies how a submitted mutation ended.
type OutcomeKind int

const (
	// OutcomePending means the caller did not wait for completion.
	OutcomePending OutcomeKind = iota
	// OutcomeSucceeded means the backend logged status 2.
	OutcomeSucceeded
	// OutcomeFailed means the backend logged status 1.
	OutcomeFailed
	// OutcomeTimedOut means the poll budget ran out with the log still
	// pending or absent. The mutation may still complete later.
	OutcomeTimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the result of submitting or waiting for a mutation.
type Outcome struct {
	Kind     OutcomeKind
	Record   model.MutationRecord
	Attempts int

	// Response is the raw submission response. Set only when the caller
	// did not wait.
	Response *graphql.Response
}

// Err returns a MUTATION_FAILED error for a failed outcome, nil otherwise.
func (o Outcome) Err() error {
	if o.Kind != OutcomeFailed {
		return nil
	}
	msg := o.Record.Error
	if msg == "" {
		msg = "mutation " + o.Record.ClientMutationLabel + " failed"
	}
	return model.NewMutationFailedError(msg)
}

// Tracker polls the backend mutation log until a mutation completes.
type Tracker struct {
	ex          graphql.Executor
	maxAttempts int
	step        time.Duration
	sleep       func(context.Context, time.Duration) error
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerMetrics records poll outcomes.
func WithTrackerMetrics(m *observability.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// WithTrackerLogger sets the tracker's logger.
func WithTrackerLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithSleep replaces the wait between attempts. Used by tests.
func WithSleep(fn func(context.Context, time.Duration) error) TrackerOption {
	return func(t *Tracker) { t.sleep = fn }
}

// NewTracker creates a tracker. Non-positive config values fall back to 10
// attempts and a 100ms step.
func NewTracker(ex graphql.Executor, cfg config.MutationConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		ex:          ex,
		maxAttempts: cfg.MaxAttempts,
		step:        cfg.BackoffStep,
		sleep:       sleepContext,
		logger:      zap.NewNop(),
	}
	if t.maxAttempts < 1 {
		t.maxAttempts = 10
	}
	if t.step <= 0 {
		t.step = 100 * time.Millisecond
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Wait polls mutationLogs for clientMutationID. Attempt n is followed by a
// sleep of n*step; there is no sleep after the last attempt. A transport or
// GraphQL error aborts immediately. Exhausting the budget yields
// OutcomeTimedOut carrying the last pending entry and a nil error.
func (t *Tracker) Wait(ctx context.Context, d model.Dispatcher, clientMutationID string) (Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "mutation.wait",
		observability.AttrClientMutationID.String(clientMutationID),
	)

	last := model.MutationRecord{ClientMutationID: clientMutationID, Status: model.MutationPending}
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		rec, err := fetchLog(ctx, t.ex, d, clientMutationID)
		if err != nil {
			t.metrics.RecordMutationOutcome("error", attempt)
			observability.EndSpanWithError(span, err)
			return Outcome{}, err
		}
		if rec != nil {
			last = *rec
			switch rec.Status {
			case model.MutationSucceeded, model.MutationError:
				out := Outcome{Kind: OutcomeSucceeded, Record: *rec, Attempts: attempt}
				if rec.Status == model.MutationError {
					out.Kind = OutcomeFailed
				}
				t.finish(span, out)
				return out, nil
			case model.MutationPending:
			default:
				observability.MutationLogger(t.logger, rec).Warn("mutation: unrecognised status, still polling",
					zap.Int("status", int(rec.Status)),
					zap.Int("attempt", attempt),
				)
			}
		}

		if attempt < t.maxAttempts {
			if err := t.sleep(ctx, time.Duration(attempt)*t.step); err != nil {
				observability.EndSpanWithError(span, err)
				return Outcome{}, err
			}
		}
	}

	out := Outcome{Kind: OutcomeTimedOut, Record: last, Attempts: t.maxAttempts}
	observability.MutationLogger(t.logger, &out.Record).Warn("mutation: poll budget exhausted",
		zap.Int("attempts", out.Attempts),
	)
	t.finish(span, out)
	return out, nil
}

// Refresh fetches the current log entry for one mutation without retrying.
// It returns nil when the backend has no entry.
func (t *Tracker) Refresh(ctx context.Context, d model.Dispatcher, clientMutationID string) (*model.MutationRecord, error) {
	return fetchLog(ctx, t.ex, d, clientMutationID)
}

func (t *Tracker) finish(span trace.Span, out Outcome) {
	t.metrics.RecordMutationOutcome(out.Kind.String(), out.Attempts)
	span.SetAttributes(observability.AttrPollAttempts.Int(out.Attempts))
	span.End()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
