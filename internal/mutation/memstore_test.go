package mutation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pitabwire/portico/model"
)

func testRecord(id, subject string, at time.Time, status model.MutationStatus) model.MutationRecord {
	return model.MutationRecord{
		ClientMutationID:    id,
		ClientMutationLabel: "label " + id,
		SubjectID:           subject,
		RequestDateTime:     at,
		Status:              status,
	}
}

func envelopeCode(err error) string {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

func TestMemoryJournalStore_appendConflict(t *testing.T) {
	s := NewMemoryJournalStore()
	ctx := context.Background()
	rec := testRecord("a", "u-1", time.Now(), model.MutationPending)

	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(ctx, rec); envelopeCode(err) != model.ErrConflict {
		t.Errorf("second Append() = %v, want CONFLICT", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemoryJournalStore_updateOptimisticLock(t *testing.T) {
	s := NewMemoryJournalStore()
	ctx := context.Background()
	rec := testRecord("a", "u-1", time.Now(), model.MutationPending)
	s.Append(ctx, rec)

	rec.Status = model.MutationSucceeded
	if err := s.Update(ctx, rec); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Update(ctx, rec); envelopeCode(err) != model.ErrConflict {
		t.Errorf("stale Update() = %v, want CONFLICT", err)
	}

	got, _ := s.Get(ctx, "u-1", "a")
	if got.Version != 1 || got.Status != model.MutationSucceeded {
		t.Errorf("got = %+v", got)
	}

	missing := testRecord("nope", "u-1", time.Now(), 0)
	if err := s.Update(ctx, missing); envelopeCode(err) != model.ErrNotFound {
		t.Errorf("Update(missing) = %v, want NOT_FOUND", err)
	}
}

func TestMemoryJournalStore_getScopedToSubject(t *testing.T) {
	s := NewMemoryJournalStore()
	ctx := context.Background()
	s.Append(ctx, testRecord("a", "u-1", time.Now(), 0))

	if _, err := s.Get(ctx, "u-2", "a"); envelopeCode(err) != model.ErrNotFound {
		t.Errorf("Get(other subject) = %v, want NOT_FOUND", err)
	}
}

func TestMemoryJournalStore_list(t *testing.T) {
	s := NewMemoryJournalStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Append(ctx, testRecord("old", "u-1", base, model.MutationSucceeded))
	s.Append(ctx, testRecord("mid", "u-1", base.Add(time.Hour), model.MutationPending))
	s.Append(ctx, testRecord("new", "u-1", base.Add(2*time.Hour), model.MutationError))
	s.Append(ctx, testRecord("other", "u-2", base, model.MutationPending))

	all, err := s.List(ctx, "u-1", JournalFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"new", "mid", "old"}
	if len(all) != len(want) {
		t.Fatalf("List() returned %d records, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ClientMutationID != id {
			t.Errorf("all[%d] = %q, want %q", i, all[i].ClientMutationID, id)
		}
	}

	pending := model.MutationPending
	filtered, _ := s.List(ctx, "u-1", JournalFilter{Status: &pending})
	if len(filtered) != 1 || filtered[0].ClientMutationID != "mid" {
		t.Errorf("pending filter = %+v", filtered)
	}

	paged, _ := s.List(ctx, "u-1", JournalFilter{Offset: 1, Limit: 1})
	if len(paged) != 1 || paged[0].ClientMutationID != "mid" {
		t.Errorf("paged = %+v", paged)
	}

	beyond, _ := s.List(ctx, "u-1", JournalFilter{Offset: 10})
	if len(beyond) != 0 {
		t.Errorf("offset beyond end returned %d records", len(beyond))
	}
}
