// Package mutation submits GraphQL mutations, waits for the backend to
// record their completion and keeps a journal of every submission.
package mutation

import (
	"context"

	"github.com/pitabwire/portico/model"
)

// JournalStore persists mutation records. Records are appended once when a
// mutation is submitted and updated in place as its status becomes known;
// they are never deleted.
type JournalStore interface {
	// Append stores a new record. It fails with a conflict if a record with
	// the same client mutation id exists.
	Append(ctx context.Context, rec model.MutationRecord) error

	// Update replaces a record using optimistic locking on Version.
	Update(ctx context.Context, rec model.MutationRecord) error

	// Get returns one record scoped to a subject.
	Get(ctx context.Context, subjectID, clientMutationID string) (model.MutationRecord, error)

	// List returns a subject's records, newest first.
	List(ctx context.Context, subjectID string, filter JournalFilter) ([]model.MutationRecord, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// JournalFilter narrows List results.
type JournalFilter struct {
	Status *model.MutationStatus
	Limit  int
	Offset int
}
