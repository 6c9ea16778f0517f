package mutation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/portico/model"
)

// MemoryJournalStore is an in-memory JournalStore.
type MemoryJournalStore struct {
	mu      sync.RWMutex
	records map[string]model.MutationRecord // key: client mutation id
}

// NewMemoryJournalStore creates a new in-memory journal store.
func NewMemoryJournalStore() *MemoryJournalStore {
	return &MemoryJournalStore{records: make(map[string]model.MutationRecord)}
}

// Append stores a new record.
func (s *MemoryJournalStore) Append(_ context.Context, rec model.MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ClientMutationID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("mutation %q already journaled", rec.ClientMutationID),
		)
	}
	s.records[rec.ClientMutationID] = rec
	return nil
}

// Update replaces a record with optimistic locking.
func (s *MemoryJournalStore) Update(_ context.Context, rec model.MutationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[rec.ClientMutationID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("mutation %q not found", rec.ClientMutationID),
		)
	}
	if existing.Version != rec.Version {
		return model.NewConflictError(
			fmt.Sprintf("mutation %q version conflict (expected %d, got %d)", rec.ClientMutationID, rec.Version, existing.Version),
		)
	}

	rec.Version++
	s.records[rec.ClientMutationID] = rec
	return nil
}

// Get returns a record scoped to subjectID.
func (s *MemoryJournalStore) Get(_ context.Context, subjectID, clientMutationID string) (model.MutationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[clientMutationID]
	if !exists || rec.SubjectID != subjectID {
		return model.MutationRecord{}, model.NewNotFoundError(
			fmt.Sprintf("mutation %q not found", clientMutationID),
		)
	}
	return rec, nil
}

// List returns a subject's records, newest first.
func (s *MemoryJournalStore) List(_ context.Context, subjectID string, filter JournalFilter) ([]model.MutationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.MutationRecord{}
	for _, rec := range s.records {
		if rec.SubjectID != subjectID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].RequestDateTime.Equal(result[j].RequestDateTime) {
			return result[i].ClientMutationID < result[j].ClientMutationID
		}
		return result[i].RequestDateTime.After(result[j].RequestDateTime)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []model.MutationRecord{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Ping always succeeds.
func (s *MemoryJournalStore) Ping(context.Context) error { return nil }

// Len returns the number of records. For testing.
func (s *MemoryJournalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
