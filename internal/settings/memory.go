package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// MemoryRepository keeps settings in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	values   map[string]map[string]json.RawMessage
	watchers watchers
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{values: make(map[string]map[string]json.RawMessage)}
}

func (r *MemoryRepository) Get(_ context.Context, subjectID, key string) (json.RawMessage, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[subjectID][key]
	return append(json.RawMessage(nil), v...), ok, nil
}

func (r *MemoryRepository) Set(_ context.Context, subjectID, key string, value json.RawMessage) error {
	value = compact(value)

	r.mu.Lock()
	m, ok := r.values[subjectID]
	if !ok {
		m = make(map[string]json.RawMessage)
		r.values[subjectID] = m
	}
	prev, existed := m[key]
	m[key] = value
	r.mu.Unlock()

	if !existed || !bytes.Equal(prev, value) {
		r.watchers.emit(Change{SubjectID: subjectID, Key: key, Value: value})
	}
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, subjectID, key string) error {
	r.mu.Lock()
	_, existed := r.values[subjectID][key]
	delete(r.values[subjectID], key)
	r.mu.Unlock()

	if existed {
		r.watchers.emit(Change{SubjectID: subjectID, Key: key, Deleted: true})
	}
	return nil
}

func (r *MemoryRepository) Watch(fn func(Change)) func() {
	return r.watchers.add(fn)
}
