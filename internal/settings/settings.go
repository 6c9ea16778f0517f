// Package settings persists small per-user client settings, such as the
// secondary calendar toggle, and notifies watchers when they change.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/model"
)

// Known setting keys.
const (
	KeySecondaryCalendar = "isSecondaryCalendarEnabled"
	KeyEconomicUnit      = "userEconomicUnit"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{0,63}$`)

// Change describes one setting update.
type Change struct {
	SubjectID string          `json:"subjectId"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// Repository stores settings per subject.
type Repository interface {
	Get(ctx context.Context, subjectID, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, subjectID, key string, value json.RawMessage) error
	Delete(ctx context.Context, subjectID, key string) error
	Watch(fn func(Change)) (cancel func())
}

// New builds the repository selected by cfg.Driver.
func New(cfg config.SettingsConfig, logger *zap.Logger) (Repository, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryRepository(), nil
	case "file":
		return NewFileRepository(cfg.Path, cfg.Watch, logger)
	default:
		return nil, fmt.Errorf("settings: unsupported driver %q", cfg.Driver)
	}
}

// ValidateValue checks key and, for known keys, the value's shape.
func ValidateValue(key string, value json.RawMessage) error {
	if !keyPattern.MatchString(key) {
		return model.NewBadRequestError(fmt.Sprintf("invalid setting key %q", key))
	}
	if !json.Valid(value) {
		return model.NewBadRequestError("setting value must be JSON")
	}
	if key == KeySecondaryCalendar {
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return model.NewValidationError([]model.FieldError{{
				Field:   key,
				Code:    "boolean",
				Message: key + " must be a JSON boolean",
			}})
		}
	}
	return nil
}

// IsSecondaryCalendarEnabled reads the secondary calendar toggle. A
// missing or malformed value is false.
func IsSecondaryCalendarEnabled(ctx context.Context, repo Repository, subjectID string) (bool, error) {
	raw, ok, err := repo.Get(ctx, subjectID, KeySecondaryCalendar)
	if err != nil || !ok {
		return false, err
	}
	var enabled bool
	if json.Unmarshal(raw, &enabled) != nil {
		return false, nil
	}
	return enabled, nil
}

// HasEconomicUnit reports whether an economic unit is selected. Only the
// presence of the setting matters.
func HasEconomicUnit(ctx context.Context, repo Repository, subjectID string) (bool, error) {
	raw, ok, err := repo.Get(ctx, subjectID, KeyEconomicUnit)
	if err != nil {
		return false, err
	}
	return ok && string(raw) != "null", nil
}

// compact returns a copy of value without insignificant whitespace.
// Invalid JSON is copied unchanged.
func compact(value json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return append(json.RawMessage(nil), value...)
	}
	return buf.Bytes()
}

// watchers fans changes out to subscribers.
type watchers struct {
	mu     sync.Mutex
	fns    map[int]func(Change)
	nextID int
}

func (w *watchers) add(fn func(Change)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(Change))
	}
	id := w.nextID
	w.nextID++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

func (w *watchers) emit(c Change) {
	w.mu.Lock()
	fns := make([]func(Change), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
