package settings

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/model"
)

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) record(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) all() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.changes...)
}

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	file, err := NewFileRepository(filepath.Join(t.TempDir(), "settings.json"), false, nil)
	require.NoError(t, err)
	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"file":   file,
	}
}

func TestRepository_getSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			log := &changeLog{}
			cancel := repo.Watch(log.record)
			defer cancel()

			_, ok, err := repo.Get(ctx, "u-1", KeySecondaryCalendar)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, repo.Set(ctx, "u-1", KeySecondaryCalendar, json.RawMessage(`true`)))
			require.NoError(t, repo.Set(ctx, "u-1", KeySecondaryCalendar, json.RawMessage(` true `)))

			v, ok, err := repo.Get(ctx, "u-1", KeySecondaryCalendar)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `true`, string(v))

			_, ok, _ = repo.Get(ctx, "u-2", KeySecondaryCalendar)
			assert.False(t, ok, "settings leak across subjects")

			require.NoError(t, repo.Delete(ctx, "u-1", KeySecondaryCalendar))
			require.NoError(t, repo.Delete(ctx, "u-1", KeySecondaryCalendar))

			changes := log.all()
			require.Len(t, changes, 2, "unchanged writes and repeated deletes are silent")
			assert.Equal(t, "u-1", changes[0].SubjectID)
			assert.False(t, changes[0].Deleted)
			assert.True(t, changes[1].Deleted)
		})
	}
}

func TestFileRepository_persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	ctx := context.Background()

	repo, err := NewFileRepository(path, false, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Set(ctx, "u-1", KeyEconomicUnit, json.RawMessage(`{"code": "EU1"}`)))

	reopened, err := NewFileRepository(path, false, nil)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "u-1", KeyEconomicUnit)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"code":"EU1"}`, string(v))
}

func TestFileRepository_corruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewFileRepository(path, false, nil)
	assert.Error(t, err)
}

func TestFileRepository_nullDocuments(t *testing.T) {
	ctx := context.Background()
	for name, body := range map[string]string{
		"top-level null": `null`,
		"subject null":   `{"u-1": null}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			repo, err := NewFileRepository(path, false, nil)
			require.NoError(t, err)
			_, ok, err := repo.Get(ctx, "u-1", KeySecondaryCalendar)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, repo.Set(ctx, "u-1", KeySecondaryCalendar, json.RawMessage(`true`)))
			enabled, err := IsSecondaryCalendarEnabled(ctx, repo, "u-1")
			require.NoError(t, err)
			assert.True(t, enabled)

			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			require.NoError(t, repo.reload())
			require.NoError(t, repo.Set(ctx, "u-1", KeyEconomicUnit, json.RawMessage(`{"code": "EU1"}`)))
		})
	}
}

func TestFileRepository_failedWriteKeepsMemory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.json")
	repo, err := NewFileRepository(path, false, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Set(ctx, "u-1", KeySecondaryCalendar, json.RawMessage(`true`)))

	log := &changeLog{}
	repo.Watch(log.record)

	// A non-empty directory at path makes the final rename fail.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "occupied"), 0o755))

	assert.Error(t, repo.Set(ctx, "u-1", KeySecondaryCalendar, json.RawMessage(`false`)))
	assert.Error(t, repo.Set(ctx, "u-2", KeySecondaryCalendar, json.RawMessage(`true`)))
	assert.Error(t, repo.Delete(ctx, "u-1", KeySecondaryCalendar))

	v, ok, err := repo.Get(ctx, "u-1", KeySecondaryCalendar)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `true`, string(v))
	_, ok, _ = repo.Get(ctx, "u-2", KeySecondaryCalendar)
	assert.False(t, ok)
	assert.NotContains(t, repo.values, "u-2")
	assert.Empty(t, log.all(), "failed writes are not reported")
}

func TestFileRepository_watchesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	repo, err := NewFileRepository(path, true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	log := &changeLog{}
	repo.Watch(log.record)

	require.NoError(t, os.WriteFile(path, []byte(`{"u-9": {"isSecondaryCalendarEnabled": true}}`), 0o644))

	require.Eventually(t, func() bool {
		enabled, _ := IsSecondaryCalendarEnabled(context.Background(), repo, "u-9")
		return enabled
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, c := range log.all() {
			if c.SubjectID == "u-9" && c.Key == KeySecondaryCalendar {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		wantCode string
	}{
		{"boolean calendar", KeySecondaryCalendar, `false`, ""},
		{"non-boolean calendar", KeySecondaryCalendar, `"yes"`, model.ErrValidationError},
		{"economic unit object", KeyEconomicUnit, `{"id": 1}`, ""},
		{"invalid json", "theme", `{`, model.ErrBadRequest},
		{"bad key", "../etc", `1`, model.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateValue(tt.key, json.RawMessage(tt.value))
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			var env *model.ErrorEnvelope
			require.True(t, errors.As(err, &env), "error = %v", err)
			assert.Equal(t, tt.wantCode, env.Code)
		})
	}
}

func TestHelpers(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	enabled, err := IsSecondaryCalendarEnabled(ctx, repo, "u-1")
	require.NoError(t, err)
	assert.False(t, enabled)

	repo.Set(ctx, "u-1", KeySecondaryCalendar, json.RawMessage(`"garbage"`))
	enabled, _ = IsSecondaryCalendarEnabled(ctx, repo, "u-1")
	assert.False(t, enabled)

	has, _ := HasEconomicUnit(ctx, repo, "u-1")
	assert.False(t, has)
	repo.Set(ctx, "u-1", KeyEconomicUnit, json.RawMessage(`null`))
	has, _ = HasEconomicUnit(ctx, repo, "u-1")
	assert.False(t, has)
	repo.Set(ctx, "u-1", KeyEconomicUnit, json.RawMessage(`{"id": 7}`))
	has, _ = HasEconomicUnit(ctx, repo, "u-1")
	assert.True(t, has)
}

func TestNew_drivers(t *testing.T) {
	repo, err := New(config.SettingsConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo)

	repo, err = New(config.SettingsConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, repo)

	_, err = New(config.SettingsConfig{Driver: "etcd"}, nil)
	assert.Error(t, err)
}
