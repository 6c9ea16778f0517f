package definition

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/observability"
)

// Watcher reloads the registry when definition files change. Invalid
// definitions are logged and the previous snapshot is kept.
type Watcher struct {
	dirs     []string
	registry *Registry
	debounce time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	watcher  *fsnotify.Watcher
}

// NewWatcher watches every directory under dirs.
func NewWatcher(dirs []string, registry *Registry, logger *zap.Logger, metrics *observability.Metrics) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return fw.Add(path)
			}
			return nil
		})
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dirs:     dirs,
		registry: registry,
		debounce: 200 * time.Millisecond,
		logger:   logger,
		metrics:  metrics,
		watcher:  fw,
	}, nil
}

// Reload loads and validates all definitions and swaps them in.
func (w *Watcher) Reload() error {
	defs, err := LoadAndValidate(w.dirs)
	if err != nil {
		w.metrics.RecordDefinitionReload("error")
		return err
	}
	w.registry.Replace(defs)
	w.metrics.RecordDefinitionReload("ok")
	w.metrics.SetSearchersLoaded(float64(w.registry.Len()))
	w.logger.Info("definitions reloaded",
		zap.Int("searchers", w.registry.Len()),
		zap.String("checksum", w.registry.Checksum()),
	)
	return nil
}

// Run processes file events until ctx is cancelled. Bursts of events are
// coalesced into one reload.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				w.watchIfDir(ev.Name)
			}
			if !isDefinitionFile(ev.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("definition reload failed, keeping previous definitions", zap.Error(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("definition watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) watchIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = w.watcher.Add(p)
		}
		return nil
	})
}
