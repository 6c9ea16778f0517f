package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type document map[string]map[string]json.RawMessage

// FileRepository keeps settings in a JSON file of the form
// {"<subject>": {"<key>": <value>}}. With watching enabled, edits made to
// the file by other processes are reloaded and reported to watchers.
type FileRepository struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	values   document
	watchers watchers

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewFileRepository loads path, which may not exist yet.
func NewFileRepository(path string, watch bool, logger *zap.Logger) (*FileRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	values, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	r := &FileRepository{path: path, logger: logger, values: values}
	if !watch {
		return r, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("settings: create directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("settings: watch %s: %w", filepath.Dir(path), err)
	}
	r.fsw = fsw
	r.done = make(chan struct{})
	go r.watch()
	return r, nil
}

func (r *FileRepository) Get(_ context.Context, subjectID, key string) (json.RawMessage, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[subjectID][key]
	return append(json.RawMessage(nil), v...), ok, nil
}

func (r *FileRepository) Set(_ context.Context, subjectID, key string, value json.RawMessage) error {
	value = compact(value)

	r.mu.Lock()
	m, ok := r.values[subjectID]
	if !ok || m == nil {
		m = make(map[string]json.RawMessage)
		r.values[subjectID] = m
	}
	prev, existed := m[key]
	m[key] = value
	err := writeDocument(r.path, r.values)
	if err != nil {
		r.restore(subjectID, key, prev, existed, ok)
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if !existed || !bytes.Equal(prev, value) {
		r.watchers.emit(Change{SubjectID: subjectID, Key: key, Value: value})
	}
	return nil
}

func (r *FileRepository) Delete(_ context.Context, subjectID, key string) error {
	r.mu.Lock()
	prev, existed := r.values[subjectID][key]
	if !existed {
		r.mu.Unlock()
		return nil
	}
	delete(r.values[subjectID], key)
	err := writeDocument(r.path, r.values)
	if err != nil {
		r.restore(subjectID, key, prev, true, true)
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if existed {
		r.watchers.emit(Change{SubjectID: subjectID, Key: key, Deleted: true})
	}
	return nil
}

// restore puts key back the way it was before a failed write. r.mu must be
// held.
func (r *FileRepository) restore(subjectID, key string, prev json.RawMessage, existed, subjectExisted bool) {
	switch {
	case existed:
		r.values[subjectID][key] = prev
	case subjectExisted:
		delete(r.values[subjectID], key)
	default:
		delete(r.values, subjectID)
	}
}

func (r *FileRepository) Watch(fn func(Change)) func() {
	return r.watchers.add(fn)
}

// Close stops watching the file.
func (r *FileRepository) Close() error {
	if r.fsw == nil {
		return nil
	}
	close(r.done)
	return r.fsw.Close()
}

func (r *FileRepository) watch() {
	target := filepath.Clean(r.path)
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Warn("settings: reload failed", zap.String("path", r.path), zap.Error(err))
			}
		case err, ok := <-r.fsw.Errors:
			if !ok {
				return
			}
			r.logger.Warn("settings: watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the file and reports every key that differs from memory.
func (r *FileRepository) reload() error {
	next, err := readDocument(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	changes := diff(r.values, next)
	r.values = next
	r.mu.Unlock()

	for _, c := range changes {
		r.watchers.emit(c)
	}
	return nil
}

func diff(prev, next document) []Change {
	var out []Change
	for subject, keys := range next {
		for key, v := range keys {
			if old, ok := prev[subject][key]; !ok || !bytes.Equal(old, v) {
				out = append(out, Change{SubjectID: subject, Key: key, Value: v})
			}
		}
	}
	for subject, keys := range prev {
		for key := range keys {
			if _, ok := next[subject][key]; !ok {
				out = append(out, Change{SubjectID: subject, Key: key, Deleted: true})
			}
		}
	}
	return out
}

func readDocument(path string) (document, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	doc := document{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	// A top-level or per-subject null decodes to a nil map.
	if doc == nil {
		return document{}, nil
	}
	for subject, keys := range doc {
		if keys == nil {
			doc[subject] = map[string]json.RawMessage{}
			continue
		}
		for k, v := range keys {
			keys[k] = compact(v)
		}
	}
	return doc, nil
}

// writeDocument replaces path atomically.
func writeDocument(path string, doc document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("settings: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*")
	if err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("settings: write: %w", err)
	}
	return nil
}
