// Package selection tracks the rows selected on the current page of a list
// and runs bulk actions over them.
package selection

import (
	"context"
	"fmt"
	"sync"
)

// Mode controls how Select treats existing selections.
type Mode int

const (
	// ModeNone ignores selection requests.
	ModeNone Mode = iota
	// ModeSingle keeps at most one selected item.
	ModeSingle
	// ModeMultiple toggles items independently.
	ModeMultiple
)

// EventKind identifies what changed.
type EventKind int

const (
	EventChanged EventKind = iota
	EventSelectAll
	EventClearAll
)

func (k EventKind) String() string {
	switch k {
	case EventChanged:
		return "changed"
	case EventSelectAll:
		return "select_all"
	case EventClearAll:
		return "clear_all"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after every change. SelectAll and
// ClearAll always emit, even when the selection did not change.
type Event[T any] struct {
	Kind       EventKind
	Selection  []T
	Generation uint64
}

// BulkAction runs over a snapshot of the selection.
type BulkAction[T any] func(ctx context.Context, items []T) error

// Coordinator holds the selection of one list. Safe for concurrent use.
type Coordinator[T any] struct {
	mode Mode
	key  func(T) string

	mu         sync.Mutex
	items      map[string]T
	order      []string
	generation uint64
	subs       map[int]chan Event[T]
	nextSub    int
}

// New creates a coordinator identifying items by key.
func New[T any](mode Mode, key func(T) string) *Coordinator[T] {
	return &Coordinator[T]{
		mode:  mode,
		key:   key,
		items: make(map[string]T),
		subs:  make(map[int]chan Event[T]),
	}
}

// UUIDKey identifies map rows by their "uuid" field.
func UUIDKey(row map[string]any) string {
	return fmt.Sprint(row["uuid"])
}

// Mode returns the selection mode.
func (c *Coordinator[T]) Mode() Mode { return c.mode }

// Select toggles item. In single mode selecting a different item replaces
// the current one.
func (c *Coordinator[T]) Select(item T) {
	if c.mode == ModeNone {
		return
	}
	k := c.key(item)

	c.mu.Lock()
	if _, selected := c.items[k]; selected {
		c.removeLocked(k)
	} else {
		if c.mode == ModeSingle {
			c.clearLocked()
		}
		c.items[k] = item
		c.order = append(c.order, k)
	}
	c.emitLocked(EventChanged)
	c.mu.Unlock()
}

// IsSelected reports whether item is selected.
func (c *Coordinator[T]) IsSelected(item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[c.key(item)]
	return ok
}

// Selection returns the selected items in selection order.
func (c *Coordinator[T]) Selection() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Generation returns the clear/select-all counter.
func (c *Coordinator[T]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SelectAll selects every item in multiple mode. The signal is emitted in
// every mode.
func (c *Coordinator[T]) SelectAll(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.mode == ModeMultiple {
		for _, it := range items {
			k := c.key(it)
			if _, ok := c.items[k]; !ok {
				c.order = append(c.order, k)
			}
			c.items[k] = it
		}
	}
	c.emitLocked(EventSelectAll)
}

// ClearAll empties the selection.
func (c *Coordinator[T]) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.clearLocked()
	c.emitLocked(EventClearAll)
}

// Retain drops selected items that are not in items, e.g. after the page
// changed.
func (c *Coordinator[T]) Retain(items []T) {
	keep := make(map[string]bool, len(items))
	for _, it := range items {
		keep[c.key(it)] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for _, k := range append([]string(nil), c.order...) {
		if !keep[k] {
			c.removeLocked(k)
			changed = true
		}
	}
	if changed {
		c.emitLocked(EventChanged)
	}
}

// Trigger runs action over a snapshot of the selection. The selection is
// cleared before the action runs.
func (c *Coordinator[T]) Trigger(ctx context.Context, action BulkAction[T]) error {
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.generation++
	c.clearLocked()
	c.emitLocked(EventClearAll)
	c.mu.Unlock()

	return action(ctx, snapshot)
}

// Subscribe returns a channel receiving every event. Delivery does not
// block: a subscriber that falls more than buffer events behind misses
// events and can detect it through Generation.
func (c *Coordinator[T]) Subscribe(buffer int) (<-chan Event[T], func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event[T], buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Coordinator[T]) snapshotLocked() []T {
	out := make([]T, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k])
	}
	return out
}

func (c *Coordinator[T]) removeLocked(k string) {
	delete(c.items, k)
	for i, ok := range c.order {
		if ok == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Coordinator[T]) clearLocked() {
	c.items = make(map[string]T)
	c.order = nil
}

func (c *Coordinator[T]) emitLocked(kind EventKind) {
	ev := Event[T]{Kind: kind, Selection: c.snapshotLocked(), Generation: c.generation}
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
