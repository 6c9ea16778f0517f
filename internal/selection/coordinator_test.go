package selection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	UUID string
	Name string
}

func byUUID(i item) string { return i.UUID }

var (
	a = item{UUID: "a", Name: "A"}
	b = item{UUID: "b", Name: "B"}
	c = item{UUID: "c", Name: "C"}
)

func TestSelect_multipleMode(t *testing.T) {
	s := New(ModeMultiple, byUUID)
	s.Select(a)
	s.Select(b)

	assert.Equal(t, []item{a, b}, s.Selection())
	assert.True(t, s.IsSelected(a))
}

func TestSelect_singleMode(t *testing.T) {
	s := New(ModeSingle, byUUID)
	s.Select(a)
	s.Select(b)

	assert.Equal(t, []item{b}, s.Selection())
}

func TestSelect_toggles(t *testing.T) {
	for _, mode := range []Mode{ModeSingle, ModeMultiple} {
		s := New(mode, byUUID)
		s.Select(a)
		s.Select(a)
		assert.Empty(t, s.Selection(), "mode %d", mode)
	}
}

func TestSelect_noneModeIgnores(t *testing.T) {
	s := New(ModeNone, byUUID)
	s.Select(a)
	assert.Empty(t, s.Selection())
}

func TestSelectAll_andClearAll(t *testing.T) {
	s := New(ModeMultiple, byUUID)
	s.Select(b)
	s.SelectAll([]item{a, b, c})

	assert.Equal(t, []item{b, a, c}, s.Selection())
	assert.Equal(t, uint64(1), s.Generation())

	s.ClearAll()
	assert.Empty(t, s.Selection())
	assert.Equal(t, uint64(2), s.Generation())
}

func TestSignals_reTriggerIsObservable(t *testing.T) {
	s := New(ModeMultiple, byUUID)
	events, cancel := s.Subscribe(8)
	defer cancel()

	s.ClearAll()
	s.ClearAll()
	s.SelectAll(nil)

	var kinds []EventKind
	var gens []uint64
	for i := 0; i < 3; i++ {
		ev := <-events
		kinds = append(kinds, ev.Kind)
		gens = append(gens, ev.Generation)
	}
	assert.Equal(t, []EventKind{EventClearAll, EventClearAll, EventSelectAll}, kinds)
	assert.Equal(t, []uint64{1, 2, 3}, gens)
}

func TestTrigger_clearsBeforeAction(t *testing.T) {
	s := New(ModeMultiple, byUUID)
	s.Select(a)
	s.Select(c)

	var got []item
	var selectedDuring []item
	err := s.Trigger(context.Background(), func(_ context.Context, items []item) error {
		got = items
		selectedDuring = s.Selection()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []item{a, c}, got)
	assert.Empty(t, selectedDuring)
	assert.Equal(t, uint64(1), s.Generation())
}

func TestTrigger_propagatesError(t *testing.T) {
	s := New(ModeMultiple, byUUID)
	s.Select(a)
	boom := errors.New("boom")

	err := s.Trigger(context.Background(), func(context.Context, []item) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Selection())
}

func TestRetain(t *testing.T) {
	s := New(ModeMultiple, byUUID)
	s.SelectAll([]item{a, b, c})
	s.Retain([]item{b, c})
	assert.Equal(t, []item{b, c}, s.Selection())
}

func TestSubscribe_cancelClosesChannel(t *testing.T) {
	s := New(ModeMultiple, byUUID)
	events, cancel := s.Subscribe(1)
	cancel()
	cancel()

	_, open := <-events
	assert.False(t, open)
	s.Select(a)
}

func TestUUIDKey(t *testing.T) {
	s := New(ModeMultiple, UUIDKey)
	s.Select(map[string]any{"uuid": "x", "name": "X"})
	assert.True(t, s.IsSelected(map[string]any{"uuid": "x"}))
}
