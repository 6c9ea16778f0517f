package graphql

import (
	"testing"
	"time"

	"github.com/pitabwire/portico/internal/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, successes int, cooldown time.Duration) (*CircuitBreaker, *fakeClock, *[]BreakerState) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var changes []BreakerState
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          cooldown,
	}, func(s BreakerState) { changes = append(changes, s) })
	cb.now = clock.now
	return cb, clock, &changes
}

func TestCircuitBreaker_startsClosedPassesThrough(t *testing.T) {
	cb, _, _ := newTestBreaker(3, 2, time.Second)

	if s := cb.State(); s != BreakerClosed {
		t.Errorf("initial state = %v, want closed", s)
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() error = %v, want nil", err)
	}
}

func TestCircuitBreaker_opensAfterThreshold(t *testing.T) {
	cb, _, changes := newTestBreaker(3, 2, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state after 2 failures = %v, want closed", s)
	}

	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state after 3 failures = %v, want open", s)
	}
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
	if len(*changes) != 1 || (*changes)[0] != BreakerOpen {
		t.Errorf("changes = %v, want [open]", *changes)
	}
}

func TestCircuitBreaker_successResetsFailureCount(t *testing.T) {
	cb, _, _ := newTestBreaker(3, 2, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state = %v, want closed after reset", s)
	}
}

func TestCircuitBreaker_halfOpenCycle(t *testing.T) {
	cb, clock, changes := newTestBreaker(1, 2, time.Second)

	cb.RecordFailure()
	clock.advance(500 * time.Millisecond)
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() during cool-down should fail")
	}

	clock.advance(time.Second)
	if s := cb.State(); s != BreakerHalfOpen {
		t.Fatalf("state after cool-down = %v, want half-open", s)
	}

	cb.RecordSuccess()
	if s := cb.State(); s != BreakerHalfOpen {
		t.Errorf("state after 1 probe = %v, want half-open", s)
	}
	cb.RecordSuccess()
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state after 2 probes = %v, want closed", s)
	}

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(*changes) != len(want) {
		t.Fatalf("changes = %v, want %v", *changes, want)
	}
	for i := range want {
		if (*changes)[i] != want[i] {
			t.Errorf("changes[%d] = %v, want %v", i, (*changes)[i], want[i])
		}
	}
}

func TestCircuitBreaker_halfOpenFailureReopens(t *testing.T) {
	cb, clock, _ := newTestBreaker(1, 2, time.Second)

	cb.RecordFailure()
	clock.advance(2 * time.Second)
	cb.Allow()
	cb.RecordFailure()

	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state = %v, want open", s)
	}
}

func TestCircuitBreaker_errorRateTrips(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold:   100,
		ErrorRateThreshold: 0.5,
		ErrorRateWindow:    time.Minute,
	}, nil)
	cb.now = clock.now

	for i := 0; i < 5; i++ {
		cb.RecordSuccess()
	}
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	if s := cb.State(); s != BreakerClosed {
		t.Fatalf("state with 9 samples = %v, want closed", s)
	}
	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state at 50%% error rate = %v, want open", s)
	}
}

func TestCircuitBreaker_errorRateWindowExpires(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold:   100,
		ErrorRateThreshold: 0.5,
		ErrorRateWindow:    time.Minute,
	}, nil)
	cb.now = clock.now

	for i := 0; i < 5; i++ {
		cb.RecordSuccess()
	}
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	clock.advance(2 * time.Minute)

	cb.RecordFailure()
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state = %v, want closed once the old window expired", s)
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:    "closed",
		BreakerHalfOpen:  "half-open",
		BreakerOpen:      "open",
		BreakerState(42): "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
