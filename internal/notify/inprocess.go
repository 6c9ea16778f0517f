package notify

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/portico/internal/mutation"
)

// Handler receives published events.
type Handler func(subject string, ev Event)

// InProcess delivers events to handlers in the same process,
// synchronously and in publish order.
type InProcess struct {
	prefix string
	now    func() time.Time

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

// NewInProcess creates an in-process publisher.
func NewInProcess(prefix string) *InProcess {
	return &InProcess{prefix: prefix, now: time.Now, handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns its cancel func.
func (p *InProcess) Subscribe(h Handler) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = h
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

func (p *InProcess) Publish(ctx context.Context, out mutation.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := Subject(p.prefix, out.Kind)
	ev := EventFrom(out, p.now())

	p.mu.RLock()
	hs := make([]Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		hs = append(hs, h)
	}
	p.mu.RUnlock()
	for _, h := range hs {
		h(subject, ev)
	}
	return nil
}

func (p *InProcess) Ping(context.Context) error { return nil }

func (p *InProcess) Close() error { return nil }
