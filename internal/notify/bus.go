package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler receives one event. A returned error or a panic is logged and
// counted; it never reaches the publisher or other subscribers.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	seq     uint64
	event   string
	handler Handler
	removed atomic.Bool
}

// Bus is a publish/subscribe fan-out keyed by event name. It is safe for
// concurrent Subscribe and Broadcast.
type Bus struct {
	origin  string
	log     *slog.Logger
	metrics *Metrics

	mu   sync.RWMutex
	seq  uint64
	subs map[string][]*subscription
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for subscriber failures.
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.log = l } }

// WithMetrics attaches delivery metrics.
func WithMetrics(m *Metrics) Option { return func(b *Bus) { b.metrics = m } }

// NewBus returns an empty bus with a fresh origin id.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		origin: uuid.NewString(),
		log:    slog.Default(),
		subs:   make(map[string][]*subscription),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Origin identifies this bus in events it publishes.
func (b *Bus) Origin() string { return b.origin }

// Subscribe registers h for event (or AllEvents) and returns a function that
// removes it. The returned function is idempotent.
func (b *Bus) Subscribe(event string, h Handler) func() {
	b.mu.Lock()
	b.seq++
	sub := &subscription{seq: b.seq, event: event, handler: h}
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Bus) remove(sub *subscription) {
	sub.removed.Store(true)
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.event]
	for i, s := range list {
		if s == sub {
			// Copy so snapshots already handed out stay intact.
			next := make([]*subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.subs[sub.event] = next
			break
		}
	}
	if len(b.subs[sub.event]) == 0 {
		delete(b.subs, sub.event)
	}
}

// Subscribers reports how many handlers would receive event.
func (b *Bus) Subscribers(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.subs[AllEvents])
	if event != AllEvents {
		n += len(b.subs[event])
	}
	return n
}

// Broadcast encodes payload into a new Event and delivers it. Only an
// encoding failure is returned.
func (b *Bus) Broadcast(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode %s payload: %w", event, err)
	}
	b.Dispatch(ctx, Event{
		ID:      uuid.NewString(),
		Name:    event,
		Payload: raw,
		Origin:  b.origin,
		At:      time.Now().UTC(),
	})
	return nil
}

// Dispatch delivers a pre-built event to a snapshot of the subscribers taken
// now, in registration order. A handler removed after the snapshot is
// skipped if the removal is seen before its turn.
func (b *Bus) Dispatch(ctx context.Context, ev Event) {
	for _, sub := range b.snapshot(ev.Name) {
		if sub.removed.Load() {
			continue
		}
		b.deliver(ctx, sub, ev)
	}
}

func (b *Bus) snapshot(event string) []*subscription {
	b.mu.RLock()
	named := b.subs[event]
	wild := b.subs[AllEvents]
	b.mu.RUnlock()

	out := make([]*subscription, 0, len(named)+len(wild))
	out = append(out, named...)
	if event != AllEvents {
		out = append(out, wild...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.failed(ev.Name)
			b.log.Error("notify: subscriber panicked",
				slog.String("event", ev.Name),
				slog.Any("panic", r),
			)
		}
	}()
	if err := sub.handler(ctx, ev); err != nil {
		b.metrics.failed(ev.Name)
		b.log.Warn("notify: subscriber failed",
			slog.String("event", ev.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	b.metrics.delivered(ev.Name)
}
