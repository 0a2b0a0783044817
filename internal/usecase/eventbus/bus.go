// Package eventbus is the in-process publish/subscribe hub for routing,
// learning and store events.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
)

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Handlers run in their own
// goroutine; a panicking handler is logged and does not affect the others.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
	now     func() time.Time

	histMu  sync.Mutex
	history []domain.Event
	histCap int
	histPos int
	counts  map[domain.EventType]uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistory keeps the last n published events for Recent.
func WithHistory(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.histCap = n
		}
	}
}

// New creates an event bus. A nil logger discards handler panics.
func New(log *slog.Logger, opts ...Option) *Bus {
	if log == nil {
		log = logger.Discard()
	}
	b := &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
		counts: make(map[domain.EventType]uint64),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish fans out an event to matching typed subscribers and all-event
// subscribers. Events without a timestamp are stamped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	b.record(event)

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	subs = append(subs, b.typed[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) record(event domain.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.counts[event.Type]++
	if b.histCap == 0 {
		return
	}
	if len(b.history) < b.histCap {
		b.history = append(b.history, event)
		return
	}
	b.history[b.histPos] = event
	b.histPos = (b.histPos + 1) % b.histCap
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = without(b.typed[eventType], id)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = without(b.allSubs, id)
	}
}

func without(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Recent returns up to n of the most recent events, oldest first. It is
// empty unless the bus was built WithHistory.
func (b *Bus) Recent(n int) []domain.Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	ordered := make([]domain.Event, 0, len(b.history))
	ordered = append(ordered, b.history[b.histPos:]...)
	ordered = append(ordered, b.history[:b.histPos]...)
	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Counts returns how many events of each type were published.
func (b *Bus) Counts() map[domain.EventType]uint64 {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make(map[domain.EventType]uint64, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

// Close prevents new publishes and waits for all in-flight handlers to finish.
// Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

// Decode unmarshals the payload of e into T.
func Decode[T any](e domain.Event) (T, error) {
	var v T
	if len(e.Payload) == 0 {
		return v, fmt.Errorf("event %s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("event %s: %w", e.Type, err)
	}
	return v, nil
}

// On subscribes fn to events of type t whose payload decodes into T.
// Payloads that do not decode are logged and skipped.
func On[T any](b *Bus, t domain.EventType, fn func(ctx context.Context, payload T)) func() {
	return b.Subscribe(t, func(ctx context.Context, e domain.Event) {
		v, err := Decode[T](e)
		if err != nil {
			b.logger.Warn("event payload dropped", "event", string(t), "error", err)
			return
		}
		fn(ctx, v)
	})
}

var _ domain.EventBus = (*Bus)(nil)
