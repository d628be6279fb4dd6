package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// defaultBufferSize is the per-subscriber channel depth. A subscriber that
// falls this many events behind starts losing events (at-most-once).
const defaultBufferSize = 256

// defaultHistorySize bounds the ring of recent events kept for subscribers
// that attach after startup (dashboards reconnecting mid-run).
const defaultHistorySize = 200

// Handler consumes a single event. Handlers run on a dedicated goroutine
// per subscription, so a slow handler delays only its own subscription.
type Handler func(Event)

// Subscription identifies an active bus subscription; used to unsubscribe.
type Subscription struct {
	id int
	ch chan Event
}

// Bus is the in-process publish/subscribe fan-out for orchestrator events.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]*Subscription
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64

	histMu  sync.Mutex
	history []Event
}

// NewBus creates an event bus ready for subscriptions.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[int]*Subscription),
		history: make([]Event, 0, defaultHistorySize),
	}
}

// Subscribe registers a handler and starts its delivery goroutine.
// The handler receives events in publish order. A panic in the handler is
// recovered and logged; delivery continues with the next event.
func (b *Bus) Subscribe(handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &Subscription{id: -1}
	}

	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan Event, defaultBufferSize)}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for evt := range sub.ch {
			b.deliver(handler, evt)
		}
	}()

	return sub
}

// Unsubscribe removes a subscription. Safe to call at any time, including
// while a publish is in flight; remaining buffered events are still
// delivered before the subscriber goroutine exits.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.id < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Publish fans an event out to all current subscribers without blocking.
// A subscriber whose buffer is full misses the event.
func (b *Bus) Publish(evt Event) {
	b.recordHistory(evt)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			slog.Warn("Event bus subscriber buffer full, dropping event",
				"event_type", evt.Type, "event_id", evt.ID)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// History returns a copy of the recent event ring, oldest first.
func (b *Bus) History() []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Close stops the bus: all subscriptions are closed and their delivery
// goroutines drained. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// deliver invokes the handler with panic isolation.
func (b *Bus) deliver(handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked",
				"event_type", evt.Type, "event_id", evt.ID, "panic", r)
		}
	}()
	handler(evt)
}

func (b *Bus) recordHistory(evt Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if len(b.history) >= defaultHistorySize {
		b.history = b.history[1:]
	}
	b.history = append(b.history, evt)
}
