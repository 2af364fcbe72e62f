// Package events carries the in-process event bus and the bounded event log
// the API exposes.
package events

import (
	"sync"
	"time"
)

// Type names a platform event.
type Type string

const (
	TypeSwap            Type = "swap"
	TypeOrder           Type = "order"
	TypeLiquidity       Type = "liquidity"
	TypeDexUpdate       Type = "dex_update"
	TypeExchangeOrder   Type = "exchange_order"
	TypeAutoTrade       Type = "auto_trade"
	TypeAutoError       Type = "auto_error"
	TypeAutoTradePaused Type = "auto_trade_paused"
)

// Event is one published occurrence. UserID scopes private events to their
// owning principal; an empty UserID means the event is public.
type Event struct {
	Type      Type                   `json:"type"`
	UserID    string                 `json:"userId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Private reports whether the event belongs to a single principal.
func (e Event) Private() bool { return e.UserID != "" }

// Subscriber handles published events. Handlers run on the publisher's
// goroutine and must not block.
type Subscriber func(Event)

// ringCap bounds the retained event log; the oldest entry is evicted first.
const ringCap = 1000

// Bus fans events out to subscribers and retains the most recent ones in a
// fixed-size ring.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Type][]Subscriber
	allSubs []Subscriber

	ring  []Event
	start int // index of the oldest retained event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Type][]Subscriber),
		ring: make([]Event, 0, ringCap),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(typ Type, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[typ] = append(b.subs[typ], fn)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, fn)
}

// Publish records the event in the ring and invokes matching subscribers.
func (b *Bus) Publish(typ Type, userID string, data map[string]interface{}) {
	event := Event{
		Type:      typ,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.Lock()
	if len(b.ring) < ringCap {
		b.ring = append(b.ring, event)
	} else {
		b.ring[b.start] = event
		b.start = (b.start + 1) % ringCap
	}
	handlers := make([]Subscriber, 0, len(b.subs[typ])+len(b.allSubs))
	handlers = append(handlers, b.subs[typ]...)
	handlers = append(handlers, b.allSubs...)
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// Recent returns up to limit of the newest events visible to userID: public
// events plus the principal's own, newest first.
func (b *Bus) Recent(limit int, userID string) []Event {
	if limit <= 0 || limit > ringCap {
		limit = ringCap
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, limit)
	for i := len(b.ring) - 1; i >= 0 && len(out) < limit; i-- {
		event := b.ring[(b.start+i)%len(b.ring)]
		if event.Private() && event.UserID != userID {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Size reports how many events the ring currently holds.
func (b *Bus) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ring)
}
