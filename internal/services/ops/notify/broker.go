// Package notify fans out record invalidation signals to live subscribers.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 32

// Signal tells subscribers a record changed and should be refetched. It
// carries identifiers only, never record content.
type Signal struct {
	EntityID  string        `json:"entity_id"`
	Family    entity.Family `json:"family"`
	Number    string        `json:"number"`
	EventType string        `json:"event_type"`
	Seq       int64         `json:"seq"`
	At        time.Time     `json:"at"`

	clientID string
}

// NewSignal builds a signal for a change to e.
func NewSignal(e entity.Entity, eventType string, seq int64, at time.Time) Signal {
	return Signal{
		EntityID:  e.ID,
		Family:    e.Family,
		Number:    e.Number,
		EventType: eventType,
		Seq:       seq,
		At:        at.UTC(),
		clientID:  e.ClientID,
	}
}

type subscriber struct {
	scope authz.Scope
	ch    chan Signal
}

// Broker delivers signals to the subscribers whose scope covers the record.
// Slow subscribers miss signals rather than block publishers.
type Broker struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]subscriber
	buffer  int
	dropped atomic.Uint64
}

// NewBroker returns an empty broker. A non-positive buffer uses DefaultBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{subs: make(map[uint64]subscriber), buffer: buffer}
}

// Subscribe registers a subscriber limited to scope. The returned cancel
// func closes the channel and is safe to call more than once.
func (b *Broker) Subscribe(scope authz.Scope) (<-chan Signal, func()) {
	ch := make(chan Signal, b.buffer)
	if scope.Kind == authz.ScopeNone {
		close(ch)
		return ch, func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{scope: scope, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Publish delivers sig to every matching subscriber without blocking.
func (b *Broker) Publish(sig Signal) {
	if b == nil {
		return
	}
	record := entity.Entity{ClientID: sig.clientID}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.scope.Matches(record) {
			continue
		}
		select {
		case sub.ch <- sig:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many signals were discarded for full subscribers.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
