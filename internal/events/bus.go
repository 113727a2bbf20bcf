// Package events carries sync notifications from the engines to their consumers.
// Subscriptions are explicit and owned by whoever calls Subscribe.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"geotrail/syncd/internal/logging"
)

// Notification is one emitted sync event. Which fields are set depends on Kind.
type Notification struct {
	Kind string `json:"kind"`

	// Sample notifications
	LocalID   uint      `json:"localId,omitempty"`
	RemoteID  int64     `json:"remoteId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`

	// Mutation notifications
	EntityID int64 `json:"entityId,omitempty"`

	Reason      string    `json:"reason,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Publisher is the producing side of the bus.
type Publisher interface {
	Publish(n Notification)
}

type subscription struct {
	ch    chan Notification
	kinds map[string]struct{}
}

func (s *subscription) wants(kind string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Bus fans notifications out to subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the notification.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
	now     func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]*subscription),
		now:  time.Now,
	}
}

// Subscribe registers a buffered receiver for the given kinds (all kinds when none are
// given). The returned func unsubscribes and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(buffer int, kinds ...string) (<-chan Notification, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscription{ch: make(chan Notification, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(n Notification) {
	if n.PublishedAt.IsZero() {
		n.PublishedAt = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(n.Kind) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			b.dropped.Add(1)
			logging.Warn("Notification dropped, subscriber buffer full", "kind", n.Kind, "local_id", n.LocalID, "entity_id", n.EntityID)
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close unsubscribes everyone. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
