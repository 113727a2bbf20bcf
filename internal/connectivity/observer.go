// Package connectivity tracks whether the remote endpoint is reachable.
package connectivity

import (
	"sync"
	"sync/atomic"

	"geotrail/syncd/internal/logging"
)

// Status is what the drain engines consult before attempting network work.
type Status interface {
	Online() bool
}

// Observer holds the current online state and notifies subscribers of transitions.
type Observer struct {
	online atomic.Bool

	mu     sync.Mutex
	subs   map[uint64]chan bool
	nextID uint64
}

func NewObserver(initial bool) *Observer {
	o := &Observer{subs: make(map[uint64]chan bool)}
	o.online.Store(initial)
	return o
}

func (o *Observer) Online() bool {
	return o.online.Load()
}

// SetOnline records the state and reports whether it changed. Subscribers only hear
// about transitions.
func (o *Observer) SetOnline(online bool) bool {
	if o.online.Swap(online) == online {
		return false
	}
	logging.Info("Connectivity changed", "online", online)

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs {
		// Latest state wins when the subscriber has not caught up.
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
	return true
}

// Subscribe returns a channel of transitions and a func to stop receiving them.
func (o *Observer) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}
