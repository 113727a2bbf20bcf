package services

import "sync"

// targetLocks serializes work per timeline point. Entries are dropped once unused.
type targetLocks struct {
	mu    sync.Mutex
	locks map[int64]*targetLock
}

type targetLock struct {
	mu   sync.Mutex
	refs int
}

func newTargetLocks() *targetLocks {
	return &targetLocks{locks: make(map[int64]*targetLock)}
}

// Lock blocks until the target is free and returns its unlock func.
func (t *targetLocks) Lock(target int64) func() {
	t.mu.Lock()
	l, ok := t.locks[target]
	if !ok {
		l = &targetLock{}
		t.locks[target] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, target)
		}
		t.mu.Unlock()
	}
}
