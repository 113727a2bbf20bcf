// Package ratelimit bounds outbound sync requests.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const window = time.Hour

// tokenEpsilon absorbs float rounding in the token bucket arithmetic.
const tokenEpsilon = 1e-9

// Limiter combines a minimum interval between requests with a maximum count per rolling hour.
// Allow only inspects state; Record consumes quota. Callers record after a request has
// passed local filtering and before the network call, so locally rejected work never
// consumes quota.
type Limiter struct {
	mu         sync.Mutex
	gate       *rate.Limiter
	maxPerHour int
	history    []time.Time
	last       time.Time
	now        func() time.Time
}

// New creates a Limiter. minInterval <= 0 disables the interval gate and
// maxPerHour <= 0 disables the hourly cap.
func New(minInterval time.Duration, maxPerHour int) *Limiter {
	return NewWithClock(minInterval, maxPerHour, time.Now)
}

// NewWithClock creates a Limiter that reads time from now.
func NewWithClock(minInterval time.Duration, maxPerHour int, now func() time.Time) *Limiter {
	l := &Limiter{
		maxPerHour: maxPerHour,
		now:        now,
	}
	if minInterval > 0 {
		l.gate = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return l
}

// Allow reports whether a request may be made now.
func (l *Limiter) Allow() bool {
	return l.RetryAfter() == 0
}

// RetryAfter returns how long until Allow becomes true; zero means allowed now.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.trim(now)

	var wait time.Duration

	if l.maxPerHour > 0 && len(l.history) >= l.maxPerHour {
		wait = l.history[0].Add(window).Sub(now)
	}

	if l.gate != nil {
		tokens := l.gate.TokensAt(now)
		if tokens < 1-tokenEpsilon {
			missing := 1 - tokens
			gateWait := time.Duration(missing / float64(l.gate.Limit()) * float64(time.Second))
			if gateWait <= 0 {
				gateWait = time.Millisecond
			}
			if gateWait > wait {
				wait = gateWait
			}
		}
	}

	if wait < 0 {
		return 0
	}
	return wait
}

// Record consumes one request of quota.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.trim(now)

	if l.gate != nil {
		l.gate.ReserveN(now, 1)
	}
	l.history = append(l.history, now)
	l.last = now
}

// LastAttempt returns the time of the most recent Record call.
func (l *Limiter) LastAttempt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// CountLastHour returns the number of recorded requests within the rolling hour.
func (l *Limiter) CountLastHour() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(l.now())
	return len(l.history)
}

// trim drops history entries older than the window. Caller holds mu.
func (l *Limiter) trim(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.history) && !l.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.history = append(l.history[:0], l.history[i:]...)
	}
}
