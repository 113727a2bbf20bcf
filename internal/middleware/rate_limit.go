package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientRateLimiter keeps one token bucket per client IP. Loopback clients can be
// exempted since the capture agent usually runs on the same host.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	exempt   map[string]bool
}

func NewClientRateLimiter(perSecond float64, burst int, exempt ...string) *ClientRateLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &ClientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		exempt:   make(map[string]bool, len(exempt)),
	}
	if perSecond <= 0 {
		l.limit = rate.Inf
	}
	for _, ip := range exempt {
		l.exempt[ip] = true
	}
	return l
}

func (l *ClientRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[ip]; exists {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters[ip] = limiter
	return limiter
}

// Middleware rejects requests above the per-client rate with 429
func (l *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if l.exempt[ip] {
			next.ServeHTTP(w, r)
			return
		}

		limiter := l.getLimiter(ip)
		if !limiter.Allow() {
			retry := time.Duration(float64(time.Second) / float64(l.limit))
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
