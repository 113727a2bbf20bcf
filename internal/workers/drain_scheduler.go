package workers

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"

	"go.uber.org/zap"
)

// ConnectivityFeed delivers online/offline transitions
type ConnectivityFeed interface {
	Subscribe() (<-chan bool, func())
}

// DrainSchedulerConfig tunes a DrainScheduler
type DrainSchedulerConfig struct {
	// Interval between timer-driven single attempts
	Interval time.Duration
	// InitialJitter bounds the random delay before the first timer attempt
	InitialJitter time.Duration
	// LoopDelay separates loop iterations
	LoopDelay time.Duration
	// MaxLoopFailures ends a loop once exceeded by consecutive failed iterations
	MaxLoopFailures int
	// MaxRateWait is the longest a loop waits for the rate limiter before giving up
	MaxRateWait time.Duration
}

// DrainScheduler drives a Drainer from a jittered timer and from kicks (flush requests,
// connectivity restore, piggyback wake-ups). Kicks start a single-flight drain loop.
type DrainScheduler struct {
	drainer Drainer
	feed    ConnectivityFeed
	cfg     DrainSchedulerConfig
	metrics *metrics.MetricsRegistry
	log     *zap.SugaredLogger

	running atomic.Bool
	kicks   chan struct{}
	loops   sync.WaitGroup
	jitter  func(max time.Duration) time.Duration
}

// NewDrainScheduler creates a scheduler. feed may be nil.
func NewDrainScheduler(drainer Drainer, feed ConnectivityFeed, cfg DrainSchedulerConfig, m *metrics.MetricsRegistry) *DrainScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxLoopFailures < 0 {
		cfg.MaxLoopFailures = 0
	}
	return &DrainScheduler{
		drainer: drainer,
		feed:    feed,
		cfg:     cfg,
		metrics: m,
		log:     logging.Named("drain-scheduler").With("queue", drainer.Name()),
		kicks:   make(chan struct{}, 1),
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max)
		},
	}
}

// Kick requests a drain loop. It never blocks; kicks arriving while one is pending
// collapse into it.
func (s *DrainScheduler) Kick() {
	select {
	case s.kicks <- struct{}{}:
	default:
	}
}

// Running reports whether a drain loop is active
func (s *DrainScheduler) Running() bool {
	return s.running.Load()
}

// Serve runs the triggers until ctx is cancelled, then waits for an active loop to end.
func (s *DrainScheduler) Serve(ctx context.Context) error {
	var connCh <-chan bool
	if s.feed != nil {
		ch, unsubscribe := s.feed.Subscribe()
		defer unsubscribe()
		connCh = ch
	}

	timer := time.NewTimer(s.jitter(s.cfg.InitialJitter))
	defer timer.Stop()

	s.log.Infow("Drain scheduler started", "interval", s.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			s.loops.Wait()
			s.log.Infow("Drain scheduler stopped")
			return ctx.Err()

		case <-timer.C:
			if !s.running.Load() {
				if outcome := s.SafeAttempt(ctx); outcome.Progressed() {
					// More work is likely queued behind this one.
					s.startLoop(ctx)
				}
			}
			timer.Reset(s.cfg.Interval)

		case <-s.kicks:
			s.startLoop(ctx)

		case online := <-connCh:
			if online {
				s.drainer.ResetFailures()
				s.startLoop(ctx)
			}
		}
	}
}

func (s *DrainScheduler) startLoop(ctx context.Context) {
	if s.running.Load() {
		return
	}
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.RunDrainLoop(ctx)
	}()
}

// RunDrainLoop runs attempts until the queue is empty, a stop condition is hit or ctx
// is done. It returns false without doing anything when a loop is already running.
func (s *DrainScheduler) RunDrainLoop(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	defer s.running.Store(false)

	exit, processed := s.loop(ctx)
	s.metrics.DrainLoopExit(s.drainer.Name(), exit)
	s.log.Debugw("Drain loop finished", "exit", exit, "processed", processed)
	return true
}

func (s *DrainScheduler) loop(ctx context.Context) (exit string, processed int) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return "stopped", processed
		}

		outcome := s.SafeAttempt(ctx)
		switch {
		case outcome.EndsLoop():
			return string(outcome), processed

		case outcome == OutcomeRateLimited:
			wait := s.drainer.RetryAfter()
			if wait > s.cfg.MaxRateWait {
				return string(outcome), processed
			}
			if !sleepCtx(ctx, wait) {
				return "stopped", processed
			}
			continue

		case outcome.IsFailure():
			failures++
			if failures > s.cfg.MaxLoopFailures {
				s.log.Warnw("Drain loop stopping after consecutive failures", "failures", failures, "last", outcome)
				return "failures", processed
			}

		default:
			failures = 0
			processed++
		}

		if !sleepCtx(ctx, s.cfg.LoopDelay) {
			return "stopped", processed
		}
	}
}

// SafeAttempt runs one attempt and converts a panic into a counted failure.
func (s *DrainScheduler) SafeAttempt(ctx context.Context) (outcome DrainOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Recovered panic in drain attempt", "panic", fmt.Sprint(r))
			outcome = OutcomePanic
		}
	}()
	return s.drainer.TryOnce(ctx)
}

func (s *DrainScheduler) String() string {
	return "drain-scheduler-" + s.drainer.Name()
}

// sleepCtx waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
