package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geotrail/syncd/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

// ErrLockTimeout is returned when the claim lock could not be acquired in time.
var ErrLockTimeout = errors.New("claim lock acquisition timed out")

// ClaimLock serializes "pick next work item" decisions. It is held only around the
// claim, never across network I/O.
type ClaimLock interface {
	// Acquire blocks until the lock is held or ctx is done. The returned func releases it.
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalClaimLock is an in-process lock with context-bounded acquisition
type LocalClaimLock struct {
	sem *semaphore.Weighted
}

func NewLocalClaimLock() *LocalClaimLock {
	return &LocalClaimLock{sem: semaphore.NewWeighted(1)}
}

func (l *LocalClaimLock) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return func() { l.sem.Release(1) }, nil
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimLock extends the claim lock across processes that share the database.
// The TTL bounds how long a crashed holder can block others.
type RedisClaimLock struct {
	client    *redis.Client
	key       string
	ttl       time.Duration
	retryWait time.Duration
}

func NewRedisClaimLock(client *redis.Client, key string, ttl time.Duration) *RedisClaimLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisClaimLock{
		client:    client,
		key:       key,
		ttl:       ttl,
		retryWait: 25 * time.Millisecond,
	}
}

func (l *RedisClaimLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire redis claim lock: %w", err)
		}
		if ok {
			return func() {
				// Release must run even when the caller's context is done.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
					logging.Warn("Failed to release redis claim lock", "key", l.key, "error", err)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(l.retryWait):
		}
	}
}

// ChainedClaimLock acquires each lock in order and releases them in reverse.
type ChainedClaimLock []ClaimLock

func (c ChainedClaimLock) Acquire(ctx context.Context) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		release, err := l.Acquire(ctx)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
