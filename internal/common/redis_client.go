package common

import (
	"context"
	"fmt"
	"time"

	"geotrail/syncd/internal/logging"

	"github.com/redis/go-redis/v9"
)

// RedisOptions selects the Redis server
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a client and pings it. A failed ping is returned as an error
// together with the client, whose pool keeps trying to reconnect.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	logging.Info("Initializing Redis client", "addr", opts.Addr, "db", opts.DB)

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logging.Error("Failed to ping Redis", "addr", opts.Addr, "error", err)
		return client, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	logging.Info("Successfully connected to Redis", "addr", opts.Addr)
	return client, nil
}
