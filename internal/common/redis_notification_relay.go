package common

import (
	"context"
	"encoding/json"
	"fmt"

	"geotrail/syncd/internal/events"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// NotificationRelay appends every bus notification to a capped Redis Stream so mirror
// maintainers in other processes can follow sync progress.
type NotificationRelay struct {
	client  *redis.Client
	bus     *events.Bus
	stream  string
	maxLen  int64
	metrics *metrics.MetricsRegistry
}

func NewNotificationRelay(client *redis.Client, bus *events.Bus, stream string, maxLen int64, m *metrics.MetricsRegistry) *NotificationRelay {
	return &NotificationRelay{
		client:  client,
		bus:     bus,
		stream:  stream,
		maxLen:  maxLen,
		metrics: m,
	}
}

// Append writes one notification
func (r *NotificationRelay) Append(ctx context.Context, n events.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// XADD stream MAXLEN ~ maxLen * kind <kind> data <json>
	args := &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind": n.Kind,
			"data": string(data),
		},
	}
	if _, err := r.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}
	r.metrics.NotificationRelayed()
	return nil
}

// Serve relays until ctx is cancelled. Append failures are logged and skipped.
func (r *NotificationRelay) Serve(ctx context.Context) error {
	ch, unsubscribe := r.bus.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Append(ctx, n); err != nil {
				logging.Warn("Failed to relay notification", "kind", n.Kind, "stream", r.stream, "error", err)
			}
		}
	}
}

func (r *NotificationRelay) String() string {
	return "redis-notification-relay"
}
