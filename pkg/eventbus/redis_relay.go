package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channelName = "stark:events"

// RedisRelay republishes every ChangeEvent from a local Bus onto a Redis
// pub/sub channel, and republishes every message received on that channel
// back onto the local Bus, so that multiple control plane replicas observe
// a consistent stream of store changes regardless of which replica made
// the write.
type RedisRelay struct {
	client *redis.Client
	bus    *Bus
	logger *slog.Logger
}

// NewRedisRelay wires bus to client in both directions. Run must be called
// to start the receive loop; publishes happen on the goroutine Attach starts.
func NewRedisRelay(client *redis.Client, bus *Bus, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, bus: bus, logger: logger}
}

// Attach subscribes to every local bus event and forwards it to Redis. It
// should be called once at startup, after Run has started the receive loop.
func (r *RedisRelay) Attach(ctx context.Context) {
	events, unsubscribe := r.bus.Subscribe(Topic{})
	go func() {
		defer unsubscribe()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				r.publish(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *RedisRelay) publish(ctx context.Context, ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("marshaling change event for redis relay", "error", err)
		return
	}
	if err := r.client.Publish(ctx, channelName, payload).Err(); err != nil {
		r.logger.Error("publishing change event to redis", "error", err)
	}
}

// Run blocks, draining the Redis channel and republishing each message onto
// the local bus, until ctx is canceled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Error("unmarshaling change event from redis", "error", err)
				continue
			}
			r.bus.Publish(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
