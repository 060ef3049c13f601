package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "proxima:thread:"

// channelFor returns the pub/sub channel of one thread.
func channelFor(userID, sessionID string) string {
	return fmt.Sprintf("%s%s:%s", channelPrefix, userID, sessionID)
}

// RedisRelay publishes changes through Redis so watchers connected to any
// instance see every write. Received changes are delivered to the local hub.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

// NewRedisRelay connects to redisURL.
func NewRedisRelay(ctx context.Context, redisURL string, hub *Hub, logger *slog.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, hub: hub, logger: logger}, nil
}

// Close closes the Redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// Publish sends c to the thread channel. Failures are logged; the write
// that produced the change has already been committed.
func (r *RedisRelay) Publish(ctx context.Context, c Change) {
	data, err := json.Marshal(c)
	if err != nil {
		r.logger.Error("Failed to encode thread change", "error", err)
		return
	}
	if err := r.client.Publish(context.WithoutCancel(ctx), channelFor(c.UserID, c.SessionID), data).Err(); err != nil {
		r.logger.Warn("Failed to relay thread change",
			"user_id", c.UserID, "session_id", c.SessionID, "error", err)
	}
}

// Run delivers relayed changes to the hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer func() {
		if err := sub.Close(); err != nil {
			r.logger.Debug("Failed to close redis subscription", "error", err)
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c, err := decodeChange(msg.Channel, msg.Payload)
			if err != nil {
				r.logger.Warn("Dropped relayed change", "channel", msg.Channel, "error", err)
				continue
			}
			r.hub.Publish(ctx, c)
		}
	}
}

// decodeChange parses a relayed payload and checks it against its channel.
func decodeChange(channel, payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if c.Message == nil {
		return Change{}, fmt.Errorf("change without message")
	}
	if channel != channelFor(c.UserID, c.SessionID) {
		return Change{}, fmt.Errorf("change for %s/%s on channel %s", c.UserID, c.SessionID, channel)
	}
	return c, nil
}
