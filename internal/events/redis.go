package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultChannel = "annotations"

// RedisBus publishes events as JSON payloads on a Redis pub/sub channel so
// out-of-process consumers (notification workers, moderation tooling) can
// react to annotation activity.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// RedisConfig holds connection parameters for the Redis bus.
type RedisConfig struct {
	Addr    string
	DB      int
	Channel string
}

// NewRedisBus constructs a bus publishing to the configured channel.
// The connection is verified up front.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBus{client: client, channel: channel}, nil
}

// Publish serialises the event and publishes it on the configured channel.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Action, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
