package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisEmitter publishes events on a Redis channel so front ends can react to
// scheduling changes without polling.
type RedisEmitter struct {
	client  *redis.Client
	channel string
}

func NewRedisEmitter(client *redis.Client, channel string) *RedisEmitter {
	return &RedisEmitter{client: client, channel: channel}
}

func (e *RedisEmitter) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := e.client.Publish(ctx, e.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}
