package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultOutboxKey = "statusboard:outbox:events"

// RedisOutbox keeps pending events in a Redis hash keyed by event id, so
// parked events survive a server restart and are shared between instances.
type RedisOutbox struct {
	rdb *redis.Client
	key string
}

func NewRedisOutbox(rdb *redis.Client) *RedisOutbox {
	return &RedisOutbox{rdb: rdb, key: defaultOutboxKey}
}

func (o *RedisOutbox) Push(ctx context.Context, p PendingEvent) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("outbox: marshal: %w", err)
	}
	if err := o.rdb.HSet(ctx, o.key, p.Event.ID.String(), data).Err(); err != nil {
		return fmt.Errorf("outbox: push %s: %w", p.Event.ID, err)
	}
	return nil
}

func (o *RedisOutbox) Pending(ctx context.Context, limit int) ([]PendingEvent, error) {
	raw, err := o.rdb.HGetAll(ctx, o.key).Result()
	if err != nil {
		return nil, fmt.Errorf("outbox: pending: %w", err)
	}
	out := make([]PendingEvent, 0, len(raw))
	for field, value := range raw {
		var p PendingEvent
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			return nil, fmt.Errorf("outbox: decode %s: %w", field, err)
		}
		out = append(out, p)
	}
	return oldestFirst(out, limit), nil
}

func (o *RedisOutbox) Remove(ctx context.Context, id uuid.UUID) error {
	if err := o.rdb.HDel(ctx, o.key, id.String()).Err(); err != nil {
		return fmt.Errorf("outbox: remove %s: %w", id, err)
	}
	return nil
}

func (o *RedisOutbox) Len(ctx context.Context) (int, error) {
	n, err := o.rdb.HLen(ctx, o.key).Result()
	if err != nil {
		return 0, fmt.Errorf("outbox: len: %w", err)
	}
	return int(n), nil
}
