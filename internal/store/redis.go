package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQuoteCache keeps book snapshots in one Redis hash per event, so a
// single DEL invalidates every outcome and depth of the event.
type RedisQuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisQuoteCache creates a cache whose entries expire after ttl.
func NewRedisQuoteCache(rdb *redis.Client, ttl time.Duration) *RedisQuoteCache {
	return &RedisQuoteCache{rdb: rdb, ttl: ttl}
}

func (c *RedisQuoteCache) GetBook(ctx context.Context, eventID string, outcome, depth int) (*BookSnapshot, error) {
	data, err := c.rdb.HGet(ctx, bookKey(eventID), bookField(outcome, depth)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var snap BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, ErrCacheMiss
	}
	return &snap, nil
}

func (c *RedisQuoteCache) SetBook(ctx context.Context, depth int, snap *BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	key := bookKey(snap.EventID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, bookField(snap.Outcome, depth), data)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisQuoteCache) Invalidate(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, bookKey(eventID)).Err()
}

func bookKey(eventID string) string { return fmt.Sprintf("book:%s", eventID) }
