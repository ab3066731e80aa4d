package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sentinal-realtime/internal/domain"
)

// Cache key pattern:
// - thread:meta:{thread_id} - 5m TTL, ThreadSnapshot JSON
const threadMetaPrefix = "thread:meta:"

// ThreadCache stores thread snapshots. It is never used for authorization.
type ThreadCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewThreadCache(client *goredis.Client, ttl time.Duration) *ThreadCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ThreadCache{client: client, ttl: ttl}
}

// Get returns the cached snapshot, or nil on a miss.
func (c *ThreadCache) Get(ctx context.Context, threadID string) (*domain.ThreadSnapshot, error) {
	data, err := c.client.Get(ctx, threadMetaPrefix+threadID).Bytes()
	if err == goredis.Nil {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}

	var snap domain.ThreadSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *ThreadCache) Put(ctx context.Context, snap *domain.ThreadSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, threadMetaPrefix+snap.Thread.ID, data, c.ttl).Err()
}

func (c *ThreadCache) Invalidate(ctx context.Context, threadID string) error {
	return c.client.Del(ctx, threadMetaPrefix+threadID).Err()
}
