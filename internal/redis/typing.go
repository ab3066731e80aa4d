package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// TypingStore holds short-lived per-(thread, principal) typing flags.
type TypingStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewTypingStore(client *goredis.Client, ttl time.Duration) *TypingStore {
	if ttl <= 0 {
		ttl = 6 * time.Second
	}
	return &TypingStore{client: client, ttl: ttl}
}

func typingKey(threadID, principalID string) string {
	return fmt.Sprintf("typing:%s:%s", threadID, principalID)
}

// Set stores the flag with TTL when typing, or removes it otherwise.
func (t *TypingStore) Set(ctx context.Context, threadID, principalID string, isTyping bool) error {
	if isTyping {
		return t.client.Set(ctx, typingKey(threadID, principalID), "1", t.ttl).Err()
	}
	return t.client.Del(ctx, typingKey(threadID, principalID)).Err()
}

func (t *TypingStore) IsTyping(ctx context.Context, threadID, principalID string) (bool, error) {
	n, err := t.client.Exists(ctx, typingKey(threadID, principalID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
