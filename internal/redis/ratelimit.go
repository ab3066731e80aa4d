package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	sentinal_errors "sentinal-realtime/pkg/errors"
)

// Rate limiting key pattern:
// - ratelimit:{subject}:{action}:{windowIndex} - TTL = window
//
// Windows are fixed, so a burst straddling a boundary may pass up to twice
// the limit.

// RateLimitConfig contains configuration for one limited action
type RateLimitConfig struct {
	Action string        // Key segment, e.g. "send" or "handshake"
	Limit  int           // Max actions per window
	Window time.Duration // Window length
}

// DefaultSendLimitConfig returns the message send limit
func DefaultSendLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Action: "send",
		Limit:  25,
		Window: 60 * time.Second,
	}
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Count     int           // Counter value after this call
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

// incrWindow increments the window counter and sets its TTL on first use.
var incrWindowScript = goredis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RateLimiter handles fixed-window rate limiting using Redis
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	if config.Window < time.Second {
		config.Window = time.Second
	}
	return &RateLimiter{
		client: client,
		config: config,
		now:    time.Now,
	}
}

func (r *RateLimiter) key(subject string, windowIndex int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", subject, r.config.Action, windowIndex)
}

// CheckAndIncrement counts one action for subject. When the count exceeds
// the limit it returns the result together with ErrRateLimited.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, subject string) (*RateLimitResult, error) {
	windowSecs := int64(r.config.Window / time.Second)
	nowUnix := r.now().Unix()
	index := nowUnix / windowSecs

	count, err := incrWindowScript.Run(ctx, r.client, []string{r.key(subject, index)}, windowSecs).Int()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	remaining := r.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	result := &RateLimitResult{
		Allowed:   count <= r.config.Limit,
		Count:     count,
		Remaining: remaining,
		ResetIn:   time.Duration((index+1)*windowSecs-nowUnix) * time.Second,
		Limit:     r.config.Limit,
	}
	if !result.Allowed {
		return result, sentinal_errors.ErrRateLimited
	}
	return result, nil
}
