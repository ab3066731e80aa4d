package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis key prefixes for presence
const (
	presenceCountPrefix  = "presence:count:"  // number of open connections across instances
	presenceOnlinePrefix = "presence:online:" // flag, present while online
)

// markOffline decrements the counter; at zero or below it removes both keys
// and returns 1.
var markOfflineScript = goredis.NewScript(`
	local n = redis.call('DECR', KEYS[1])
	if n <= 0 then
		redis.call('DEL', KEYS[1], KEYS[2])
		return 1
	end
	redis.call('EXPIRE', KEYS[1], ARGV[1])
	return 0
`)

// PresenceStore keeps reference-counted presence per principal.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &PresenceStore{client: client, ttl: ttl}
}

func (p *PresenceStore) TTL() time.Duration { return p.ttl }

// MarkOnline increments the connection counter and (re)sets the online flag.
// It returns the counter after the increment.
func (p *PresenceStore) MarkOnline(ctx context.Context, principalID string) (int64, error) {
	var incr *goredis.IntCmd
	_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, presenceCountPrefix+principalID)
		pipe.Expire(ctx, presenceCountPrefix+principalID, p.ttl)
		pipe.Set(ctx, presenceOnlinePrefix+principalID, "1", p.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MarkOffline decrements the counter and reports whether the principal has
// no connections left.
func (p *PresenceStore) MarkOffline(ctx context.Context, principalID string) (bool, error) {
	keys := []string{presenceCountPrefix + principalID, presenceOnlinePrefix + principalID}
	res, err := markOfflineScript.Run(ctx, p.client, keys, int(p.ttl.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (p *PresenceStore) IsOnline(ctx context.Context, principalID string) (bool, error) {
	n, err := p.client.Exists(ctx, presenceOnlinePrefix+principalID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PresenceStore) IsOnlineBulk(ctx context.Context, principalIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(principalIDs))
	if len(principalIDs) == 0 {
		return result, nil
	}

	pipe := p.client.Pipeline()
	cmds := make(map[string]*goredis.IntCmd, len(principalIDs))
	for _, id := range principalIDs {
		cmds[id] = pipe.Exists(ctx, presenceOnlinePrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for id, cmd := range cmds {
		result[id] = cmd.Val() > 0
	}
	return result, nil
}

// Heartbeat refreshes the flag and counter TTL of every principal that still
// has an open connection on this instance.
func (p *PresenceStore) Heartbeat(ctx context.Context, principalIDs []string) error {
	if len(principalIDs) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, id := range principalIDs {
		pipe.Set(ctx, presenceOnlinePrefix+id, "1", p.ttl)
		pipe.Expire(ctx, presenceCountPrefix+id, p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
