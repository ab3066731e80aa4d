package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
)

// Offline queue key patterns:
// - offline:{principal_id}        - list, trimmed to the last Cap entries
// - offline:{principal_id}:pinned - list of thread-created envelopes, never trimmed
// - offline:{principal_id}:seq    - counter ordering entries across both lists
type OfflineQueueConfig struct {
	Cap int
	TTL time.Duration
	// PinThreadCreated keeps thread-created envelopes out of the trimmed list.
	PinThreadCreated bool
}

func DefaultOfflineQueueConfig() OfflineQueueConfig {
	return OfflineQueueConfig{
		Cap:              200,
		TTL:              7 * 24 * time.Hour,
		PinThreadCreated: true,
	}
}

type OfflineQueue struct {
	client *goredis.Client
	config OfflineQueueConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewOfflineQueue(client *goredis.Client, config OfflineQueueConfig, logger *zap.Logger) *OfflineQueue {
	if config.Cap <= 0 {
		config.Cap = 200
	}
	if config.TTL <= 0 {
		config.TTL = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfflineQueue{client: client, config: config, logger: logger, now: time.Now}
}

func offlineKey(principalID string) string       { return "offline:" + principalID }
func offlinePinnedKey(principalID string) string { return "offline:" + principalID + ":pinned" }
func offlineSeqKey(principalID string) string    { return "offline:" + principalID + ":seq" }

// Enqueue appends env to the principal's queue, assigning Seq and EnqueuedAt.
func (q *OfflineQueue) Enqueue(ctx context.Context, principalID string, env domain.Envelope) (domain.Envelope, error) {
	seq, err := q.client.Incr(ctx, offlineSeqKey(principalID)).Result()
	if err != nil {
		return env, fmt.Errorf("offline seq: %w", err)
	}
	env.Seq = seq
	env.ParticipantID = principalID
	env.EnqueuedAt = q.now().UTC()

	data, err := json.Marshal(env)
	if err != nil {
		return env, err
	}

	pinned := q.config.PinThreadCreated && env.Event == domain.EventThreadCreated
	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if pinned {
			pipe.RPush(ctx, offlinePinnedKey(principalID), data)
			pipe.Expire(ctx, offlinePinnedKey(principalID), q.config.TTL)
		} else {
			pipe.RPush(ctx, offlineKey(principalID), data)
			pipe.LTrim(ctx, offlineKey(principalID), int64(-q.config.Cap), -1)
			pipe.Expire(ctx, offlineKey(principalID), q.config.TTL)
		}
		pipe.Expire(ctx, offlineSeqKey(principalID), q.config.TTL)
		return nil
	})
	if err != nil {
		return env, fmt.Errorf("offline enqueue: %w", err)
	}
	return env, nil
}

// Drain atomically reads and clears the principal's queue and returns the
// envelopes in enqueue order.
func (q *OfflineQueue) Drain(ctx context.Context, principalID string) ([]domain.Envelope, error) {
	var trimmed, pinned *goredis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		trimmed = pipe.LRange(ctx, offlineKey(principalID), 0, -1)
		pinned = pipe.LRange(ctx, offlinePinnedKey(principalID), 0, -1)
		pipe.Del(ctx, offlineKey(principalID), offlinePinnedKey(principalID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("offline drain: %w", err)
	}

	raw := append(trimmed.Val(), pinned.Val()...)
	out := make([]domain.Envelope, 0, len(raw))
	for _, item := range raw {
		var env domain.Envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			q.logger.Warn("Dropping malformed offline envelope",
				zap.String("principal_id", principalID), zap.Error(err))
			continue
		}
		out = append(out, env)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Len returns the number of queued envelopes across both lists.
func (q *OfflineQueue) Len(ctx context.Context, principalID string) (int64, error) {
	pipe := q.client.Pipeline()
	a := pipe.LLen(ctx, offlineKey(principalID))
	b := pipe.LLen(ctx, offlinePinnedKey(principalID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return a.Val() + b.Val(), nil
}
