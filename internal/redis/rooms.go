package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Room key pattern:
// - room:{thread_id}:{principal_id} - sorted set connection_id -> expiry (unix ms)
//
// Each member is refreshed only by the instance holding that connection, so
// connections of a crashed instance lapse on their own.
const roomPrefix = "room:"

var roomJoinScript = goredis.NewScript(`
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	return redis.call('ZCARD', KEYS[1])
`)

var roomLeaveScript = goredis.NewScript(`
	redis.call('ZREM', KEYS[1], ARGV[1])
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
	local n = redis.call('ZCARD', KEYS[1])
	if n == 0 then
		redis.call('DEL', KEYS[1])
	end
	return n
`)

// RoomMember is one connection subscribed to a thread room.
type RoomMember struct {
	ThreadID    string
	PrincipalID string
	ConnID      string
}

// RoomStore tracks which connections are subscribed to a thread room across
// instances.
type RoomStore struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRoomStore(client *goredis.Client, ttl time.Duration) *RoomStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RoomStore{client: client, ttl: ttl, now: time.Now}
}

func roomKey(threadID, principalID string) string {
	return roomPrefix + threadID + ":" + principalID
}

func unixMilli(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Join subscribes connID and returns how many live connections the principal
// now has in the room.
func (r *RoomStore) Join(ctx context.Context, threadID, principalID, connID string) (int64, error) {
	now := r.now()
	return roomJoinScript.Run(ctx, r.client, []string{roomKey(threadID, principalID)},
		connID, unixMilli(now), unixMilli(now.Add(r.ttl)), r.ttl.Milliseconds()).Int64()
}

// Leave removes connID and returns how many live connections remain for the
// principal. Leaving twice is harmless.
func (r *RoomStore) Leave(ctx context.Context, threadID, principalID, connID string) (int64, error) {
	return roomLeaveScript.Run(ctx, r.client, []string{roomKey(threadID, principalID)},
		connID, unixMilli(r.now())).Int64()
}

// Has reports whether principalID has any live connection in the room.
func (r *RoomStore) Has(ctx context.Context, threadID, principalID string) (bool, error) {
	n, err := r.Count(ctx, threadID, principalID)
	return n > 0, err
}

// Count returns the principal's live connections in the room. Members whose
// expiry has passed are not counted.
func (r *RoomStore) Count(ctx context.Context, threadID, principalID string) (int64, error) {
	return r.client.ZCount(ctx, roomKey(threadID, principalID), "("+unixMilli(r.now()), "+inf").Result()
}

// Refresh extends the expiry of the given members. Members already removed
// are not recreated.
func (r *RoomStore) Refresh(ctx context.Context, members []RoomMember) error {
	if len(members) == 0 {
		return nil
	}
	expiry := float64(r.now().Add(r.ttl).UnixMilli())
	pipe := r.client.Pipeline()
	for _, m := range members {
		key := roomKey(m.ThreadID, m.PrincipalID)
		pipe.ZAddXX(ctx, key, goredis.Z{Score: expiry, Member: m.ConnID})
		pipe.PExpire(ctx, key, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
