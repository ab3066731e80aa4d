package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-realtime/internal/domain"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPresenceStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should stay online until the last connection goes away", func(t *testing.T) {
		_, client := newTestClient(t)
		store := NewPresenceStore(client, time.Minute)

		n, err := store.MarkOnline(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = store.MarkOnline(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		offline, err := store.MarkOffline(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, offline)

		online, err := store.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, online)

		offline, err = store.MarkOffline(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, offline)

		online, err = store.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("should expire without heartbeat", func(t *testing.T) {
		mr, client := newTestClient(t)
		store := NewPresenceStore(client, time.Minute)

		_, err := store.MarkOnline(ctx, "alice")
		require.NoError(t, err)

		mr.FastForward(61 * time.Second)

		online, err := store.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("should survive past the TTL while heartbeats continue", func(t *testing.T) {
		mr, client := newTestClient(t)
		store := NewPresenceStore(client, time.Minute)

		_, err := store.MarkOnline(ctx, "alice")
		require.NoError(t, err)

		mr.FastForward(40 * time.Second)
		require.NoError(t, store.Heartbeat(ctx, []string{"alice"}))
		mr.FastForward(40 * time.Second)

		online, err := store.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, online)
	})

	t.Run("should report offline when the counter already expired", func(t *testing.T) {
		mr, client := newTestClient(t)
		store := NewPresenceStore(client, time.Minute)

		_, err := store.MarkOnline(ctx, "alice")
		require.NoError(t, err)
		mr.FastForward(2 * time.Minute)

		offline, err := store.MarkOffline(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, offline)
		assert.False(t, mr.Exists(presenceCountPrefix+"alice"))
	})

	t.Run("should read presence in bulk", func(t *testing.T) {
		_, client := newTestClient(t)
		store := NewPresenceStore(client, time.Minute)

		_, err := store.MarkOnline(ctx, "alice")
		require.NoError(t, err)

		got, err := store.IsOnlineBulk(ctx, []string{"alice", "bob"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"alice": true, "bob": false}, got)
	})
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow the limit and reject one more in the same window", func(t *testing.T) {
		_, client := newTestClient(t)
		limiter := NewRateLimiter(client, DefaultSendLimitConfig())
		clock := time.Unix(1_700_000_040, 0)
		limiter.now = func() time.Time { return clock }

		for i := 0; i < 25; i++ {
			res, err := limiter.CheckAndIncrement(ctx, "alice")
			require.NoError(t, err, "send %d", i+1)
			assert.True(t, res.Allowed)
		}

		res, err := limiter.CheckAndIncrement(ctx, "alice")
		assert.ErrorIs(t, err, sentinal_errors.ErrRateLimited)
		require.NotNil(t, res)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)

		other, err := limiter.CheckAndIncrement(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, 24, other.Remaining)

		clock = clock.Add(60 * time.Second)
		res, err = limiter.CheckAndIncrement(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count)
	})

	t.Run("should set the window TTL on first increment", func(t *testing.T) {
		mr, client := newTestClient(t)
		limiter := NewRateLimiter(client, RateLimitConfig{Action: "handshake", Limit: 2, Window: 30 * time.Second})
		limiter.now = func() time.Time { return time.Unix(300, 0) }

		_, err := limiter.CheckAndIncrement(ctx, "10.0.0.1")
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:10.0.0.1:handshake:10"))
	})
}

func TestThreadCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	cache := NewThreadCache(client, 5*time.Minute)

	t.Run("should return nil on a miss", func(t *testing.T) {
		snap, err := cache.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("should round trip and expire", func(t *testing.T) {
		in := &domain.ThreadSnapshot{
			Thread:       domain.Thread{ID: "t1", Type: domain.ThreadTypeProject},
			Participants: []domain.Participant{{ThreadID: "t1", UserID: "alice", Profile: domain.Profile{DisplayName: "Alice"}}},
		}
		require.NoError(t, cache.Put(ctx, in))

		got, err := cache.Get(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Alice", got.Participants[0].Profile.DisplayName)

		mr.FastForward(5*time.Minute + time.Second)
		got, err = cache.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("should drop the entry on invalidate", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, &domain.ThreadSnapshot{Thread: domain.Thread{ID: "t2"}}))
		require.NoError(t, cache.Invalidate(ctx, "t2"))

		got, err := cache.Get(ctx, "t2")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRoomStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should count connections per principal", func(t *testing.T) {
		_, client := newTestClient(t)
		rooms := NewRoomStore(client, time.Minute)

		n, err := rooms.Join(ctx, "t1", "alice", "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = rooms.Join(ctx, "t1", "alice", "c2")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		left, err := rooms.Leave(ctx, "t1", "alice", "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), left)
		left, err = rooms.Leave(ctx, "t1", "alice", "c2")
		require.NoError(t, err)
		assert.Equal(t, int64(0), left)

		has, err := rooms.Has(ctx, "t1", "alice")
		require.NoError(t, err)
		assert.False(t, has)

		left, err = rooms.Leave(ctx, "t1", "alice", "c2")
		require.NoError(t, err)
		assert.Equal(t, int64(0), left)
		count, err := rooms.Count(ctx, "t1", "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("should count a rejoin of the same connection once", func(t *testing.T) {
		_, client := newTestClient(t)
		rooms := NewRoomStore(client, time.Minute)

		_, err := rooms.Join(ctx, "t1", "alice", "c1")
		require.NoError(t, err)
		n, err := rooms.Join(ctx, "t1", "alice", "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("should drop a connection that is no longer refreshed", func(t *testing.T) {
		_, client := newTestClient(t)
		rooms := NewRoomStore(client, time.Minute)
		now := time.Now()
		rooms.now = func() time.Time { return now }

		_, err := rooms.Join(ctx, "t1", "bob", "dead")
		require.NoError(t, err)
		_, err = rooms.Join(ctx, "t1", "bob", "live")
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			now = now.Add(30 * time.Second)
			require.NoError(t, rooms.Refresh(ctx, []RoomMember{{ThreadID: "t1", PrincipalID: "bob", ConnID: "live"}}))
		}

		count, err := rooms.Count(ctx, "t1", "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		left, err := rooms.Leave(ctx, "t1", "bob", "live")
		require.NoError(t, err)
		assert.Equal(t, int64(0), left)
	})

	t.Run("should expire a room nobody refreshes", func(t *testing.T) {
		mr, client := newTestClient(t)
		rooms := NewRoomStore(client, time.Minute)

		_, err := rooms.Join(ctx, "t1", "bob", "c1")
		require.NoError(t, err)
		mr.FastForward(2 * time.Minute)

		has, err := rooms.Has(ctx, "t1", "bob")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("should not recreate a member on refresh after leave", func(t *testing.T) {
		_, client := newTestClient(t)
		rooms := NewRoomStore(client, time.Minute)

		_, err := rooms.Join(ctx, "t1", "bob", "c1")
		require.NoError(t, err)
		_, err = rooms.Leave(ctx, "t1", "bob", "c1")
		require.NoError(t, err)
		require.NoError(t, rooms.Refresh(ctx, []RoomMember{{ThreadID: "t1", PrincipalID: "bob", ConnID: "c1"}}))

		has, err := rooms.Has(ctx, "t1", "bob")
		require.NoError(t, err)
		assert.False(t, has)
	})
}

func TestTypingStore(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	typing := NewTypingStore(client, 6*time.Second)

	require.NoError(t, typing.Set(ctx, "t1", "alice", true))
	on, err := typing.IsTyping(ctx, "t1", "alice")
	require.NoError(t, err)
	assert.True(t, on)

	mr.FastForward(7 * time.Second)
	on, err = typing.IsTyping(ctx, "t1", "alice")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, typing.Set(ctx, "t1", "alice", true))
	require.NoError(t, typing.Set(ctx, "t1", "alice", false))
	on, err = typing.IsTyping(ctx, "t1", "alice")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestOfflineQueue(t *testing.T) {
	ctx := context.Background()

	message := func(i int) domain.Envelope {
		return domain.Envelope{Event: domain.EventMessage, Payload: []byte(`{}`), MessageID: string(rune('a' + i%26))}
	}

	t.Run("should keep only the newest entries past the cap", func(t *testing.T) {
		_, client := newTestClient(t)
		queue := NewOfflineQueue(client, DefaultOfflineQueueConfig(), nil)

		for i := 0; i < 201; i++ {
			_, err := queue.Enqueue(ctx, "bob", message(i))
			require.NoError(t, err)
		}

		n, err := queue.Len(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(200), n)

		envs, err := queue.Drain(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, envs, 200)
		assert.Equal(t, int64(2), envs[0].Seq)
		assert.Equal(t, int64(201), envs[199].Seq)
		assert.Equal(t, "bob", envs[0].ParticipantID)

		n, err = queue.Len(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("should exempt thread-created envelopes from the cap when pinned", func(t *testing.T) {
		_, client := newTestClient(t)
		queue := NewOfflineQueue(client, OfflineQueueConfig{Cap: 3, TTL: time.Hour, PinThreadCreated: true}, nil)

		_, err := queue.Enqueue(ctx, "bob", domain.Envelope{Event: domain.EventThreadCreated, Payload: []byte(`{}`), ThreadID: "t9"})
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			_, err := queue.Enqueue(ctx, "bob", message(i))
			require.NoError(t, err)
		}

		envs, err := queue.Drain(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, envs, 4)
		assert.Equal(t, domain.EventThreadCreated, envs[0].Event)
		assert.Equal(t, []int64{1, 4, 5, 6}, []int64{envs[0].Seq, envs[1].Seq, envs[2].Seq, envs[3].Seq})
	})

	t.Run("should trim thread-created envelopes like any other when not pinned", func(t *testing.T) {
		_, client := newTestClient(t)
		queue := NewOfflineQueue(client, OfflineQueueConfig{Cap: 3, TTL: time.Hour}, nil)

		_, err := queue.Enqueue(ctx, "bob", domain.Envelope{Event: domain.EventThreadCreated, Payload: []byte(`{}`)})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err := queue.Enqueue(ctx, "bob", message(i))
			require.NoError(t, err)
		}

		envs, err := queue.Drain(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, envs, 3)
		for _, env := range envs {
			assert.Equal(t, domain.EventMessage, env.Event)
		}
	})

	t.Run("should expire the queue after its TTL", func(t *testing.T) {
		mr, client := newTestClient(t)
		queue := NewOfflineQueue(client, OfflineQueueConfig{Cap: 10, TTL: time.Hour}, nil)

		_, err := queue.Enqueue(ctx, "bob", message(0))
		require.NoError(t, err)
		mr.FastForward(time.Hour + time.Second)

		envs, err := queue.Drain(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, envs)
	})
}
