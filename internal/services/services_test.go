package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-realtime/internal/audit"
	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/repository"
	"sentinal-realtime/internal/repository/memory"
	"sentinal-realtime/internal/transport/wsdto"
	sentinal_errors "sentinal-realtime/pkg/errors"
	"sentinal-realtime/pkg/events"
)

type fakeConn struct {
	id        string
	principal domain.Principal

	mu     sync.Mutex
	frames []wsdto.Frame
}

func newFakeConn(id, principalID string) *fakeConn {
	return &fakeConn{id: id, principal: domain.Principal{ID: principalID, Role: "user"}}
}

func (c *fakeConn) ID() string                  { return c.id }
func (c *fakeConn) Principal() domain.Principal { return c.principal }
func (c *fakeConn) Send(frame []byte) bool {
	var f wsdto.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return true
}

// pushes returns the data of every received frame with the given event.
func (c *fakeConn) pushes(event string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *captureRecorder) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

type failingStore struct {
	*memory.Store
}

func (f failingStore) CreateMessage(context.Context, domain.NewMessage) (domain.Message, []domain.Receipt, error) {
	return domain.Message{}, nil, errors.New("connection reset")
}

type harness struct {
	mr       *miniredis.Miniredis
	client   *goredis.Client
	store    *memory.Store
	rooms    *redis.RoomStore
	typing   *redis.TypingStore
	queue    *redis.OfflineQueue
	recorder *captureRecorder

	presence     *PresenceService
	meta         *ThreadMetaService
	session      *SessionService
	offline      *OfflineService
	messages     *MessageService
	signals      *SignalService
	threadEvents *ThreadEventsService
}

const threadID = "thread-1"

func newHarness(t *testing.T, wrap func(*memory.Store) repository.Store) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := memory.New()
	var store repository.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}

	h := &harness{
		mr:       mr,
		client:   client,
		store:    mem,
		rooms:    redis.NewRoomStore(client, time.Minute),
		typing:   redis.NewTypingStore(client, 6*time.Second),
		queue:    redis.NewOfflineQueue(client, redis.DefaultOfflineQueueConfig(), nil),
		recorder: &captureRecorder{},
	}

	registry := realtime.NewRegistry()
	fanout := realtime.NewLocalFanout(registry, nil)
	limitCfg := redis.DefaultSendLimitConfig()
	limitCfg.Window = time.Hour

	h.presence = NewPresenceService(redis.NewPresenceStore(client, time.Minute), h.rooms, registry, fanout, nil)
	h.meta = NewThreadMetaService(redis.NewThreadCache(client, 5*time.Minute), store, nil)
	h.session = NewSessionService(store, h.meta, h.presence, h.rooms, nil)
	h.offline = NewOfflineService(h.queue, store, nil)
	h.messages = NewMessageService(store, redis.NewRateLimiter(client, limitCfg), h.meta, h.presence, h.rooms, h.offline, fanout, h.recorder, nil)
	h.signals = NewSignalService(store, h.typing, fanout, nil)
	h.threadEvents = NewThreadEventsService(h.meta, h.presence, h.offline, fanout, nil)

	now := time.Now().UTC()
	require.NoError(t, mem.CreateThread(context.Background(), domain.Thread{
		ID:        threadID,
		Type:      domain.ThreadTypeProject,
		CreatedAt: now,
	}, []domain.Participant{
		{UserID: "alice", Role: "client", Profile: domain.Profile{DisplayName: "Alice"}},
		{UserID: "bob", Role: "freelancer", Profile: domain.Profile{DisplayName: "Bob"}},
	}))
	require.NoError(t, mem.CreateThread(context.Background(), domain.Thread{
		ID:        "thread-2",
		Type:      domain.ThreadTypeAdminClient,
		CreatedAt: now,
	}, []domain.Participant{
		{UserID: "alice", Role: "client"},
		{UserID: "admin", Role: "admin"},
	}))
	return h
}

// connect registers conn and, when threads are given, joins each of them.
func (h *harness) connect(t *testing.T, conn *fakeConn, threads ...string) {
	t.Helper()
	require.NoError(t, h.presence.Connect(context.Background(), conn))
	for _, id := range threads {
		_, err := h.session.Join(context.Background(), conn, id)
		require.NoError(t, err)
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestPresenceService(t *testing.T) {
	ctx := context.Background()

	t.Run("should stay online until the last connection closes", func(t *testing.T) {
		h := newHarness(t, nil)
		a1 := newFakeConn("a1", "alice")
		a2 := newFakeConn("a2", "alice")
		h.connect(t, a1)
		h.connect(t, a2)

		online, err := h.presence.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, online)

		offline, err := h.presence.Disconnect(ctx, a1)
		require.NoError(t, err)
		assert.False(t, offline)

		offline, err = h.presence.Disconnect(ctx, a2)
		require.NoError(t, err)
		assert.True(t, offline)

		online, err = h.presence.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("should ignore disconnecting an unknown connection", func(t *testing.T) {
		h := newHarness(t, nil)
		offline, err := h.presence.Disconnect(ctx, newFakeConn("ghost", "alice"))
		require.NoError(t, err)
		assert.False(t, offline)
	})

	t.Run("should keep entries alive through heartbeats", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connect(t, newFakeConn("a1", "alice"), threadID)

		h.mr.FastForward(40 * time.Second)
		h.presence.Heartbeat(ctx)
		h.mr.FastForward(40 * time.Second)

		online, err := h.presence.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, online)

		inRoom, err := h.rooms.Has(ctx, threadID, "alice")
		require.NoError(t, err)
		assert.True(t, inRoom)
	})
}

func TestSessionService(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a non-member", func(t *testing.T) {
		h := newHarness(t, nil)
		mallory := newFakeConn("m1", "mallory")
		h.connect(t, mallory)

		_, err := h.session.Join(ctx, mallory, threadID)
		assert.ErrorIs(t, err, sentinal_errors.ErrNotAMember)
		assert.False(t, h.presence.Registry().IsSubscribed("m1", threadID))
	})

	t.Run("should return the snapshot and push a presence sync", func(t *testing.T) {
		h := newHarness(t, nil)
		bob := newFakeConn("b1", "bob")
		h.connect(t, bob)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice)

		resp, err := h.session.Join(ctx, alice, threadID)
		require.NoError(t, err)
		assert.Equal(t, threadID, resp.Thread.Thread.ID)
		assert.Equal(t, map[string]bool{"alice": true, "bob": true}, resp.Presence)

		syncs := alice.pushes(domain.EventPresenceSync)
		require.Len(t, syncs, 1)
		ps := decode[wsdto.PresenceSyncPayload](t, syncs[0])
		assert.Equal(t, threadID, ps.ThreadID)
		assert.True(t, ps.Presence["bob"])
	})

	t.Run("should announce the first connection of a principal to the room", func(t *testing.T) {
		h := newHarness(t, nil)
		bob := newFakeConn("b1", "bob")
		h.connect(t, bob, threadID)

		a1 := newFakeConn("a1", "alice")
		a2 := newFakeConn("a2", "alice")
		h.connect(t, a1, threadID)
		h.connect(t, a2, threadID)

		pushes := bob.pushes(domain.EventPresence)
		require.Len(t, pushes, 1)
		p := decode[wsdto.PresencePayload](t, pushes[0])
		assert.Equal(t, "alice", p.UserID)
		assert.True(t, p.Online)
		assert.Empty(t, a1.pushes(domain.EventPresence))
	})

	t.Run("should count a repeated join once", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID, threadID)

		n, err := h.rooms.Count(ctx, threadID, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("should treat a second leave as a no-op", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID)

		require.NoError(t, h.session.Leave(ctx, alice, threadID))
		require.NoError(t, h.session.Leave(ctx, alice, threadID))

		inRoom, err := h.rooms.Has(ctx, threadID, "alice")
		require.NoError(t, err)
		assert.False(t, inRoom)
		assert.False(t, h.presence.Registry().IsSubscribed("a1", threadID))
	})

	t.Run("should leave every room and announce offline on disconnect", func(t *testing.T) {
		h := newHarness(t, nil)
		bob := newFakeConn("b1", "bob")
		h.connect(t, bob, threadID)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID, "thread-2")
		bob.reset()

		h.session.Disconnect(ctx, alice)

		pushes := bob.pushes(domain.EventPresence)
		require.Len(t, pushes, 1)
		p := decode[wsdto.PresencePayload](t, pushes[0])
		assert.Equal(t, "alice", p.UserID)
		assert.False(t, p.Online)

		for _, id := range []string{threadID, "thread-2"} {
			inRoom, err := h.rooms.Has(ctx, id, "alice")
			require.NoError(t, err)
			assert.False(t, inRoom)
		}
		online, err := h.presence.IsOnline(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("should not announce offline while another connection remains", func(t *testing.T) {
		h := newHarness(t, nil)
		bob := newFakeConn("b1", "bob")
		h.connect(t, bob, threadID)
		a1 := newFakeConn("a1", "alice")
		a2 := newFakeConn("a2", "alice")
		h.connect(t, a1, threadID)
		h.connect(t, a2, threadID)
		bob.reset()

		h.session.Disconnect(ctx, a1)

		assert.Empty(t, bob.pushes(domain.EventPresence))
		inRoom, err := h.rooms.Has(ctx, threadID, "alice")
		require.NoError(t, err)
		assert.True(t, inRoom)
	})
}

func TestMessageService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("should create one receipt per participant", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID)

		res, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "  hello  ", ClientTempID: "tmp-1"})
		require.NoError(t, err)
		assert.Equal(t, "hello", res.Message.Body)
		assert.Equal(t, domain.MessageTypeText, res.Message.Type)
		assert.Equal(t, "tmp-1", res.ClientTempID)

		receipts, err := h.store.ListReceipts(ctx, res.Message.ID)
		require.NoError(t, err)
		require.Len(t, receipts, 2)
		assert.Equal(t, "alice", receipts[0].UserID)
		assert.NotNil(t, receipts[0].ReadAt)
		assert.NotNil(t, receipts[0].DeliveredAt)
		assert.Equal(t, "bob", receipts[1].UserID)
		assert.Nil(t, receipts[1].ReadAt)

		p, err := h.store.GetParticipant(ctx, threadID, "alice")
		require.NoError(t, err)
		require.NotNil(t, p.LastReadMessageID)
		assert.Equal(t, res.Message.ID, *p.LastReadMessageID)

		require.Len(t, h.recorder.entries, 1)
		assert.Equal(t, audit.ActionMessageSent, h.recorder.entries[0].Action)
	})

	t.Run("should broadcast to the room including the sender", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		bob := newFakeConn("b1", "bob")
		h.connect(t, alice, threadID)
		h.connect(t, bob, threadID)

		res, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "hi", ClientTempID: "tmp-1"})
		require.NoError(t, err)

		for _, c := range []*fakeConn{alice, bob} {
			pushes := c.pushes(domain.EventMessage)
			require.Len(t, pushes, 1)
			p := decode[wsdto.MessagePayload](t, pushes[0])
			assert.Equal(t, res.Message.ID, p.Message.ID)
			assert.Equal(t, "Alice", p.Sender.DisplayName)
			assert.Equal(t, "tmp-1", p.ClientTempID)
		}
		assert.Empty(t, bob.pushes(domain.EventThreadUnread))

		n, err := h.queue.Len(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("should signal unread and mark delivered for an online recipient outside the room", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		bob := newFakeConn("b1", "bob")
		h.connect(t, alice, threadID)
		h.connect(t, bob)

		res, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "ping"})
		require.NoError(t, err)

		assert.Empty(t, bob.pushes(domain.EventMessage))
		unread := bob.pushes(domain.EventThreadUnread)
		require.Len(t, unread, 1)
		p := decode[wsdto.ThreadUnreadPayload](t, unread[0])
		assert.Equal(t, threadID, p.ThreadID)
		assert.Equal(t, res.Message.ID, p.MessageID)
		assert.Equal(t, "alice", p.SenderID)

		receipts, err := h.store.ListReceipts(ctx, res.Message.ID)
		require.NoError(t, err)
		assert.NotNil(t, receipts[1].DeliveredAt)
	})

	t.Run("should queue for an offline recipient and replay on reconnect", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID)

		res, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "while you were out"})
		require.NoError(t, err)

		n, err := h.queue.Len(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		receipts, err := h.store.ListReceipts(ctx, res.Message.ID)
		require.NoError(t, err)
		assert.Nil(t, receipts[1].DeliveredAt)

		bob := newFakeConn("b1", "bob")
		h.connect(t, bob)
		replayed, err := h.offline.Replay(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, 1, replayed)

		pushes := bob.pushes(domain.EventMessage)
		require.Len(t, pushes, 1)
		p := decode[wsdto.MessagePayload](t, pushes[0])
		assert.Equal(t, res.Message.ID, p.Message.ID)
		assert.Equal(t, "while you were out", p.Message.Body)

		receipts, err = h.store.ListReceipts(ctx, res.Message.ID)
		require.NoError(t, err)
		assert.NotNil(t, receipts[1].DeliveredAt)

		n, err = h.queue.Len(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("should queue for a recipient whose instance died while in the room", func(t *testing.T) {
		h := newHarness(t, nil)

		// bob joined through another instance that went away without cleanup.
		_, err := redis.NewPresenceStore(h.client, time.Minute).MarkOnline(ctx, "bob")
		require.NoError(t, err)
		_, err = h.rooms.Join(ctx, threadID, "bob", "lost-b1")
		require.NoError(t, err)

		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID)
		for i := 0; i < 6; i++ {
			h.mr.FastForward(30 * time.Second)
			h.presence.Heartbeat(ctx)
		}

		inRoom, err := h.rooms.Has(ctx, threadID, "bob")
		require.NoError(t, err)
		assert.False(t, inRoom)

		res, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "hello"})
		require.NoError(t, err)

		n, err := h.queue.Len(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		receipts, err := h.store.ListReceipts(ctx, res.Message.ID)
		require.NoError(t, err)
		assert.Nil(t, receipts[1].DeliveredAt)

		bob := newFakeConn("b1", "bob")
		h.connect(t, bob, threadID)
		pushes := alice.pushes(domain.EventPresence)
		require.Len(t, pushes, 1)
		assert.Equal(t, "bob", decode[wsdto.PresencePayload](t, pushes[0]).UserID)
	})

	t.Run("should queue for an offline recipient still listed in the room", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.rooms.Join(ctx, threadID, "bob", "lost-b1")
		require.NoError(t, err)

		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID)

		_, err = h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "hello"})
		require.NoError(t, err)

		n, err := h.queue.Len(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("should reject an empty body", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID)

		_, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "   "})
		assert.ErrorIs(t, err, sentinal_errors.ErrValidation)
		assert.Empty(t, alice.pushes(domain.EventMessage))
	})

	t.Run("should reject an unknown message type", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")

		_, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "x", Type: "sticker"})
		assert.ErrorIs(t, err, sentinal_errors.ErrValidation)
	})

	t.Run("should reject a non-member", func(t *testing.T) {
		h := newHarness(t, nil)
		mallory := newFakeConn("m1", "mallory")

		_, err := h.messages.Send(ctx, mallory, SendInput{ThreadID: threadID, Body: "let me in"})
		assert.ErrorIs(t, err, sentinal_errors.ErrNotAMember)
	})

	t.Run("should rate limit the 26th send in a window", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice, threadID)

		for i := 0; i < 25; i++ {
			_, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "spam"})
			require.NoError(t, err)
		}
		_, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "spam"})
		assert.ErrorIs(t, err, sentinal_errors.ErrRateLimited)
		assert.Len(t, alice.pushes(domain.EventMessage), 25)
	})

	t.Run("should leave no trace when persistence fails", func(t *testing.T) {
		h := newHarness(t, func(m *memory.Store) repository.Store { return failingStore{Store: m} })
		alice := newFakeConn("a1", "alice")
		bob := newFakeConn("b1", "bob")
		h.connect(t, alice, threadID)
		h.connect(t, bob)

		_, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "lost"})
		require.Error(t, err)

		assert.Empty(t, alice.pushes(domain.EventMessage))
		assert.Empty(t, bob.pushes(domain.EventThreadUnread))
		assert.Empty(t, h.recorder.entries)

		n, err := h.queue.Len(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSignalService(t *testing.T) {
	ctx := context.Background()

	t.Run("should relay typing to the rest of the room", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		bob := newFakeConn("b1", "bob")
		h.connect(t, alice, threadID)
		h.connect(t, bob, threadID)

		require.NoError(t, h.signals.SetTyping(ctx, bob, threadID, true))

		pushes := alice.pushes(domain.EventTyping)
		require.Len(t, pushes, 1)
		p := decode[wsdto.TypingPayload](t, pushes[0])
		assert.Equal(t, "bob", p.UserID)
		assert.True(t, p.IsTyping)
		assert.Empty(t, bob.pushes(domain.EventTyping))

		typing, err := h.typing.IsTyping(ctx, threadID, "bob")
		require.NoError(t, err)
		assert.True(t, typing)

		require.NoError(t, h.signals.SetTyping(ctx, bob, threadID, false))
		typing, err = h.typing.IsTyping(ctx, threadID, "bob")
		require.NoError(t, err)
		assert.False(t, typing)
	})

	t.Run("should reject typing from a non-member", func(t *testing.T) {
		h := newHarness(t, nil)
		err := h.signals.SetTyping(ctx, newFakeConn("m1", "mallory"), threadID, true)
		assert.ErrorIs(t, err, sentinal_errors.ErrNotAMember)
	})

	t.Run("should record a read and tell the room", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		bob := newFakeConn("b1", "bob")
		h.connect(t, alice, threadID)
		h.connect(t, bob, threadID)

		res, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "read me"})
		require.NoError(t, err)

		payload, err := h.signals.MarkRead(ctx, bob, threadID, res.Message.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", payload.UserID)
		assert.False(t, payload.ReadAt.IsZero())

		pushes := alice.pushes(domain.EventRead)
		require.Len(t, pushes, 1)
		p := decode[wsdto.ReadPayload](t, pushes[0])
		assert.Equal(t, res.Message.ID, p.MessageID)
		assert.Equal(t, "bob", p.UserID)

		receipts, err := h.store.ListReceipts(ctx, res.Message.ID)
		require.NoError(t, err)
		assert.NotNil(t, receipts[1].ReadAt)

		participant, err := h.store.GetParticipant(ctx, threadID, "bob")
		require.NoError(t, err)
		require.NotNil(t, participant.LastReadMessageID)
		assert.Equal(t, res.Message.ID, *participant.LastReadMessageID)
	})

	t.Run("should reject a message from another thread", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		h.connect(t, alice)

		res, err := h.messages.Send(ctx, alice, SendInput{ThreadID: "thread-2", Body: "elsewhere"})
		require.NoError(t, err)

		_, err = h.signals.MarkRead(ctx, alice, threadID, res.Message.ID)
		assert.ErrorIs(t, err, sentinal_errors.ErrNotFound)
	})

	t.Run("should reject a read from a non-member", func(t *testing.T) {
		h := newHarness(t, nil)
		alice := newFakeConn("a1", "alice")
		res, err := h.messages.Send(ctx, alice, SendInput{ThreadID: threadID, Body: "private"})
		require.NoError(t, err)

		_, err = h.signals.MarkRead(ctx, newFakeConn("m1", "mallory"), threadID, res.Message.ID)
		assert.ErrorIs(t, err, sentinal_errors.ErrNotAMember)
	})
}

func TestThreadEventsService(t *testing.T) {
	ctx := context.Background()

	t.Run("should push to online participants and queue for offline ones", func(t *testing.T) {
		h := newHarness(t, nil)
		carol := newFakeConn("c1", "carol")
		h.connect(t, carol)

		bus := events.NewBus(nil)
		unsubscribe := h.threadEvents.Subscribe(bus)
		defer unsubscribe()

		evt := domain.ThreadCreated{
			Thread: domain.Thread{ID: "thread-new", Type: domain.ThreadTypeProject, CreatedAt: time.Now().UTC()},
			Participants: []domain.Participant{
				{ThreadID: "thread-new", UserID: "carol", Role: "client"},
				{ThreadID: "thread-new", UserID: "dave", Role: "freelancer"},
			},
		}
		assert.Equal(t, 1, events.Publish(ctx, bus, domain.TopicThreadCreated, evt))

		pushes := carol.pushes(domain.EventThreadCreated)
		require.Len(t, pushes, 1)
		snap := decode[domain.ThreadSnapshot](t, pushes[0])
		assert.Equal(t, "thread-new", snap.Thread.ID)
		assert.Len(t, snap.Participants, 2)

		n, err := h.queue.Len(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		// The thread only exists in the event, so a hit proves the cache was seeded.
		cached, err := h.meta.Get(ctx, "thread-new")
		require.NoError(t, err)
		require.NotNil(t, cached)
		assert.Equal(t, []string{"carol", "dave"}, cached.ParticipantIDs())

		dave := newFakeConn("d1", "dave")
		h.connect(t, dave)
		replayed, err := h.offline.Replay(ctx, dave)
		require.NoError(t, err)
		assert.Equal(t, 1, replayed)
		assert.Len(t, dave.pushes(domain.EventThreadCreated), 1)
	})
}

func TestThreadMetaService(t *testing.T) {
	ctx := context.Background()

	t.Run("should return nil for an unknown thread", func(t *testing.T) {
		h := newHarness(t, nil)
		snap, err := h.meta.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("should load through the cache", func(t *testing.T) {
		h := newHarness(t, nil)
		snap, err := h.meta.Get(ctx, threadID)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.True(t, h.mr.Exists("thread:meta:"+threadID))

		require.NoError(t, h.meta.Invalidate(ctx, threadID))
		assert.False(t, h.mr.Exists("thread:meta:"+threadID))
	})
}
