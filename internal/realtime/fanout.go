package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"sentinal-realtime/internal/redis"
)

// Broadcaster pushes encoded frames to thread rooms and to principals.
type Broadcaster interface {
	// ToThread delivers frame to every connection in the room except exceptConnID.
	ToThread(ctx context.Context, threadID string, frame []byte, exceptConnID string) error
	// ToUser delivers frame to every connection of the principal.
	ToUser(ctx context.Context, principalID string, frame []byte) error
}

type fanoutMessage struct {
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Fanout delivers pushes to local connections. With a publisher configured
// every push goes through Redis pub/sub so all gateway instances deliver to
// their own connections; without one delivery is local only.
type Fanout struct {
	registry   *Registry
	publisher  *redis.Publisher
	subscriber *redis.Subscriber
	logger     *zap.Logger
}

func NewLocalFanout(registry *Registry, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{registry: registry, logger: logger}
}

func NewRedisFanout(registry *Registry, publisher *redis.Publisher, subscriber *redis.Subscriber, logger *zap.Logger) *Fanout {
	f := NewLocalFanout(registry, logger)
	f.publisher = publisher
	f.subscriber = subscriber
	return f
}

func (f *Fanout) ToThread(ctx context.Context, threadID string, frame []byte, exceptConnID string) error {
	if f.publisher == nil {
		f.deliverThread(threadID, frame, exceptConnID)
		return nil
	}
	return f.publish(ctx, redis.ThreadChannelPrefix+threadID, frame, exceptConnID)
}

func (f *Fanout) ToUser(ctx context.Context, principalID string, frame []byte) error {
	if f.publisher == nil {
		f.deliverUser(principalID, frame)
		return nil
	}
	return f.publish(ctx, redis.UserChannelPrefix+principalID, frame, "")
}

func (f *Fanout) publish(ctx context.Context, channel string, frame []byte, except string) error {
	payload, err := json.Marshal(fanoutMessage{Except: except, Frame: frame})
	if err != nil {
		return err
	}
	return f.publisher.Publish(ctx, channel, payload)
}

// Run consumes the pub/sub fan-out until ctx is done. It returns immediately
// for a local fanout.
func (f *Fanout) Run(ctx context.Context, onReady func()) error {
	if f.subscriber == nil {
		if onReady != nil {
			onReady()
		}
		return nil
	}
	err := f.subscriber.Subscribe(ctx, []string{redis.FanoutPattern}, onReady, f.handle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (f *Fanout) handle(channel string, payload []byte) {
	var msg fanoutMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Warn("Dropping malformed fanout message", zap.String("channel", channel), zap.Error(err))
		return
	}

	switch {
	case strings.HasPrefix(channel, redis.ThreadChannelPrefix):
		f.deliverThread(strings.TrimPrefix(channel, redis.ThreadChannelPrefix), msg.Frame, msg.Except)
	case strings.HasPrefix(channel, redis.UserChannelPrefix):
		f.deliverUser(strings.TrimPrefix(channel, redis.UserChannelPrefix), msg.Frame)
	}
}

func (f *Fanout) deliverThread(threadID string, frame []byte, except string) {
	for _, c := range f.registry.ConnsInThread(threadID) {
		if c.ID() == except {
			continue
		}
		if !c.Send(frame) {
			f.logger.Debug("Dropped frame for closed connection", zap.String("client_id", c.ID()))
		}
	}
}

func (f *Fanout) deliverUser(principalID string, frame []byte) {
	for _, c := range f.registry.ConnsOfPrincipal(principalID) {
		if !c.Send(frame) {
			f.logger.Debug("Dropped frame for closed connection", zap.String("client_id", c.ID()))
		}
	}
}
