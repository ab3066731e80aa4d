package services

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/repository"
	"sentinal-realtime/internal/transport/wsdto"
)

// OfflineService queues pushes for offline principals and replays them on
// reconnect.
type OfflineService struct {
	queue  *redis.OfflineQueue
	store  repository.MessageRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewOfflineService(queue *redis.OfflineQueue, store repository.MessageRepository, logger *zap.Logger) *OfflineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfflineService{queue: queue, store: store, logger: logger, now: time.Now}
}

// Enqueue stores event with data for principalID. messageID, when set, marks
// the envelope for a delivered receipt on replay.
func (s *OfflineService) Enqueue(ctx context.Context, principalID, event string, data any, threadID, messageID string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, principalID, domain.Envelope{
		Event:     event,
		Payload:   payload,
		ThreadID:  threadID,
		MessageID: messageID,
	})
	return err
}

// Replay drains the principal's queue and emits every envelope to conn in
// enqueue order. The queue is cleared before emitting, so a crash mid-replay
// loses the remainder rather than duplicating it.
func (s *OfflineService) Replay(ctx context.Context, conn realtime.Conn) (int, error) {
	principalID := conn.Principal().ID
	envs, err := s.queue.Drain(ctx, principalID)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, env := range envs {
		frame, err := wsdto.NewPush(env.Event, env.Payload)
		if err != nil {
			s.logger.Warn("Skipping unencodable offline envelope",
				zap.String("user_id", principalID), zap.Int64("seq", env.Seq), zap.Error(err))
			continue
		}
		if !conn.Send(frame) {
			s.logger.Warn("Offline envelope dropped by closed connection",
				zap.String("user_id", principalID), zap.Int64("seq", env.Seq))
			continue
		}
		replayed++

		if env.MessageID == "" {
			continue
		}
		if err := s.store.MarkDelivered(ctx, env.MessageID, principalID, s.now().UTC()); err != nil {
			s.logger.Warn("Failed to mark replayed message delivered",
				zap.String("user_id", principalID), zap.String("message_id", env.MessageID), zap.Error(err))
		}
	}
	return replayed, nil
}
