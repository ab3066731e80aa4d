package services

import (
	"context"

	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/repository"
	"sentinal-realtime/internal/transport/wsdto"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

// SessionService manages per-connection room subscriptions.
//
// Connection states: connected -> joined(thread...) -> connected | disconnected.
// Membership is always checked against the durable store.
type SessionService struct {
	store    repository.ThreadRepository
	meta     *ThreadMetaService
	presence *PresenceService
	rooms    *redis.RoomStore
	logger   *zap.Logger
}

func NewSessionService(store repository.ThreadRepository, meta *ThreadMetaService, presence *PresenceService, rooms *redis.RoomStore, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		store:    store,
		meta:     meta,
		presence: presence,
		rooms:    rooms,
		logger:   logger,
	}
}

// Join subscribes conn to the thread room after verifying membership.
func (s *SessionService) Join(ctx context.Context, conn realtime.Conn, threadID string) (*wsdto.JoinResponse, error) {
	principalID := conn.Principal().ID

	ok, err := s.store.IsParticipant(ctx, threadID, principalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sentinal_errors.ErrNotAMember
	}

	snap, err := s.meta.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, sentinal_errors.ErrNotFound
	}

	registry := s.presence.Registry()
	if registry.Subscribe(conn, threadID) {
		n, err := s.rooms.Join(ctx, threadID, principalID, conn.ID())
		if err != nil {
			registry.Unsubscribe(conn, threadID)
			return nil, err
		}
		if n == 1 {
			s.presence.BroadcastTransition(ctx, principalID, true, []string{threadID}, conn.ID())
		}
	}

	online, err := s.presence.IsOnlineBulk(ctx, snap.ParticipantIDs())
	if err != nil {
		s.logger.Warn("Bulk presence read failed", zap.String("thread_id", threadID), zap.Error(err))
		online = map[string]bool{principalID: true}
	}

	frame, err := wsdto.NewPush(domain.EventPresenceSync, wsdto.PresenceSyncPayload{ThreadID: threadID, Presence: online})
	if err == nil {
		conn.Send(frame)
	}

	return &wsdto.JoinResponse{Thread: snap, Presence: online}, nil
}

// Leave unsubscribes conn from the room. Leaving a room the connection does
// not hold is a successful no-op.
func (s *SessionService) Leave(ctx context.Context, conn realtime.Conn, threadID string) error {
	if !s.presence.Registry().Unsubscribe(conn, threadID) {
		return nil
	}
	_, err := s.rooms.Leave(ctx, threadID, conn.Principal().ID, conn.ID())
	return err
}

// Disconnect replays leave for every room the connection held and, when it
// was the principal's last connection, broadcasts the offline transition to
// each of those rooms.
func (s *SessionService) Disconnect(ctx context.Context, conn realtime.Conn) {
	principalID := conn.Principal().ID
	held := s.presence.Registry().ThreadsOf(conn.ID())

	for _, threadID := range held {
		if err := s.Leave(ctx, conn, threadID); err != nil {
			s.logger.Warn("Leave on disconnect failed",
				zap.String("thread_id", threadID), zap.String("user_id", principalID), zap.Error(err))
		}
	}

	offline, err := s.presence.Disconnect(ctx, conn)
	if err != nil {
		s.logger.Warn("Mark offline failed", zap.String("user_id", principalID), zap.Error(err))
		return
	}
	if offline {
		s.presence.BroadcastTransition(ctx, principalID, false, held, "")
	}
}
