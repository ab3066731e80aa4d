package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/transport/wsdto"
)

// PresenceService owns the local connection registry and the shared
// reference-counted presence entries.
type PresenceService struct {
	store    *redis.PresenceStore
	rooms    *redis.RoomStore
	registry *realtime.Registry
	fanout   realtime.Broadcaster
	logger   *zap.Logger
}

func NewPresenceService(store *redis.PresenceStore, rooms *redis.RoomStore, registry *realtime.Registry, fanout realtime.Broadcaster, logger *zap.Logger) *PresenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceService{
		store:    store,
		rooms:    rooms,
		registry: registry,
		fanout:   fanout,
		logger:   logger,
	}
}

func (s *PresenceService) Registry() *realtime.Registry { return s.registry }

// Connect registers conn locally and marks its principal online.
func (s *PresenceService) Connect(ctx context.Context, conn realtime.Conn) error {
	s.registry.Add(conn)
	if _, err := s.store.MarkOnline(ctx, conn.Principal().ID); err != nil {
		s.registry.Remove(conn)
		return err
	}
	return nil
}

// Disconnect unregisters conn and decrements presence. It reports whether
// the principal has no connection left on any instance.
func (s *PresenceService) Disconnect(ctx context.Context, conn realtime.Conn) (becameOffline bool, err error) {
	if _, removed, _ := s.registry.Remove(conn); !removed {
		return false, nil
	}
	return s.store.MarkOffline(ctx, conn.Principal().ID)
}

func (s *PresenceService) IsOnline(ctx context.Context, principalID string) (bool, error) {
	return s.store.IsOnline(ctx, principalID)
}

func (s *PresenceService) IsOnlineBulk(ctx context.Context, principalIDs []string) (map[string]bool, error) {
	return s.store.IsOnlineBulk(ctx, principalIDs)
}

// BroadcastTransition pushes chat:presence for principalID to each room,
// skipping exceptConnID.
func (s *PresenceService) BroadcastTransition(ctx context.Context, principalID string, online bool, threadIDs []string, exceptConnID string) {
	for _, threadID := range threadIDs {
		frame, err := wsdto.NewPush(domain.EventPresence, wsdto.PresencePayload{
			ThreadID: threadID,
			UserID:   principalID,
			Online:   online,
		})
		if err != nil {
			s.logger.Error("Failed to encode presence", zap.Error(err))
			return
		}
		if err := s.fanout.ToThread(ctx, threadID, frame, exceptConnID); err != nil {
			s.logger.Warn("Failed to broadcast presence",
				zap.String("thread_id", threadID), zap.String("user_id", principalID), zap.Error(err))
		}
	}
}

// RunHeartbeat refreshes presence and room TTLs every TTL/2 for everything
// still held by this instance, until ctx is done.
func (s *PresenceService) RunHeartbeat(ctx context.Context) {
	interval := s.store.TTL() / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Heartbeat(ctx)
		}
	}
}

// Heartbeat runs one refresh pass.
func (s *PresenceService) Heartbeat(ctx context.Context) {
	if err := s.store.Heartbeat(ctx, s.registry.Principals()); err != nil {
		s.logger.Warn("Presence heartbeat failed", zap.Error(err))
	}
	if err := s.rooms.Refresh(ctx, s.localRoomMembers()); err != nil {
		s.logger.Warn("Room heartbeat failed", zap.Error(err))
	}
}

// localRoomMembers lists every room subscription held on this instance.
func (s *PresenceService) localRoomMembers() []redis.RoomMember {
	var members []redis.RoomMember
	for _, conn := range s.registry.Conns() {
		for _, threadID := range s.registry.ThreadsOf(conn.ID()) {
			members = append(members, redis.RoomMember{
				ThreadID:    threadID,
				PrincipalID: conn.Principal().ID,
				ConnID:      conn.ID(),
			})
		}
	}
	return members
}
