package services

import (
	"context"

	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/transport/wsdto"
	"sentinal-realtime/pkg/events"
)

// ThreadEventsService reacts to thread-created events: it pre-seeds the
// thread cache and tells each participant, live or through the offline queue.
type ThreadEventsService struct {
	meta     *ThreadMetaService
	presence *PresenceService
	offline  *OfflineService
	fanout   realtime.Broadcaster
	logger   *zap.Logger
}

func NewThreadEventsService(meta *ThreadMetaService, presence *PresenceService, offline *OfflineService, fanout realtime.Broadcaster, logger *zap.Logger) *ThreadEventsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadEventsService{meta: meta, presence: presence, offline: offline, fanout: fanout, logger: logger}
}

// Subscribe attaches the service to bus and returns the unsubscribe func.
func (s *ThreadEventsService) Subscribe(bus *events.Bus) func() {
	return events.Subscribe(bus, domain.TopicThreadCreated, s.HandleThreadCreated)
}

// HandleThreadCreated never fails the publisher; every step is best effort.
func (s *ThreadEventsService) HandleThreadCreated(ctx context.Context, evt domain.ThreadCreated) error {
	snap := &domain.ThreadSnapshot{Thread: evt.Thread, Participants: evt.Participants}
	log := s.logger.With(zap.String("thread_id", evt.Thread.ID))

	if err := s.meta.Put(ctx, snap); err != nil {
		log.Warn("Failed to pre-seed thread cache", zap.Error(err))
	}

	ids := snap.ParticipantIDs()
	online, err := s.presence.IsOnlineBulk(ctx, ids)
	if err != nil {
		log.Warn("Presence lookup failed, queueing for all", zap.Error(err))
		online = map[string]bool{}
	}

	frame, err := wsdto.NewPush(domain.EventThreadCreated, snap)
	if err != nil {
		log.Error("Failed to encode thread-created push", zap.Error(err))
		return nil
	}

	for _, userID := range ids {
		if online[userID] {
			if err := s.fanout.ToUser(ctx, userID, frame); err != nil {
				log.Warn("Failed to push thread-created", zap.String("user_id", userID), zap.Error(err))
			}
			continue
		}
		if err := s.offline.Enqueue(ctx, userID, domain.EventThreadCreated, snap, evt.Thread.ID, ""); err != nil {
			log.Warn("Failed to queue thread-created", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}
