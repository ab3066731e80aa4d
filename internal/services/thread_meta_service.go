package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/repository"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

// ThreadMetaService serves thread snapshots from the cache, loading from the
// durable store on a miss. Snapshots are display data only.
type ThreadMetaService struct {
	cache  *redis.ThreadCache
	store  repository.ThreadRepository
	logger *zap.Logger
}

func NewThreadMetaService(cache *redis.ThreadCache, store repository.ThreadRepository, logger *zap.Logger) *ThreadMetaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadMetaService{cache: cache, store: store, logger: logger}
}

// Get returns the snapshot, or nil when the thread does not exist.
func (s *ThreadMetaService) Get(ctx context.Context, threadID string) (*domain.ThreadSnapshot, error) {
	snap, err := s.cache.Get(ctx, threadID)
	if err != nil {
		s.logger.Warn("Thread cache read failed", zap.String("thread_id", threadID), zap.Error(err))
	}
	if snap != nil {
		return snap, nil
	}

	snap, err = s.store.LoadThreadSnapshot(ctx, threadID)
	if errors.Is(err, sentinal_errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, snap); err != nil {
		s.logger.Warn("Thread cache write failed", zap.String("thread_id", threadID), zap.Error(err))
	}
	return snap, nil
}

// Put overwrites the cached snapshot, e.g. from a thread-created event.
func (s *ThreadMetaService) Put(ctx context.Context, snap *domain.ThreadSnapshot) error {
	return s.cache.Put(ctx, snap)
}

func (s *ThreadMetaService) Invalidate(ctx context.Context, threadID string) error {
	return s.cache.Invalidate(ctx, threadID)
}
