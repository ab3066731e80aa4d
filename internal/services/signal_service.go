package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/repository"
	"sentinal-realtime/internal/transport/wsdto"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

// SignalService handles typing indicators and read receipts.
type SignalService struct {
	store  repository.Store
	typing *redis.TypingStore
	fanout realtime.Broadcaster
	logger *zap.Logger
	now    func() time.Time
}

func NewSignalService(store repository.Store, typing *redis.TypingStore, fanout realtime.Broadcaster, logger *zap.Logger) *SignalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalService{store: store, typing: typing, fanout: fanout, logger: logger, now: time.Now}
}

func (s *SignalService) requireMember(ctx context.Context, threadID, principalID string) error {
	ok, err := s.store.IsParticipant(ctx, threadID, principalID)
	if err != nil {
		return err
	}
	if !ok {
		return sentinal_errors.ErrNotAMember
	}
	return nil
}

// SetTyping stores or clears the typing flag and tells the rest of the room.
// Last write wins; a lost "stopped" heals when the flag expires.
func (s *SignalService) SetTyping(ctx context.Context, conn realtime.Conn, threadID string, isTyping bool) error {
	principalID := conn.Principal().ID
	if err := s.requireMember(ctx, threadID, principalID); err != nil {
		return err
	}

	if err := s.typing.Set(ctx, threadID, principalID, isTyping); err != nil {
		return err
	}

	frame, err := wsdto.NewPush(domain.EventTyping, wsdto.TypingPayload{
		ThreadID: threadID,
		UserID:   principalID,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	if err := s.fanout.ToThread(ctx, threadID, frame, conn.ID()); err != nil {
		s.logger.Warn("Failed to broadcast typing", zap.String("thread_id", threadID), zap.Error(err))
	}
	return nil
}

// MarkRead records that conn's principal read messageID and tells the room.
func (s *SignalService) MarkRead(ctx context.Context, conn realtime.Conn, threadID, messageID string) (*wsdto.ReadPayload, error) {
	principalID := conn.Principal().ID
	if err := s.requireMember(ctx, threadID, principalID); err != nil {
		return nil, err
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ThreadID != threadID {
		return nil, sentinal_errors.ErrNotFound
	}

	receipt, err := s.store.MarkRead(ctx, threadID, messageID, principalID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	payload := &wsdto.ReadPayload{ThreadID: threadID, MessageID: messageID, UserID: principalID, ReadAt: *receipt.ReadAt}
	frame, err := wsdto.NewPush(domain.EventRead, payload)
	if err != nil {
		return payload, nil
	}
	if err := s.fanout.ToThread(context.WithoutCancel(ctx), threadID, frame, ""); err != nil {
		s.logger.Warn("Failed to broadcast read", zap.String("thread_id", threadID), zap.Error(err))
	}
	return payload, nil
}
