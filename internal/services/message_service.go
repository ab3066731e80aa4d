package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"sentinal-realtime/internal/audit"
	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/realtime"
	"sentinal-realtime/internal/redis"
	"sentinal-realtime/internal/repository"
	"sentinal-realtime/internal/transport/wsdto"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

type SendInput struct {
	ThreadID     string
	Body         string
	ClientTempID string
	Type         domain.MessageType
	Metadata     map[string]any
}

type SendResult struct {
	Message      domain.Message
	Receipts     []domain.Receipt
	ClientTempID string
}

// MessageService is the send pipeline: validate, persist atomically, then
// fan out live or queue offline.
type MessageService struct {
	store    repository.Store
	limiter  *redis.RateLimiter
	meta     *ThreadMetaService
	presence *PresenceService
	rooms    *redis.RoomStore
	offline  *OfflineService
	fanout   realtime.Broadcaster
	audit    audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewMessageService(
	store repository.Store,
	limiter *redis.RateLimiter,
	meta *ThreadMetaService,
	presence *PresenceService,
	rooms *redis.RoomStore,
	offline *OfflineService,
	fanout realtime.Broadcaster,
	recorder audit.Recorder,
	logger *zap.Logger,
) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = audit.NewLogRecorder(logger)
	}
	return &MessageService{
		store:    store,
		limiter:  limiter,
		meta:     meta,
		presence: presence,
		rooms:    rooms,
		offline:  offline,
		fanout:   fanout,
		audit:    recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Send validates and persists a message from conn's principal, then runs the
// post-commit fan-out. A failure before commit leaves nothing persisted.
func (s *MessageService) Send(ctx context.Context, conn realtime.Conn, in SendInput) (*SendResult, error) {
	senderID := conn.Principal().ID

	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is empty", sentinal_errors.ErrValidation)
	}
	msgType := in.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", sentinal_errors.ErrValidation, msgType)
	}

	ok, err := s.store.IsParticipant(ctx, in.ThreadID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sentinal_errors.ErrNotAMember
	}

	if _, err := s.limiter.CheckAndIncrement(ctx, senderID); err != nil {
		return nil, err
	}

	msg, receipts, err := s.store.CreateMessage(ctx, domain.NewMessage{
		ID:       uuid.NewString(),
		ThreadID: in.ThreadID,
		SenderID: senderID,
		Body:     body,
		Type:     msgType,
		Metadata: in.Metadata,
		At:       s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	// The commit stands even if the client goes away now.
	s.afterCommit(context.WithoutCancel(ctx), senderID, msg, receipts, in.ClientTempID)

	return &SendResult{Message: msg, Receipts: receipts, ClientTempID: in.ClientTempID}, nil
}

func (s *MessageService) afterCommit(ctx context.Context, senderID string, msg domain.Message, receipts []domain.Receipt, clientTempID string) {
	payload := wsdto.MessagePayload{
		Message:      msg,
		Sender:       s.senderInfo(ctx, msg.ThreadID, senderID),
		ClientTempID: clientTempID,
	}

	if frame, err := wsdto.NewPush(domain.EventMessage, payload); err != nil {
		s.logger.Error("Failed to encode message push", zap.String("message_id", msg.ID), zap.Error(err))
	} else if err := s.fanout.ToThread(ctx, msg.ThreadID, frame, ""); err != nil {
		s.logger.Warn("Failed to broadcast message", zap.String("message_id", msg.ID), zap.Error(err))
	}

	s.audit.Record(ctx, audit.Entry{
		Action:    audit.ActionMessageSent,
		ActorID:   senderID,
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		At:        msg.CreatedAt,
		Meta:      map[string]any{"type": msg.Type, "length": len(msg.Body)},
	})

	recipients := lo.FilterMap(receipts, func(r domain.Receipt, _ int) (string, bool) {
		return r.UserID, r.UserID != senderID
	})
	s.deliverOutOfRoom(ctx, msg, payload, recipients)
}

// deliverOutOfRoom handles recipients without a live connection in the room:
// online ones get an unread signal and a delivered receipt, offline ones get
// the message queued. A room entry for a principal whose presence has lapsed
// is stale and does not count.
func (s *MessageService) deliverOutOfRoom(ctx context.Context, msg domain.Message, payload wsdto.MessagePayload, recipients []string) {
	if len(recipients) == 0 {
		return
	}

	online, err := s.presence.IsOnlineBulk(ctx, recipients)
	if err != nil {
		s.logger.Warn("Presence lookup failed, queueing for all", zap.String("message_id", msg.ID), zap.Error(err))
		online = map[string]bool{}
	}

	outside := make([]string, 0, len(recipients))
	for _, userID := range recipients {
		if !online[userID] {
			outside = append(outside, userID)
			continue
		}
		inRoom, err := s.rooms.Has(ctx, msg.ThreadID, userID)
		if err != nil {
			s.logger.Warn("Room lookup failed", zap.String("thread_id", msg.ThreadID), zap.String("user_id", userID), zap.Error(err))
		}
		if !inRoom {
			outside = append(outside, userID)
		}
	}
	if len(outside) == 0 {
		return
	}

	unread := wsdto.ThreadUnreadPayload{ThreadID: msg.ThreadID, MessageID: msg.ID, CreatedAt: msg.CreatedAt}
	if msg.SenderID != nil {
		unread.SenderID = *msg.SenderID
	}
	unreadFrame, err := wsdto.NewPush(domain.EventThreadUnread, unread)
	if err != nil {
		s.logger.Error("Failed to encode unread push", zap.Error(err))
		return
	}

	for _, userID := range outside {
		if online[userID] {
			if err := s.fanout.ToUser(ctx, userID, unreadFrame); err != nil {
				s.logger.Warn("Failed to push unread", zap.String("user_id", userID), zap.Error(err))
				continue
			}
			if err := s.store.MarkDelivered(ctx, msg.ID, userID, s.now().UTC()); err != nil {
				s.logger.Warn("Failed to mark delivered", zap.String("user_id", userID), zap.String("message_id", msg.ID), zap.Error(err))
			}
			continue
		}

		if err := s.offline.Enqueue(ctx, userID, domain.EventMessage, payload, msg.ThreadID, msg.ID); err != nil {
			s.logger.Error("Failed to queue offline message", zap.String("user_id", userID), zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

func (s *MessageService) senderInfo(ctx context.Context, threadID, senderID string) *wsdto.SenderInfo {
	info := &wsdto.SenderInfo{ID: senderID}
	snap, err := s.meta.Get(ctx, threadID)
	if err != nil {
		s.logger.Warn("Thread meta lookup failed", zap.String("thread_id", threadID), zap.Error(err))
		return info
	}
	if snap == nil {
		return info
	}
	if p, ok := snap.Participant(senderID); ok {
		info.DisplayName = p.Profile.DisplayName
		info.AvatarURL = p.Profile.AvatarURL
	}
	return info
}
