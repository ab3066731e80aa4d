package repository

import (
	"context"
	"time"

	"sentinal-realtime/internal/domain"
)

type ThreadRepository interface {
	// GetThread returns sentinal_errors.ErrNotFound when the thread is absent.
	GetThread(ctx context.Context, threadID string) (domain.Thread, error)
	ListParticipants(ctx context.Context, threadID string) ([]domain.Participant, error)
	GetParticipant(ctx context.Context, threadID, userID string) (domain.Participant, error)
	IsParticipant(ctx context.Context, threadID, userID string) (bool, error)
	// LoadThreadSnapshot returns the thread with participants and their profiles.
	LoadThreadSnapshot(ctx context.Context, threadID string) (*domain.ThreadSnapshot, error)
}

type MessageRepository interface {
	// CreateMessage inserts the message, one receipt per current participant,
	// moves the sender's last-read pointer and bumps the thread, all in one
	// transaction. Returned receipts are exactly the participant set at commit.
	CreateMessage(ctx context.Context, in domain.NewMessage) (domain.Message, []domain.Receipt, error)
	GetMessage(ctx context.Context, messageID string) (domain.Message, error)
	ListReceipts(ctx context.Context, messageID string) ([]domain.Receipt, error)
	// MarkDelivered sets delivered_at if it is still null.
	MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) error
	// MarkRead sets read_at (and delivered_at if null) and the participant's
	// last-read pointer atomically.
	MarkRead(ctx context.Context, threadID, messageID, userID string, at time.Time) (domain.Receipt, error)
}

// Store is the durable store consumed by the realtime core.
type Store interface {
	ThreadRepository
	MessageRepository
	Ping(ctx context.Context) error
}
