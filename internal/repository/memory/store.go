// Package memory is an in-process implementation of repository.Store used for
// local development (STORE_DRIVER=memory) and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/repository"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

var _ repository.Store = (*Store)(nil)

type receiptKey struct {
	messageID string
	userID    string
}

type Store struct {
	mu           sync.RWMutex
	threads      map[string]domain.Thread
	participants map[string][]domain.Participant
	messages     map[string]domain.Message
	receipts     map[receiptKey]domain.Receipt
}

func New() *Store {
	return &Store{
		threads:      make(map[string]domain.Thread),
		participants: make(map[string][]domain.Participant),
		messages:     make(map[string]domain.Message),
		receipts:     make(map[receiptKey]domain.Receipt),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// CreateThread seeds a thread with its participants.
func (s *Store) CreateThread(_ context.Context, t domain.Thread, participants []domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[t.ID]; ok {
		return sentinal_errors.ErrAlreadyExists
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	s.threads[t.ID] = t

	ps := make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		p.ThreadID = t.ID
		if p.JoinedAt.IsZero() {
			p.JoinedAt = t.CreatedAt
		}
		ps = append(ps, p)
	}
	s.participants[t.ID] = ps
	return nil
}

// AddParticipant appends a member to an existing thread.
func (s *Store) AddParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[p.ThreadID]; !ok {
		return sentinal_errors.ErrNotFound
	}
	for _, existing := range s.participants[p.ThreadID] {
		if existing.UserID == p.UserID {
			return sentinal_errors.ErrAlreadyExists
		}
	}
	s.participants[p.ThreadID] = append(s.participants[p.ThreadID], p)
	return nil
}

func (s *Store) GetThread(_ context.Context, threadID string) (domain.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return domain.Thread{}, sentinal_errors.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListParticipants(_ context.Context, threadID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Participant(nil), s.participants[threadID]...), nil
}

func (s *Store) GetParticipant(_ context.Context, threadID, userID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.participantIndex(threadID, userID); idx >= 0 {
		return s.participants[threadID][idx], nil
	}
	return domain.Participant{}, sentinal_errors.ErrNotFound
}

func (s *Store) IsParticipant(_ context.Context, threadID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.participantIndex(threadID, userID) >= 0, nil
}

func (s *Store) LoadThreadSnapshot(ctx context.Context, threadID string) (*domain.ThreadSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, sentinal_errors.ErrNotFound
	}
	return &domain.ThreadSnapshot{
		Thread:       t,
		Participants: append([]domain.Participant(nil), s.participants[threadID]...),
	}, nil
}

func (s *Store) CreateMessage(_ context.Context, in domain.NewMessage) (domain.Message, []domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[in.ThreadID]
	if !ok {
		return domain.Message{}, nil, sentinal_errors.ErrNotFound
	}
	if _, exists := s.messages[in.ID]; exists {
		return domain.Message{}, nil, sentinal_errors.ErrAlreadyExists
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	msg := domain.Message{
		ID:        in.ID,
		ThreadID:  in.ThreadID,
		Body:      in.Body,
		Type:      in.Type,
		Metadata:  metadata,
		CreatedAt: in.At,
	}
	if in.SenderID != "" {
		sender := in.SenderID
		msg.SenderID = &sender
	}
	s.messages[msg.ID] = msg

	receipts := make([]domain.Receipt, 0, len(s.participants[in.ThreadID]))
	for i, p := range s.participants[in.ThreadID] {
		r := domain.Receipt{MessageID: msg.ID, UserID: p.UserID}
		if p.UserID == in.SenderID {
			at := in.At
			r.DeliveredAt = &at
			r.ReadAt = &at

			id := msg.ID
			p.LastReadMessageID = &id
			p.LastReadAt = &at
			s.participants[in.ThreadID][i] = p
		}
		s.receipts[receiptKey{msg.ID, p.UserID}] = r
		receipts = append(receipts, r)
	}

	t.UpdatedAt = in.At
	s.threads[t.ID] = t
	return msg, receipts, nil
}

func (s *Store) GetMessage(_ context.Context, messageID string) (domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok {
		return domain.Message{}, sentinal_errors.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListReceipts(_ context.Context, messageID string) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Receipt
	for k, r := range s.receipts {
		if k.messageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) MarkDelivered(_ context.Context, messageID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := receiptKey{messageID, userID}
	r, ok := s.receipts[key]
	if !ok || r.DeliveredAt != nil {
		return nil
	}
	r.DeliveredAt = &at
	s.receipts[key] = r
	return nil
}

func (s *Store) MarkRead(_ context.Context, threadID, messageID, userID string, at time.Time) (domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.participantIndex(threadID, userID)
	if idx < 0 {
		return domain.Receipt{}, sentinal_errors.ErrNotAMember
	}
	if _, ok := s.messages[messageID]; !ok {
		return domain.Receipt{}, sentinal_errors.ErrNotFound
	}

	key := receiptKey{messageID, userID}
	r, ok := s.receipts[key]
	if !ok {
		r = domain.Receipt{MessageID: messageID, UserID: userID}
	}
	r.ReadAt = &at
	if r.DeliveredAt == nil {
		r.DeliveredAt = &at
	}
	s.receipts[key] = r

	p := s.participants[threadID][idx]
	id := messageID
	p.LastReadMessageID = &id
	p.LastReadAt = &at
	s.participants[threadID][idx] = p
	return r, nil
}

func (s *Store) participantIndex(threadID, userID string) int {
	for i, p := range s.participants[threadID] {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}
