package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sentinal-realtime/internal/domain"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const threadColumns = `id::text, type::text, project_id::text, contract_id::text, job_offer_id::text, created_at, updated_at`

func scanThread(row pgx.Row) (domain.Thread, error) {
	var t domain.Thread
	var typ string
	if err := row.Scan(&t.ID, &typ, &t.ProjectID, &t.ContractID, &t.JobOfferID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Thread{}, err
	}
	t.Type = domain.ThreadType(typ)
	return t, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (domain.Thread, error) {
	row := s.db.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, threadID)
	t, err := scanThread(row)
	if err != nil {
		return domain.Thread{}, mapNotFound(err)
	}
	return t, nil
}

const participantQuery = `
	SELECT p.thread_id::text, p.user_id, p.role, p.last_read_message_id::text, p.last_read_at, p.joined_at,
	       COALESCE(u.display_name, ''), COALESCE(u.avatar_url, '')
	FROM thread_participants p
	LEFT JOIN user_profiles u ON u.user_id = p.user_id`

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ThreadID, &p.UserID, &p.Role, &p.LastReadMessageID, &p.LastReadAt, &p.JoinedAt,
		&p.Profile.DisplayName, &p.Profile.AvatarURL)
	return p, err
}

func (s *PostgresStore) ListParticipants(ctx context.Context, threadID string) ([]domain.Participant, error) {
	rows, err := s.db.Query(ctx, participantQuery+` WHERE p.thread_id = $1 ORDER BY p.joined_at, p.user_id`, threadID)
	if err != nil {
		if isInvalidID(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetParticipant(ctx context.Context, threadID, userID string) (domain.Participant, error) {
	row := s.db.QueryRow(ctx, participantQuery+` WHERE p.thread_id = $1 AND p.user_id = $2`, threadID, userID)
	p, err := scanParticipant(row)
	if err != nil {
		return domain.Participant{}, mapNotFound(err)
	}
	return p, nil
}

func (s *PostgresStore) IsParticipant(ctx context.Context, threadID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM thread_participants WHERE thread_id = $1 AND user_id = $2)`,
		threadID, userID,
	).Scan(&exists)
	if err != nil {
		if isInvalidID(err) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) LoadThreadSnapshot(ctx context.Context, threadID string) (*domain.ThreadSnapshot, error) {
	t, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	participants, err := s.ListParticipants(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return &domain.ThreadSnapshot{Thread: t, Participants: participants}, nil
}

// CreateThread inserts a thread with its participants and their profiles.
// Threads are owned by business workflows; this exists for seeding and tests.
func (s *PostgresStore) CreateThread(ctx context.Context, t domain.Thread, participants []domain.Participant) error {
	return WithTx(ctx, s.db, func(tx DBTX) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO threads (id, type, project_id, contract_id, job_offer_id, created_at, updated_at)
			 VALUES ($1, $2::thread_type, $3, $4, $5, $6, $6)`,
			t.ID, string(t.Type), t.ProjectID, t.ContractID, t.JobOfferID, t.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinal_errors.ErrAlreadyExists
			}
			return fmt.Errorf("insert thread: %w", err)
		}

		for _, p := range participants {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_profiles (user_id, display_name, avatar_url) VALUES ($1, $2, $3)
				 ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url`,
				p.UserID, p.Profile.DisplayName, p.Profile.AvatarURL,
			); err != nil {
				return fmt.Errorf("upsert profile: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO thread_participants (thread_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
				t.ID, p.UserID, p.Role, t.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) CreateMessage(ctx context.Context, in domain.NewMessage) (domain.Message, []domain.Receipt, error) {
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	var senderID *string
	if in.SenderID != "" {
		senderID = &in.SenderID
	}

	msg := domain.Message{
		ID:       in.ID,
		ThreadID: in.ThreadID,
		SenderID: senderID,
		Body:     in.Body,
		Type:     in.Type,
		Metadata: metadata,
	}
	var receipts []domain.Receipt

	err := WithTx(ctx, s.db, func(tx DBTX) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO messages (id, thread_id, sender_id, body, type, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5::message_type, $6, $7)
			 RETURNING created_at`,
			msg.ID, msg.ThreadID, senderID, msg.Body, string(msg.Type), metadata, in.At,
		).Scan(&msg.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinal_errors.ErrAlreadyExists
			}
			return fmt.Errorf("insert message: %w", err)
		}

		rows, err := tx.Query(ctx,
			`INSERT INTO message_receipts (message_id, user_id, delivered_at, read_at)
			 SELECT $1::uuid, p.user_id,
			        CASE WHEN p.user_id = $2 THEN $3::timestamptz END,
			        CASE WHEN p.user_id = $2 THEN $3::timestamptz END
			 FROM thread_participants p
			 WHERE p.thread_id = $4::uuid
			 ON CONFLICT (message_id, user_id) DO UPDATE
			 SET delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at),
			     read_at = COALESCE(message_receipts.read_at, EXCLUDED.read_at)
			 RETURNING user_id, delivered_at, read_at`,
			msg.ID, in.SenderID, msg.CreatedAt, msg.ThreadID,
		)
		if err != nil {
			return fmt.Errorf("insert receipts: %w", err)
		}
		for rows.Next() {
			r := domain.Receipt{MessageID: msg.ID}
			if err := rows.Scan(&r.UserID, &r.DeliveredAt, &r.ReadAt); err != nil {
				rows.Close()
				return err
			}
			receipts = append(receipts, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("insert receipts: %w", err)
		}

		if in.SenderID != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE thread_participants SET last_read_message_id = $1, last_read_at = $2
				 WHERE thread_id = $3 AND user_id = $4`,
				msg.ID, msg.CreatedAt, msg.ThreadID, in.SenderID,
			); err != nil {
				return fmt.Errorf("update last read: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE threads SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ThreadID); err != nil {
			return fmt.Errorf("bump thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, nil, err
	}
	return msg, receipts, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	var m domain.Message
	var typ string
	err := s.db.QueryRow(ctx,
		`SELECT id::text, thread_id::text, sender_id, body, type::text, metadata, created_at FROM messages WHERE id = $1`,
		messageID,
	).Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Body, &typ, &m.Metadata, &m.CreatedAt)
	if err != nil {
		return domain.Message{}, mapNotFound(err)
	}
	m.Type = domain.MessageType(typ)
	return m, nil
}

func (s *PostgresStore) ListReceipts(ctx context.Context, messageID string) ([]domain.Receipt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT message_id::text, user_id, delivered_at, read_at FROM message_receipts WHERE message_id = $1 ORDER BY user_id`,
		messageID,
	)
	if err != nil {
		if isInvalidID(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		var r domain.Receipt
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.DeliveredAt, &r.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE message_receipts SET delivered_at = $3
		 WHERE message_id = $1 AND user_id = $2 AND delivered_at IS NULL`,
		messageID, userID, at,
	)
	if err != nil && isInvalidID(err) {
		return sentinal_errors.ErrNotFound
	}
	return err
}

func (s *PostgresStore) MarkRead(ctx context.Context, threadID, messageID, userID string, at time.Time) (domain.Receipt, error) {
	r := domain.Receipt{MessageID: messageID, UserID: userID}
	err := WithTx(ctx, s.db, func(tx DBTX) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO message_receipts (message_id, user_id, delivered_at, read_at)
			 VALUES ($1, $2, $3, $3)
			 ON CONFLICT (message_id, user_id) DO UPDATE
			 SET read_at = EXCLUDED.read_at,
			     delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at)
			 RETURNING delivered_at, read_at`,
			messageID, userID, at,
		).Scan(&r.DeliveredAt, &r.ReadAt)
		if err != nil {
			return fmt.Errorf("upsert receipt: %w", mapNotFound(err))
		}

		tag, err := tx.Exec(ctx,
			`UPDATE thread_participants SET last_read_message_id = $1, last_read_at = $2
			 WHERE thread_id = $3 AND user_id = $4`,
			messageID, at, threadID, userID,
		)
		if err != nil {
			return fmt.Errorf("update last read: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return sentinal_errors.ErrNotAMember
		}
		return nil
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	return r, nil
}
