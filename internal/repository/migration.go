package repository

import (
	"context"
	"fmt"
)

// Tables lists the tables owned by the schema, in creation order.
var Tables = []string{"user_profiles", "threads", "thread_participants", "messages", "message_receipts"}

// InitSchema creates enums, tables and indexes if they do not exist.
func InitSchema(ctx context.Context, db DBTX) error {
	enums := []string{
		`DO $$ BEGIN
			CREATE TYPE thread_type AS ENUM ('project', 'admin_client', 'admin_freelancer');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
		`DO $$ BEGIN
			CREATE TYPE message_type AS ENUM ('text', 'system', 'file');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
	}

	for _, enum := range enums {
		if _, err := db.Exec(ctx, enum); err != nil {
			return fmt.Errorf("failed to create enum: %w", err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id      TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id           UUID PRIMARY KEY,
			type         thread_type NOT NULL,
			project_id   UUID,
			contract_id  UUID,
			job_offer_id UUID,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS thread_participants (
			thread_id            UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			user_id              TEXT NOT NULL,
			role                 TEXT NOT NULL,
			last_read_message_id UUID,
			last_read_at         TIMESTAMPTZ,
			joined_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (thread_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         UUID PRIMARY KEY,
			thread_id  UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			sender_id  TEXT,
			body       TEXT NOT NULL,
			type       message_type NOT NULL DEFAULT 'text',
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS message_receipts (
			message_id   UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id      TEXT NOT NULL,
			delivered_at TIMESTAMPTZ,
			read_at      TIMESTAMPTZ,
			PRIMARY KEY (message_id, user_id)
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_thread_participants_user ON thread_participants (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON messages (thread_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_user_undelivered ON message_receipts (user_id) WHERE delivered_at IS NULL`,
	}

	for _, idx := range indexes {
		if _, err := db.Exec(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
