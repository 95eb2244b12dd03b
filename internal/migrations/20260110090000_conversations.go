package migrations

import "github.com/jmoiron/sqlx"

func init() {
	m.addMigration(&migration{
		version: "20260110090000",
		up:      mig_20260110090000_conversations_up,
		down:    mig_20260110090000_conversations_down,
	})
}

func mig_20260110090000_conversations_up(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id uuid PRIMARY KEY,
			owner_user_id text NOT NULL,
			title text,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations (owner_user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id uuid PRIMARY KEY,
			conversation_id uuid NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			kind text NOT NULL CHECK (kind IN ('user', 'assistant')),
			seq bigint NOT NULL,
			text text,
			token_usage jsonb,
			timestamp_ms bigint NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages (conversation_id, seq);

		CREATE TABLE IF NOT EXISTS segments (
			id uuid PRIMARY KEY,
			message_id uuid NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			kind text NOT NULL CHECK (kind IN ('text', 'tool')),
			seq int NOT NULL,
			text text,
			tool_name text,
			title text,
			args jsonb,
			status text,
			result jsonb,
			error text,
			call_id text,
			requires_approval boolean,
			timestamp_ms bigint NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_segments_message_seq ON segments (message_id, seq);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_segments_message_call_id ON segments (message_id, call_id) WHERE call_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_segments_call_id ON segments (call_id) WHERE call_id IS NOT NULL;
	`)
	return err
}

func mig_20260110090000_conversations_down(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
		DROP TABLE IF EXISTS segments;
		DROP TABLE IF EXISTS messages;
		DROP TABLE IF EXISTS conversations;
	`)
	return err
}
