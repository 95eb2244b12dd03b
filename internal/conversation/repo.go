package conversation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/ids"
)

// Repo is the sqlx-backed store for conversations, messages, and
// segments. Every write that can be retried across a crash/resume
// boundary (segment appends keyed by call_id) is idempotent via
// ON CONFLICT DO NOTHING.
type Repo struct {
	db *sqlx.DB
}

func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateConversation(ctx context.Context, c Conversation) (Conversation, error) {
	query := `
		INSERT INTO conversations (id, owner_user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, to_timestamp($4::double precision / 1000), to_timestamp($5::double precision / 1000))
		RETURNING id, owner_user_id, coalesce(title, '') AS title,
			extract(epoch from created_at) * 1000 AS created_at,
			extract(epoch from updated_at) * 1000 AS updated_at
	`
	var out Conversation
	err := r.db.GetContext(ctx, &out, query, c.ID, c.OwnerUserID, nullIfEmpty(c.Title), c.CreatedAt, c.UpdatedAt)
	return out, err
}

func (r *Repo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	query := `
		SELECT id, owner_user_id, coalesce(title, '') AS title,
			extract(epoch from created_at) * 1000 AS created_at,
			extract(epoch from updated_at) * 1000 AS updated_at
		FROM conversations WHERE id = $1
	`
	var out Conversation
	err := r.db.GetContext(ctx, &out, query, id)
	return out, err
}

// SetTitleIfUnset performs the title generator's idempotent write: it
// only ever applies to a conversation that has no title yet, so a
// slow or duplicate titlegen worker can never clobber a later manual
// rename.
func (r *Repo) SetTitleIfUnset(ctx context.Context, conversationID, title string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET title = $1, updated_at = now() WHERE id = $2 AND title IS NULL`,
		title, conversationID)
	return err
}

// WithConversationLock runs fn inside a transaction that holds a
// row-level lock on the conversation, serializing concurrent appends
// to the same conversation across replicas (not just within one
// process, the way an in-memory mutex would).
func (r *Repo) WithConversationLock(ctx context.Context, conversationID string, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repo) AppendMessage(ctx context.Context, tx *sqlx.Tx, m Message) error {
	usage, err := sonic.Marshal(m.TokenUsage)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, kind, seq, text, token_usage, timestamp_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id, seq) DO NOTHING
	`, m.ID, m.ConversationID, m.Kind, m.Seq, nullIfEmpty(m.Text), nullIfZero(usage), m.TimestampMs)
	return err
}

func (r *Repo) UpdateMessageText(ctx context.Context, tx *sqlx.Tx, messageID, text string, usage *core.TokenUsage) error {
	usageJSON, err := sonic.Marshal(usage)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE messages SET text = $1, token_usage = $2 WHERE id = $3`, text, usageJSON, messageID)
	return err
}

// UpdateMessageUsage attaches token-usage metrics to messageID without
// touching its text column, used by finalize_assistant_message
// (§4.6.5) where the message's text lives in its text segments, not
// the messages.text column.
func (r *Repo) UpdateMessageUsage(ctx context.Context, tx *sqlx.Tx, messageID string, usage *core.TokenUsage) error {
	usageJSON, err := sonic.Marshal(usage)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE messages SET token_usage = $1 WHERE id = $2`, usageJSON, messageID)
	return err
}

// AppendTextSegment inserts a text segment at seq, a no-op on replay
// of the same (message_id, seq).
func (r *Repo) AppendTextSegment(ctx context.Context, tx *sqlx.Tx, s TextSegment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO segments (id, message_id, kind, seq, text, timestamp_ms)
		VALUES ($1, $2, 'text', $3, $4, $5)
		ON CONFLICT (message_id, seq) DO NOTHING
	`, s.ID, s.MessageID, s.Seq, s.Text, s.TimestampMs)
	return err
}

// AppendToolSegment inserts a tool segment, idempotent on
// (message_id, call_id): a retried append after a crash between
// executing the tool and persisting the result must not create a
// duplicate segment.
func (r *Repo) AppendToolSegment(ctx context.Context, tx *sqlx.Tx, s ToolSegment) error {
	args, err := sonic.Marshal(s.Args)
	if err != nil {
		return err
	}
	result, err := sonic.Marshal(s.Result)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO segments (id, message_id, kind, seq, tool_name, title, args, status, result, error, call_id, requires_approval, timestamp_ms)
		VALUES ($1, $2, 'tool', $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (message_id, call_id) WHERE call_id IS NOT NULL DO NOTHING
	`, s.ID, s.MessageID, s.Seq, s.ToolName, s.Title, args, s.Status, result, nullIfEmpty(s.Error), s.CallID, s.RequiresApproval, s.TimestampMs)
	return err
}

// UpdateToolSegmentStatus is the tool-segment state machine's only
// write path after the initial append. It is looked up by call_id, the
// only identifier the approval controller and resume flow have in
// hand (neither has the segment's own row id).
func (r *Repo) UpdateToolSegmentStatus(ctx context.Context, tx *sqlx.Tx, callID string, status core.ToolSegmentStatus, result core.JSONValue, toolErr string) error {
	resultJSON, err := sonic.Marshal(result)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE segments SET status = $1, result = $2, error = $3
		WHERE call_id = $4
	`, status, nullIfZero(resultJSON), nullIfEmpty(toolErr), callID)
	return err
}

// FindToolSegmentByCallID loads a single tool segment by its call_id.
func (r *Repo) FindToolSegmentByCallID(ctx context.Context, callID string) (ToolSegment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, seq, tool_name, title, args, status, result, error, call_id, requires_approval, timestamp_ms
		FROM segments WHERE call_id = $1
	`, callID)
	return scanToolSegment(row)
}

// GetMessages loads a conversation's messages with their segments, in
// seq order, the shape the orchestrator replays to reconstruct LLM
// history on resume.
//
// jsonb columns (token_usage, args, result) are scanned into raw bytes
// and unmarshaled by hand rather than through sqlx's struct mapping:
// neither TokenUsage nor JSONMap/JSONValue implement sql.Scanner, and
// Postgres's jsonb wire format isn't one sqlx converts automatically.
func (r *Repo) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, kind, seq, coalesce(text, '') AS text, token_usage, timestamp_ms
		FROM messages WHERE conversation_id = $1 ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var rawUsage []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Kind, &m.Seq, &m.Text, &rawUsage, &m.TimestampMs); err != nil {
			return nil, err
		}
		if len(rawUsage) > 0 {
			var usage core.TokenUsage
			if err := sonic.Unmarshal(rawUsage, &usage); err != nil {
				return nil, fmt.Errorf("conversation: unmarshal token_usage: %w", err)
			}
			m.TokenUsage = &usage
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		textSegs, err := r.textSegments(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].TextSegments = textSegs

		toolSegs, err := r.toolSegments(ctx, `
			SELECT id, message_id, seq, tool_name, title, args, status, result, error, call_id, requires_approval, timestamp_ms
			FROM segments WHERE message_id = $1 AND kind = 'tool' ORDER BY seq ASC
		`, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].ToolSegments = toolSegs
	}

	return messages, nil
}

func (r *Repo) textSegments(ctx context.Context, messageID string) ([]TextSegment, error) {
	var segs []TextSegment
	err := r.db.SelectContext(ctx, &segs, `
		SELECT id, message_id, seq, text, timestamp_ms FROM segments
		WHERE message_id = $1 AND kind = 'text' ORDER BY seq ASC
	`, messageID)
	return segs, err
}

func (r *Repo) toolSegments(ctx context.Context, query string, args ...interface{}) ([]ToolSegment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolSegment
	for rows.Next() {
		s, err := scanToolSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToolSegment(row rowScanner) (ToolSegment, error) {
	var s ToolSegment
	var rawArgs, rawResult []byte
	var errText sql.NullString
	if err := row.Scan(&s.ID, &s.MessageID, &s.Seq, &s.ToolName, &s.Title, &rawArgs, &s.Status, &rawResult, &errText, &s.CallID, &s.RequiresApproval, &s.TimestampMs); err != nil {
		return ToolSegment{}, err
	}
	s.Error = errText.String
	if len(rawArgs) > 0 {
		var args core.JSONMap
		if err := sonic.Unmarshal(rawArgs, &args); err != nil {
			return ToolSegment{}, fmt.Errorf("conversation: unmarshal segment args: %w", err)
		}
		s.Args = args
	}
	if len(rawResult) > 0 {
		var result core.JSONValue
		if err := sonic.Unmarshal(rawResult, &result); err != nil {
			return ToolSegment{}, fmt.Errorf("conversation: unmarshal segment result: %w", err)
		}
		s.Result = result
	}
	return s, nil
}

// FindPendingToolSegments returns the tool segments of the
// conversation's current (most recent) message that are still in
// pending or awaiting_approval status — the set a resume run rebuilds
// its in-flight tool-call state from, since nothing is kept in memory
// across the suspend boundary.
func (r *Repo) FindPendingToolSegments(ctx context.Context, conversationID string) ([]ToolSegment, error) {
	return r.toolSegments(ctx, `
		SELECT s.id, s.message_id, s.seq, s.tool_name, s.title, s.args, s.status, s.result, s.error, s.call_id, s.requires_approval, s.timestamp_ms
		FROM segments s
		JOIN messages m ON m.id = s.message_id
		WHERE m.conversation_id = $1 AND s.kind = 'tool' AND s.status IN ('pending', 'awaiting_approval')
			AND m.seq = (SELECT max(seq) FROM messages WHERE conversation_id = $1)
		ORDER BY s.seq ASC
	`, conversationID)
}

// GetOrCreateCurrentAssistantMessage returns the conversation's
// current assistant message: the last message if it is already
// assistant-kind, otherwise a fresh one is inserted. Segment appends
// within one turn always target this message.
func (r *Repo) GetOrCreateCurrentAssistantMessage(ctx context.Context, tx *sqlx.Tx, conversationID string, ts int64) (Message, error) {
	var last Message
	err := tx.GetContext(ctx, &last, `
		SELECT id, conversation_id, kind, seq, coalesce(text, '') AS text, timestamp_ms
		FROM messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT 1
	`, conversationID)

	if err == nil && last.Kind == core.MessageKindAssistant {
		return last, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return Message{}, err
	}

	nextSeq := int64(0)
	if err == nil {
		nextSeq = last.Seq + 1
	}

	msg := Message{
		ConversationID: conversationID,
		Kind:           core.MessageKindAssistant,
		Seq:            nextSeq,
		TimestampMs:    ts,
	}
	msg.ID = ids.New()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, kind, seq, timestamp_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, seq) DO NOTHING
	`, msg.ID, msg.ConversationID, msg.Kind, msg.Seq, msg.TimestampMs)
	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

// NextSegmentSeq returns the next free seq value for segments within
// messageID, spanning both text and tool segments so their relative
// order within one assistant message is preserved.
func (r *Repo) NextSegmentSeq(ctx context.Context, messageID string) (int, error) {
	var seq sql.NullInt64
	err := r.db.GetContext(ctx, &seq, `SELECT max(seq) FROM segments WHERE message_id = $1`, messageID)
	if err != nil {
		return 0, fmt.Errorf("conversation: next segment seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return int(seq.Int64) + 1, nil
}

func (r *Repo) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	var seq sql.NullInt64
	err := r.db.GetContext(ctx, &seq, `SELECT max(seq) FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("conversation: next seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64 + 1, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(b []byte) interface{} {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}
