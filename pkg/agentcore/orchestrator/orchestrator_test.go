package orchestrator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/skyflo-ai/skyflo/internal/conversation"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/clock"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/eventbus"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/stopregistry"
)

// fakeLLM streams one fixed sequence of chunks, ignoring its inputs.
type fakeLLM struct{ chunks []llm.Chunk }

func (f fakeLLM) Stream(ctx context.Context, system string, messages []llm.Message, tools []core.ToolDescriptor) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

// fakeCatalog serves a fixed tool list and a fixed per-call result.
type fakeCatalog struct {
	tools   []core.ToolDescriptor
	results map[string]core.ToolResult
}

func (f fakeCatalog) ListTools(ctx context.Context) ([]core.ToolDescriptor, error) { return f.tools, nil }

func (f fakeCatalog) Execute(ctx context.Context, call core.ToolCall) core.ToolResult {
	if r, ok := f.results[call.CallID]; ok {
		return r
	}
	return core.ToolResult{CallID: call.CallID, Result: map[string]interface{}{"ok": true}}
}

func newTestDeps(t *testing.T) (Dependencies, sqlmock.Sqlmock, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	deps := Dependencies{
		Stop:                stopregistry.New(rdb, time.Minute),
		Bus:                 eventbus.New(rdb),
		Repo:                conversation.NewRepo(sqlx.NewDb(db, "postgres")),
		Clock:               clock.Real,
		ContextWindowTokens: 0,
		MaxIterations:       5,
		Prices:              DefaultPrices,
	}

	return deps, mock, func() { db.Close(); rdb.Close() }
}

// expectAppendUserMessage matches the WithConversationLock/NextSeq/
// AppendMessage sequence run by appendUserMessage.
func expectAppendUserMessage(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT id FROM conversations WHERE id = \$1 FOR UPDATE`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT max\(seq\) FROM messages WHERE conversation_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

// expectBuildHistory matches the GetMessages call buildHistory makes,
// returning a single prior user message with no segments.
func expectBuildHistory(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT id, conversation_id, kind, seq, coalesce\(text, ''\) AS text, token_usage, timestamp_ms FROM messages WHERE conversation_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "kind", "seq", "text", "token_usage", "timestamp_ms"}).
			AddRow("msg-user-1", "conv-1", "user", 0, "hi there", nil, 1000))
	mock.ExpectQuery(`SELECT id, message_id, seq, text, timestamp_ms FROM segments WHERE message_id = \$1 AND kind = 'text'`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "seq", "text", "timestamp_ms"}))
	mock.ExpectQuery(`SELECT id, message_id, seq, tool_name, title, args, status, result, error, call_id, requires_approval, timestamp_ms FROM segments WHERE message_id = \$1 AND kind = 'tool'`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "seq", "tool_name", "title", "args", "status", "result", "error", "call_id", "requires_approval", "timestamp_ms"}))
}

// expectGetOrCreateFreshAssistantMessage matches the first-ever
// assistant message path (no existing message, so one is inserted).
func expectGetOrCreateFreshAssistantMessage(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT id, conversation_id, kind, seq, coalesce\(text, ''\) AS text, timestamp_ms FROM messages WHERE conversation_id = \$1 ORDER BY seq DESC LIMIT 1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO messages`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestRun_PureTextCompletion(t *testing.T) {
	deps, mock, cleanup := newTestDeps(t)
	defer cleanup()
	deps.LLM = fakeLLM{chunks: []llm.Chunk{
		{Kind: llm.ChunkKindTextDelta, TextDelta: "hello"},
		{Kind: llm.ChunkKindDone, Usage: core.TokenUsage{PromptTokens: 10, CompletionTokens: 2, Source: "provider"}},
	}}
	deps.Catalog = fakeCatalog{}

	expectAppendUserMessage(mock)
	expectBuildHistory(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT id FROM conversations WHERE id = \$1 FOR UPDATE`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectGetOrCreateFreshAssistantMessage(mock)
	mock.ExpectQuery(`SELECT max\(seq\) FROM segments WHERE message_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO segments`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE messages SET token_usage`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := Run(context.Background(), deps, Input{
		RunID:          "run-1",
		ConversationID: "conv-1",
		NewUserText:    "hi there",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ToolCallRequiresApproval_Suspends(t *testing.T) {
	deps, mock, cleanup := newTestDeps(t)
	defer cleanup()
	deps.LLM = fakeLLM{chunks: []llm.Chunk{
		{Kind: llm.ChunkKindToolCall, ToolCall: core.ToolCall{CallID: "call-1", Name: "delete_pod", Args: core.JSONMap{"name": "p1"}}},
		{Kind: llm.ChunkKindDone},
	}}
	deps.Catalog = fakeCatalog{tools: []core.ToolDescriptor{{Name: "delete_pod", RequiresApproval: true}}}

	expectAppendUserMessage(mock)
	expectBuildHistory(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT id FROM conversations WHERE id = \$1 FOR UPDATE`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectGetOrCreateFreshAssistantMessage(mock)
	mock.ExpectQuery(`SELECT max\(seq\) FROM segments WHERE message_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO segments`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT id FROM conversations WHERE id = \$1 FOR UPDATE`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE segments SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := Run(context.Background(), deps, Input{
		RunID:          "run-2",
		ConversationID: "conv-1",
		NewUserText:    "delete my pod",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
