package conversation

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestSetTitleIfUnset(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE conversations SET title").
		WithArgs("a short title", "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetTitleIfUnset(context.Background(), "conv-1", "a short title")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSegmentSeq_Empty(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT max\\(seq\\) FROM segments").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	seq, err := repo.NextSegmentSeq(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Equal(t, 0, seq)
}

func TestNextSegmentSeq_Existing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT max\\(seq\\) FROM segments").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))

	seq, err := repo.NextSegmentSeq(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Equal(t, 3, seq)
}

func TestGetOrCreateCurrentAssistantMessage_ReusesExisting(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "conversation_id", "kind", "seq", "text", "timestamp_ms"}).
		AddRow("msg-1", "conv-1", "assistant", 1, "", 1000)
	mock.ExpectQuery("SELECT id, conversation_id, kind, seq").
		WithArgs("conv-1").
		WillReturnRows(rows)
	mock.ExpectRollback()

	tx, err := repo.db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()

	msg, err := repo.GetOrCreateCurrentAssistantMessage(context.Background(), tx, "conv-1", 2000)
	require.NoError(t, err)
	require.Equal(t, "msg-1", msg.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateCurrentAssistantMessage_CreatesFresh(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, conversation_id, kind, seq").
		WithArgs("conv-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	tx, err := repo.db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()

	msg, err := repo.GetOrCreateCurrentAssistantMessage(context.Background(), tx, "conv-1", 2000)
	require.NoError(t, err)
	require.Equal(t, core.MessageKindAssistant, msg.Kind)
	require.Equal(t, int64(0), msg.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateToolSegmentStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE segments SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := repo.db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	err = repo.UpdateToolSegmentStatus(context.Background(), tx, "call-1", core.ToolStatusCompleted, map[string]interface{}{"ok": true}, "")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
