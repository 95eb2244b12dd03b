package titlegen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/skyflo-ai/skyflo/internal/conversation"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
)

type fakeModel struct {
	text string
	err  error
}

func (f fakeModel) Stream(ctx context.Context, system string, messages []llm.Message, tools []core.ToolDescriptor) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 2)
	if f.err != nil {
		ch <- llm.Chunk{Kind: llm.ChunkKindDone, Err: f.err}
		close(ch)
		return ch, nil
	}
	ch <- llm.Chunk{Kind: llm.ChunkKindTextDelta, TextDelta: f.text}
	ch <- llm.Chunk{Kind: llm.ChunkKindDone}
	close(ch)
	return ch, nil
}

func newMockService(t *testing.T) (*conversation.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := conversation.NewRepo(sqlx.NewDb(db, "postgres"))
	return conversation.NewService(repo, nil), mock
}

func TestWorkerGenerateSetsTitle(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectExec("UPDATE conversations SET title").
		WithArgs("restart the payments deployment", "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := New(svc, fakeModel{text: "restart the payments deployment"}, 1)
	t.Cleanup(w.Stop)
	err := w.generate(context.Background(), job{conversationID: "conv-1", firstUserText: "please restart payments"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerGenerateSkipsBlankTitle(t *testing.T) {
	svc, mock := newMockService(t)
	w := New(svc, fakeModel{text: "   "}, 1)
	t.Cleanup(w.Stop)

	err := w.generate(context.Background(), job{conversationID: "conv-1", firstUserText: "hi"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet()) // no UPDATE expected
}

func TestWorkerGeneratePropagatesStreamError(t *testing.T) {
	svc, _ := newMockService(t)
	w := New(svc, fakeModel{err: errors.New("boom")}, 1)
	t.Cleanup(w.Stop)

	err := w.generate(context.Background(), job{conversationID: "conv-1", firstUserText: "hi"})
	require.Error(t, err)
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	svc, _ := newMockService(t)
	w := &Worker{conversations: svc, model: fakeModel{}, jobs: make(chan job, 1)}

	w.Enqueue("conv-1", "first")
	w.Enqueue("conv-2", "second") // queue full, should drop without blocking

	select {
	case j := <-w.jobs:
		require.Equal(t, "conv-1", j.conversationID)
	case <-time.After(time.Second):
		t.Fatal("expected the first enqueued job to be present")
	}
}
