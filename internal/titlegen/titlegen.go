// Package titlegen is the Title Generator (C9): a fire-and-forget
// background worker that names a conversation from its first user
// message, without ever blocking or failing a turn. Nothing here is on
// the request path. A title is generated only for a job passed to
// Worker.Enqueue; neither the orchestrator nor the transport calls
// Enqueue, so finishing a turn does not by itself produce a title.
package titlegen

import (
	"context"
	"log/slog"
	"strings"

	"github.com/skyflo-ai/skyflo/internal/conversation"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
)

const systemPrompt = "Summarize the user's request in under 8 words. Reply with only the summary, no punctuation at the end."

// Worker is a bounded pool of goroutines draining a job queue. Jobs
// are enqueued non-blockingly: a full queue drops the job and logs a
// warning rather than stall the caller, since a missing title is
// never more than a cosmetic regression.
type Worker struct {
	conversations *conversation.Service
	model         llm.Provider
	jobs          chan job
}

type job struct {
	conversationID string
	firstUserText  string
}

// New starts n goroutines draining an internal queue of depth n*4.
// Call Stop to drain and release them.
func New(conversations *conversation.Service, model llm.Provider, workers int) *Worker {
	if workers <= 0 {
		workers = 2
	}
	w := &Worker{
		conversations: conversations,
		model:         model,
		jobs:          make(chan job, workers*4),
	}
	for i := 0; i < workers; i++ {
		go w.drain()
	}
	return w
}

// Enqueue schedules conversationID for title generation from its
// first user message. Never blocks.
func (w *Worker) Enqueue(conversationID, firstUserText string) {
	select {
	case w.jobs <- job{conversationID: conversationID, firstUserText: firstUserText}:
	default:
		slog.Warn("titlegen queue full, dropping job", slog.String("conversation_id", conversationID))
	}
}

// Stop closes the queue; already-enqueued jobs still drain.
func (w *Worker) Stop() {
	close(w.jobs)
}

func (w *Worker) drain() {
	for j := range w.jobs {
		if err := w.generate(context.Background(), j); err != nil {
			slog.Warn("title generation failed", slog.String("conversation_id", j.conversationID), slog.Any("error", err))
		}
	}
}

func (w *Worker) generate(ctx context.Context, j job) error {
	chunks, err := w.model.Stream(ctx, systemPrompt, []llm.Message{{Role: "user", Text: j.firstUserText}}, nil)
	if err != nil {
		return err
	}

	var title strings.Builder
	for chunk := range chunks {
		switch chunk.Kind {
		case llm.ChunkKindTextDelta:
			title.WriteString(chunk.TextDelta)
		case llm.ChunkKindDone:
			if chunk.Err != nil {
				return chunk.Err
			}
		}
	}

	clean := strings.TrimSpace(title.String())
	if clean == "" {
		return nil
	}

	return w.conversations.SetTitle(ctx, j.conversationID, clean)
}
