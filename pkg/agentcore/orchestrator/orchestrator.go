// Package orchestrator drives a single agent run: the LLM-tool
// iteration loop that proposes tool calls, gates on approval,
// executes them, streams progress, and persists the resulting
// transcript.
//
// A run is pinned to the process that started it: there is no
// durable-workflow replay. Suspending for approval means exiting the
// loop after persisting the tool segments as pending/awaiting_approval;
// resuming means starting a brand new run (a new run_id) that
// reconstructs the in-flight tool calls from the transcript via
// Conversation Persistence, not from an in-memory future.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skyflo-ai/skyflo/internal/conversation"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/clock"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/eventbus"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/ids"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/stopregistry"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/toolcatalog"
)

var tracer = otel.Tracer("orchestrator")

// Dependencies are the orchestrator's collaborators, all defined as
// narrow interfaces/structs from their own packages so tests can
// substitute fakes without a real Postgres or Redis.
type Dependencies struct {
	Stop    *stopregistry.Registry
	Bus     *eventbus.Bus
	Catalog toolcatalog.Catalog
	Repo    *conversation.Repo
	LLM     llm.Provider
	Tokens  llm.TokenCounter
	Clock   clock.Clock

	SystemPrompt        string
	ContextWindowTokens int
	MaxIterations       int
	Prices              PriceTable
}

// Input is a single run's starting parameters, matching spec §4.6.1.
type Input struct {
	RunID                string
	ConversationID       string
	NewUserText          string // empty on a resume
	ApprovalDecisions    map[string]bool
	SuppressPendingEvent bool
}

// Run drives one orchestrator run to completion or suspension. It
// never returns an error for ordinary LLM/tool failures — those are
// reported as workflow_error events per the failure model (§4.6.4);
// the returned error is reserved for a persistence failure so severe
// the run could not even start.
func Run(ctx context.Context, deps Dependencies, in Input) error {
	ctx, span := tracer.Start(ctx, "orchestrator.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", in.RunID),
		attribute.String("conversation_id", in.ConversationID),
	)

	if deps.Clock == nil {
		deps.Clock = clock.Real
	}
	if deps.Tokens == nil {
		deps.Tokens = llm.EstimatingCounter{}
	}
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 25
	}

	if err := deps.Stop.Clear(ctx, in.RunID); err != nil {
		slog.WarnContext(ctx, "failed to clear stop flag at run start", slog.Any("error", err))
	}

	r := &run{
		deps:      deps,
		in:        in,
		startedAt: deps.Clock.Now(),
	}

	if in.NewUserText != "" {
		if err := r.appendUserMessage(ctx); err != nil {
			return fmt.Errorf("orchestrator: append user message: %w", err)
		}
	}

	if len(in.ApprovalDecisions) > 0 {
		if err := r.resumeFromApproval(ctx); err != nil {
			r.publishError(ctx, err)
			return nil
		}
	}

	r.loop(ctx)
	return nil
}

type run struct {
	deps      Dependencies
	in        Input
	startedAt time.Time
	firstTok  time.Time
	usage     core.TokenUsage
}

func (r *run) publish(ctx context.Context, typ core.EventType, data core.JSONMap) {
	r.deps.Bus.Publish(ctx, r.in.RunID, core.Event{Type: typ, Data: data})
}

func (r *run) publishError(ctx context.Context, err error) {
	r.publish(ctx, core.EventWorkflowError, core.JSONMap{
		"status": string(core.RunStatusError),
		"error":  err.Error(),
	})
}

func (r *run) appendUserMessage(ctx context.Context) error {
	return r.deps.Repo.WithConversationLock(ctx, r.in.ConversationID, func(tx *sqlx.Tx) error {
		seq, err := r.deps.Repo.NextSeq(ctx, r.in.ConversationID)
		if err != nil {
			return err
		}
		return r.deps.Repo.AppendMessage(ctx, tx, conversation.Message{
			ID:             ids.New(),
			ConversationID: r.in.ConversationID,
			Kind:           core.MessageKindUser,
			Seq:            seq,
			Text:           r.in.NewUserText,
			TimestampMs:    clock.NowMs(r.deps.Clock),
		})
	})
}
