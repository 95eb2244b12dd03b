package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/skyflo-ai/skyflo/internal/conversation"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/clock"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/ids"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
)

// resumeFromApproval rebuilds the pending-tool state from the
// persisted transcript — never from an in-memory future — so the
// decisions carried in r.in.ApprovalDecisions can be acted on by the
// first pass through the loop.
func (r *run) resumeFromApproval(ctx context.Context) error {
	segs, err := r.deps.Repo.FindPendingToolSegments(ctx, r.in.ConversationID)
	if err != nil {
		return fmt.Errorf("resume: load pending tool segments: %w", err)
	}
	r.pendingTools = segs
	return nil
}

// loop is the run's iteration algorithm (spec §4.6.2). It never
// returns an error: every failure path ends in a published terminal
// event, which is the orchestrator's only contract with its callers.
func (r *run) loop(ctx context.Context) {
	for iteration := 0; iteration < r.deps.MaxIterations; iteration++ {
		if r.deps.Stop.ShouldStop(ctx, r.in.RunID) {
			r.publish(ctx, core.EventWorkflowComplete, core.JSONMap{"status": string(core.RunStatusStopped)})
			return
		}

		if len(r.pendingTools) > 0 {
			r.actOnPendingTools(ctx)
			r.pendingTools = nil
			r.in.ApprovalDecisions = nil
			continue
		}

		if r.runGeneration(ctx) {
			return
		}
	}

	r.publishError(ctx, fmt.Errorf("exceeded max iterations (%d)", r.deps.MaxIterations))
}

// runGeneration performs one full generate-then-branch pass (steps
// 2-8). It reports whether the run has reached a terminal state and
// the caller should stop looping.
func (r *run) runGeneration(ctx context.Context) bool {
	tools, err := r.deps.Catalog.ListTools(ctx)
	if err != nil {
		r.publishError(ctx, fmt.Errorf("list tools: %w", err))
		return true
	}

	history, err := r.buildHistory(ctx)
	if err != nil {
		r.publishError(ctx, fmt.Errorf("build history: %w", err))
		return true
	}

	chunks, err := r.deps.LLM.Stream(ctx, r.deps.SystemPrompt, history, tools)
	if err != nil {
		r.publishError(ctx, fmt.Errorf("generation: %w", err))
		return true
	}

	text, calls, usage, err := r.consumeStream(ctx, chunks)
	if err != nil {
		r.publishError(ctx, fmt.Errorf("generation: %w", err))
		return true
	}
	r.usage = mergeUsage(r.usage, usage)

	if len(calls) == 0 {
		r.completeWithText(ctx, text)
		return true
	}

	return r.handleToolCalls(ctx, tools, text, calls)
}

// consumeStream drains one generation's Chunk stream, publishing
// token deltas as they arrive and recording time-to-first-token on the
// first one.
func (r *run) consumeStream(ctx context.Context, chunks <-chan llm.Chunk) (string, []core.ToolCall, core.TokenUsage, error) {
	var text string
	var calls []core.ToolCall
	var usage core.TokenUsage

	for c := range chunks {
		switch c.Kind {
		case llm.ChunkKindTextDelta:
			if r.firstTok.IsZero() {
				r.firstTok = r.deps.Clock.Now()
			}
			text += c.TextDelta
			r.publish(ctx, core.EventToken, core.JSONMap{"delta": c.TextDelta})
		case llm.ChunkKindToolCall:
			call := c.ToolCall
			if call.CallID == "" {
				call.CallID = ids.New()
			}
			calls = append(calls, call)
		case llm.ChunkKindDone:
			if c.Err != nil {
				return text, calls, usage, c.Err
			}
			usage = c.Usage
		}
	}
	return text, calls, usage, nil
}

func mergeUsage(acc, next core.TokenUsage) core.TokenUsage {
	acc.PromptTokens += next.PromptTokens
	acc.CompletionTokens += next.CompletionTokens
	acc.TotalTokens += next.TotalTokens
	acc.CachedTokens += next.CachedTokens
	if next.Source != "" {
		acc.Source = next.Source
	}
	return acc
}

// completeWithText appends the generated text as a segment and
// publishes the pure-text-completion terminal events.
func (r *run) completeWithText(ctx context.Context, text string) {
	r.publish(ctx, core.EventGenerationComplete, core.JSONMap{"content": text})

	err := r.deps.Repo.WithConversationLock(ctx, r.in.ConversationID, func(tx *sqlx.Tx) error {
		msg, err := r.deps.Repo.GetOrCreateCurrentAssistantMessage(ctx, tx, r.in.ConversationID, clock.NowMs(r.deps.Clock))
		if err != nil {
			return err
		}
		seq, err := r.deps.Repo.NextSegmentSeq(ctx, msg.ID)
		if err != nil {
			return err
		}
		if err := r.deps.Repo.AppendTextSegment(ctx, tx, conversation.TextSegment{
			ID:          ids.New(),
			MessageID:   msg.ID,
			Seq:         seq,
			Text:        text,
			TimestampMs: clock.NowMs(r.deps.Clock),
		}); err != nil {
			return err
		}
		return r.finalizeMetrics(ctx, tx, msg.ID)
	})
	if err != nil {
		// Persistence failures never abort the loop (§4.6.4): the
		// event stream already carries the terminal state to the
		// client.
		slog.ErrorContext(ctx, "failed to persist text completion", slog.Any("error", err))
	}

	r.publish(ctx, core.EventWorkflowComplete, core.JSONMap{"status": string(core.RunStatusCompleted)})
}

// finalizeMetrics attaches the run's accumulated token usage, cost,
// and latency figures to messageID (spec §4.6.5). Must run inside the
// same transaction as the segment append it finalizes.
func (r *run) finalizeMetrics(ctx context.Context, tx *sqlx.Tx, messageID string) error {
	usage := r.usage
	if usage.Source == "" {
		usage.Source = r.deps.Tokens.Source()
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	usage.CostUSD = r.deps.Prices.Cost(modelNameOf(r.deps.LLM), usage)
	if !r.firstTok.IsZero() {
		usage.TTFTMs = r.firstTok.Sub(r.startedAt).Milliseconds()
	}
	usage.TTRMs = r.deps.Clock.Now().Sub(r.startedAt).Milliseconds()
	return r.deps.Repo.UpdateMessageUsage(ctx, tx, messageID, &usage)
}

// modelNameOf best-effort extracts a model name for cost lookup from
// whichever concrete provider is wired in; providers that don't expose
// one simply price at zero.
func modelNameOf(p llm.Provider) string {
	type named interface{ ModelName() string }
	if n, ok := p.(named); ok {
		return n.ModelName()
	}
	return ""
}

// handleToolCalls performs steps 5-6: persist any narration that
// accompanied the call proposal as a TextSegment, persist every
// requested call as a pending segment, publish tools.pending, then
// gate on approval. It reports whether the run has reached a terminal
// (awaiting_approval) state.
func (r *run) handleToolCalls(ctx context.Context, tools []core.ToolDescriptor, text string, calls []core.ToolCall) bool {
	byName := make(map[string]core.ToolDescriptor, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	segs, err := r.persistPendingSegments(ctx, byName, text, calls)
	if err != nil {
		slog.ErrorContext(ctx, "failed to persist pending tool segments", slog.Any("error", err))
	}

	if !r.in.SuppressPendingEvent {
		pending := make([]core.JSONMap, 0, len(segs))
		for _, s := range segs {
			pending = append(pending, core.JSONMap{
				"call_id":           s.CallID,
				"tool":              s.ToolName,
				"title":             s.Title,
				"args":              s.Args,
				"requires_approval": s.RequiresApproval,
				"timestamp":         s.TimestampMs,
			})
		}
		r.publish(ctx, core.EventToolsPending, core.JSONMap{"tools": pending})
	}

	var needsApproval []conversation.ToolSegment
	for _, s := range segs {
		if !s.RequiresApproval {
			continue
		}
		if _, decided := r.in.ApprovalDecisions[s.CallID]; !decided {
			needsApproval = append(needsApproval, s)
		}
	}

	if len(needsApproval) > 0 {
		for _, s := range needsApproval {
			r.publish(ctx, core.EventToolAwaitingApproval, core.JSONMap{
				"call_id": s.CallID, "tool": s.ToolName, "title": s.Title, "args": s.Args,
			})
			if err := r.setToolStatus(ctx, s.CallID, core.ToolStatusAwaitingApproval, nil, ""); err != nil {
				slog.ErrorContext(ctx, "failed to mark tool awaiting approval", slog.Any("error", err))
			}
		}
		r.publish(ctx, core.EventWorkflowComplete, core.JSONMap{"status": string(core.RunStatusAwaitingApproval)})
		return true
	}

	r.pendingTools = segs
	return false
}

func (r *run) persistPendingSegments(ctx context.Context, byName map[string]core.ToolDescriptor, text string, calls []core.ToolCall) ([]conversation.ToolSegment, error) {
	var segs []conversation.ToolSegment
	err := r.deps.Repo.WithConversationLock(ctx, r.in.ConversationID, func(tx *sqlx.Tx) error {
		msg, err := r.deps.Repo.GetOrCreateCurrentAssistantMessage(ctx, tx, r.in.ConversationID, clock.NowMs(r.deps.Clock))
		if err != nil {
			return err
		}
		if text != "" {
			seq, err := r.deps.Repo.NextSegmentSeq(ctx, msg.ID)
			if err != nil {
				return err
			}
			if err := r.deps.Repo.AppendTextSegment(ctx, tx, conversation.TextSegment{
				ID:          ids.New(),
				MessageID:   msg.ID,
				Seq:         seq,
				Text:        text,
				TimestampMs: clock.NowMs(r.deps.Clock),
			}); err != nil {
				return err
			}
		}
		for _, call := range calls {
			desc := byName[call.Name]
			seq, err := r.deps.Repo.NextSegmentSeq(ctx, msg.ID)
			if err != nil {
				return err
			}
			seg := conversation.ToolSegment{
				ID:               ids.New(),
				MessageID:        msg.ID,
				Seq:              seq,
				ToolName:         call.Name,
				Title:            call.Name,
				Args:             call.Args,
				Status:           core.ToolStatusPending,
				CallID:           call.CallID,
				RequiresApproval: desc.RequiresApproval,
				TimestampMs:      clock.NowMs(r.deps.Clock),
			}
			if err := r.deps.Repo.AppendToolSegment(ctx, tx, seg); err != nil {
				return err
			}
			segs = append(segs, seg)
		}
		return nil
	})
	return segs, err
}

// actOnPendingTools performs steps 7-8: execute approved/unreviewed
// calls, record denials, and feed every outcome back into the
// transcript as the tool-role messages the next generation will see.
func (r *run) actOnPendingTools(ctx context.Context) {
	for _, seg := range r.pendingTools {
		if seg.RequiresApproval {
			approved, decided := r.in.ApprovalDecisions[seg.CallID]
			if !decided {
				// Nothing decided this round; leave as-is (should not
				// normally occur once the approval gate has run).
				continue
			}
			if !approved {
				r.publish(ctx, core.EventToolDenied, core.JSONMap{"call_id": seg.CallID})
				if err := r.setToolStatus(ctx, seg.CallID, core.ToolStatusDenied, []map[string]string{{"type": "text", "text": deniedResultText}}, ""); err != nil {
					slog.ErrorContext(ctx, "failed to persist tool denial", slog.Any("error", err))
				}
				continue
			}
		}

		r.publish(ctx, core.EventToolExecuting, core.JSONMap{"call_id": seg.CallID})
		if err := r.setToolStatus(ctx, seg.CallID, core.ToolStatusExecuting, nil, ""); err != nil {
			slog.ErrorContext(ctx, "failed to mark tool executing", slog.Any("error", err))
		}

		result := r.deps.Catalog.Execute(ctx, core.ToolCall{CallID: seg.CallID, Name: seg.ToolName, Args: seg.Args})
		if result.Error != "" {
			r.publish(ctx, core.EventToolError, core.JSONMap{"call_id": seg.CallID, "error": result.Error})
			if err := r.setToolStatus(ctx, seg.CallID, core.ToolStatusError, nil, result.Error); err != nil {
				slog.ErrorContext(ctx, "failed to persist tool error", slog.Any("error", err))
			}
			continue
		}

		r.publish(ctx, core.EventToolResult, core.JSONMap{"call_id": seg.CallID, "result": result.Result})
		if err := r.setToolStatus(ctx, seg.CallID, core.ToolStatusCompleted, result.Result, ""); err != nil {
			slog.ErrorContext(ctx, "failed to persist tool result", slog.Any("error", err))
		}
	}
}

func (r *run) setToolStatus(ctx context.Context, callID string, status core.ToolSegmentStatus, result core.JSONValue, toolErr string) error {
	return r.deps.Repo.WithConversationLock(ctx, r.in.ConversationID, func(tx *sqlx.Tx) error {
		return r.deps.Repo.UpdateToolSegmentStatus(ctx, tx, callID, status, result, toolErr)
	})
}
