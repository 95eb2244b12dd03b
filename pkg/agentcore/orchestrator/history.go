package orchestrator

import (
	"context"

	"github.com/skyflo-ai/skyflo/internal/conversation"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
)

// deniedResultText is the text of the fixed result block attached to a
// denied tool call, both in the persisted segment and in the synthetic
// tool-role message fed back to the model.
const deniedResultText = "Tool call was denied by the user"

// buildHistory reconstructs the LLM-visible message list from the
// persisted transcript and applies the sliding-window trim: keep the
// most recent messages whose cumulative token count (per deps.Tokens)
// fits within ContextWindowTokens. The transcript, not any in-process
// buffer, is the source of truth for every generation call — including
// ones immediately following a tool execution this same run.
func (r *run) buildHistory(ctx context.Context) ([]llm.Message, error) {
	messages, err := r.deps.Repo.GetMessages(ctx, r.in.ConversationID)
	if err != nil {
		return nil, err
	}

	full := toLLMMessages(messages)
	if r.deps.ContextWindowTokens <= 0 {
		return full, nil
	}

	budget := r.deps.ContextWindowTokens
	kept := make([]llm.Message, 0, len(full))
	for i := len(full) - 1; i >= 0; i-- {
		window := append([]llm.Message{full[i]}, kept...)
		if r.deps.Tokens.Count(window) > budget && len(kept) > 0 {
			break
		}
		kept = window
	}
	return kept, nil
}

// toLLMMessages flattens the persisted message/segment shape into the
// provider-facing list: one assistant message carrying its text and
// proposed tool calls, followed by one tool-role message per resolved
// tool segment, in transcript order.
func toLLMMessages(messages []conversation.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages)*2)
	for _, m := range messages {
		switch m.Kind {
		case core.MessageKindUser:
			out = append(out, llm.Message{Role: "user", Text: m.Text})
		case core.MessageKindAssistant:
			out = append(out, assistantToLLM(m)...)
		}
	}
	return out
}

func assistantToLLM(m conversation.Message) []llm.Message {
	text := m.Text
	if text == "" {
		for _, ts := range m.TextSegments {
			text += ts.Text
		}
	}

	asst := llm.Message{Role: "assistant", Text: text}
	for _, ts := range m.ToolSegments {
		asst.ToolCalls = append(asst.ToolCalls, core.ToolCall{CallID: ts.CallID, Name: ts.ToolName, Args: ts.Args})
	}

	out := []llm.Message{asst}
	for _, ts := range m.ToolSegments {
		if !ts.Status.Terminal() {
			// Still pending/awaiting_approval/executing: no result yet to
			// feed back, the loop will pick this up via pending-tool
			// reconciliation rather than history replay.
			continue
		}
		result := llm.Message{Role: "tool", ToolCallID: ts.CallID}
		if ts.Status == core.ToolStatusError {
			result.ToolResult = core.ToolResult{CallID: ts.CallID, Error: ts.Error}
		} else {
			result.ToolResult = core.ToolResult{CallID: ts.CallID, Result: ts.Result}
		}
		out = append(out, result)
	}
	return out
}
