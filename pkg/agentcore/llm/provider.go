// Package llm abstracts over the concrete model SDK (Anthropic,
// OpenAI) behind one streaming interface the orchestrator drives. A
// Provider turns a list of messages and tool descriptors into a
// stream of Chunks: incremental text deltas, proposed tool calls, and
// a final usage summary.
package llm

import (
	"context"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

// Message is one turn of LLM-visible history: user text, assistant
// text, or an assistant tool call paired with its result.
type Message struct {
	Role       string // "user", "assistant", "tool"
	Text       string
	ToolCalls  []core.ToolCall
	ToolCallID string // set on a "tool" role message, echoes the call it answers
	ToolResult core.ToolResult
}

// ChunkKind discriminates the union of things a Provider can emit
// while streaming one generation turn.
type ChunkKind string

const (
	ChunkKindTextDelta ChunkKind = "text_delta"
	ChunkKindToolCall  ChunkKind = "tool_call"
	ChunkKindDone      ChunkKind = "done"
)

// Chunk is one item of a Provider's streamed response. Exactly one of
// the kind-specific fields is populated, matching its Kind.
type Chunk struct {
	Kind      ChunkKind
	TextDelta string
	ToolCall  core.ToolCall
	Usage     core.TokenUsage
	Err       error
}

// Provider drives a single generation turn against one model backend.
// Stream must close the returned channel exactly once, terminating
// with either a ChunkKindDone chunk or one carrying Err.
type Provider interface {
	Stream(ctx context.Context, system string, messages []Message, tools []core.ToolDescriptor) (<-chan Chunk, error)
}

// TokenCounter estimates or reports the size, in tokens, of a
// message history. The orchestrator's sliding-window trim uses this to
// decide how much history fits in the configured context window.
type TokenCounter interface {
	Count(messages []Message) int
	Source() string // "provider" or "estimated"
}

// EstimatingCounter is the default TokenCounter used when a provider
// does not expose an exact tokenizer: it assumes four characters per
// token, a common rough approximation for English prose.
type EstimatingCounter struct{}

func (EstimatingCounter) Count(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Text) / 4
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) / 4
		}
	}
	return total
}

func (EstimatingCounter) Source() string { return "estimated" }
