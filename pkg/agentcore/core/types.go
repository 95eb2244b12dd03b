// Package core defines the shared vocabulary of the agent run
// orchestrator: the persisted conversation shape, the segment state
// machine, and the events the orchestrator emits while driving a run.
package core

// MessageKind distinguishes a user turn from an assistant turn.
type MessageKind string

const (
	MessageKindUser      MessageKind = "user"
	MessageKindAssistant MessageKind = "assistant"
)

// SegmentKind distinguishes free text from a tool invocation within an
// assistant message.
type SegmentKind string

const (
	SegmentKindText SegmentKind = "text"
	SegmentKindTool SegmentKind = "tool"
)

// ToolSegmentStatus is the tool-segment state machine. A segment is
// created once a tool call is proposed by the model and transitions
// monotonically forward; it never regresses.
type ToolSegmentStatus string

const (
	ToolStatusPending          ToolSegmentStatus = "pending"
	ToolStatusAwaitingApproval ToolSegmentStatus = "awaiting_approval"
	ToolStatusApproved         ToolSegmentStatus = "approved"
	ToolStatusDenied           ToolSegmentStatus = "denied"
	ToolStatusExecuting        ToolSegmentStatus = "executing"
	ToolStatusCompleted        ToolSegmentStatus = "completed"
	ToolStatusError            ToolSegmentStatus = "error"
)

// Terminal reports whether a ToolSegmentStatus admits no further
// transition.
func (s ToolSegmentStatus) Terminal() bool {
	switch s {
	case ToolStatusDenied, ToolStatusCompleted, ToolStatusError:
		return true
	default:
		return false
	}
}

// RunStatus is the terminal classification of a finished orchestrator
// run, surfaced on the final SSE event and used by callers to decide
// whether to resume.
type RunStatus string

const (
	RunStatusCompleted        RunStatus = "completed"
	RunStatusError            RunStatus = "error"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusStopped          RunStatus = "stopped"
)

// TokenUsage is attached to a completed assistant message. Source
// distinguishes a number reported by the LLM provider from one
// estimated locally when the provider does not return usage.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CachedTokens     int     `json:"cached_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	TTFTMs           int64   `json:"ttft_ms"`
	TTRMs            int64   `json:"ttr_ms"`
	Source           string  `json:"source"`
}

// TextSegment is a contiguous run of assistant-generated text within a
// message.
type TextSegment struct {
	ID          string `json:"id" db:"id"`
	MessageID   string `json:"message_id" db:"message_id"`
	Seq         int    `json:"seq" db:"seq"`
	Text        string `json:"text" db:"text"`
	TimestampMs int64  `json:"timestamp_ms" db:"timestamp_ms"`
}

// ToolSegment is a single proposed-and-resolved tool call within a
// message. CallID is the idempotency key: the orchestrator may attempt
// to append the same tool segment more than once across a crash/resume
// boundary, and the persistence layer must treat the second attempt as
// a no-op.
type ToolSegment struct {
	ID                string            `json:"id" db:"id"`
	MessageID         string            `json:"message_id" db:"message_id"`
	Seq               int               `json:"seq" db:"seq"`
	ToolName          string            `json:"tool_name" db:"tool_name"`
	Title             string            `json:"title" db:"title"`
	Args              JSONMap           `json:"args" db:"args"`
	Status            ToolSegmentStatus `json:"status" db:"status"`
	Result            JSONValue         `json:"result" db:"result"`
	Error             string            `json:"error,omitempty" db:"error"`
	CallID            string            `json:"call_id" db:"call_id"`
	RequiresApproval  bool              `json:"requires_approval" db:"requires_approval"`
	TimestampMs       int64             `json:"timestamp_ms" db:"timestamp_ms"`
}

// Message is one turn of a conversation: a user prompt, or an
// assistant response composed of interleaved text and tool segments.
type Message struct {
	ID             string       `json:"id" db:"id"`
	ConversationID string       `json:"conversation_id" db:"conversation_id"`
	Kind           MessageKind  `json:"kind" db:"kind"`
	Seq            int64        `json:"seq" db:"seq"`
	Text           string       `json:"text,omitempty" db:"text"`
	TokenUsage     *TokenUsage  `json:"token_usage,omitempty" db:"token_usage"`
	TimestampMs    int64        `json:"timestamp_ms" db:"timestamp_ms"`
	TextSegments   []TextSegment `json:"text_segments,omitempty" db:"-"`
	ToolSegments   []ToolSegment `json:"tool_segments,omitempty" db:"-"`
}

// Conversation is the top-level container a run is scoped to.
type Conversation struct {
	ID          string `json:"id" db:"id"`
	OwnerUserID string `json:"owner_user_id" db:"owner_user_id"`
	Title       string `json:"title,omitempty" db:"title"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
	UpdatedAt   int64  `json:"updated_at" db:"updated_at"`
}

// ToolDescriptor is a tool server's advertisement of one callable
// tool, as returned by the tool catalog client.
type ToolDescriptor struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	InputSchema      JSONMap `json:"input_schema"`
	RequiresApproval bool    `json:"requires_approval"`
	Tags             []string `json:"tags,omitempty"`
}

// ToolCall is a single call the model proposed in one generation turn.
type ToolCall struct {
	CallID string  `json:"call_id"`
	Name   string  `json:"name"`
	Args   JSONMap `json:"args"`
}

// ToolResult is the outcome of executing, denying, or failing a
// ToolCall.
type ToolResult struct {
	CallID string    `json:"call_id"`
	Result JSONValue `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// JSONMap and JSONValue are thin aliases used at the persistence
// boundary; sqlx/lib-pq round-trip them through jsonb columns via
// sonic marshal/unmarshal in the repo layer.
type JSONMap map[string]interface{}
type JSONValue interface{}
