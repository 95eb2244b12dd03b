package conversation

import "github.com/skyflo-ai/skyflo/pkg/agentcore/core"

// Re-export the shared domain types under this package's name so
// callers read `conversation.Conversation`, `conversation.Message`
// without importing pkg/agentcore/core directly for the persistence
// boundary.
type Conversation = core.Conversation
type Message = core.Message
type TextSegment = core.TextSegment
type ToolSegment = core.ToolSegment
type TokenUsage = core.TokenUsage
