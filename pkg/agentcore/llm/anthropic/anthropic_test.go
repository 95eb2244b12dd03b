package anthropic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
)

func TestNewSetsModelName(t *testing.T) {
	p := New("key", "claude-sonnet-4-20250514")
	require.Equal(t, "claude-sonnet-4-20250514", p.ModelName())
}

func TestToAnthropicMessagesOneParamPerTurn(t *testing.T) {
	out := toAnthropicMessages([]llm.Message{
		{Role: "user", Text: "restart the deployment"},
		{Role: "assistant", Text: "on it", ToolCalls: []core.ToolCall{{CallID: "call-1", Name: "restart_deployment"}}},
		{Role: "tool", ToolCallID: "call-1", ToolResult: core.ToolResult{CallID: "call-1", Result: "ok"}},
	})
	require.Len(t, out, 3)
}

func TestToAnthropicMessagesSkipsUnknownRole(t *testing.T) {
	out := toAnthropicMessages([]llm.Message{{Role: "system", Text: "ignored"}})
	require.Len(t, out, 0)
}

func TestToAnthropicTools(t *testing.T) {
	out := toAnthropicTools([]core.ToolDescriptor{
		{Name: "get_pods", InputSchema: core.JSONMap{"properties": core.JSONMap{"namespace": core.JSONMap{"type": "string"}}}},
		{Name: "delete_pod", RequiresApproval: true},
	})
	require.Len(t, out, 2)
}
