package openai

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
)

func TestNewSetsModelName(t *testing.T) {
	p := New("key", "gpt-4o")
	require.Equal(t, "gpt-4o", p.ModelName())
}

func TestToOpenAIMessagesPrependsSystem(t *testing.T) {
	out := toOpenAIMessages("be concise", []llm.Message{{Role: "user", Text: "hi"}})
	require.Len(t, out, 2)
	require.Equal(t, "system", string(out[0].Role))
	require.Equal(t, "be concise", out[0].Content)
	require.Equal(t, "user", string(out[1].Role))
}

func TestToOpenAIMessagesAssistantToolCall(t *testing.T) {
	out := toOpenAIMessages("", []llm.Message{{
		Role: "assistant",
		ToolCalls: []core.ToolCall{
			{CallID: "call-1", Name: "get_pods", Args: core.JSONMap{"namespace": "default"}},
		},
	}})
	require.Len(t, out, 1)
	require.Len(t, out[0].ToolCalls, 1)
	require.Equal(t, "call-1", out[0].ToolCalls[0].ID)
	require.Equal(t, "get_pods", out[0].ToolCalls[0].Function.Name)
}

func TestToOpenAIMessagesToolResult(t *testing.T) {
	out := toOpenAIMessages("", []llm.Message{{
		Role:       "tool",
		ToolCallID: "call-1",
		ToolResult: core.ToolResult{CallID: "call-1", Result: []map[string]string{{"pod": "web-1"}}},
	}})
	require.Len(t, out, 1)
	require.Equal(t, "call-1", out[0].ToolCallID)
	require.Contains(t, out[0].Content, "web-1")
}

func TestToOpenAIMessagesToolError(t *testing.T) {
	out := toOpenAIMessages("", []llm.Message{{
		Role:       "tool",
		ToolCallID: "call-1",
		ToolResult: core.ToolResult{CallID: "call-1", Error: "denied"},
	}})
	require.Equal(t, "denied", out[0].Content)
}

func TestToOpenAITools(t *testing.T) {
	out := toOpenAITools([]core.ToolDescriptor{
		{Name: "get_pods", Description: "list pods", InputSchema: core.JSONMap{"type": "object"}},
	})
	require.Len(t, out, 1)
	require.Equal(t, "get_pods", out[0].Function.Name)
	require.Equal(t, "list pods", out[0].Function.Description)
}
