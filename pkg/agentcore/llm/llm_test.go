package llm

import (
	"context"
	"testing"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

type stubProvider struct{ name string }

func (s stubProvider) Stream(ctx context.Context, system string, messages []Message, tools []core.ToolDescriptor) (<-chan Chunk, error) {
	ch := make(chan Chunk, 1)
	ch <- Chunk{Kind: ChunkKindDone}
	close(ch)
	return ch, nil
}

func TestForModel(t *testing.T) {
	anthropicProvider := stubProvider{name: "anthropic"}
	openaiProvider := stubProvider{name: "openai"}

	cases := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", "anthropic"},
		{"claude-3-5-haiku-20241022", "anthropic"},
		{"gpt-4o", "openai"},
		{"gpt-4o-mini", "openai"},
		{"", "openai"},
	}

	for _, tc := range cases {
		got := ForModel(tc.model, anthropicProvider, openaiProvider).(stubProvider)
		if got.name != tc.want {
			t.Errorf("ForModel(%q) = %s, want %s", tc.model, got.name, tc.want)
		}
	}
}

func TestEstimatingCounter(t *testing.T) {
	c := EstimatingCounter{}
	if c.Source() != "estimated" {
		t.Errorf("Source() = %q, want %q", c.Source(), "estimated")
	}

	messages := []Message{
		{Text: "12345678"}, // 8 chars -> 2 tokens
		{ToolCalls: []core.ToolCall{{Name: "abcd"}}}, // 4 chars -> 1 token
	}
	if got := c.Count(messages); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}
