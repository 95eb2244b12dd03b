// Package anthropic adapts the Anthropic Messages streaming API to
// llm.Provider, converting the SDK's content-block event union into
// the orchestrator's flat Chunk stream.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/bytedance/sonic"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
)

type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

func New(apiKey, model string) *Provider {
	return &Provider{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 8192,
	}
}

// ModelName reports the underlying model id, used by the orchestrator
// for cost-table lookups.
func (p *Provider) ModelName() string { return p.model }

func (p *Provider) Stream(ctx context.Context, system string, messages []llm.Message, tools []core.ToolDescriptor) (<-chan llm.Chunk, error) {
	req := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  toAnthropicMessages(messages),
		Tools:     toAnthropicTools(tools),
	}
	if system != "" {
		req.System = []sdk.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, req)

	out := make(chan llm.Chunk, 32)
	go runStream(ctx, stream, out)
	return out, nil
}

func runStream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- llm.Chunk) {
	defer close(out)
	defer stream.Close()

	toolBlocks := map[int64]*toolBuffer{}

	emit := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					if !emit(llm.Chunk{Kind: llm.ChunkKindTextDelta, TextDelta: delta.Text}) {
						return
					}
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[ev.Index]; tb != nil {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb, ok := toolBlocks[ev.Index]; ok {
				delete(toolBlocks, ev.Index)
				args := map[string]interface{}{}
				joined := strings.Join(tb.fragments, "")
				if strings.TrimSpace(joined) != "" {
					_ = sonic.UnmarshalString(joined, &args)
				}
				if !emit(llm.Chunk{Kind: llm.ChunkKindToolCall, ToolCall: core.ToolCall{
					CallID: tb.id,
					Name:   tb.name,
					Args:   args,
				}}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			usage := core.TokenUsage{
				PromptTokens:     int(ev.Usage.InputTokens),
				CompletionTokens: int(ev.Usage.OutputTokens),
				TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
				Source:           "provider",
			}
			if !emit(llm.Chunk{Kind: llm.ChunkKindDone, Usage: usage}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		emit(llm.Chunk{Kind: llm.ChunkKindDone, Err: err})
	}
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func toAnthropicMessages(messages []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case "assistant":
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.CallID, tc.Args, tc.Name))
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case "tool":
			resultText := m.ToolResult.Error
			if resultText == "" {
				raw, _ := sonic.Marshal(m.ToolResult.Result)
				resultText = string(raw)
			}
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, resultText, m.ToolResult.Error != "")))
		}
	}
	return out
}

func toAnthropicTools(tools []core.ToolDescriptor) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: t.InputSchema["properties"],
		}, t.Name))
	}
	return out
}
