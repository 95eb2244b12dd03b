// Package openai adapts the OpenAI chat-completions streaming API to
// llm.Provider, used as the alternate backend when LLM_MODEL names a
// gpt-* model instead of an Anthropic claude-* one.
package openai

import (
	"context"
	"encoding/json"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/llm"
)

type Provider struct {
	client *openai.Client
	model  string
}

func New(apiKey, model string) *Provider {
	return &Provider{client: openai.NewClient(apiKey), model: model}
}

// ModelName reports the underlying model id, used by the orchestrator
// for cost-table lookups.
func (p *Provider) ModelName() string { return p.model }

func (p *Provider) Stream(ctx context.Context, system string, messages []llm.Message, tools []core.ToolDescriptor) (<-chan llm.Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(system, messages),
		Tools:    toOpenAITools(tools),
		Stream:   true,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.Chunk, 32)
	go runStream(ctx, stream, out)
	return out, nil
}

func runStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- llm.Chunk) {
	defer close(out)
	defer stream.Close()

	toolCalls := map[int]*core.ToolCall{}
	argBuf := map[int]string{}

	emit := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	flush := func() {
		for idx, tc := range toolCalls {
			if tc == nil || tc.CallID == "" || tc.Name == "" {
				continue
			}
			args := map[string]interface{}{}
			if argBuf[idx] != "" {
				_ = json.Unmarshal([]byte(argBuf[idx]), &args)
			}
			tc.Args = args
			if !emit(llm.Chunk{Kind: llm.ChunkKindToolCall, ToolCall: *tc}) {
				return
			}
		}
		toolCalls = map[int]*core.ToolCall{}
		argBuf = map[int]string{}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flush()
				emit(llm.Chunk{Kind: llm.ChunkKindDone})
				return
			}
			emit(llm.Chunk{Kind: llm.ChunkKindDone, Err: err})
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !emit(llm.Chunk{Kind: llm.ChunkKindTextDelta, TextDelta: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &core.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[idx].CallID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				argBuf[idx] += tc.Function.Arguments
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func toOpenAIMessages(system string, messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text})
		case "assistant":
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case "tool":
			content := m.ToolResult.Error
			if content == "" {
				raw, _ := json.Marshal(m.ToolResult.Result)
				content = string(raw)
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func toOpenAITools(tools []core.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  map[string]interface{}(t.InputSchema),
			},
		}
	}
	return out
}
