// Package mcp implements a toolcatalog.Provider backed by one MCP
// (Model Context Protocol) tool server, reached over SSE.
package mcp

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

var tracer = otel.Tracer("toolcatalog/mcp")

type Provider struct {
	endpoint string
	headers  map[string]string
	client   *client.Client
	tools    []mcp.Tool
}

// Connect starts an SSE client against endpoint, performs the MCP
// initialize handshake, and lists the server's tools once up front;
// the Multi aggregator re-lists through ListTools on its own TTL.
func Connect(ctx context.Context, endpoint string, headers map[string]string) (*Provider, error) {
	cli, err := client.NewSSEMCPClient(endpoint, client.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("mcp: create client for %s: %w", endpoint, err)
	}
	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp: start client for %s: %w", endpoint, err)
	}
	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("mcp: initialize %s: %w", endpoint, err)
	}

	tools, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools on %s: %w", endpoint, err)
	}

	return &Provider{endpoint: endpoint, headers: headers, client: cli, tools: tools.Tools}, nil
}

func (p *Provider) ListTools(ctx context.Context) ([]core.ToolDescriptor, error) {
	tools, err := p.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools on %s: %w", p.endpoint, err)
	}
	p.tools = tools.Tools

	out := make([]core.ToolDescriptor, 0, len(tools.Tools))
	for _, t := range tools.Tools {
		out = append(out, toolDescriptor(t))
	}
	return out, nil
}

func toolDescriptor(t mcp.Tool) core.ToolDescriptor {
	schema := map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	if raw, err := sonic.Marshal(t.InputSchema); err == nil {
		_ = sonic.Unmarshal(raw, &schema)
	}

	requiresApproval := false
	var tags []string
	if t.Annotations.Title != "" {
		tags = append(tags, t.Annotations.Title)
	}
	if t.Annotations.DestructiveHint != nil && *t.Annotations.DestructiveHint {
		requiresApproval = true
	}

	return core.ToolDescriptor{
		Name:             t.Name,
		Description:      t.Description,
		InputSchema:      schema,
		RequiresApproval: requiresApproval,
		Tags:             tags,
	}
}

func (p *Provider) Execute(ctx context.Context, call core.ToolCall) core.ToolResult {
	ctx, span := tracer.Start(ctx, "mcp.Execute: "+call.Name)
	defer span.End()

	res, err := p.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      call.Name,
			Arguments: map[string]interface{}(call.Args),
		},
	})
	if err != nil {
		span.RecordError(err)
		return core.ToolResult{CallID: call.CallID, Error: err.Error()}
	}

	for _, c := range res.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return core.ToolResult{CallID: call.CallID, Result: text.Text}
		}
	}

	return core.ToolResult{CallID: call.CallID, Error: "mcp: tool returned no text content"}
}
