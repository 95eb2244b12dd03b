// Package toolcatalog abstracts over one or more tool servers: each
// provider lists ToolDescriptors and executes calls against them. The
// Multi aggregator fans out to every configured provider and caches
// the merged catalog for a bounded TTL so a busy run doesn't re-list
// tools on every iteration.
package toolcatalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

// Provider is one source of tools: an MCP server, the built-in
// Kubernetes tool set, or anything else that can list and execute
// tools.
type Provider interface {
	ListTools(ctx context.Context) ([]core.ToolDescriptor, error)
	Execute(ctx context.Context, call core.ToolCall) core.ToolResult
}

// Catalog is what the orchestrator depends on.
type Catalog interface {
	ListTools(ctx context.Context) ([]core.ToolDescriptor, error)
	Execute(ctx context.Context, call core.ToolCall) core.ToolResult
}

// Multi aggregates several providers behind one Catalog, routing
// Execute by tool name and caching ListTools for ttl.
type Multi struct {
	providers []Provider
	ttl       time.Duration

	mu        sync.Mutex
	cached    []core.ToolDescriptor
	cachedAt  time.Time
	ownerOf   map[string]Provider
}

func NewMulti(ttl time.Duration, providers ...Provider) *Multi {
	return &Multi{providers: providers, ttl: ttl, ownerOf: map[string]Provider{}}
}

func (m *Multi) ListTools(ctx context.Context) ([]core.ToolDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && time.Since(m.cachedAt) < m.ttl {
		return m.cached, nil
	}

	var merged []core.ToolDescriptor
	owner := map[string]Provider{}
	for _, p := range m.providers {
		tools, err := p.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			merged = append(merged, t)
			owner[t.Name] = p
		}
	}

	m.cached = merged
	m.cachedAt = time.Now()
	m.ownerOf = owner

	return merged, nil
}

func (m *Multi) Execute(ctx context.Context, call core.ToolCall) core.ToolResult {
	m.mu.Lock()
	p, ok := m.ownerOf[call.Name]
	m.mu.Unlock()

	if !ok {
		// Catalog may not have been listed yet on this process; force a
		// refresh before giving up.
		if _, err := m.ListTools(ctx); err != nil {
			return core.ToolResult{CallID: call.CallID, Error: err.Error()}
		}
		m.mu.Lock()
		p, ok = m.ownerOf[call.Name]
		m.mu.Unlock()
	}

	if !ok {
		return core.ToolResult{CallID: call.CallID, Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	return p.Execute(ctx, call)
}
