package mcp

import (
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func TestToolDescriptorPlainTool(t *testing.T) {
	tool := gomcp.Tool{
		Name:        "get_pods",
		Description: "list pods in a namespace",
	}

	d := toolDescriptor(tool)
	require.Equal(t, "get_pods", d.Name)
	require.Equal(t, "list pods in a namespace", d.Description)
	require.False(t, d.RequiresApproval)
	require.Empty(t, d.Tags)
}

func TestToolDescriptorDestructiveToolRequiresApproval(t *testing.T) {
	destructive := true
	tool := gomcp.Tool{
		Name: "delete_pod",
		Annotations: gomcp.ToolAnnotation{
			Title:           "Delete Pod",
			DestructiveHint: &destructive,
		},
	}

	d := toolDescriptor(tool)
	require.True(t, d.RequiresApproval)
	require.Contains(t, d.Tags, "Delete Pod")
}
