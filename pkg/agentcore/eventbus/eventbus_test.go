package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

func TestRedact_TopLevelAndNested(t *testing.T) {
	b := New(nil)
	data := core.JSONMap{
		"password": "hunter2",
		"Token":    "abc",
		"args": core.JSONMap{
			"api_key": "xyz",
			"name":    "get_pods",
		},
	}

	b.redact(data)

	require.Equal(t, "[redacted]", data["password"])
	require.Equal(t, "[redacted]", data["Token"])

	nested := data["args"].(core.JSONMap)
	require.Equal(t, "[redacted]", nested["api_key"])
	require.Equal(t, "get_pods", nested["name"])
}

func TestRedact_LeadingUnderscoreAlwaysStripped(t *testing.T) {
	b := New(nil)
	data := core.JSONMap{
		"args": core.JSONMap{
			"_credential_ref": "cred-123",
			"namespace":       "default",
		},
	}

	b.redact(data)

	nested := data["args"].(core.JSONMap)
	require.NotContains(t, nested, "_credential_ref")
	require.Equal(t, "default", nested["namespace"])
}

func TestRedact_ConfiguredIntegrationMetadataKey(t *testing.T) {
	b := New(nil, "tenant_id")
	data := core.JSONMap{
		"args": core.JSONMap{
			"tenant_id": "tenant-42",
			"namespace": "default",
		},
	}

	b.redact(data)

	nested := data["args"].(core.JSONMap)
	require.NotContains(t, nested, "tenant_id")
	require.Equal(t, "default", nested["namespace"])
}

func TestChannel(t *testing.T) {
	require.Equal(t, "run:abc-123", Channel("abc-123"))
}
