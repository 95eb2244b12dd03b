package k8stools

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/require"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

func TestProvider_ListTools(t *testing.T) {
	p := New(fake.NewSimpleClientset())
	tools, err := p.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.True(t, tools[1].RequiresApproval, "delete_pod must require approval")
	require.False(t, tools[0].RequiresApproval, "get_pods must not require approval")
}

func TestProvider_GetPods(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "default"},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}
	p := New(fake.NewSimpleClientset(pod))

	result := p.Execute(context.Background(), core.ToolCall{
		CallID: "c1",
		Name:   ToolGetPods,
		Args:   core.JSONMap{"namespace": "default"},
	})

	require.Empty(t, result.Error)
	body := result.Result.(map[string]interface{})
	pods := body["pods"].([]map[string]interface{})
	require.Len(t, pods, 1)
	require.Equal(t, "web-1", pods[0]["name"])
}

func TestProvider_GetPods_MissingNamespace(t *testing.T) {
	p := New(fake.NewSimpleClientset())
	result := p.Execute(context.Background(), core.ToolCall{CallID: "c1", Name: ToolGetPods, Args: core.JSONMap{}})
	require.NotEmpty(t, result.Error)
}

func TestProvider_DeletePod(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "default"}}
	clientset := fake.NewSimpleClientset(pod)
	p := New(clientset)

	result := p.Execute(context.Background(), core.ToolCall{
		CallID: "c2",
		Name:   ToolDeletePod,
		Args:   core.JSONMap{"namespace": "default", "name": "web-1"},
	})
	require.Empty(t, result.Error)

	_, err := clientset.CoreV1().Pods("default").Get(context.Background(), "web-1", metav1.GetOptions{})
	require.Error(t, err)
}
