// Package k8stools implements the built-in Kubernetes operations tool
// set: get_pods (read-only, no approval) and delete_pod (destructive,
// always requires approval). It is the orchestrator's worked example
// of a toolcatalog.Provider that talks to infrastructure directly
// instead of through an MCP server.
package k8stools

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

const (
	ToolGetPods   = "get_pods"
	ToolDeletePod = "delete_pod"
)

type Provider struct {
	client kubernetes.Interface
}

// NewFromKubeconfig builds a Provider from an explicit kubeconfig
// path, or from the in-cluster service account when path is empty.
func NewFromKubeconfig(path string) (*Provider, error) {
	var cfg *rest.Config
	var err error

	if path != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", path)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("k8stools: build config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8stools: build clientset: %w", err)
	}

	return &Provider{client: clientset}, nil
}

func New(client kubernetes.Interface) *Provider {
	return &Provider{client: client}
}

func (p *Provider) ListTools(ctx context.Context) ([]core.ToolDescriptor, error) {
	return []core.ToolDescriptor{
		{
			Name:        ToolGetPods,
			Description: "List pods in a namespace, optionally filtered by a label selector",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"namespace":      map[string]interface{}{"type": "string"},
					"label_selector": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"namespace"},
			},
			RequiresApproval: false,
			Tags:             []string{"kubernetes", "read"},
		},
		{
			Name:        ToolDeletePod,
			Description: "Delete a pod by name in a namespace",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"namespace": map[string]interface{}{"type": "string"},
					"name":      map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"namespace", "name"},
			},
			RequiresApproval: true,
			Tags:             []string{"kubernetes", "write", "destructive"},
		},
	}, nil
}

func (p *Provider) Execute(ctx context.Context, call core.ToolCall) core.ToolResult {
	switch call.Name {
	case ToolGetPods:
		return p.getPods(ctx, call)
	case ToolDeletePod:
		return p.deletePod(ctx, call)
	default:
		return core.ToolResult{CallID: call.CallID, Error: fmt.Sprintf("k8stools: unknown tool %s", call.Name)}
	}
}

func (p *Provider) getPods(ctx context.Context, call core.ToolCall) core.ToolResult {
	namespace, _ := call.Args["namespace"].(string)
	if namespace == "" {
		return core.ToolResult{CallID: call.CallID, Error: "namespace is required"}
	}
	labelSelector, _ := call.Args["label_selector"].(string)

	pods, err := p.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return core.ToolResult{CallID: call.CallID, Error: err.Error()}
	}

	out := make([]map[string]interface{}, 0, len(pods.Items))
	for _, pod := range pods.Items {
		out = append(out, map[string]interface{}{
			"name":      pod.Name,
			"namespace": pod.Namespace,
			"phase":     string(pod.Status.Phase),
			"ready":     podReady(pod),
			"restarts":  podRestarts(pod),
		})
	}

	return core.ToolResult{CallID: call.CallID, Result: map[string]interface{}{"pods": out}}
}

func (p *Provider) deletePod(ctx context.Context, call core.ToolCall) core.ToolResult {
	namespace, _ := call.Args["namespace"].(string)
	name, _ := call.Args["name"].(string)
	if namespace == "" || name == "" {
		return core.ToolResult{CallID: call.CallID, Error: "namespace and name are required"}
	}

	if err := p.client.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return core.ToolResult{CallID: call.CallID, Error: err.Error()}
	}

	return core.ToolResult{CallID: call.CallID, Result: map[string]interface{}{"deleted": name, "namespace": namespace}}
}

func podReady(pod corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func podRestarts(pod corev1.Pod) int32 {
	var total int32
	for _, cs := range pod.Status.ContainerStatuses {
		total += cs.RestartCount
	}
	return total
}
