package statusserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	trclient "taskrun/internal/client"
	"taskrun/internal/formatting"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func taskRun(name string, taskID int64, created time.Time, phase v1alpha1.TaskRunPhase) *v1alpha1.TaskRun {
	return &v1alpha1.TaskRun{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         "agents",
			CreationTimestamp: metav1.NewTime(created),
		},
		Spec:   v1alpha1.TaskRunSpec{TaskID: taskID, ServiceName: "trader"},
		Status: v1alpha1.TaskRunStatus{Phase: phase},
	}
}

func newServer(t *testing.T, objs ...ctrlclient.Object) *Server {
	t.Helper()
	c := fake.NewClientBuilder().
		WithScheme(trclient.NewScheme()).
		WithObjects(objs...).
		WithIndex(&corev1.Event{}, "involvedObject.name", func(o ctrlclient.Object) []string {
			return []string{o.(*corev1.Event).InvolvedObject.Name}
		}).
		Build()

	s := New(trclient.Wrap(c), "agents", "test")
	s.now = func() time.Time { return fixedNow }
	return s
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestNew_RegistersTools(t *testing.T) {
	s := newServer(t)
	tools := s.MCPServer().ListTools()
	assert.Contains(t, tools, "taskrun_status")
	assert.Contains(t, tools, "taskrun_list")
}

func TestServe_StopsWhenContextCancelled(t *testing.T) {
	s := newServer(t)
	in, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, in, io.Discard) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServe_AnswersUntilEOF(t *testing.T) {
	s := newServer(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"ping"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))
	assert.Contains(t, out.String(), `"id":7`)
}

func TestHandleStatus_ByName(t *testing.T) {
	tr := taskRun("trader-7", 7, fixedNow.Add(-time.Hour), v1alpha1.PhaseFailed)
	tr.Status.Outcome = &v1alpha1.Outcome{
		Result:   v1alpha1.PhaseFailed,
		Reason:   "AgentFailed",
		LogsHint: "kubectl logs -n agents -l job-name=trader-7-agent",
	}
	tr.Status.Conditions = []metav1.Condition{{Type: v1alpha1.ConditionReady, Status: metav1.ConditionFalse, Reason: "AgentFailed"}}

	s := newServer(t, tr)
	require.NoError(t, s.client.CreateEvent(context.Background(), tr, "AgentFailed", "Agent job trader-7-agent failed", corev1.EventTypeWarning))

	result, err := s.handleStatus(context.Background(), call(map[string]any{"name": "trader-7"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var got statusResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &got))
	assert.Equal(t, "trader-7", got.Name)
	assert.Equal(t, "Failed", got.Phase)
	assert.Equal(t, "60m", got.Age)
	assert.Equal(t, "kubectl logs -n agents -l job-name=trader-7-agent", got.LogsHint)
	require.Len(t, got.Conditions, 1)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "AgentFailed", got.Events[0].Reason)
}

func TestHandleStatus_ByIdentityReturnsLatest(t *testing.T) {
	s := newServer(t,
		taskRun("trader-7", 7, fixedNow.Add(-2*time.Hour), v1alpha1.PhaseFailed),
		taskRun("trader-7-v2", 7, fixedNow.Add(-time.Hour), v1alpha1.PhaseRunning),
		taskRun("trader-8", 8, fixedNow, v1alpha1.PhasePending),
	)

	result, err := s.handleStatus(context.Background(), call(map[string]any{"service": "trader", "taskId": float64(7)}))
	require.NoError(t, err)

	var got formatting.TaskRunSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &got))
	assert.Equal(t, "trader-7-v2", got.Name)
	assert.Equal(t, "Running", got.Phase)
}

func TestHandleStatus_Errors(t *testing.T) {
	s := newServer(t, taskRun("trader-7", 7, fixedNow, v1alpha1.PhasePending))

	tests := []struct {
		name string
		args map[string]any
	}{
		{"no identity", map[string]any{}},
		{"service without task", map[string]any{"service": "trader"}},
		{"unknown name", map[string]any{"name": "absent"}},
		{"unknown task", map[string]any{"service": "trader", "taskId": float64(99)}},
		{"other namespace", map[string]any{"name": "trader-7", "namespace": "elsewhere"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleStatus(context.Background(), call(tt.args))
			require.NoError(t, err, "tool errors are reported in the result")
			assert.True(t, result.IsError)
		})
	}
}

func TestHandleList(t *testing.T) {
	billing := taskRun("billing-1", 1, fixedNow, v1alpha1.PhaseRunning)
	billing.Spec.ServiceName = "billing"

	s := newServer(t,
		taskRun("trader-1", 1, fixedNow, v1alpha1.PhaseSucceeded),
		taskRun("trader-2", 2, fixedNow, v1alpha1.PhaseRunning),
		billing,
	)

	list := func(args map[string]any) []formatting.TaskRunSummary {
		t.Helper()
		result, err := s.handleList(context.Background(), call(args))
		require.NoError(t, err)
		var got []formatting.TaskRunSummary
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &got))
		return got
	}

	assert.Len(t, list(map[string]any{}), 3)

	byService := list(map[string]any{"service": "trader"})
	require.Len(t, byService, 2)
	assert.Equal(t, "trader-1", byService[0].Name)

	running := list(map[string]any{"phase": "Running"})
	require.Len(t, running, 2)

	assert.Empty(t, list(map[string]any{"namespace": "elsewhere"}))
}
