package v1alpha1

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"
)

func TestEffectiveVariant(t *testing.T) {
	tests := []struct {
		name string
		spec TaskRunSpec
		want Variant
	}{
		{"reserved id implies docs", TaskRunSpec{TaskID: DocsGenerationTaskID}, VariantDocs},
		{"ordinary id implies code", TaskRunSpec{TaskID: 1}, VariantCode},
		{"explicit variant wins", TaskRunSpec{TaskID: 1, Variant: VariantDocs}, VariantDocs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.EffectiveVariant())
		})
	}
}

func TestPhaseIsTerminal(t *testing.T) {
	assert.True(t, PhaseSucceeded.IsTerminal())
	assert.True(t, PhaseFailed.IsTerminal())
	assert.False(t, PhasePending.IsTerminal())
	assert.False(t, PhasePreparing.IsTerminal())
	assert.False(t, PhaseRunning.IsTerminal())

	tr := &TaskRun{}
	assert.Equal(t, PhasePending, tr.CurrentPhase())
}

func TestAppendCondition_DeduplicatesLatestOfType(t *testing.T) {
	var status TaskRunStatus
	c := metav1.Condition{Type: ConditionValidated, Status: metav1.ConditionFalse, Reason: "ValidationFailed", Message: "bad preset"}

	require.True(t, status.AppendCondition(c))
	assert.False(t, status.AppendCondition(c), "identical record must not be appended twice")
	assert.Len(t, status.Conditions, 1)
	assert.False(t, status.Conditions[0].LastTransitionTime.IsZero())

	other := metav1.Condition{Type: ConditionProgressing, Status: metav1.ConditionTrue, Reason: "Preparing"}
	require.True(t, status.AppendCondition(other))

	// the latest Validated record is still identical, even with another type in between
	assert.False(t, status.AppendCondition(c))

	changed := c
	changed.Message = "different"
	assert.True(t, status.AppendCondition(changed))
	assert.Len(t, status.Conditions, 3)
	assert.Equal(t, "different", status.LatestCondition(ConditionValidated).Message)
	assert.Nil(t, status.LatestCondition(ConditionAgent))
}

func TestAppendCondition_BoundsHistory(t *testing.T) {
	var status TaskRunStatus
	for i := 0; i < MaxConditionHistory+5; i++ {
		status.AppendCondition(metav1.Condition{
			Type:    ConditionProgressing,
			Status:  metav1.ConditionTrue,
			Reason:  "Tick",
			Message: fmt.Sprintf("tick %d", i),
		})
	}
	require.Len(t, status.Conditions, MaxConditionHistory)
	assert.Equal(t, "tick 5", status.Conditions[0].Message)
}

func TestDeepCopy_IsIndependent(t *testing.T) {
	tr := &TaskRun{
		Spec: TaskRunSpec{
			TaskID:            1,
			CatalogRepository: &RepositorySpec{URL: "https://example.com/a.git"},
			Tools:             ToolSpec{Remote: []string{"memory"}},
			AgentTools:        []AgentToolSpec{{Name: "bash", Restrictions: []string{"git:*"}}},
		},
		Status: TaskRunStatus{
			PrepJob:    &ChildJobRef{Name: "x-prep"},
			Conditions: []metav1.Condition{{Type: ConditionReady}},
		},
	}

	cp := tr.DeepCopy()
	cp.Spec.CatalogRepository.URL = "changed"
	cp.Spec.Tools.Remote[0] = "changed"
	cp.Spec.AgentTools[0].Restrictions[0] = "changed"
	cp.Status.PrepJob.Name = "changed"
	cp.Status.Conditions[0].Type = "changed"

	assert.Equal(t, "https://example.com/a.git", tr.Spec.CatalogRepository.URL)
	assert.Equal(t, "memory", tr.Spec.Tools.Remote[0])
	assert.Equal(t, "git:*", tr.Spec.AgentTools[0].Restrictions[0])
	assert.Equal(t, "x-prep", tr.Status.PrepJob.Name)
	assert.Equal(t, ConditionReady, tr.Status.Conditions[0].Type)
}

func TestAgentToolSpec_EnabledDefaultsToTrue(t *testing.T) {
	unset := AgentToolSpec{Name: "bash"}
	assert.True(t, unset.IsEnabled())
	assert.True(t, AgentToolSpec{Name: "bash", Enabled: ptr.To(true)}.IsEnabled())
	assert.False(t, AgentToolSpec{Name: "bash", Enabled: ptr.To(false)}.IsEnabled())

	// Leaving Enabled unset must not put an explicit false on the wire.
	data, err := json.Marshal(unset)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"bash"}`, string(data))

	data, err = json.Marshal(AgentToolSpec{Name: "bash", Enabled: ptr.To(false)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"bash","enabled":false}`, string(data))

	var decoded AgentToolSpec
	require.NoError(t, yaml.Unmarshal([]byte("name: websearch\n"), &decoded))
	assert.Nil(t, decoded.Enabled)
	assert.True(t, decoded.IsEnabled())
}

func TestAgentToolSpec_DeepCopyEnabled(t *testing.T) {
	in := AgentToolSpec{Name: "bash", Enabled: ptr.To(true)}
	out := in.DeepCopy()
	*out.Enabled = false
	assert.True(t, *in.Enabled)
}
