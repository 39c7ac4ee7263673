package formatting

import (
	"time"

	"k8s.io/apimachinery/pkg/util/duration"

	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// TaskRunSummary is the flattened view of a TaskRun shown by the CLI and
// returned by the status tools.
type TaskRunSummary struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	TaskID    int64  `json:"taskId"`
	Service   string `json:"service"`
	Variant   string `json:"variant"`
	Phase     string `json:"phase"`
	Age       string `json:"age"`

	// Reason and Message come from the outcome, or from the latest condition
	// while the run is in flight.
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	Workspace string `json:"workspace,omitempty"`
	Bundle    string `json:"bundle,omitempty"`
	PrepJob   string `json:"prepJob,omitempty"`
	AgentJob  string `json:"agentJob,omitempty"`
	LogsHint  string `json:"logsHint,omitempty"`
}

// Summarize flattens tr. now is the reference for the age.
func Summarize(tr *v1alpha1.TaskRun, now time.Time) TaskRunSummary {
	s := TaskRunSummary{
		Name:      tr.Name,
		Namespace: tr.Namespace,
		TaskID:    tr.Spec.TaskID,
		Service:   tr.Spec.ServiceName,
		Variant:   string(tr.Spec.EffectiveVariant()),
		Phase:     string(tr.CurrentPhase()),
		Age:       FormatAge(now.Sub(tr.CreationTimestamp.Time)),
		Workspace: tr.Status.WorkspaceClaim,
	}
	if tr.CreationTimestamp.IsZero() {
		s.Age = "<unknown>"
	}
	if tr.Status.Bundle != nil {
		s.Bundle = tr.Status.Bundle.Name
	}
	if tr.Status.PrepJob != nil {
		s.PrepJob = tr.Status.PrepJob.Name
	}
	if tr.Status.AgentJob != nil {
		s.AgentJob = tr.Status.AgentJob.Name
	}

	if o := tr.Status.Outcome; o != nil {
		s.Reason = o.Reason
		s.Message = o.Message
		s.LogsHint = o.LogsHint
	} else if n := len(tr.Status.Conditions); n > 0 {
		last := tr.Status.Conditions[n-1]
		s.Reason = last.Reason
		s.Message = last.Message
	}
	return s
}

// FormatAge renders d the way kubectl renders ages, e.g. 45s, 12m, 3d.
func FormatAge(d time.Duration) string {
	return duration.HumanDuration(d)
}
