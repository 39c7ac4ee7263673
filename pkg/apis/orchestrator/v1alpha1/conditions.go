package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Condition types recorded on a TaskRun.
const (
	ConditionValidated   = "Validated"
	ConditionProgressing = "Progressing"
	ConditionWorkspace   = "WorkspaceReady"
	ConditionBundle      = "BundlePublished"
	ConditionPreparation = "PreparationComplete"
	ConditionAgent       = "AgentComplete"
	ConditionReady       = "Ready"
)

// MaxConditionHistory bounds the number of condition records kept in status.
const MaxConditionHistory = 32

// AppendCondition appends c to the history unless the most recent record of the
// same type already carries the same status, reason and message. It reports
// whether the history changed.
func (s *TaskRunStatus) AppendCondition(c metav1.Condition) bool {
	for i := len(s.Conditions) - 1; i >= 0; i-- {
		prev := s.Conditions[i]
		if prev.Type != c.Type {
			continue
		}
		if prev.Status == c.Status && prev.Reason == c.Reason && prev.Message == c.Message {
			return false
		}
		break
	}

	if c.LastTransitionTime.IsZero() {
		c.LastTransitionTime = metav1.Now()
	}
	s.Conditions = append(s.Conditions, c)
	if over := len(s.Conditions) - MaxConditionHistory; over > 0 {
		s.Conditions = append([]metav1.Condition(nil), s.Conditions[over:]...)
	}
	return true
}

// LatestCondition returns the most recent record of the given type, or nil.
func (s *TaskRunStatus) LatestCondition(conditionType string) *metav1.Condition {
	for i := len(s.Conditions) - 1; i >= 0; i-- {
		if s.Conditions[i].Type == conditionType {
			return &s.Conditions[i]
		}
	}
	return nil
}
