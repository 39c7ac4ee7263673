package jobs

import (
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
)

// State is the controller's view of a child job.
type State string

const (
	StateMissing   State = "Missing"
	StateActive    State = "Active"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
)

// ReasonDeadlineExceeded is used when a job outlived its active deadline
// before the job controller recorded a failure.
const ReasonDeadlineExceeded = "DeadlineExceeded"

// Observation is the classified state of a job.
type Observation struct {
	State   State
	Reason  string
	Message string
}

// Observe classifies job at time now. A nil job is Missing. A job whose
// active deadline has elapsed since its start time counts as Failed even
// when no failure condition has been recorded yet.
func Observe(job *batchv1.Job, now time.Time) Observation {
	if job == nil {
		return Observation{State: StateMissing}
	}

	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete, batchv1.JobSuccessCriteriaMet:
			return Observation{State: StateSucceeded, Reason: nonEmpty(c.Reason, "Completed"), Message: c.Message}
		case batchv1.JobFailed, batchv1.JobFailureTarget:
			return Observation{State: StateFailed, Reason: nonEmpty(c.Reason, "Failed"), Message: c.Message}
		}
	}

	if job.Spec.ActiveDeadlineSeconds != nil && job.Status.StartTime != nil {
		deadline := job.Status.StartTime.Add(time.Duration(*job.Spec.ActiveDeadlineSeconds) * time.Second)
		if now.After(deadline) {
			return Observation{
				State:   StateFailed,
				Reason:  ReasonDeadlineExceeded,
				Message: "job was active longer than its deadline of " + (time.Duration(*job.Spec.ActiveDeadlineSeconds) * time.Second).String(),
			}
		}
	}

	return Observation{State: StateActive}
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
