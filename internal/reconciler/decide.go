package reconciler

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"taskrun/internal/events"
	"taskrun/internal/jobs"
	"taskrun/internal/naming"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// Action is the side effect the reconciler performs for a Decision.
type Action string

const (
	// ActionNone leaves a terminal TaskRun alone.
	ActionNone Action = "None"

	// ActionPrepare ensures the workspace, publishes the bundle and creates the prep job.
	ActionPrepare Action = "Prepare"

	// ActionWait requeues after the job poll interval.
	ActionWait Action = "Wait"

	// ActionStartAgent creates the agent job.
	ActionStartAgent Action = "StartAgent"

	// ActionFinish records the terminal outcome.
	ActionFinish Action = "Finish"
)

// Condition reasons not shared with event reasons.
const (
	ReasonPreparationJobLost = "PreparationJobLost"
	ReasonAgentJobLost       = "AgentJobLost"
	ReasonSucceeded          = "Succeeded"
)

// Observed is everything Decide looks at.
type Observed struct {
	Namespace string
	Phase     v1alpha1.TaskRunPhase

	PrepJobName  string
	AgentJobName string

	Prep  jobs.Observation
	Agent jobs.Observation
}

// Emit is an event to record alongside a transition.
type Emit struct {
	Reason events.EventReason
	Data   events.EventData
}

// Decision is the outcome of one step of the state machine.
type Decision struct {
	Next   v1alpha1.TaskRunPhase
	Action Action

	// Conditions are appended to status in order once the action succeeds.
	Conditions []metav1.Condition
	Events     []Emit

	// Outcome is set for transitions into a terminal phase.
	Outcome *v1alpha1.Outcome

	// Failure is set when a child job ended the run.
	Failure *JobFailure
}

// Decide maps the observed phase and child job states to the next phase and
// the side effect that gets there. It performs no I/O and is total over
// every phase and job state combination.
func Decide(o Observed) Decision {
	switch o.Phase {
	case "", v1alpha1.PhasePending:
		return Decision{
			Next:   v1alpha1.PhasePreparing,
			Action: ActionPrepare,
			Conditions: []metav1.Condition{
				condition(v1alpha1.ConditionProgressing, true, string(events.ReasonPreparationStarted),
					fmt.Sprintf("preparation job %s created", o.PrepJobName)),
			},
			Events: []Emit{{Reason: events.ReasonPreparationStarted, Data: events.EventData{Object: o.PrepJobName}}},
		}

	case v1alpha1.PhasePreparing:
		return decidePreparing(o)

	case v1alpha1.PhaseRunning:
		return decideRunning(o)

	case v1alpha1.PhaseSucceeded, v1alpha1.PhaseFailed:
		return Decision{Next: o.Phase, Action: ActionNone}
	}

	// An unknown phase can only come from a hand-edited status.
	return fail(o, "", "", "UnknownPhase", fmt.Sprintf("unknown phase %q", o.Phase))
}

func decidePreparing(o Observed) Decision {
	switch o.Prep.State {
	case jobs.StateActive:
		return Decision{Next: v1alpha1.PhasePreparing, Action: ActionWait}

	case jobs.StateSucceeded:
		return Decision{
			Next:   v1alpha1.PhaseRunning,
			Action: ActionStartAgent,
			Conditions: []metav1.Condition{
				condition(v1alpha1.ConditionPreparation, true, string(events.ReasonPreparationSucceeded),
					fmt.Sprintf("preparation job %s completed", o.PrepJobName)),
				condition(v1alpha1.ConditionProgressing, true, string(events.ReasonAgentStarted),
					fmt.Sprintf("agent job %s created", o.AgentJobName)),
			},
			Events: []Emit{
				{Reason: events.ReasonPreparationSucceeded, Data: events.EventData{Object: o.PrepJobName}},
				{Reason: events.ReasonAgentStarted, Data: events.EventData{Object: o.AgentJobName}},
			},
		}

	case jobs.StateFailed:
		return fail(o, naming.JobTypePrep, o.PrepJobName, o.Prep.Reason, o.Prep.Message)
	}

	return fail(o, naming.JobTypePrep, o.PrepJobName, ReasonPreparationJobLost,
		fmt.Sprintf("preparation job %s no longer exists", o.PrepJobName))
}

func decideRunning(o Observed) Decision {
	switch o.Agent.State {
	case jobs.StateActive:
		return Decision{Next: v1alpha1.PhaseRunning, Action: ActionWait}

	case jobs.StateSucceeded:
		msg := fmt.Sprintf("agent job %s completed", o.AgentJobName)
		return Decision{
			Next:   v1alpha1.PhaseSucceeded,
			Action: ActionFinish,
			Conditions: []metav1.Condition{
				condition(v1alpha1.ConditionAgent, true, string(events.ReasonAgentSucceeded), msg),
				condition(v1alpha1.ConditionReady, true, ReasonSucceeded, msg),
			},
			Events: []Emit{{Reason: events.ReasonAgentSucceeded, Data: events.EventData{Object: o.AgentJobName}}},
			Outcome: &v1alpha1.Outcome{
				Result:   v1alpha1.PhaseSucceeded,
				Reason:   string(events.ReasonAgentSucceeded),
				Message:  msg,
				LogsHint: LogsHint(o.Namespace, o.AgentJobName),
			},
		}

	case jobs.StateFailed:
		return fail(o, naming.JobTypeAgent, o.AgentJobName, o.Agent.Reason, o.Agent.Message)
	}

	return fail(o, naming.JobTypeAgent, o.AgentJobName, ReasonAgentJobLost,
		fmt.Sprintf("agent job %s no longer exists", o.AgentJobName))
}

// fail builds the transition into Failed for a job of the given kind.
func fail(o Observed, kind, jobName, reason, message string) Decision {
	condType := v1alpha1.ConditionReady
	eventReason := events.ReasonPlatformError
	outcomeReason := reason
	switch kind {
	case naming.JobTypePrep:
		condType = v1alpha1.ConditionPreparation
		eventReason = events.ReasonPreparationFailed
		outcomeReason = string(events.ReasonPreparationFailed)
	case naming.JobTypeAgent:
		condType = v1alpha1.ConditionAgent
		eventReason = events.ReasonAgentFailed
		outcomeReason = string(events.ReasonAgentFailed)
	}

	detail := reason
	if message != "" {
		detail = reason + ": " + message
	}
	detail = SanitizeErrorMessage(detail)

	conds := []metav1.Condition{condition(condType, false, reason, detail)}
	if condType != v1alpha1.ConditionReady {
		conds = append(conds, condition(v1alpha1.ConditionReady, false, outcomeReason, detail))
	}

	var hint string
	var failure *JobFailure
	if jobName != "" {
		hint = LogsHint(o.Namespace, jobName)
		failure = &JobFailure{Kind: kind, JobName: jobName, Reason: reason, Message: message}
	}

	return Decision{
		Failure:    failure,
		Next:       v1alpha1.PhaseFailed,
		Action:     ActionFinish,
		Conditions: conds,
		Events:     []Emit{{Reason: eventReason, Data: events.EventData{Object: jobName, Error: detail}}},
		Outcome: &v1alpha1.Outcome{
			Result:   v1alpha1.PhaseFailed,
			Reason:   outcomeReason,
			Message:  detail,
			LogsHint: hint,
		},
	}
}

// Abort builds the transition into Failed for an error raised while
// reconciling rather than by a child job.
func Abort(o Observed, event events.EventReason, reason, message string) Decision {
	d := fail(o, "", "", reason, message)
	d.Events[0].Reason = event
	return d
}

// LogsHint is the command that prints a job's logs.
func LogsHint(namespace, jobName string) string {
	if namespace == "" {
		return "kubectl logs -l " + naming.JobSelector(jobName)
	}
	return fmt.Sprintf("kubectl logs -n %s -l %s", namespace, naming.JobSelector(jobName))
}

func condition(condType string, ok bool, reason, message string) metav1.Condition {
	status := metav1.ConditionFalse
	if ok {
		status = metav1.ConditionTrue
	}
	return metav1.Condition{
		Type:    condType,
		Status:  status,
		Reason:  reason,
		Message: message,
	}
}
