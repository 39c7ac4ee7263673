// Package events emits Kubernetes Events for TaskRun phase transitions, so
// that "kubectl describe taskrun" shows why a run moved or stopped.
//
// Messages come from a small template table keyed by EventReason. Failure
// reasons, WorkspaceBusy and PlatformError are emitted as Warning events.
//
//	gen := events.NewEventGenerator(taskRunClient)
//	gen.TaskRunEvent(ctx, tr, events.ReasonPreparationStarted, events.EventData{Object: jobName})
package events
