// Package reconciler drives TaskRun resources from Pending to a terminal phase.
//
// # Overview
//
// A TaskRun is turned into a workspace PersistentVolumeClaim, an artifact
// bundle ConfigMap, a preparation Job and an agent Job. Which of those steps
// happens next is decided by Decide, a pure function of the observed phase and
// the observed state of the two jobs. TaskRunReconciler performs the side
// effect that Decide asks for and writes the resulting status.
//
// # Architecture
//
//   - Manager: queue, workers, retry with exponential backoff, status tracking
//   - KubernetesDetector: informers on TaskRuns and on the Jobs the controller
//     owns; job changes are mapped to the owning TaskRun
//   - TaskRunReconciler: one reconcile step per request
//   - Decide: the state machine, free of I/O
//
// # Usage
//
//	detector := reconciler.NewKubernetesDetector(restConfig, namespace, scheme)
//	r := reconciler.NewTaskRunReconciler(c, scheme, provider, recorder, reconciler.GetReconcilerMetrics())
//	manager := reconciler.NewManager(reconciler.ManagerConfig{}, r, detector, reconciler.GetReconcilerMetrics())
//	if err := manager.Start(ctx); err != nil {
//	    return fmt.Errorf("failed to start reconciliation: %w", err)
//	}
//	defer manager.Stop()
//
// # Errors
//
// Validation errors keep a TaskRun in Pending with a Validated=False
// condition. Render errors, permanent platform errors and failed jobs move it
// to Failed. Transient platform errors are retried by requeueing until the
// configured retry limit is reached.
package reconciler
