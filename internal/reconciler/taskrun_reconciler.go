package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	trclient "taskrun/internal/client"
	"taskrun/internal/config"
	"taskrun/internal/events"
	"taskrun/internal/jobs"
	"taskrun/internal/naming"
	"taskrun/internal/render"
	"taskrun/internal/templatedata"
	"taskrun/internal/workspace"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
	"taskrun/pkg/logging"
)

// Reasons recorded by the reconciler itself.
const (
	ReasonValidated        = "Validated"
	ReasonValidationFailed = "ValidationFailed"
	ReasonRenderFailed     = "RenderFailed"
	ReasonJobBuildFailed   = "JobBuildFailed"
	ReasonPlatformError    = "PlatformError"
	ReasonWorkspaceBusy    = "WorkspaceBusy"
)

// TaskRunReconciler drives a TaskRun through its phases. All decisions are
// made by Decide; this type performs the cluster I/O around it.
type TaskRunReconciler struct {
	client    trclient.TaskRunClient
	config    config.Provider
	workspace *workspace.Manager
	publisher *render.Publisher
	builder   *jobs.Builder
	recorder  events.Recorder
	metrics   *ReconcilerMetrics
	gate      *workspaceGate

	now func() time.Time
}

// NewTaskRunReconciler creates a TaskRunReconciler. A nil recorder drops
// events and nil metrics are not exported.
func NewTaskRunReconciler(c trclient.TaskRunClient, scheme *runtime.Scheme, cfg config.Provider, recorder events.Recorder, metrics *ReconcilerMetrics) *TaskRunReconciler {
	if recorder == nil {
		recorder = events.Discard{}
	}
	if metrics == nil {
		metrics = NewReconcilerMetrics(nil)
	}
	return &TaskRunReconciler{
		client:    c,
		config:    cfg,
		workspace: workspace.NewManager(c),
		publisher: render.NewPublisher(c, scheme),
		builder:   jobs.NewBuilder(scheme),
		recorder:  recorder,
		metrics:   metrics,
		gate:      newWorkspaceGate(),
		now:       time.Now,
	}
}

// GetResourceType returns the resource type this reconciler handles.
func (r *TaskRunReconciler) GetResourceType() ResourceType {
	return ResourceTypeTaskRun
}

// Reconcile advances one TaskRun by at most one phase.
func (r *TaskRunReconciler) Reconcile(ctx context.Context, req ReconcileRequest) ReconcileResult {
	start := time.Now()
	result := r.reconcile(ctx, req)

	outcome := ResultSuccess
	switch {
	case result.Error != nil:
		outcome = ResultError
	case result.Requeue || result.RequeueAfter > 0:
		outcome = ResultRequeue
	}
	r.metrics.ObserveReconcile(outcome, time.Since(start))
	return result
}

func (r *TaskRunReconciler) reconcile(ctx context.Context, req ReconcileRequest) ReconcileResult {
	tr, err := r.client.GetTaskRun(ctx, req.Name, req.Namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			// Owned objects are garbage collected with the TaskRun.
			logging.Debug("TaskRunReconciler", "TaskRun %s/%s is gone", req.Namespace, req.Name)
			return ReconcileResult{}
		}
		return ReconcileResult{Error: Classify("get taskrun", err)}
	}
	if !tr.DeletionTimestamp.IsZero() {
		return ReconcileResult{}
	}

	cfg := r.config.Current()
	phase := tr.CurrentPhase()
	switch {
	case phase.IsTerminal():
		return ReconcileResult{}
	case phase == v1alpha1.PhasePending:
		return r.reconcilePending(ctx, req, tr, cfg)
	default:
		return r.reconcileActive(ctx, req, tr, cfg)
	}
}

// reconcilePending validates the TaskRun, ensures its workspace and bundle,
// and creates the preparation job. Nothing is created for an invalid spec.
func (r *TaskRunReconciler) reconcilePending(ctx context.Context, req ReconcileRequest, tr *v1alpha1.TaskRun, cfg *config.ControllerConfig) ReconcileResult {
	tctx, err := templatedata.Build(tr, cfg)
	if err != nil {
		return r.rejectSpec(ctx, tr, err)
	}

	unlock := r.gate.Lock(tr.Namespace, tr.Spec.ServiceName)
	defer unlock()

	holder, err := workspaceHolder(ctx, r.client, tr)
	if err != nil {
		return r.platformFailure(ctx, req, tr, cfg, Classify("list taskruns", err))
	}
	if holder != "" {
		return r.waitForWorkspace(ctx, tr, holder, cfg)
	}

	vol, err := r.workspace.EnsureWorkspace(ctx, tr.Namespace, tr.Spec.ServiceName, cfg.Workspace)
	if err != nil {
		return r.platformFailure(ctx, req, tr, cfg, Classify("ensure workspace", err))
	}
	if vol.Created {
		r.metrics.RecordChildCreated("PersistentVolumeClaim")
	}

	bundle, err := render.Render(tctx)
	if err != nil {
		msg := err.Error()
		var rerr *render.RenderError
		if !errors.As(err, &rerr) {
			msg = "render: " + msg
		}
		return r.finish(ctx, tr, Abort(r.observe(tr), events.ReasonRenderFailed, ReasonRenderFailed, msg))
	}

	ref, err := r.publisher.Publish(ctx, tr, bundle)
	if err != nil {
		return r.platformFailure(ctx, req, tr, cfg, Classify("publish bundle", err))
	}

	job, err := r.builder.PrepJob(tr, tctx, ref.Name)
	if err != nil {
		return r.finish(ctx, tr, Abort(r.observe(tr), events.ReasonPlatformError, ReasonJobBuildFailed, err.Error()))
	}
	if err := r.createJob(ctx, job); err != nil {
		return r.platformFailure(ctx, req, tr, cfg, Classify("create prep job", err))
	}

	o := r.observe(tr)
	o.PrepJobName = job.Name
	d := Decide(o)

	now := metav1.NewTime(r.now())
	changed, err := r.updateStatus(ctx, tr, func(cur *v1alpha1.TaskRun) bool {
		if cur.CurrentPhase() != v1alpha1.PhasePending {
			return false
		}
		st := &cur.Status
		st.Phase = d.Next
		st.ObservedGeneration = cur.Generation
		st.WorkspaceClaim = vol.ClaimName
		st.Bundle = &ref
		st.PrepJob = &v1alpha1.ChildJobRef{
			Name:        job.Name,
			LogSelector: naming.JobSelector(job.Name),
			CreatedAt:   &now,
		}
		if st.StartedAt == nil {
			st.StartedAt = &now
		}
		st.AppendCondition(condition(v1alpha1.ConditionValidated, true, ReasonValidated, "spec accepted"))
		st.AppendCondition(condition(v1alpha1.ConditionWorkspace, true, string(events.ReasonWorkspaceReady),
			fmt.Sprintf("workspace claim %s is available", vol.ClaimName)))
		st.AppendCondition(condition(v1alpha1.ConditionBundle, true, string(events.ReasonBundlePublished),
			fmt.Sprintf("bundle %s published with hash %s", ref.Name, ref.Hash)))
		appendConditions(st, d.Conditions)
		return true
	})
	if err != nil {
		return ReconcileResult{Error: err}
	}
	if changed {
		r.metrics.RecordTransition(string(v1alpha1.PhasePending), string(d.Next))
		r.emit(ctx, tr, Emit{Reason: events.ReasonWorkspaceReady, Data: events.EventData{Object: vol.ClaimName}})
		r.emit(ctx, tr, Emit{Reason: events.ReasonBundlePublished, Data: events.EventData{Object: ref.Name}})
		r.emit(ctx, tr, d.Events...)
		logging.Info("TaskRunReconciler", "TaskRun %s/%s is %s (job %s)", tr.Namespace, tr.Name, d.Next, job.Name)
	}
	return ReconcileResult{RequeueAfter: cfg.Reconciler.JobPollInterval}
}

// reconcileActive observes the current child job and moves the TaskRun on
// when it has finished.
func (r *TaskRunReconciler) reconcileActive(ctx context.Context, req ReconcileRequest, tr *v1alpha1.TaskRun, cfg *config.ControllerConfig) ReconcileResult {
	o := r.observe(tr)
	now := r.now()

	switch tr.CurrentPhase() {
	case v1alpha1.PhasePreparing:
		job, err := r.getJob(ctx, tr.Namespace, o.PrepJobName)
		if err != nil {
			return r.platformFailure(ctx, req, tr, cfg, Classify("get prep job", err))
		}
		o.Prep = jobs.Observe(job, now)
	case v1alpha1.PhaseRunning:
		job, err := r.getJob(ctx, tr.Namespace, o.AgentJobName)
		if err != nil {
			return r.platformFailure(ctx, req, tr, cfg, Classify("get agent job", err))
		}
		o.Agent = jobs.Observe(job, now)
	}

	d := Decide(o)
	switch d.Action {
	case ActionWait:
		return ReconcileResult{RequeueAfter: cfg.Reconciler.JobPollInterval}
	case ActionStartAgent:
		return r.startAgent(ctx, req, tr, cfg, d)
	case ActionFinish:
		return r.finish(ctx, tr, d)
	}
	return ReconcileResult{}
}

// startAgent creates the agent job once preparation has succeeded. The job
// is built from the same spec the bundle was rendered from, which cannot
// change after creation.
func (r *TaskRunReconciler) startAgent(ctx context.Context, req ReconcileRequest, tr *v1alpha1.TaskRun, cfg *config.ControllerConfig, d Decision) ReconcileResult {
	tctx, err := templatedata.Build(tr, cfg)
	if err != nil {
		return r.finish(ctx, tr, Abort(r.observe(tr), events.ReasonValidationFailed, ReasonValidationFailed, err.Error()))
	}

	bundle := naming.Bundle(tr.Name)
	if tr.Status.Bundle != nil && tr.Status.Bundle.Name != "" {
		bundle = tr.Status.Bundle.Name
	}

	job, err := r.builder.AgentJob(tr, tctx, bundle)
	if err != nil {
		return r.finish(ctx, tr, Abort(r.observe(tr), events.ReasonPlatformError, ReasonJobBuildFailed, err.Error()))
	}
	if err := r.createJob(ctx, job); err != nil {
		return r.platformFailure(ctx, req, tr, cfg, Classify("create agent job", err))
	}

	from := tr.CurrentPhase()
	now := metav1.NewTime(r.now())
	changed, err := r.updateStatus(ctx, tr, func(cur *v1alpha1.TaskRun) bool {
		if cur.CurrentPhase() != from {
			return false
		}
		cur.Status.Phase = d.Next
		cur.Status.AgentJob = &v1alpha1.ChildJobRef{
			Name:        job.Name,
			LogSelector: naming.JobSelector(job.Name),
			CreatedAt:   &now,
		}
		appendConditions(&cur.Status, d.Conditions)
		return true
	})
	if err != nil {
		return ReconcileResult{Error: err}
	}
	if changed {
		r.metrics.RecordTransition(string(from), string(d.Next))
		r.emit(ctx, tr, d.Events...)
		logging.Info("TaskRunReconciler", "TaskRun %s/%s is %s (job %s)", tr.Namespace, tr.Name, d.Next, job.Name)
	}
	return ReconcileResult{RequeueAfter: cfg.Reconciler.JobPollInterval}
}

// finish records a terminal decision. Terminal TaskRuns are never requeued.
func (r *TaskRunReconciler) finish(ctx context.Context, tr *v1alpha1.TaskRun, d Decision) ReconcileResult {
	from := tr.CurrentPhase()
	now := metav1.NewTime(r.now())
	changed, err := r.updateStatus(ctx, tr, func(cur *v1alpha1.TaskRun) bool {
		if cur.CurrentPhase() != from {
			return false
		}
		cur.Status.Phase = d.Next
		if d.Outcome != nil {
			outcome := *d.Outcome
			outcome.CompletedAt = &now
			cur.Status.Outcome = &outcome
		}
		appendConditions(&cur.Status, d.Conditions)
		return true
	})
	if err != nil {
		return ReconcileResult{Error: err}
	}
	if changed {
		r.metrics.RecordTransition(string(from), string(d.Next))
		r.emit(ctx, tr, d.Events...)
		switch {
		case d.Failure != nil:
			logging.Error("TaskRunReconciler", d.Failure, "TaskRun %s/%s failed, see %s", tr.Namespace, tr.Name, d.Outcome.LogsHint)
		case d.Outcome != nil:
			logging.Info("TaskRunReconciler", "TaskRun %s/%s finished %s: %s", tr.Namespace, tr.Name, d.Next, d.Outcome.Reason)
		}
	}
	return ReconcileResult{}
}

// rejectSpec records a validation failure. The TaskRun stays Pending and is
// not requeued; only a new TaskRun can fix it.
func (r *TaskRunReconciler) rejectSpec(ctx context.Context, tr *v1alpha1.TaskRun, err error) ReconcileResult {
	var verrs templatedata.ValidationErrors
	if !errors.As(err, &verrs) {
		return ReconcileResult{Error: fmt.Errorf("failed to build template data: %w", err)}
	}

	msg := SanitizeErrorMessage(err.Error())
	changed, serr := r.updateStatus(ctx, tr, func(cur *v1alpha1.TaskRun) bool {
		if cur.CurrentPhase() != v1alpha1.PhasePending {
			return false
		}
		cur.Status.Phase = v1alpha1.PhasePending
		return cur.Status.AppendCondition(condition(v1alpha1.ConditionValidated, false, ReasonValidationFailed, msg))
	})
	if serr != nil {
		return ReconcileResult{Error: serr}
	}
	if changed {
		r.emit(ctx, tr, Emit{Reason: events.ReasonValidationFailed, Data: events.EventData{Error: msg}})
		logging.Warn("TaskRunReconciler", "TaskRun %s/%s rejected: %s", tr.Namespace, tr.Name, msg)
	}
	return ReconcileResult{}
}

func (r *TaskRunReconciler) waitForWorkspace(ctx context.Context, tr *v1alpha1.TaskRun, holder string, cfg *config.ControllerConfig) ReconcileResult {
	msg := fmt.Sprintf("workspace for service %s is in use by %s", tr.Spec.ServiceName, holder)
	changed, err := r.updateStatus(ctx, tr, func(cur *v1alpha1.TaskRun) bool {
		if cur.CurrentPhase() != v1alpha1.PhasePending {
			return false
		}
		cur.Status.Phase = v1alpha1.PhasePending
		return cur.Status.AppendCondition(condition(v1alpha1.ConditionProgressing, false, ReasonWorkspaceBusy, msg))
	})
	if err != nil {
		return ReconcileResult{Error: err}
	}
	if changed {
		r.emit(ctx, tr, Emit{Reason: events.ReasonWorkspaceBusy, Data: events.EventData{Object: holder}})
		logging.Info("TaskRunReconciler", "TaskRun %s/%s waiting: %s", tr.Namespace, tr.Name, msg)
	}
	return ReconcileResult{RequeueAfter: cfg.Reconciler.JobPollInterval}
}

// platformFailure retries transient API errors through the manager's
// backoff and turns permanent ones, or the last allowed attempt, into Failed.
func (r *TaskRunReconciler) platformFailure(ctx context.Context, req ReconcileRequest, tr *v1alpha1.TaskRun, cfg *config.ControllerConfig, perr *PlatformError) ReconcileResult {
	msg := SanitizeErrorMessage(perr.Error())

	if perr.Transient && req.Attempt < cfg.Reconciler.MaxRetries {
		changed, err := r.updateStatus(ctx, tr, func(cur *v1alpha1.TaskRun) bool {
			if cur.CurrentPhase().IsTerminal() {
				return false
			}
			return cur.Status.AppendCondition(condition(v1alpha1.ConditionProgressing, false, ReasonPlatformError, msg))
		})
		if err != nil {
			logging.Warn("TaskRunReconciler", "Could not record platform error on %s/%s: %v", tr.Namespace, tr.Name, err)
		} else if changed {
			r.emit(ctx, tr, Emit{Reason: events.ReasonPlatformError, Data: events.EventData{Error: msg}})
		}
		return ReconcileResult{Error: perr}
	}

	if perr.Transient {
		msg = SanitizeErrorMessage(fmt.Sprintf("giving up after %d attempts: %s", req.Attempt, perr.Error()))
	}
	o := r.observe(tr)
	return r.finish(ctx, tr, Abort(o, events.ReasonPlatformError, ReasonPlatformError, msg))
}

// observe fills the parts of Observed that come from the TaskRun itself.
func (r *TaskRunReconciler) observe(tr *v1alpha1.TaskRun) Observed {
	o := Observed{
		Namespace:    tr.Namespace,
		Phase:        tr.CurrentPhase(),
		PrepJobName:  naming.PrepJob(tr.Name),
		AgentJobName: naming.AgentJob(tr.Name),
	}
	if ref := tr.Status.PrepJob; ref != nil && ref.Name != "" {
		o.PrepJobName = ref.Name
	}
	if ref := tr.Status.AgentJob; ref != nil && ref.Name != "" {
		o.AgentJobName = ref.Name
	}
	return o
}

// getJob returns nil without error when the job does not exist.
func (r *TaskRunReconciler) getJob(ctx context.Context, namespace, name string) (*batchv1.Job, error) {
	job := &batchv1.Job{}
	err := r.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, job)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// createJob creates job unless a job with the same name already exists from
// an earlier, interrupted reconcile.
func (r *TaskRunReconciler) createJob(ctx context.Context, job *batchv1.Job) error {
	err := r.client.Create(ctx, job)
	if apierrors.IsAlreadyExists(err) {
		logging.Debug("TaskRunReconciler", "Job %s/%s already exists", job.Namespace, job.Name)
		return nil
	}
	if err != nil {
		return err
	}
	r.metrics.RecordChildCreated("Job")
	logging.Info("Jobs", "Created %s job %s/%s", job.Labels[naming.LabelJobType], job.Namespace, job.Name)
	return nil
}

// updateStatus re-reads the TaskRun, applies mutate and writes the status,
// retrying on conflicts. mutate returns false to skip the write, e.g. when
// another writer already moved the phase. It reports whether a write happened.
func (r *TaskRunReconciler) updateStatus(ctx context.Context, tr *v1alpha1.TaskRun, mutate func(*v1alpha1.TaskRun) bool) (bool, error) {
	changed := false
	err := retry.OnError(StatusSyncRetryBackoff, IsConflictError, func() error {
		changed = false
		cur, err := r.client.GetTaskRun(ctx, tr.Name, tr.Namespace)
		if err != nil {
			return err
		}
		if !mutate(cur) {
			return nil
		}
		now := metav1.NewTime(r.now())
		cur.Status.LastUpdated = &now
		if err := r.client.UpdateTaskRunStatus(ctx, cur); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		r.metrics.RecordStatusSyncFailure(tr.Namespace + "/" + tr.Name)
		return false, Classify("update status", err)
	}
	return changed, nil
}

func (r *TaskRunReconciler) emit(ctx context.Context, tr *v1alpha1.TaskRun, emits ...Emit) {
	for _, e := range emits {
		r.recorder.TaskRunEvent(ctx, tr, e.Reason, e.Data)
	}
}

func appendConditions(st *v1alpha1.TaskRunStatus, conds []metav1.Condition) {
	for _, c := range conds {
		st.AppendCondition(c)
	}
}
