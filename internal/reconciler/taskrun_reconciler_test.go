package reconciler

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	trclient "taskrun/internal/client"
	"taskrun/internal/config"
	"taskrun/internal/events"
	"taskrun/internal/naming"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

type recordedEvent struct {
	reason events.EventReason
	data   events.EventData
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingRecorder) TaskRunEvent(ctx context.Context, tr *v1alpha1.TaskRun, reason events.EventReason, data events.EventData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{reason: reason, data: data})
}

func (r *recordingRecorder) reasons() []events.EventReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventReason, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.reason)
	}
	return out
}

type harness struct {
	client   trclient.TaskRunClient
	rec      *TaskRunReconciler
	recorder *recordingRecorder
	metrics  *ReconcilerMetrics
	cfg      *config.ControllerConfig
	now      time.Time
}

func newTaskRun(name string, taskID int64) *v1alpha1.TaskRun {
	return &v1alpha1.TaskRun{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  "agents",
			UID:        types.UID("uid-" + name),
			Generation: 1,
		},
		Spec: v1alpha1.TaskRunSpec{
			TaskID:      taskID,
			ServiceName: "trader",
			Repository: v1alpha1.RepositorySpec{
				URL:              "https://github.com/acme/trader.git",
				WorkingDirectory: "services/trader",
				GitHubUser:       "octocat",
			},
			CatalogRepository: &v1alpha1.RepositorySpec{
				URL:        "https://github.com/acme/catalog.git",
				GitHubUser: "octocat",
			},
			Documents: []v1alpha1.Document{
				{Filename: "task.md", Content: "# Task", Kind: v1alpha1.DocumentKindTask},
			},
		},
	}
}

func newDocsTaskRun(name string) *v1alpha1.TaskRun {
	return &v1alpha1.TaskRun{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "agents", UID: types.UID("uid-" + name), Generation: 1},
		Spec: v1alpha1.TaskRunSpec{
			TaskID:      v1alpha1.DocsGenerationTaskID,
			ServiceName: "api",
			Repository: v1alpha1.RepositorySpec{
				URL:              "https://github.com/acme/api.git",
				WorkingDirectory: "examples/api",
				GitHubUser:       "octocat",
			},
		},
	}
}

func newHarness(t *testing.T, objs ...client.Object) *harness {
	return newHarnessWithInterceptor(t, interceptor.Funcs{}, objs...)
}

func newHarnessWithInterceptor(t *testing.T, funcs interceptor.Funcs, objs ...client.Object) *harness {
	t.Helper()
	scheme := trclient.NewScheme()
	c := trclient.Wrap(fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&v1alpha1.TaskRun{}).
		WithInterceptorFuncs(funcs).
		Build())

	cfg := config.DefaultConfig()
	h := &harness{
		client:   c,
		recorder: &recordingRecorder{},
		metrics:  NewReconcilerMetrics(prometheus.NewRegistry()),
		cfg:      &cfg,
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.rec = NewTaskRunReconciler(c, scheme, config.Static(h.cfg), h.recorder, h.metrics)
	h.rec.now = func() time.Time { return h.now }
	return h
}

func (h *harness) reconcile(name string) ReconcileResult {
	return h.reconcileAttempt(name, 1)
}

func (h *harness) reconcileAttempt(name string, attempt int) ReconcileResult {
	return h.rec.Reconcile(context.Background(), ReconcileRequest{
		Type:      ResourceTypeTaskRun,
		Name:      name,
		Namespace: "agents",
		Attempt:   attempt,
	})
}

func (h *harness) get(t *testing.T, name string) *v1alpha1.TaskRun {
	t.Helper()
	tr, err := h.client.GetTaskRun(context.Background(), name, "agents")
	require.NoError(t, err)
	return tr
}

func (h *harness) job(t *testing.T, name string) *batchv1.Job {
	t.Helper()
	job := &batchv1.Job{}
	require.NoError(t, h.client.Get(context.Background(), client.ObjectKey{Namespace: "agents", Name: name}, job))
	return job
}

func (h *harness) counts(t *testing.T) (claims, bundles, jobs int) {
	t.Helper()
	ctx := context.Background()

	pvcs := &corev1.PersistentVolumeClaimList{}
	require.NoError(t, h.client.List(ctx, pvcs, client.InNamespace("agents")))
	cms := &corev1.ConfigMapList{}
	require.NoError(t, h.client.List(ctx, cms, client.InNamespace("agents")))
	js := &batchv1.JobList{}
	require.NoError(t, h.client.List(ctx, js, client.InNamespace("agents")))
	return len(pvcs.Items), len(cms.Items), len(js.Items)
}

func (h *harness) finishJob(t *testing.T, name string, condType batchv1.JobConditionType, reason, message string) {
	t.Helper()
	job := h.job(t, name)
	job.Status.Conditions = append(job.Status.Conditions, batchv1.JobCondition{
		Type:    condType,
		Status:  corev1.ConditionTrue,
		Reason:  reason,
		Message: message,
	})
	require.NoError(t, h.client.Status().Update(context.Background(), job))
}

func envValue(job *batchv1.Job, name string) (string, bool) {
	for _, e := range job.Spec.Template.Spec.Containers[0].Env {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

func latest(t *testing.T, tr *v1alpha1.TaskRun, condType string) metav1.Condition {
	t.Helper()
	c := tr.Status.LatestCondition(condType)
	require.NotNil(t, c, "no %s condition", condType)
	return *c
}

func TestReconcile_FullLifecycle(t *testing.T) {
	h := newHarness(t, newTaskRun("trader-1", 1))

	// Pending -> Preparing
	res := h.reconcile("trader-1")
	require.NoError(t, res.Error)
	assert.Equal(t, h.cfg.Reconciler.JobPollInterval, res.RequeueAfter)

	tr := h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhasePreparing, tr.Status.Phase)
	assert.Equal(t, "workspace-trader", tr.Status.WorkspaceClaim)
	require.NotNil(t, tr.Status.Bundle)
	assert.Equal(t, "trader-1-bundle", tr.Status.Bundle.Name)
	assert.NotEmpty(t, tr.Status.Bundle.Hash)
	require.NotNil(t, tr.Status.PrepJob)
	assert.Equal(t, "trader-1-prep", tr.Status.PrepJob.Name)
	assert.Equal(t, "job-name=trader-1-prep", tr.Status.PrepJob.LogSelector)
	assert.NotNil(t, tr.Status.StartedAt)
	assert.Equal(t, tr.Generation, tr.Status.ObservedGeneration)
	assert.Nil(t, tr.Status.AgentJob, "the agent job waits for preparation")

	assert.Equal(t, metav1.ConditionTrue, latest(t, tr, v1alpha1.ConditionValidated).Status)
	assert.Equal(t, metav1.ConditionTrue, latest(t, tr, v1alpha1.ConditionWorkspace).Status)
	assert.Equal(t, metav1.ConditionTrue, latest(t, tr, v1alpha1.ConditionBundle).Status)
	assert.Equal(t, "PreparationStarted", latest(t, tr, v1alpha1.ConditionProgressing).Reason)

	claims, bundles, jobCount := h.counts(t)
	assert.Equal(t, []int{1, 1, 1}, []int{claims, bundles, jobCount})

	prep := h.job(t, "trader-1-prep")
	assert.Equal(t, naming.JobTypePrep, prep.Labels[naming.LabelJobType])
	require.Len(t, prep.OwnerReferences, 1)
	assert.Equal(t, "trader-1", prep.OwnerReferences[0].Name)

	// Preparing -> Running
	h.finishJob(t, "trader-1-prep", batchv1.JobComplete, "", "")
	res = h.reconcile("trader-1")
	require.NoError(t, res.Error)

	tr = h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhaseRunning, tr.Status.Phase)
	require.NotNil(t, tr.Status.AgentJob)
	assert.Equal(t, "trader-1-agent", tr.Status.AgentJob.Name)
	assert.Equal(t, metav1.ConditionTrue, latest(t, tr, v1alpha1.ConditionPreparation).Status)
	assert.Equal(t, "AgentStarted", latest(t, tr, v1alpha1.ConditionProgressing).Reason)

	agent := h.job(t, "trader-1-agent")
	assert.Equal(t, naming.JobTypeAgent, agent.Labels[naming.LabelJobType])

	// Running -> Succeeded
	h.finishJob(t, "trader-1-agent", batchv1.JobComplete, "", "")
	res = h.reconcile("trader-1")
	require.NoError(t, res.Error)
	assert.Zero(t, res.RequeueAfter)

	tr = h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhaseSucceeded, tr.Status.Phase)
	require.NotNil(t, tr.Status.Outcome)
	assert.Equal(t, v1alpha1.PhaseSucceeded, tr.Status.Outcome.Result)
	assert.Equal(t, "kubectl logs -n agents -l job-name=trader-1-agent", tr.Status.Outcome.LogsHint)
	assert.NotNil(t, tr.Status.Outcome.CompletedAt)
	assert.Equal(t, metav1.ConditionTrue, latest(t, tr, v1alpha1.ConditionReady).Status)

	assert.Equal(t, []events.EventReason{
		events.ReasonWorkspaceReady,
		events.ReasonBundlePublished,
		events.ReasonPreparationStarted,
		events.ReasonPreparationSucceeded,
		events.ReasonAgentStarted,
		events.ReasonAgentSucceeded,
	}, h.recorder.reasons())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.phaseTransitions.WithLabelValues("Pending", "Preparing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.phaseTransitions.WithLabelValues("Preparing", "Running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.phaseTransitions.WithLabelValues("Running", "Succeeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.childObjects.WithLabelValues("Job")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.childObjects.WithLabelValues("PersistentVolumeClaim")))

	// terminal TaskRuns are left alone
	before := len(tr.Status.Conditions)
	res = h.reconcile("trader-1")
	assert.Equal(t, ReconcileResult{}, res)
	assert.Len(t, h.get(t, "trader-1").Status.Conditions, before)
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newHarness(t, newTaskRun("trader-1", 1))

	require.NoError(t, h.reconcile("trader-1").Error)
	first := h.get(t, "trader-1")
	eventsAfterFirst := len(h.recorder.reasons())

	for i := 0; i < 3; i++ {
		res := h.reconcile("trader-1")
		require.NoError(t, res.Error)
		assert.Equal(t, h.cfg.Reconciler.JobPollInterval, res.RequeueAfter)
	}

	again := h.get(t, "trader-1")
	assert.Equal(t, first.Status.Conditions, again.Status.Conditions)
	assert.Equal(t, first.ResourceVersion, again.ResourceVersion, "a waiting reconcile writes nothing")
	assert.Len(t, h.recorder.reasons(), eventsAfterFirst)

	claims, bundles, jobCount := h.counts(t)
	assert.Equal(t, []int{1, 1, 1}, []int{claims, bundles, jobCount})
}

func TestReconcile_ResumesAfterPartialRun(t *testing.T) {
	h := newHarness(t, newTaskRun("trader-1", 1))
	require.NoError(t, h.reconcile("trader-1").Error)

	// Simulate a crash after the job was created but before status was written.
	tr := h.get(t, "trader-1")
	tr.Status = v1alpha1.TaskRunStatus{}
	require.NoError(t, h.client.UpdateTaskRunStatus(context.Background(), tr))

	require.NoError(t, h.reconcile("trader-1").Error)

	assert.Equal(t, v1alpha1.PhasePreparing, h.get(t, "trader-1").Status.Phase)
	claims, bundles, jobCount := h.counts(t)
	assert.Equal(t, []int{1, 1, 1}, []int{claims, bundles, jobCount})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.childObjects.WithLabelValues("Job")))
}

func TestReconcile_DocsVariant(t *testing.T) {
	h := newHarness(t, newDocsTaskRun("api-docs"))

	require.NoError(t, h.reconcile("api-docs").Error)

	prep := h.job(t, "api-docs-prep")
	prefix, ok := envValue(prep, "BRANCH_PREFIX")
	require.True(t, ok)
	branch := prefix + "-20260301-120000"
	assert.Regexp(t, regexp.MustCompile(`^docs-generation-\d{8}-\d{6}$`), branch)

	// No agent job until preparation reports success.
	h.now = h.now.Add(time.Minute)
	require.NoError(t, h.reconcile("api-docs").Error)
	_, _, jobCount := h.counts(t)
	assert.Equal(t, 1, jobCount)

	h.finishJob(t, "api-docs-prep", batchv1.JobComplete, "", "")
	require.NoError(t, h.reconcile("api-docs").Error)
	_, _, jobCount = h.counts(t)
	assert.Equal(t, 2, jobCount)
	assert.Equal(t, v1alpha1.PhaseRunning, h.get(t, "api-docs").Status.Phase)
}

func TestReconcile_CodeVariantBranchAndResume(t *testing.T) {
	h := newHarness(t, newTaskRun("trader-1", 1))

	require.NoError(t, h.reconcile("trader-1").Error)
	prep := h.job(t, "trader-1-prep")
	branch, _ := envValue(prep, "FEATURE_BRANCH")
	assert.Equal(t, "feature/task-1-implementation", branch)
	cont, _ := envValue(prep, "CONTINUE_SESSION")
	assert.Equal(t, "false", cont)

	h.finishJob(t, "trader-1-prep", batchv1.JobComplete, "", "")
	require.NoError(t, h.reconcile("trader-1").Error)
	h.finishJob(t, "trader-1-agent", batchv1.JobComplete, "", "")
	require.NoError(t, h.reconcile("trader-1").Error)

	resubmission := newTaskRun("trader-1-v2", 1)
	resubmission.Spec.ContextVersion = 2
	resubmission.Spec.ContinueSession = true
	require.NoError(t, h.client.Create(context.Background(), resubmission))

	require.NoError(t, h.reconcile("trader-1-v2").Error)
	prep = h.job(t, "trader-1-v2-prep")
	branch, _ = envValue(prep, "FEATURE_BRANCH")
	assert.Equal(t, "feature/task-1-implementation", branch, "the resubmission continues on the same branch")
	cont, _ = envValue(prep, "CONTINUE_SESSION")
	assert.Equal(t, "true", cont)

	claims, _, _ := h.counts(t)
	assert.Equal(t, 1, claims, "both runs share the service workspace")
}

func TestReconcile_ValidationFailureStaysPending(t *testing.T) {
	tr := newTaskRun("trader-1", 1)
	tr.Spec.Tools.Preset = "turbo"
	h := newHarness(t, tr)

	res := h.reconcile("trader-1")
	assert.Equal(t, ReconcileResult{}, res, "an invalid spec is not retried")

	got := h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhasePending, got.Status.Phase)
	cond := latest(t, got, v1alpha1.ConditionValidated)
	assert.Equal(t, metav1.ConditionFalse, cond.Status)
	assert.Equal(t, ReasonValidationFailed, cond.Reason)
	assert.Contains(t, cond.Message, "spec.tools.preset")

	claims, bundles, jobCount := h.counts(t)
	assert.Equal(t, []int{0, 0, 0}, []int{claims, bundles, jobCount})
	assert.Equal(t, []events.EventReason{events.ReasonValidationFailed}, h.recorder.reasons())

	// a second pass neither duplicates the condition nor the event
	h.reconcile("trader-1")
	assert.Len(t, h.get(t, "trader-1").Status.Conditions, len(got.Status.Conditions))
	assert.Len(t, h.recorder.reasons(), 1)
}

func TestReconcile_PrepJobFailure(t *testing.T) {
	h := newHarness(t, newTaskRun("trader-1", 1))
	require.NoError(t, h.reconcile("trader-1").Error)

	h.finishJob(t, "trader-1-prep", batchv1.JobFailed, "BackoffLimitExceeded", "Job has reached the specified backoff limit")
	res := h.reconcile("trader-1")
	assert.Equal(t, ReconcileResult{}, res, "job failures are never retried")

	tr := h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhaseFailed, tr.Status.Phase)
	require.NotNil(t, tr.Status.Outcome)
	assert.Equal(t, "PreparationFailed", tr.Status.Outcome.Reason)
	assert.Contains(t, tr.Status.Outcome.Message, "BackoffLimitExceeded")
	assert.Equal(t, "kubectl logs -n agents -l job-name=trader-1-prep", tr.Status.Outcome.LogsHint)

	prepCond := latest(t, tr, v1alpha1.ConditionPreparation)
	assert.Equal(t, metav1.ConditionFalse, prepCond.Status)
	assert.Equal(t, "BackoffLimitExceeded", prepCond.Reason)
	assert.Equal(t, metav1.ConditionFalse, latest(t, tr, v1alpha1.ConditionReady).Status)

	_, _, jobCount := h.counts(t)
	assert.Equal(t, 1, jobCount, "no agent job after a failed preparation")
	assert.Contains(t, h.recorder.reasons(), events.ReasonPreparationFailed)
}

func TestReconcile_AgentDeadlineExceeded(t *testing.T) {
	h := newHarness(t, newTaskRun("trader-1", 1))
	require.NoError(t, h.reconcile("trader-1").Error)
	h.finishJob(t, "trader-1-prep", batchv1.JobComplete, "", "")
	require.NoError(t, h.reconcile("trader-1").Error)

	agent := h.job(t, "trader-1-agent")
	require.NotNil(t, agent.Spec.ActiveDeadlineSeconds)
	started := metav1.NewTime(h.now)
	agent.Status.StartTime = &started
	require.NoError(t, h.client.Status().Update(context.Background(), agent))

	h.now = h.now.Add(time.Duration(*agent.Spec.ActiveDeadlineSeconds+1) * time.Second)
	require.NoError(t, h.reconcile("trader-1").Error)

	tr := h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhaseFailed, tr.Status.Phase)
	assert.Equal(t, "AgentFailed", tr.Status.Outcome.Reason)
	assert.Equal(t, "DeadlineExceeded", latest(t, tr, v1alpha1.ConditionAgent).Reason)
}

func TestReconcile_JobLost(t *testing.T) {
	h := newHarness(t, newTaskRun("trader-1", 1))
	require.NoError(t, h.reconcile("trader-1").Error)

	require.NoError(t, h.client.Delete(context.Background(), h.job(t, "trader-1-prep")))
	require.NoError(t, h.reconcile("trader-1").Error)

	tr := h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhaseFailed, tr.Status.Phase)
	assert.Equal(t, ReasonPreparationJobLost, latest(t, tr, v1alpha1.ConditionPreparation).Reason)

	_, _, jobCount := h.counts(t)
	assert.Zero(t, jobCount, "a lost job is not recreated")
}

func TestReconcile_WorkspaceBusy(t *testing.T) {
	holder := newTaskRun("trader-0", 1)
	holder.Status.Phase = v1alpha1.PhaseRunning
	h := newHarness(t, holder, newTaskRun("trader-1", 2))

	res := h.reconcile("trader-1")
	require.NoError(t, res.Error)
	assert.Equal(t, h.cfg.Reconciler.JobPollInterval, res.RequeueAfter)

	tr := h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhasePending, tr.Status.Phase)
	cond := latest(t, tr, v1alpha1.ConditionProgressing)
	assert.Equal(t, metav1.ConditionFalse, cond.Status)
	assert.Equal(t, ReasonWorkspaceBusy, cond.Reason)
	assert.Contains(t, cond.Message, "trader-0")

	claims, bundles, jobCount := h.counts(t)
	assert.Equal(t, []int{0, 0, 0}, []int{claims, bundles, jobCount})

	h.reconcile("trader-1")
	assert.Len(t, h.get(t, "trader-1").Status.Conditions, len(tr.Status.Conditions))
	assert.Equal(t, []events.EventReason{events.ReasonWorkspaceBusy}, h.recorder.reasons())

	// once the holder finishes the waiting run proceeds
	holder = h.get(t, "trader-0")
	holder.Status.Phase = v1alpha1.PhaseSucceeded
	require.NoError(t, h.client.UpdateTaskRunStatus(context.Background(), holder))

	require.NoError(t, h.reconcile("trader-1").Error)
	assert.Equal(t, v1alpha1.PhasePreparing, h.get(t, "trader-1").Status.Phase)
}

func TestReconcile_ForbiddenFailsImmediately(t *testing.T) {
	funcs := interceptor.Funcs{
		Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			if _, ok := obj.(*corev1.PersistentVolumeClaim); ok {
				return apierrors.NewForbidden(schema.GroupResource{Resource: "persistentvolumeclaims"}, obj.GetName(), errors.New("denied"))
			}
			return c.Create(ctx, obj, opts...)
		},
	}
	h := newHarnessWithInterceptor(t, funcs, newTaskRun("trader-1", 1))

	res := h.reconcile("trader-1")
	assert.Equal(t, ReconcileResult{}, res)

	tr := h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhaseFailed, tr.Status.Phase)
	assert.Equal(t, ReasonPlatformError, tr.Status.Outcome.Reason)
	assert.Contains(t, tr.Status.Outcome.Message, "ensure workspace")
	assert.Empty(t, tr.Status.Outcome.LogsHint)

	_, bundles, jobCount := h.counts(t)
	assert.Zero(t, bundles)
	assert.Zero(t, jobCount)
	assert.Equal(t, []events.EventReason{events.ReasonPlatformError}, h.recorder.reasons())
}

func TestReconcile_TransientErrorRequeues(t *testing.T) {
	funcs := interceptor.Funcs{
		Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			if _, ok := obj.(*corev1.ConfigMap); ok {
				return apierrors.NewServiceUnavailable("etcd leader changed")
			}
			return c.Create(ctx, obj, opts...)
		},
	}
	h := newHarnessWithInterceptor(t, funcs, newTaskRun("trader-1", 1))

	res := h.reconcile("trader-1")
	require.Error(t, res.Error)
	assert.True(t, IsTransient(res.Error))

	tr := h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhasePending, tr.CurrentPhase())
	cond := latest(t, tr, v1alpha1.ConditionProgressing)
	assert.Equal(t, ReasonPlatformError, cond.Reason)
	assert.Contains(t, cond.Message, "publish bundle")

	// the last allowed attempt gives up
	res = h.reconcileAttempt("trader-1", h.cfg.Reconciler.MaxRetries)
	assert.NoError(t, res.Error)
	tr = h.get(t, "trader-1")
	assert.Equal(t, v1alpha1.PhaseFailed, tr.Status.Phase)
	assert.Contains(t, tr.Status.Outcome.Message, "giving up")
}

func TestReconcile_StatusConflictIsRetried(t *testing.T) {
	var mu sync.Mutex
	conflicts := 0
	funcs := interceptor.Funcs{
		SubResourceUpdate: func(ctx context.Context, c client.Client, subResource string, obj client.Object, opts ...client.SubResourceUpdateOption) error {
			mu.Lock()
			defer mu.Unlock()
			if conflicts < 2 {
				conflicts++
				return apierrors.NewConflict(schema.GroupResource{Resource: "taskruns"}, obj.GetName(), errors.New("modified"))
			}
			return c.SubResource(subResource).Update(ctx, obj, opts...)
		},
	}
	h := newHarnessWithInterceptor(t, funcs, newTaskRun("trader-1", 1))

	require.NoError(t, h.reconcile("trader-1").Error)
	assert.Equal(t, v1alpha1.PhasePreparing, h.get(t, "trader-1").Status.Phase)
	assert.Equal(t, 2, conflicts)
}

func TestReconcile_StatusSyncGivesUp(t *testing.T) {
	funcs := interceptor.Funcs{
		SubResourceUpdate: func(ctx context.Context, c client.Client, subResource string, obj client.Object, opts ...client.SubResourceUpdateOption) error {
			return apierrors.NewConflict(schema.GroupResource{Resource: "taskruns"}, obj.GetName(), errors.New("modified"))
		},
	}
	h := newHarnessWithInterceptor(t, funcs, newTaskRun("trader-1", 1))

	res := h.reconcile("trader-1")
	require.Error(t, res.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.statusSyncFailures))
	assert.Empty(t, h.recorder.reasons(), "no events without a recorded transition")
}

func TestReconcile_MissingTaskRun(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, ReconcileResult{}, h.reconcile("gone"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.reconcileTotal.WithLabelValues(ResultSuccess)))
}
