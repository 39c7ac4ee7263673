package reconciler

import (
	"context"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	trclient "taskrun/internal/client"
	"taskrun/internal/naming"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

func runningDetector(buffer int) (*KubernetesDetector, chan ChangeEvent) {
	detector := NewKubernetesDetector(nil, "agents", trclient.NewScheme())
	changeChan := make(chan ChangeEvent, buffer)
	detector.running = true
	detector.changeChan = changeChan
	detector.ctx, detector.cancelFunc = context.WithCancel(context.Background())
	return detector, changeChan
}

func detectorTaskRun(name string) *v1alpha1.TaskRun {
	return &v1alpha1.TaskRun{
		TypeMeta:   metav1.TypeMeta{APIVersion: v1alpha1.GroupVersion.String(), Kind: v1alpha1.TaskRunKind},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "agents", UID: "uid-1", ResourceVersion: "1", Generation: 1},
		Spec:       v1alpha1.TaskRunSpec{TaskID: 1, ServiceName: "trader"},
	}
}

func ownedJob(t *testing.T, tr *v1alpha1.TaskRun, name string) *batchv1.Job {
	t.Helper()
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: tr.Namespace}}
	if err := controllerutil.SetControllerReference(tr, job, trclient.NewScheme()); err != nil {
		t.Fatalf("failed to set owner: %v", err)
	}
	return job
}

func receive(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no event received")
	}
	return ChangeEvent{}
}

func expectNone(t *testing.T, ch <-chan ChangeEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNewKubernetesDetector(t *testing.T) {
	detector := NewKubernetesDetector(nil, "agents", trclient.NewScheme())

	if detector.namespace != "agents" {
		t.Errorf("namespace = %q, want %q", detector.namespace, "agents")
	}
	if detector.GetSource() != SourceKubernetes {
		t.Errorf("GetSource() = %v, want %v", detector.GetSource(), SourceKubernetes)
	}
	if detector.HasSynced() {
		t.Error("a detector that never started cannot be synced")
	}
	if err := detector.Stop(); err != nil {
		t.Errorf("Stop() without Start returned error: %v", err)
	}
}

func TestKubernetesDetectorNamespaceDisplay(t *testing.T) {
	tests := []struct {
		namespace string
		want      string
	}{
		{"", "all namespaces"},
		{"agents", "namespace agents"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			detector := NewKubernetesDetector(nil, tt.namespace, nil)
			if got := detector.namespaceDisplay(); got != tt.want {
				t.Errorf("namespaceDisplay() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKubernetesDetectorCacheOptions(t *testing.T) {
	detector := NewKubernetesDetector(nil, "agents", trclient.NewScheme())
	opts := detector.cacheOptions()

	if _, ok := opts.DefaultNamespaces["agents"]; !ok {
		t.Error("expected the cache to be scoped to the namespace")
	}

	var jobOpts *cache.ByObject
	for obj, byObject := range opts.ByObject {
		if _, ok := obj.(*batchv1.Job); ok {
			b := byObject
			jobOpts = &b
		}
	}
	if jobOpts == nil || jobOpts.Label == nil {
		t.Fatal("expected a label selector for jobs")
	}
	if want := naming.LabelManagedBy + "=" + naming.ManagedBy; jobOpts.Label.String() != want {
		t.Errorf("job selector = %q, want %q", jobOpts.Label.String(), want)
	}

	all := NewKubernetesDetector(nil, "", nil).cacheOptions()
	if len(all.DefaultNamespaces) != 0 {
		t.Error("an empty namespace must watch all namespaces")
	}
}

func TestKubernetesDetectorTaskRunEvents(t *testing.T) {
	detector, changeChan := runningDetector(10)
	handler := detector.taskRunHandler()
	tr := detectorTaskRun("trader-1")

	handler.OnAdd(tr, false)
	ev := receive(t, changeChan)
	if ev.Operation != OperationCreate || ev.Name != "trader-1" || ev.Namespace != "agents" {
		t.Errorf("unexpected add event %+v", ev)
	}
	if ev.Type != ResourceTypeTaskRun || ev.Source != SourceKubernetes {
		t.Errorf("unexpected type or source %s/%s", ev.Type, ev.Source)
	}

	// resync: same resource version
	handler.OnUpdate(tr, tr.DeepCopy())
	expectNone(t, changeChan)

	// status write that did not move the phase
	conditionsOnly := tr.DeepCopy()
	conditionsOnly.ResourceVersion = "2"
	conditionsOnly.Status.Conditions = []metav1.Condition{{Type: "Progressing"}}
	handler.OnUpdate(tr, conditionsOnly)
	expectNone(t, changeChan)

	advanced := conditionsOnly.DeepCopy()
	advanced.ResourceVersion = "3"
	advanced.Status.Phase = v1alpha1.PhasePreparing
	handler.OnUpdate(conditionsOnly, advanced)
	if ev := receive(t, changeChan); ev.Operation != OperationUpdate {
		t.Errorf("Operation = %v, want %v", ev.Operation, OperationUpdate)
	}

	handler.OnDelete(toolscache.DeletedFinalStateUnknown{Key: "agents/trader-1", Obj: advanced})
	if ev := receive(t, changeChan); ev.Operation != OperationDelete || ev.Name != "trader-1" {
		t.Errorf("unexpected delete event %+v", ev)
	}
}

func TestKubernetesDetectorJobEventsMapToOwner(t *testing.T) {
	detector, changeChan := runningDetector(10)
	handler := detector.jobHandler()
	tr := detectorTaskRun("trader-1")
	job := ownedJob(t, tr, "trader-1-prep")

	handler.OnUpdate(job, job)
	ev := receive(t, changeChan)
	if ev.Name != "trader-1" || ev.Type != ResourceTypeTaskRun {
		t.Errorf("job event mapped to %s/%s, want TaskRun/trader-1", ev.Type, ev.Name)
	}
	if ev.Origin != "Job/trader-1-prep" {
		t.Errorf("Origin = %q", ev.Origin)
	}

	handler.OnDelete(job)
	if ev := receive(t, changeChan); ev.Operation != OperationUpdate {
		t.Errorf("a deleted job must be reported as an update of its owner, got %v", ev.Operation)
	}
}

func TestKubernetesDetectorJobLabelFallback(t *testing.T) {
	detector, changeChan := runningDetector(10)
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{
		Name:      "trader-2-agent",
		Namespace: "agents",
		Labels:    map[string]string{naming.LabelTaskRun: "trader-2"},
	}}

	detector.jobHandler().OnAdd(job, false)
	if ev := receive(t, changeChan); ev.Name != "trader-2" {
		t.Errorf("Name = %q, want trader-2", ev.Name)
	}
}

func TestKubernetesDetectorIgnoresForeignJobs(t *testing.T) {
	detector, changeChan := runningDetector(10)
	handler := detector.jobHandler()

	handler.OnAdd(&batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "cron-123", Namespace: "agents"}}, false)
	expectNone(t, changeChan)

	controller := true
	foreign := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{
		Name:      "cron-456",
		Namespace: "agents",
		Labels:    map[string]string{naming.LabelTaskRun: "trader-1"},
		OwnerReferences: []metav1.OwnerReference{{
			APIVersion: "batch/v1", Kind: "CronJob", Name: "cron", UID: "x", Controller: &controller,
		}},
	}}
	handler.OnAdd(foreign, false)
	expectNone(t, changeChan)

	handler.OnAdd(struct{ Name string }{Name: "not-an-object"}, false)
	expectNone(t, changeChan)
}

func TestKubernetesDetectorEventsDroppedWhenNotRunning(t *testing.T) {
	detector, changeChan := runningDetector(10)
	detector.running = false

	detector.taskRunHandler().OnAdd(detectorTaskRun("trader-1"), false)
	expectNone(t, changeChan)
}

func TestSendChangeEventWaitsForFullChannel(t *testing.T) {
	detector, changeChan := runningDetector(1)
	defer detector.cancelFunc()
	changeChan <- ChangeEvent{Name: "filler"}

	done := make(chan struct{})
	go func() {
		detector.sendChangeEvent(ChangeEvent{Type: ResourceTypeTaskRun, Name: "trader-1", Operation: OperationCreate})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("sendChangeEvent returned while the channel was still full")
	case <-time.After(20 * time.Millisecond):
	}

	if ev := receive(t, changeChan); ev.Name != "filler" {
		t.Fatalf("expected filler first, got %s", ev.Name)
	}
	ev := receive(t, changeChan)
	if ev.Name != "trader-1" || ev.Operation != OperationCreate {
		t.Errorf("expected the create of trader-1 to be delivered, got %+v", ev)
	}

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("sendChangeEvent did not return after delivery")
	}
}

func TestSendChangeEventReleasedOnStop(t *testing.T) {
	detector, changeChan := runningDetector(1)
	changeChan <- ChangeEvent{Name: "filler"}

	done := make(chan struct{})
	go func() {
		detector.sendChangeEvent(ChangeEvent{Type: ResourceTypeTaskRun, Name: "trader-1"})
		close(done)
	}()

	detector.cancelFunc()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("sendChangeEvent stayed blocked after the detector context was cancelled")
	}
	if len(changeChan) != 1 {
		t.Errorf("expected only the filler in the channel, got %d events", len(changeChan))
	}
}
