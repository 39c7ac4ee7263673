package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"taskrun/internal/naming"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
	"taskrun/pkg/logging"
)

// KubernetesDetector implements ChangeDetector using controller-runtime informers.
//
// It watches TaskRuns and the Jobs the controller created for them. A Job
// change is reported as a change of its owning TaskRun.
type KubernetesDetector struct {
	mu sync.RWMutex

	restConfig *rest.Config

	// namespace is the Kubernetes namespace to watch (empty for all namespaces)
	namespace string

	scheme *runtime.Scheme
	cache  cache.Cache

	changeChan chan<- ChangeEvent

	ctx        context.Context
	cancelFunc context.CancelFunc

	running bool
	synced  bool

	informerRegistrations []toolscache.ResourceEventHandlerRegistration
}

// NewKubernetesDetector creates a detector for namespace (empty watches all).
// scheme must know TaskRun and batch/v1.
func NewKubernetesDetector(restConfig *rest.Config, namespace string, scheme *runtime.Scheme) *KubernetesDetector {
	return &KubernetesDetector{
		restConfig: restConfig,
		namespace:  namespace,
		scheme:     scheme,
	}
}

// Start begins watching and blocks until the informer caches have synced.
func (d *KubernetesDetector) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.ctx, d.cancelFunc = context.WithCancel(ctx)
	d.changeChan = changes
	d.running = true
	d.mu.Unlock()

	c, err := cache.New(d.restConfig, d.cacheOptions())
	if err != nil {
		d.abortStart()
		return fmt.Errorf("failed to create cache: %w", err)
	}

	d.mu.Lock()
	d.cache = c
	d.mu.Unlock()

	if err := d.setupInformer(&v1alpha1.TaskRun{}, d.taskRunHandler()); err != nil {
		d.abortStart()
		return err
	}
	if err := d.setupInformer(&batchv1.Job{}, d.jobHandler()); err != nil {
		d.abortStart()
		return err
	}

	go func() {
		if err := c.Start(d.ctx); err != nil {
			logging.Error("KubernetesDetector", err, "Cache stopped with error")
		}
	}()

	if !c.WaitForCacheSync(d.ctx) {
		d.abortStart()
		return fmt.Errorf("failed to sync cache")
	}

	d.mu.Lock()
	d.synced = true
	d.mu.Unlock()

	logging.Info("KubernetesDetector", "Started watching TaskRuns and Jobs in %s", d.namespaceDisplay())
	return nil
}

// cacheOptions limits the Job informer to jobs this controller labelled.
func (d *KubernetesDetector) cacheOptions() cache.Options {
	opts := cache.Options{
		Scheme: d.scheme,
		ByObject: map[client.Object]cache.ByObject{
			&batchv1.Job{}: {
				Label: labels.SelectorFromSet(labels.Set{naming.LabelManagedBy: naming.ManagedBy}),
			},
		},
	}
	if d.namespace != "" {
		opts.DefaultNamespaces = map[string]cache.Config{d.namespace: {}}
	}
	return opts
}

func (d *KubernetesDetector) abortStart() {
	d.mu.Lock()
	d.running = false
	cancel := d.cancelFunc
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *KubernetesDetector) setupInformer(obj client.Object, handler toolscache.ResourceEventHandler) error {
	informer, err := d.cache.GetInformer(d.ctx, obj)
	if err != nil {
		return fmt.Errorf("failed to get informer for %T: %w", obj, err)
	}

	registration, err := informer.AddEventHandler(handler)
	if err != nil {
		return fmt.Errorf("failed to add event handler for %T: %w", obj, err)
	}

	d.mu.Lock()
	d.informerRegistrations = append(d.informerRegistrations, registration)
	d.mu.Unlock()
	return nil
}

func (d *KubernetesDetector) taskRunHandler() toolscache.ResourceEventHandler {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			d.handleTaskRun(OperationCreate, obj)
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			if !taskRunChanged(oldObj, newObj) {
				return
			}
			d.handleTaskRun(OperationUpdate, newObj)
		},
		DeleteFunc: func(obj interface{}) {
			d.handleTaskRun(OperationDelete, obj)
		},
	}
}

func (d *KubernetesDetector) jobHandler() toolscache.ResourceEventHandler {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			d.handleJob(OperationCreate, obj)
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			d.handleJob(OperationUpdate, newObj)
		},
		DeleteFunc: func(obj interface{}) {
			d.handleJob(OperationDelete, obj)
		},
	}
}

// taskRunChanged drops resyncs and the controller's own status-only writes
// that did not move the phase.
func taskRunChanged(oldObj, newObj interface{}) bool {
	oldTR, ok1 := oldObj.(*v1alpha1.TaskRun)
	newTR, ok2 := newObj.(*v1alpha1.TaskRun)
	if !ok1 || !ok2 {
		return true
	}
	if oldTR.ResourceVersion == newTR.ResourceVersion {
		return false
	}
	return oldTR.Generation != newTR.Generation ||
		oldTR.CurrentPhase() != newTR.CurrentPhase() ||
		!newTR.DeletionTimestamp.IsZero()
}

func (d *KubernetesDetector) handleTaskRun(op ChangeOperation, obj interface{}) {
	o, ok := unwrapObject(obj)
	if !ok {
		logging.Warn("KubernetesDetector", "Failed to extract metadata from %s event", op)
		return
	}

	d.sendChangeEvent(ChangeEvent{
		Type:      ResourceTypeTaskRun,
		Name:      o.GetName(),
		Namespace: o.GetNamespace(),
		Operation: op,
		Timestamp: time.Now(),
		Source:    SourceKubernetes,
	})
}

func (d *KubernetesDetector) handleJob(op ChangeOperation, obj interface{}) {
	o, ok := unwrapObject(obj)
	if !ok {
		logging.Warn("KubernetesDetector", "Failed to extract metadata from job %s event", op)
		return
	}

	owner, ok := owningTaskRun(o)
	if !ok {
		return
	}

	// The TaskRun itself did not change, so a job deletion is an update of its owner.
	d.sendChangeEvent(ChangeEvent{
		Type:      ResourceTypeTaskRun,
		Name:      owner,
		Namespace: o.GetNamespace(),
		Operation: OperationUpdate,
		Timestamp: time.Now(),
		Source:    SourceKubernetes,
		Origin:    "Job/" + o.GetName(),
	})
}

// unwrapObject handles DeletedFinalStateUnknown for objects deleted while
// the watch was down.
func unwrapObject(obj interface{}) (client.Object, bool) {
	if tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	o, ok := obj.(client.Object)
	return o, ok
}

// owningTaskRun returns the name of the TaskRun that controls o.
func owningTaskRun(o metav1.Object) (string, bool) {
	if ref := metav1.GetControllerOf(o); ref != nil {
		if ref.Kind == v1alpha1.TaskRunKind && ref.APIVersion == v1alpha1.GroupVersion.String() {
			return ref.Name, true
		}
		return "", false
	}
	// Label values may be truncated, so they are only a fallback.
	if name := o.GetLabels()[naming.LabelTaskRun]; name != "" {
		return name, true
	}
	return "", false
}

func (d *KubernetesDetector) sendChangeEvent(event ChangeEvent) {
	d.mu.RLock()
	changeChan := d.changeChan
	running := d.running
	ctx := d.ctx
	d.mu.RUnlock()

	if !running || changeChan == nil || ctx == nil {
		return
	}

	// A new TaskRun has no poll requeue yet and resyncs are filtered out,
	// so a dropped event would leave it Pending. Block until the manager
	// drains the channel instead.
	select {
	case changeChan <- event:
		logging.Debug("KubernetesDetector", "Emitted change event: %s %s/%s",
			event.Operation, event.Namespace, event.Name)
	case <-ctx.Done():
		logging.Debug("KubernetesDetector", "Detector stopped, discarding event for %s/%s",
			event.Namespace, event.Name)
	}
}

// Stop gracefully stops the Kubernetes detector.
func (d *KubernetesDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false
	d.synced = false

	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	// registrations go away with the cache
	d.informerRegistrations = nil

	logging.Info("KubernetesDetector", "Stopped Kubernetes detector")
	return nil
}

// GetSource returns the change source type.
func (d *KubernetesDetector) GetSource() ChangeSource {
	return SourceKubernetes
}

// HasSynced reports whether the informer caches finished their initial list.
func (d *KubernetesDetector) HasSynced() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running && d.synced
}

func (d *KubernetesDetector) namespaceDisplay() string {
	if d.namespace == "" {
		return "all namespaces"
	}
	return "namespace " + d.namespace
}
