package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"taskrun/internal/naming"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// EventSourceComponent is written into the source of every Event the controller emits.
const EventSourceComponent = "taskrun-controller"

// TaskRunClient is the typed facade the controller, the CLI and the status
// server use to reach the cluster.
type TaskRunClient interface {
	client.Client

	GetTaskRun(ctx context.Context, name, namespace string) (*v1alpha1.TaskRun, error)
	ListTaskRuns(ctx context.Context, namespace string, filter ListFilter) ([]v1alpha1.TaskRun, error)

	// UpdateTaskRunStatus writes only the status subresource.
	UpdateTaskRunStatus(ctx context.Context, tr *v1alpha1.TaskRun) error

	CreateEvent(ctx context.Context, obj client.Object, reason, message, eventType string) error
	QueryEvents(ctx context.Context, namespace, involvedName string) ([]EventRecord, error)
}

// ListFilter narrows ListTaskRuns. Zero values match everything.
type ListFilter struct {
	Service string
	Phase   v1alpha1.TaskRunPhase
}

// EventRecord is a flattened Kubernetes Event.
type EventRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
	Object    string    `json:"object"`
	Count     int32     `json:"count,omitempty"`
}

// NewScheme returns a scheme with the built-in types and TaskRun registered.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1alpha1.AddToScheme(scheme))
	return scheme
}

type kubernetesClient struct {
	client.Client
}

// New creates a client for the cluster described by config.
func New(config *rest.Config) (TaskRunClient, error) {
	c, err := client.New(config, client.Options{Scheme: NewScheme()})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return &kubernetesClient{Client: c}, nil
}

// Wrap adapts an existing controller-runtime client, e.g. a fake one in tests.
func Wrap(c client.Client) TaskRunClient {
	return &kubernetesClient{Client: c}
}

func (k *kubernetesClient) GetTaskRun(ctx context.Context, name, namespace string) (*v1alpha1.TaskRun, error) {
	tr := &v1alpha1.TaskRun{}
	if err := k.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

func (k *kubernetesClient) ListTaskRuns(ctx context.Context, namespace string, filter ListFilter) ([]v1alpha1.TaskRun, error) {
	list := &v1alpha1.TaskRunList{}
	if err := k.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, err
	}

	items := list.Items[:0]
	for _, tr := range list.Items {
		// TaskRuns are created by an external handler and carry no labels.
		if filter.Service != "" && tr.Spec.ServiceName != filter.Service {
			continue
		}
		if filter.Phase != "" && tr.CurrentPhase() != filter.Phase {
			continue
		}
		items = append(items, tr)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Namespace != items[j].Namespace {
			return items[i].Namespace < items[j].Namespace
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (k *kubernetesClient) UpdateTaskRunStatus(ctx context.Context, tr *v1alpha1.TaskRun) error {
	return k.Status().Update(ctx, tr)
}

// CreateEvent creates a Kubernetes Event for the given object.
func (k *kubernetesClient) CreateEvent(ctx context.Context, obj client.Object, reason, message, eventType string) error {
	gvk, err := k.GroupVersionKindFor(obj)
	if err != nil {
		return fmt.Errorf("failed to get GroupVersionKind for object: %w", err)
	}

	now := metav1.NewTime(time.Now())
	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: obj.GetName() + "-",
			Namespace:    obj.GetNamespace(),
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion:      gvk.GroupVersion().String(),
			Kind:            gvk.Kind,
			Name:            obj.GetName(),
			Namespace:       obj.GetNamespace(),
			UID:             obj.GetUID(),
			ResourceVersion: obj.GetResourceVersion(),
		},
		Reason:         reason,
		Message:        message,
		Type:           eventType,
		Source:         corev1.EventSource{Component: EventSourceComponent},
		FirstTimestamp: now,
		LastTimestamp:  now,
		Count:          1,
	}

	if err := k.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create Kubernetes Event: %w", err)
	}
	return nil
}

// QueryEvents returns the controller's events for one TaskRun, newest first.
func (k *kubernetesClient) QueryEvents(ctx context.Context, namespace, involvedName string) ([]EventRecord, error) {
	list := &corev1.EventList{}
	opts := &client.ListOptions{Namespace: namespace}
	if involvedName != "" {
		opts.FieldSelector = fields.OneTermEqualSelector("involvedObject.name", involvedName)
	}
	if err := k.List(ctx, list, opts); err != nil {
		return nil, fmt.Errorf("failed to list Kubernetes events: %w", err)
	}

	var out []EventRecord
	for i := range list.Items {
		ev := &list.Items[i]
		// source.component is not a supported field selector
		if ev.Source.Component != EventSourceComponent {
			continue
		}
		if ev.InvolvedObject.Kind != v1alpha1.TaskRunKind {
			continue
		}
		out = append(out, toRecord(ev))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func toRecord(ev *corev1.Event) EventRecord {
	ts := ev.LastTimestamp.Time
	if ts.IsZero() {
		ts = ev.FirstTimestamp.Time
	}
	if ts.IsZero() {
		ts = ev.CreationTimestamp.Time
	}
	return EventRecord{
		Timestamp: ts,
		Type:      ev.Type,
		Reason:    ev.Reason,
		Message:   ev.Message,
		Object:    ev.InvolvedObject.Kind + "/" + ev.InvolvedObject.Name,
		Count:     ev.Count,
	}
}

// TaskRunSelector matches every object the controller labels for a TaskRun.
func TaskRunSelector(name string) labels.Selector {
	return labels.SelectorFromSet(labels.Set{naming.LabelTaskRun: naming.LabelValue(name)})
}
