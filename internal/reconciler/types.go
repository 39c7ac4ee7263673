package reconciler

import (
	"context"
	"time"
)

// ResourceType represents the type of resource being reconciled.
type ResourceType string

const (
	// ResourceTypeTaskRun represents TaskRun custom resources.
	ResourceTypeTaskRun ResourceType = "TaskRun"
)

// ChangeEvent represents a detected change that should trigger a reconcile.
type ChangeEvent struct {
	// Type is the type of the resource to reconcile.
	Type ResourceType

	// Name and Namespace identify the resource to reconcile. For changes to a
	// child object they identify the owning TaskRun, not the child.
	Name      string
	Namespace string

	Operation ChangeOperation
	Timestamp time.Time
	Source    ChangeSource

	// Origin names the object that actually changed, e.g. "Job/foo-prep".
	Origin string
}

// ChangeOperation represents the type of change detected.
type ChangeOperation string

const (
	OperationCreate ChangeOperation = "Create"
	OperationUpdate ChangeOperation = "Update"
	OperationDelete ChangeOperation = "Delete"
)

// ChangeSource indicates where a change originated.
type ChangeSource string

const (
	// SourceKubernetes indicates the change came from Kubernetes informers.
	SourceKubernetes ChangeSource = "Kubernetes"

	// SourceManual indicates the change was triggered manually (e.g., a CLI or MCP call).
	SourceManual ChangeSource = "Manual"
)

// ReconcileResult represents the outcome of a reconciliation attempt.
type ReconcileResult struct {
	// Requeue indicates whether the resource should be requeued.
	Requeue bool

	// RequeueAfter specifies when to requeue (0 means use default backoff).
	RequeueAfter time.Duration

	// Error is any error that occurred during reconciliation. A non-nil
	// error is retried with exponential backoff up to MaxRetries.
	Error error
}

// ReconcileRequest represents a request to reconcile a specific resource.
type ReconcileRequest struct {
	Type      ResourceType
	Name      string
	Namespace string

	// Attempt is the current retry attempt number (starts at 1).
	Attempt int

	// LastError is the error from the previous attempt, if any.
	LastError error
}

// Reconciler is implemented by resource-specific reconcilers.
type Reconciler interface {
	// Reconcile processes a single reconciliation request. It must be
	// idempotent: calling it repeatedly against unchanged cluster state
	// has the same effect as calling it once.
	Reconcile(ctx context.Context, req ReconcileRequest) ReconcileResult

	// GetResourceType returns the type of resource this reconciler handles.
	GetResourceType() ResourceType
}

// ChangeDetector is the interface for components that detect changes in resources.
type ChangeDetector interface {
	// Start begins watching and sends change events to the provided channel.
	Start(ctx context.Context, changes chan<- ChangeEvent) error

	Stop() error

	GetSource() ChangeSource
}

// ReconcileQueue represents a queue of resources awaiting reconciliation.
type ReconcileQueue interface {
	// Add adds a request to the queue. If the same resource is already
	// queued, the existing entry is replaced.
	Add(req ReconcileRequest)

	// Get blocks until a request is available or the context is cancelled.
	Get(ctx context.Context) (ReconcileRequest, bool)

	// Done marks a request as processed. A request added while it was being
	// processed is queued again.
	Done(req ReconcileRequest)

	Len() int

	Shutdown()
}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	// WorkerCount is the number of concurrent reconciliation workers.
	// Defaults to 2.
	WorkerCount int

	// MaxRetries is the maximum number of attempts for a failing reconcile.
	// Defaults to 5.
	MaxRetries int

	// InitialBackoff defaults to 1 second.
	InitialBackoff time.Duration

	// MaxBackoff defaults to 5 minutes.
	MaxBackoff time.Duration

	// ReconcileTimeout bounds a single Reconcile call. Defaults to 30 seconds.
	ReconcileTimeout time.Duration
}

// ReconcileStatus is the manager's bookkeeping for one resource.
type ReconcileStatus struct {
	ResourceType ResourceType `json:"resourceType"`
	Name         string       `json:"name"`
	Namespace    string       `json:"namespace"`

	// LastReconcileTime is when the resource was last successfully reconciled.
	LastReconcileTime *time.Time `json:"lastReconcileTime,omitempty"`

	// LastError is the most recent sanitized error, if any.
	LastError string `json:"lastError,omitempty"`

	RetryCount int            `json:"retryCount"`
	State      ReconcileState `json:"state"`
}

// ReconcileState represents the state of a resource's reconciliation.
type ReconcileState string

const (
	StatePending     ReconcileState = "Pending"
	StateReconciling ReconcileState = "Reconciling"
	StateSynced      ReconcileState = "Synced"

	// StateError means reconciliation failed and will be retried.
	StateError ReconcileState = "Error"

	// StateFailed means reconciliation failed permanently (max retries exceeded).
	StateFailed ReconcileState = "Failed"
)
