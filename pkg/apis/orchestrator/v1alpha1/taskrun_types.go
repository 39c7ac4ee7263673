package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DocsGenerationTaskID is the reserved task id for documentation generation runs.
const DocsGenerationTaskID int64 = 999999

// Variant selects the repository topology of a TaskRun.
type Variant string

const (
	// VariantDocs uses a single repository for catalog and output.
	VariantDocs Variant = "docs"

	// VariantCode reads a catalog repository and works in a separate destination repository.
	VariantCode Variant = "code"
)

// DocumentKind classifies a seeded memory document.
type DocumentKind string

const (
	DocumentKindTask               DocumentKind = "task"
	DocumentKindDesignSpec         DocumentKind = "design-spec"
	DocumentKindPrompt             DocumentKind = "prompt"
	DocumentKindContext            DocumentKind = "context"
	DocumentKindAcceptanceCriteria DocumentKind = "acceptance-criteria"
)

// TaskRunPhase is the lifecycle phase of a TaskRun.
// +kubebuilder:validation:Enum=Pending;Preparing;Running;Succeeded;Failed
type TaskRunPhase string

const (
	PhasePending   TaskRunPhase = "Pending"
	PhasePreparing TaskRunPhase = "Preparing"
	PhaseRunning   TaskRunPhase = "Running"
	PhaseSucceeded TaskRunPhase = "Succeeded"
	PhaseFailed    TaskRunPhase = "Failed"
)

// IsTerminal reports whether no further transitions are possible from p.
func (p TaskRunPhase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// RepositorySpec identifies a git repository and how to reach it.
type RepositorySpec struct {
	// URL is the clone URL. SSH URLs (git@ or ssh://) select SSH key credentials,
	// everything else selects a token.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern=`^(https?://|ssh://|git@).+`
	URL string `json:"url" yaml:"url"`

	// Branch is the source branch.
	// +kubebuilder:default=main
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`

	// WorkingDirectory is a path relative to the checkout root that scopes the agent's writes.
	WorkingDirectory string `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty"`

	// GitHubUser owns the credentials used for this repository.
	// +kubebuilder:validation:Required
	GitHubUser string `json:"githubUser" yaml:"githubUser"`
}

// Document is a markdown payload seeded into the agent's memory.
type Document struct {
	// +kubebuilder:validation:Pattern=`^[A-Za-z0-9][A-Za-z0-9._-]*$`
	Filename string `json:"filename" yaml:"filename"`

	Content string `json:"content" yaml:"content"`

	// +kubebuilder:validation:Enum=task;design-spec;prompt;context;acceptance-criteria
	Kind DocumentKind `json:"kind" yaml:"kind"`
}

// ToolSpec selects the tool capabilities available to the agent.
type ToolSpec struct {
	// Preset is one of minimal, default or advanced.
	// +kubebuilder:default=default
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`

	// Local overrides the preset's local capabilities when non-empty.
	Local []string `json:"local,omitempty" yaml:"local,omitempty"`

	// Remote overrides the preset's remote capabilities when non-empty.
	Remote []string `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// AgentToolSpec grants or restricts one built-in agent tool.
type AgentToolSpec struct {
	Name string `json:"name" yaml:"name"`

	// Enabled defaults to true when unset.
	// +kubebuilder:default=true
	// +optional
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Restrictions become deny rules for this tool, e.g. "git:push*".
	Restrictions []string `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
}

// IsEnabled reports whether the tool is allowed. An unset Enabled counts
// as true, matching the API server default.
func (t AgentToolSpec) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// TaskRunSpec defines the desired state of TaskRun
type TaskRunSpec struct {
	// TaskID identifies the task in the catalog. 999999 is reserved for docs generation.
	// +kubebuilder:validation:Minimum=1
	TaskID int64 `json:"taskId" yaml:"taskId"`

	// ServiceName keys the shared workspace volume.
	// +kubebuilder:validation:Pattern="^[a-z0-9]([-a-z0-9]*[a-z0-9])?$"
	// +kubebuilder:validation:MaxLength=63
	ServiceName string `json:"serviceName" yaml:"serviceName"`

	// +kubebuilder:default=claude-agent
	AgentName string `json:"agentName,omitempty" yaml:"agentName,omitempty"`

	// +kubebuilder:default=sonnet
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// ContextVersion counts submissions of the same task.
	// +kubebuilder:default=1
	// +kubebuilder:validation:Minimum=1
	ContextVersion int32 `json:"contextVersion,omitempty" yaml:"contextVersion,omitempty"`

	// ContinueSession marks this run as a continuation of earlier work.
	ContinueSession bool `json:"continueSession,omitempty" yaml:"continueSession,omitempty"`

	// Variant overrides the topology inferred from TaskID.
	// +kubebuilder:validation:Enum=docs;code
	Variant Variant `json:"variant,omitempty" yaml:"variant,omitempty"`

	// Repository is the repository the agent works in.
	Repository RepositorySpec `json:"repository" yaml:"repository"`

	// CatalogRepository supplies task documents for the code variant.
	CatalogRepository *RepositorySpec `json:"catalogRepository,omitempty" yaml:"catalogRepository,omitempty"`

	Documents []Document `json:"documents,omitempty" yaml:"documents,omitempty"`

	Tools ToolSpec `json:"tools,omitempty" yaml:"tools,omitempty"`

	AgentTools []AgentToolSpec `json:"agentTools,omitempty" yaml:"agentTools,omitempty"`
}

// EffectiveVariant returns the explicit variant or the one implied by the task id.
func (s *TaskRunSpec) EffectiveVariant() Variant {
	if s.Variant != "" {
		return s.Variant
	}
	if s.TaskID == DocsGenerationTaskID {
		return VariantDocs
	}
	return VariantCode
}

// ChildJobRef points at a job owned by the TaskRun.
type ChildJobRef struct {
	Name string `json:"name"`

	// LogSelector is the label selector that finds the job's pods.
	LogSelector string `json:"logSelector,omitempty"`

	CreatedAt *metav1.Time `json:"createdAt,omitempty"`
}

// BundleRef points at the published artifact bundle.
type BundleRef struct {
	Name string `json:"name"`
	Hash string `json:"hash,omitempty"`
}

// Outcome summarises a terminal phase.
type Outcome struct {
	Result      TaskRunPhase `json:"result"`
	Reason      string       `json:"reason"`
	Message     string       `json:"message,omitempty"`
	CompletedAt *metav1.Time `json:"completedAt,omitempty"`

	// LogsHint is a command that retrieves the relevant job logs.
	LogsHint string `json:"logsHint,omitempty"`
}

// TaskRunStatus defines the observed state of TaskRun
type TaskRunStatus struct {
	// +kubebuilder:default=Pending
	Phase TaskRunPhase `json:"phase,omitempty"`

	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	WorkspaceClaim string `json:"workspaceClaim,omitempty"`

	Bundle *BundleRef `json:"bundle,omitempty"`

	PrepJob *ChildJobRef `json:"prepJob,omitempty"`

	AgentJob *ChildJobRef `json:"agentJob,omitempty"`

	// Conditions is an append-only history of transition records.
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	Outcome *Outcome `json:"outcome,omitempty"`

	StartedAt *metav1.Time `json:"startedAt,omitempty"`

	LastUpdated *metav1.Time `json:"lastUpdated,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=tr
// +kubebuilder:printcolumn:name="Task",type="integer",JSONPath=".spec.taskId"
// +kubebuilder:printcolumn:name="Service",type="string",JSONPath=".spec.serviceName"
// +kubebuilder:printcolumn:name="Variant",type="string",JSONPath=".spec.variant"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// TaskRun is the Schema for the taskruns API
type TaskRun struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	// Spec cannot change once the TaskRun exists; a new submission is a new TaskRun.
	// +kubebuilder:validation:XValidation:rule="self == oldSelf",message="spec is immutable"
	Spec   TaskRunSpec   `json:"spec,omitempty"`
	Status TaskRunStatus `json:"status,omitempty"`
}

// CurrentPhase treats an unset phase as Pending.
func (t *TaskRun) CurrentPhase() TaskRunPhase {
	if t.Status.Phase == "" {
		return PhasePending
	}
	return t.Status.Phase
}

// +kubebuilder:object:root=true

// TaskRunList contains a list of TaskRun
type TaskRunList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []TaskRun `json:"items"`
}

func init() {
	SchemeBuilder.Register(&TaskRun{}, &TaskRunList{})
}
