package templatedata

import (
	"fmt"

	"taskrun/internal/config"
	"taskrun/internal/tools"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// Fixed locations inside the job containers.
const (
	WorkspaceMount = "/workspace"
	ConfigMount    = "/config"
	SSHKeysMount   = "/ssh-keys"

	DocsCheckout    = WorkspaceMount + "/docs-repo"
	CatalogCheckout = WorkspaceMount + "/catalog"
	CodeCheckout    = WorkspaceMount + "/src"
	StateRoot       = WorkspaceMount + "/.taskrun"

	// DocsBranchPrefix starts every docs-generation branch; the prep job
	// appends a UTC timestamp.
	DocsBranchPrefix = "docs-generation"
)

// FeatureBranch is the deterministic branch a code TaskRun works on.
func FeatureBranch(taskID int64) string {
	return fmt.Sprintf("feature/task-%d-implementation", taskID)
}

// Repository is a validated repository reference.
type Repository struct {
	URL              string
	Branch           string
	WorkingDirectory string
	GitHubUser       string

	// SSH is true for git@ and ssh:// URLs.
	SSH bool
}

// Paths are the container paths both jobs agree on.
type Paths struct {
	Workspace string
	Config    string

	// Checkout is the repository the agent works in.
	Checkout string

	// Catalog is the read-only catalog checkout, empty for docs.
	Catalog string

	// WorkDir is Checkout joined with the working directory.
	WorkDir string

	// ArtifactDir receives a copy of the bundle inside the checkout.
	ArtifactDir string

	// CatalogTaskDocs and TaskDocs are the source and destination of the task
	// documents copied by the code prep job.
	CatalogTaskDocs string
	TaskDocs        string

	// State holds per-run markers (branch, resume).
	State string
}

// Telemetry is the OTLP setup handed to the agent.
type Telemetry struct {
	Enabled bool

	// Env holds the agent environment when Enabled.
	Env map[string]string
}

// Images are resolved container image references.
type Images struct {
	Prep            string
	PrepPullPolicy  string
	Agent           string
	AgentPullPolicy string
	PullSecrets     []string
}

// Resources are the container resources of both jobs.
type Resources struct {
	Prep  config.ResourcesConfig
	Agent config.ResourcesConfig
}

// JobLimits carries job deadlines and retry limits.
type JobLimits struct {
	PrepDeadlineSeconds  int64
	PrepBackoffLimit     int32
	AgentDeadlineSeconds int64
	AgentBackoffLimit    int32
	TTLSecondsAfterDone  *int32
}

// Context is everything the renderer and job builder need for one TaskRun.
// It is derived from the TaskRun spec and a config snapshot and never changes
// afterwards.
type Context struct {
	Name      string
	Namespace string
	UID       string

	TaskID          int64
	ServiceName     string
	AgentName       string
	Model           string
	ContextVersion  int32
	ContinueSession bool
	Variant         v1alpha1.Variant

	Repository Repository
	Catalog    *Repository

	// FeatureBranch is set for code TaskRuns.
	FeatureBranch string

	Documents []v1alpha1.Document

	Tools       tools.Resolution
	Permissions tools.Permissions
	Telemetry   Telemetry

	ToolProxyURL string

	Paths     Paths
	Images    Images
	Resources Resources
	Jobs      JobLimits

	Workspace          config.WorkspaceConfig
	Secrets            config.SecretsConfig
	ServiceAccountName string
}

// IsDocs reports whether this is the single-repository docs variant.
func (c *Context) IsDocs() bool {
	return c.Variant == v1alpha1.VariantDocs
}

// Repositories returns every repository the prep job touches.
func (c *Context) Repositories() []Repository {
	if c.Catalog == nil {
		return []Repository{c.Repository}
	}
	return []Repository{*c.Catalog, c.Repository}
}
