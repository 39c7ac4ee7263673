package templatedata

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"

	"taskrun/internal/config"
	"taskrun/internal/tools"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// ValidationErrors is returned by Build when the TaskRun cannot be accepted.
type ValidationErrors = config.ValidationErrors

const (
	defaultAgentName = "claude-agent"
	defaultModel     = "sonnet"
	defaultBranch    = "main"
)

var (
	modelPattern      = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	filenamePattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	githubUserPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$`)
	urlPrefixes       = []string{"https://", "http://", "ssh://", "git@"}

	documentKinds = []string{
		string(v1alpha1.DocumentKindTask),
		string(v1alpha1.DocumentKindDesignSpec),
		string(v1alpha1.DocumentKindPrompt),
		string(v1alpha1.DocumentKindContext),
		string(v1alpha1.DocumentKindAcceptanceCriteria),
	}
)

// Build validates tr and derives its template Context from cfg.
// All problems are collected into a single ValidationErrors.
func Build(tr *v1alpha1.TaskRun, cfg *config.ControllerConfig) (*Context, error) {
	var errs ValidationErrors
	spec := tr.Spec

	if spec.TaskID < 1 {
		errs.Add("spec.taskId", "must be at least 1", spec.TaskID)
	}
	for _, msg := range validation.IsDNS1123Label(spec.ServiceName) {
		errs.Add("spec.serviceName", msg, spec.ServiceName)
	}

	agentName := orDefault(spec.AgentName, defaultAgentName)
	for _, msg := range validation.IsDNS1123Label(agentName) {
		errs.Add("spec.agentName", msg, agentName)
	}

	model := orDefault(spec.Model, defaultModel)
	if !modelPattern.MatchString(model) {
		errs.Add("spec.model", "must match "+modelPattern.String(), model)
	}

	contextVersion := spec.ContextVersion
	if contextVersion == 0 {
		contextVersion = 1
	}
	if contextVersion < 0 {
		errs.Add("spec.contextVersion", "must be at least 1", contextVersion)
	}

	variant := spec.EffectiveVariant()
	errs.AddErr(config.ValidateOneOf("spec.variant", string(variant), []string{string(v1alpha1.VariantDocs), string(v1alpha1.VariantCode)}))

	repo := buildRepository("spec.repository", spec.Repository, &errs)

	var catalog *Repository
	if variant == v1alpha1.VariantCode {
		if spec.CatalogRepository == nil {
			errs.Add("spec.catalogRepository", "is required for the code variant")
		} else {
			c := buildRepository("spec.catalogRepository", *spec.CatalogRepository, &errs)
			catalog = &c
		}
	}

	validateDocuments(spec.Documents, &errs)

	paths := buildPaths(tr.Name, variant, repo, catalog, spec.TaskID, cfg.Prep.CatalogDocsPath)

	resolution, err := tools.Resolve(tools.Selection{
		Preset: spec.Tools.Preset,
		Local:  spec.Tools.Local,
		Remote: spec.Tools.Remote,
	}, tools.Catalog{
		DefaultRemote:       cfg.Tools.DefaultRemote,
		AdvancedExtraRemote: cfg.Tools.AdvancedExtraRemote,
	}, tools.Scope{Workspace: paths.Workspace, Repository: paths.Checkout})
	if err != nil {
		addToolError(&errs, err, spec.Tools)
	}

	perms, err := tools.MapPermissions(spec.AgentTools, tools.Policy{
		Allow:    cfg.Permissions.Allow,
		Deny:     cfg.Permissions.Deny,
		Override: cfg.Permissions.AgentToolsOverride,
	})
	if err != nil {
		var uerr *tools.UnknownAgentToolError
		if errors.As(err, &uerr) {
			errs.Add(fmt.Sprintf("spec.agentTools[%d].name", uerr.Index), "must be one of: "+strings.Join(tools.KnownAgentTools(), ", "), uerr.Name)
		} else {
			errs.Add("spec.agentTools", err.Error())
		}
	}

	if errs.HasErrors() {
		return nil, errs
	}

	ctx := &Context{
		Name:            tr.Name,
		Namespace:       tr.Namespace,
		UID:             string(tr.UID),
		TaskID:          spec.TaskID,
		ServiceName:     spec.ServiceName,
		AgentName:       agentName,
		Model:           model,
		ContextVersion:  contextVersion,
		ContinueSession: spec.ContinueSession,
		Variant:         variant,
		Repository:      repo,
		Catalog:         catalog,
		Documents:       sortedDocuments(spec.Documents),
		Tools:           resolution,
		Permissions:     perms,
		Telemetry:       buildTelemetry(cfg.Telemetry, spec.ServiceName, spec.TaskID, agentName),
		ToolProxyURL:    cfg.ToolProxy.URL,
		Paths:           paths,
		Images: Images{
			Prep:            cfg.Prep.Image,
			PrepPullPolicy:  cfg.Prep.ImagePullPolicy,
			Agent:           cfg.Agent.Image.Reference(),
			AgentPullPolicy: cfg.Agent.ImagePullPolicy,
			PullSecrets:     append([]string(nil), cfg.Agent.ImagePullSecrets...),
		},
		Resources: Resources{Prep: cfg.Prep.Resources, Agent: cfg.Agent.Resources},
		Jobs: JobLimits{
			PrepDeadlineSeconds:  cfg.Prep.ActiveDeadlineSeconds,
			PrepBackoffLimit:     cfg.Prep.BackoffLimit,
			AgentDeadlineSeconds: cfg.Job.ActiveDeadlineSeconds,
			AgentBackoffLimit:    cfg.Job.BackoffLimit,
			TTLSecondsAfterDone:  cfg.Job.TTLSecondsAfterFinished,
		},
		Workspace:          cfg.Workspace,
		Secrets:            cfg.Secrets,
		ServiceAccountName: cfg.Agent.ServiceAccountName,
	}
	if variant == v1alpha1.VariantCode {
		ctx.FeatureBranch = FeatureBranch(spec.TaskID)
	}
	return ctx, nil
}

func buildRepository(field string, spec v1alpha1.RepositorySpec, errs *ValidationErrors) Repository {
	repo := Repository{
		URL:              strings.TrimSpace(spec.URL),
		Branch:           orDefault(spec.Branch, defaultBranch),
		WorkingDirectory: spec.WorkingDirectory,
		GitHubUser:       spec.GitHubUser,
	}

	if repo.URL == "" {
		errs.Add(field+".url", "is required")
	} else if !hasAnyPrefix(repo.URL, urlPrefixes) {
		errs.Add(field+".url", "must start with one of: "+strings.Join(urlPrefixes, ", "), repo.URL)
	} else if strings.ContainsAny(repo.URL, " \t\n'\"`$;") {
		errs.Add(field+".url", "must not contain whitespace, quotes or shell metacharacters", repo.URL)
	}
	repo.SSH = IsSSHURL(repo.URL)

	if strings.HasPrefix(repo.Branch, "-") || strings.Contains(repo.Branch, "..") || strings.ContainsAny(repo.Branch, " ~^:?*[\\") {
		errs.Add(field+".branch", "is not a valid git branch name", repo.Branch)
	}

	if repo.GitHubUser == "" {
		errs.Add(field+".githubUser", "is required")
	} else if !githubUserPattern.MatchString(repo.GitHubUser) {
		errs.Add(field+".githubUser", "must be a valid GitHub user name", repo.GitHubUser)
	}

	if wd := repo.WorkingDirectory; wd != "" {
		clean := path.Clean(wd)
		switch {
		case path.IsAbs(wd):
			errs.Add(field+".workingDirectory", "must be relative to the repository root", wd)
		case clean == ".." || strings.HasPrefix(clean, "../") || containsDotDot(wd):
			errs.Add(field+".workingDirectory", "must not contain '..' segments", wd)
		default:
			if clean == "." {
				clean = ""
			}
			repo.WorkingDirectory = clean
		}
	}
	return repo
}

func validateDocuments(docs []v1alpha1.Document, errs *ValidationErrors) {
	seen := make(map[string]int, len(docs))
	for i, d := range docs {
		field := fmt.Sprintf("spec.documents[%d]", i)
		if !filenamePattern.MatchString(d.Filename) {
			errs.Add(field+".filename", "must match "+filenamePattern.String(), d.Filename)
		} else if prev, dup := seen[d.Filename]; dup {
			errs.Add(field+".filename", fmt.Sprintf("duplicates spec.documents[%d]", prev), d.Filename)
		} else {
			seen[d.Filename] = i
		}
		errs.AddErr(config.ValidateOneOf(field+".kind", string(d.Kind), documentKinds))
		if strings.TrimSpace(d.Content) == "" {
			errs.Add(field+".content", "must not be empty")
		}
	}
}

func addToolError(errs *ValidationErrors, err error, spec v1alpha1.ToolSpec) {
	var perr *tools.UnknownPresetError
	var lerr *tools.UnknownLocalError
	switch {
	case errors.As(err, &perr):
		errs.Add("spec.tools.preset", "must be one of: "+strings.Join(tools.Presets, ", "), perr.Preset)
	case errors.As(err, &lerr):
		errs.Add("spec.tools.local", "must only contain: "+strings.Join(tools.KnownLocal, ", "), lerr.Name)
	default:
		errs.Add("spec.tools", err.Error(), spec)
	}
}

func buildPaths(name string, variant v1alpha1.Variant, repo Repository, catalog *Repository, taskID int64, catalogDocsPath string) Paths {
	p := Paths{
		Workspace: WorkspaceMount,
		Config:    ConfigMount,
		State:     path.Join(StateRoot, name),
	}
	if variant == v1alpha1.VariantDocs {
		p.Checkout = DocsCheckout
	} else {
		p.Checkout = CodeCheckout
		p.Catalog = CatalogCheckout
	}
	p.WorkDir = path.Join(p.Checkout, repo.WorkingDirectory)

	docsRoot := path.Clean(catalogDocsPath)
	p.ArtifactDir = path.Join(p.WorkDir, path.Dir(docsRoot), "agent")

	taskDir := fmt.Sprintf("task-%d", taskID)
	p.TaskDocs = path.Join(p.WorkDir, docsRoot, taskDir)
	if catalog != nil {
		p.CatalogTaskDocs = path.Join(p.Catalog, catalog.WorkingDirectory, docsRoot, taskDir)
	}
	return p
}

func buildTelemetry(cfg config.TelemetryConfig, service string, taskID int64, agent string) Telemetry {
	if !cfg.Enabled {
		return Telemetry{}
	}
	return Telemetry{
		Enabled: true,
		Env: map[string]string{
			"CLAUDE_CODE_ENABLE_TELEMETRY":     "1",
			"OTEL_EXPORTER_OTLP_ENDPOINT":      cfg.OTLPEndpoint,
			"OTEL_EXPORTER_OTLP_PROTOCOL":      cfg.OTLPProtocol,
			"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT": cfg.LogsEndpoint,
			"OTEL_EXPORTER_OTLP_LOGS_PROTOCOL": cfg.LogsProtocol,
			"OTEL_RESOURCE_ATTRIBUTES":         fmt.Sprintf("service.name=%s,task.id=%d,agent.name=%s", service, taskID, agent),
			"OTEL_METRICS_EXPORTER":            "otlp",
			"OTEL_LOGS_EXPORTER":               "otlp",
		},
	}
}

// IsSSHURL reports whether a clone URL needs SSH key credentials.
func IsSSHURL(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

func sortedDocuments(docs []v1alpha1.Document) []v1alpha1.Document {
	out := append([]v1alpha1.Document(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

func containsDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
