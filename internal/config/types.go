package config

import (
	"time"
)

// ControllerConfig is the static configuration shared by every reconcile.
//
// It is read from config.yaml (a file or a ConfigMap key) on top of the
// defaults returned by DefaultConfig.
type ControllerConfig struct {
	Job         JobConfig         `yaml:"job"`
	Prep        PrepConfig        `yaml:"prep"`
	Agent       AgentConfig       `yaml:"agent"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	ToolProxy   ToolProxyConfig   `yaml:"toolProxy"`
	Tools       ToolsConfig       `yaml:"tools"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
}

// JobConfig applies to the agent job.
type JobConfig struct {
	ActiveDeadlineSeconds int64 `yaml:"activeDeadlineSeconds"`
	BackoffLimit          int32 `yaml:"backoffLimit"`

	// TTLSecondsAfterFinished is left unset by default so finished jobs stay
	// inspectable until their TaskRun is deleted.
	TTLSecondsAfterFinished *int32 `yaml:"ttlSecondsAfterFinished,omitempty"`
}

// PrepConfig applies to the preparation job.
type PrepConfig struct {
	Image                 string          `yaml:"image"`
	ImagePullPolicy       string          `yaml:"imagePullPolicy"`
	ActiveDeadlineSeconds int64           `yaml:"activeDeadlineSeconds"`
	BackoffLimit          int32           `yaml:"backoffLimit"`
	Resources             ResourcesConfig `yaml:"resources"`

	// CatalogDocsPath is where task documents live inside a catalog checkout,
	// relative to its working directory.
	CatalogDocsPath string `yaml:"catalogDocsPath"`
}

// AgentConfig describes the agent container.
type AgentConfig struct {
	Image              ImageConfig     `yaml:"image"`
	ImagePullSecrets   []string        `yaml:"imagePullSecrets"`
	ImagePullPolicy    string          `yaml:"imagePullPolicy"`
	ServiceAccountName string          `yaml:"serviceAccountName"`
	Resources          ResourcesConfig `yaml:"resources"`
}

// ImageConfig is a container image split into repository and tag.
type ImageConfig struct {
	Repository string `yaml:"repository"`
	Tag        string `yaml:"tag"`
}

// Reference returns repository:tag.
func (i ImageConfig) Reference() string {
	if i.Tag == "" {
		return i.Repository
	}
	return i.Repository + ":" + i.Tag
}

// ResourcesConfig holds container requests and limits as quantity strings.
type ResourcesConfig struct {
	Requests ResourceList `yaml:"requests"`
	Limits   ResourceList `yaml:"limits"`
}

// ResourceList is the subset of resources the controller sets.
type ResourceList struct {
	CPU    string `yaml:"cpu"`
	Memory string `yaml:"memory"`
}

// WorkspaceConfig shapes the per-service workspace claim.
type WorkspaceConfig struct {
	Size             string `yaml:"size"`
	StorageClassName string `yaml:"storageClassName"`
	AccessMode       string `yaml:"accessMode"`
}

// SecretsConfig names the secrets jobs read credentials from.
type SecretsConfig struct {
	APIKeySecretName  string `yaml:"apiKeySecretName"`
	APIKeySecretKey   string `yaml:"apiKeySecretKey"`
	SSHSecretPrefix   string `yaml:"sshSecretPrefix"`
	TokenSecretPrefix string `yaml:"tokenSecretPrefix"`
	TokenSecretKey    string `yaml:"tokenSecretKey"`
}

// PermissionsConfig is the default tool permission policy written to settings.json.
type PermissionsConfig struct {
	// AgentToolsOverride makes per-TaskRun agentTools replace Allow/Deny instead of extending them.
	AgentToolsOverride bool     `yaml:"agentToolsOverride"`
	Allow              []string `yaml:"allow"`
	Deny               []string `yaml:"deny"`
}

// TelemetryConfig is passed to the agent as OTLP settings.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPProtocol string `yaml:"otlpProtocol"`
	LogsEndpoint string `yaml:"logsEndpoint"`
	LogsProtocol string `yaml:"logsProtocol"`
}

// ToolProxyConfig points at the tool-filtering proxy.
type ToolProxyConfig struct {
	URL string `yaml:"url"`
}

// ToolsConfig tunes the remote tool lists behind the presets.
type ToolsConfig struct {
	// DefaultRemote replaces the built-in remote tools of the default preset when set.
	DefaultRemote []string `yaml:"defaultRemote"`

	// AdvancedExtraRemote is added on top of the default list for the advanced preset.
	AdvancedExtraRemote []string `yaml:"advancedExtraRemote"`
}

// ReconcilerConfig tunes the work queue and worker pool.
type ReconcilerConfig struct {
	Workers          int           `yaml:"workers"`
	MaxRetries       int           `yaml:"maxRetries"`
	InitialBackoff   time.Duration `yaml:"initialBackoff"`
	MaxBackoff       time.Duration `yaml:"maxBackoff"`
	ReconcileTimeout time.Duration `yaml:"reconcileTimeout"`
	JobPollInterval  time.Duration `yaml:"jobPollInterval"`
}
