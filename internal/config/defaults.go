package config

import "time"

// DefaultConfig returns the configuration used when no file or ConfigMap overrides it.
func DefaultConfig() ControllerConfig {
	return ControllerConfig{
		Job: JobConfig{
			ActiveDeadlineSeconds: 7200,
			BackoffLimit:          0,
		},
		Prep: PrepConfig{
			Image:                 "alpine/git:2.45.2",
			ImagePullPolicy:       "IfNotPresent",
			ActiveDeadlineSeconds: 600,
			BackoffLimit:          2,
			Resources: ResourcesConfig{
				Requests: ResourceList{CPU: "100m", Memory: "128Mi"},
				Limits:   ResourceList{CPU: "500m", Memory: "512Mi"},
			},
			CatalogDocsPath: ".taskmaster/docs",
		},
		Agent: AgentConfig{
			Image: ImageConfig{
				Repository: "ghcr.io/agents/claude-code",
				Tag:        "latest",
			},
			ImagePullSecrets: []string{"ghcr-secret"},
			ImagePullPolicy:  "IfNotPresent",
			Resources: ResourcesConfig{
				Requests: ResourceList{CPU: "500m", Memory: "1Gi"},
				Limits:   ResourceList{CPU: "2", Memory: "4Gi"},
			},
		},
		Workspace: WorkspaceConfig{
			Size:       "10Gi",
			AccessMode: "ReadWriteOnce",
		},
		Secrets: SecretsConfig{
			APIKeySecretName:  "anthropic-api-key",
			APIKeySecretKey:   "api-key",
			SSHSecretPrefix:   "github-ssh-",
			TokenSecretPrefix: "github-pat-",
			TokenSecretKey:    "token",
		},
		Permissions: PermissionsConfig{
			Allow: []string{
				"Bash(*)",
				"Edit(*)",
				"Read(*)",
				"Write(*)",
				"MultiEdit(*)",
				"Glob(*)",
				"Grep(*)",
				"LS(*)",
			},
			Deny: []string{
				"Bash(npm:install*, yarn:install*, cargo:install*, docker:*, kubectl:*, rm:-rf*, git:*)",
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "http://localhost:4317",
			OTLPProtocol: "grpc",
			LogsEndpoint: "http://localhost:4318",
			LogsProtocol: "http",
		},
		ToolProxy: ToolProxyConfig{
			URL: "http://toolman.mcp.svc.cluster.local:3000/mcp",
		},
		Reconciler: ReconcilerConfig{
			Workers:          4,
			MaxRetries:       10,
			InitialBackoff:   time.Second,
			MaxBackoff:       5 * time.Minute,
			ReconcileTimeout: 30 * time.Second,
			JobPollInterval:  15 * time.Second,
		},
	}
}
