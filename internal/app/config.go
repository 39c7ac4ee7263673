package app

import (
	"fmt"
	"strings"

	"taskrun/internal/config"
	"taskrun/pkg/logging"
)

const (
	defaultMetricsAddr = ":8080"

	// LeaseName is the Lease used for leader election.
	LeaseName = "taskrun-controller-leader"
)

// Config holds the application configuration
type Config struct {
	// Debug settings
	Debug     bool
	LogFormat logging.Format

	// Namespace limits the controller to one namespace. Empty watches all.
	Namespace string

	// ConfigPath is the controller configuration file. It is watched for
	// changes unless ConfigMap is set.
	ConfigPath string

	// ConfigMap is a "namespace/name" reference read once at startup.
	ConfigMap string

	MetricsAddr string

	LeaderElect             bool
	LeaderElectionNamespace string

	// Resolved controller configuration
	ControllerConfig *config.ControllerConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath string) *Config {
	return &Config{
		Debug:       debug,
		LogFormat:   logging.FormatText,
		ConfigPath:  configPath,
		MetricsAddr: defaultMetricsAddr,
	}
}

// Validate checks flag combinations before anything touches the cluster.
func (c *Config) Validate() error {
	var errs config.ValidationErrors

	if c.ConfigMap != "" {
		if _, _, err := parseConfigMapRef(c.ConfigMap); err != nil {
			errs.Add("config-map", err.Error(), c.ConfigMap)
		}
	}
	if c.LogFormat != logging.FormatText && c.LogFormat != logging.FormatJSON {
		errs.Add("log-format", "must be text or json", string(c.LogFormat))
	}
	if c.LeaderElect && c.LeaderElectionNamespace == "" && c.Namespace == "" {
		errs.Add("leader-election-namespace", "is required when watching all namespaces")
	}
	if c.MetricsAddr == "" {
		errs.Add("metrics-addr", "is required")
	}
	return errs.OrNil()
}

// leaseNamespace is where the leader-election Lease lives.
func (c *Config) leaseNamespace() string {
	if c.LeaderElectionNamespace != "" {
		return c.LeaderElectionNamespace
	}
	return c.Namespace
}

func parseConfigMapRef(ref string) (namespace, name string, err error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected namespace/name, got %q", ref)
	}
	return parts[0], parts[1], nil
}
