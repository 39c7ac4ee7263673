package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"taskrun/internal/app"
	"taskrun/pkg/logging"
)

var (
	serveConfigPath              string
	serveConfigMap               string
	serveLogFormat               string
	serveMetricsAddr             string
	serveLeaderElect             bool
	serveLeaderElectionNamespace string
)

// serveCmd runs the controller.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the TaskRun controller",
	Long: `Starts the TaskRun controller. It watches TaskRuns and the jobs it owns
and reconciles every TaskRun until it succeeds or fails.

Configuration:
  The controller configuration (images, deadlines, workspace defaults,
  permissions, telemetry) is read from one of:

  --config-map namespace/name   the config.yaml key, read once at startup
  --config path                 a YAML file, reloaded when it changes
  neither                       built-in defaults

High availability:
  With --leader-elect several replicas can run; only the holder of the
  Lease reconciles. /readyz reports ready on standbys.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(rootDebug, serveConfigPath)
	cfg.Namespace = rootNamespace
	cfg.ConfigMap = serveConfigMap
	cfg.LogFormat = logging.Format(serveLogFormat)
	cfg.MetricsAddr = serveMetricsAddr
	cfg.LeaderElect = serveLeaderElect
	cfg.LeaderElectionNamespace = serveLeaderElectionNamespace

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to the controller configuration file")
	serveCmd.Flags().StringVar(&serveConfigMap, "config-map", "", "ConfigMap holding the controller configuration, as namespace/name")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", string(logging.FormatText), "Log format: text or json")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", ":8080", "Address for /metrics, /healthz and /readyz")
	serveCmd.Flags().BoolVar(&serveLeaderElect, "leader-elect", false, "Enable leader election for running several replicas")
	serveCmd.Flags().StringVar(&serveLeaderElectionNamespace, "leader-election-namespace", "", "Namespace of the leader election Lease (default: --namespace)")
}
