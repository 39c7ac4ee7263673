package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	trclient "taskrun/internal/client"
	"taskrun/internal/config"
	"taskrun/internal/render"
	"taskrun/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInvalid indicates a TaskRun or configuration that failed validation.
	ExitCodeInvalid = 2
	// ExitCodeRenderFailed indicates a valid TaskRun whose artifacts could not be rendered.
	ExitCodeRenderFailed = 3
)

var (
	rootNamespace string
	rootDebug     bool
)

// rootCmd represents the base command for the taskrun application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskrun",
	Short: "Run coding agents on Kubernetes from TaskRun resources",
	Long: `taskrun turns TaskRun resources into a workspace volume, an artifact
bundle, a preparation job and an agent job, and reports progress on the
TaskRun status.

Run 'taskrun serve' in the cluster to start the controller. The other
commands inspect TaskRuns from a workstation or render a TaskRun offline.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if rootDebug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, cmd.ErrOrStderr())
	},
}

// newTaskRunClient builds the cluster client for the read-only commands.
// Tests replace it with a fake.
var newTaskRunClient = func() (trclient.TaskRunClient, error) {
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return trclient.New(restConfig)
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "taskrun version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var invalid config.ValidationErrors
	if errors.As(err, &invalid) {
		return ExitCodeInvalid
	}

	var renderErr *render.RenderError
	if errors.As(err, &renderErr) {
		return ExitCodeRenderFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootNamespace, "namespace", "n", "", "Namespace to operate in (list and serve: all namespaces when empty, otherwise \"default\")")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
}

// targetNamespace is the namespace for commands that address a single TaskRun.
func targetNamespace() string {
	if rootNamespace == "" {
		return "default"
	}
	return rootNamespace
}
