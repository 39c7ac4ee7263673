package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	trclient "taskrun/internal/client"
	"taskrun/internal/formatting"
)

var (
	getOutputFormat string
	getQuiet        bool
	getColor        bool
)

var getCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show the status of one TaskRun",
	Long: `Shows the phase, outcome, conditions and recent events of a TaskRun.

Examples:
  taskrun get trader-task-42 -n agents
  taskrun get trader-task-42 -n agents -o table`,
	Args:              cobra.ExactArgs(1),
	RunE:              runGet,
	ValidArgsFunction: getTaskRunNameCompletion,
}

func runGet(cmd *cobra.Command, args []string) error {
	format, ok := formatting.ParseFormat(getOutputFormat)
	if !ok {
		return fmt.Errorf("unsupported output format %q (use table, json or yaml)", getOutputFormat)
	}

	c, err := newTaskRunClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	name, namespace := args[0], targetNamespace()
	tr, err := c.GetTaskRun(ctx, name, namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("TaskRun %s/%s not found", namespace, name)
		}
		return fmt.Errorf("failed to get TaskRun %s/%s: %w", namespace, name, err)
	}

	// Events are best effort; a TaskRun without them is still worth showing.
	events, err := c.QueryEvents(ctx, namespace, name)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not read events: %v\n", err)
		events = nil
	}

	formatter := formatting.NewFactory().CreateFormatter(formatting.Options{
		Format: format,
		Quiet:  getQuiet,
		Color:  getColor,
	})
	out, err := formatter.FormatTaskRun(tr, events)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

// getTaskRunNameCompletion completes TaskRun names from the cluster and
// falls back to nothing when it is unreachable.
func getTaskRunNameCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	c, err := newTaskRunClient()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	runs, err := c.ListTaskRuns(context.Background(), targetNamespace(), trclient.ListFilter{})
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	names := make([]string, 0, len(runs))
	for _, tr := range runs {
		names = append(names, tr.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getOutputFormat, "output", "o", "yaml", "Output format (table, json, yaml)")
	getCmd.Flags().BoolVarP(&getQuiet, "quiet", "q", false, "Suppress non-essential output")
	getCmd.Flags().BoolVar(&getColor, "color", false, "Colorize the phase")
}
