package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	trclient "taskrun/internal/client"
	"taskrun/internal/formatting"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

var (
	listOutputFormat string
	listQuiet        bool
	listColor        bool
	listService      string
	listPhase        string
)

var listPhases = []string{
	string(v1alpha1.PhasePending),
	string(v1alpha1.PhasePreparing),
	string(v1alpha1.PhaseRunning),
	string(v1alpha1.PhaseSucceeded),
	string(v1alpha1.PhaseFailed),
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List TaskRuns",
	Long: `Lists TaskRuns with their phase, age and latest reason.

Examples:
  taskrun list
  taskrun list -n agents --service trader
  taskrun list --phase Failed -o json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	format, ok := formatting.ParseFormat(listOutputFormat)
	if !ok {
		return fmt.Errorf("unsupported output format %q (use table, json or yaml)", listOutputFormat)
	}
	if listPhase != "" && !isKnownPhase(listPhase) {
		return fmt.Errorf("unknown phase %q", listPhase)
	}

	c, err := newTaskRunClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runs, err := c.ListTaskRuns(ctx, rootNamespace, trclient.ListFilter{
		Service: listService,
		Phase:   v1alpha1.TaskRunPhase(listPhase),
	})
	if err != nil {
		return fmt.Errorf("failed to list TaskRuns: %w", err)
	}

	formatter := formatting.NewFactory().CreateFormatter(formatting.Options{
		Format: format,
		Quiet:  listQuiet,
		Color:  listColor,
	})
	out, err := formatter.FormatTaskRunList(runs)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func isKnownPhase(p string) bool {
	for _, known := range listPhases {
		if p == known {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	listCmd.Flags().BoolVarP(&listQuiet, "quiet", "q", false, "Suppress non-essential output")
	listCmd.Flags().BoolVar(&listColor, "color", false, "Colorize phases")
	listCmd.Flags().StringVar(&listService, "service", "", "Only TaskRuns for this service")
	listCmd.Flags().StringVar(&listPhase, "phase", "", "Only TaskRuns in this phase")

	_ = listCmd.RegisterFlagCompletionFunc("phase", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return listPhases, cobra.ShellCompDirectiveNoFileComp
	})
	_ = listCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})
}
