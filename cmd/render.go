package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	trclient "taskrun/internal/client"
	"taskrun/internal/config"
	"taskrun/internal/jobs"
	"taskrun/internal/naming"
	"taskrun/internal/render"
	"taskrun/internal/templatedata"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

var (
	renderFile       string
	renderConfigPath string
	renderOutDir     string
	renderJobs       bool
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Validate and render a TaskRun offline",
	Long: `Validates a TaskRun manifest and renders its artifact bundle without
talking to a cluster. Use it to check a TaskRun before applying it, or to
inspect exactly what the agent will receive.

Without --out the artifact names and the bundle hash are printed. With
--out every artifact is written to the directory, and --jobs adds the
preparation and agent Job manifests.

Examples:
  taskrun render -f taskrun.yaml
  taskrun render -f taskrun.yaml --config controller.yaml --out ./bundle --jobs`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func runRender(cmd *cobra.Command, args []string) error {
	tr, err := readTaskRun(renderFile)
	if err != nil {
		return err
	}
	if tr.Namespace == "" {
		tr.Namespace = targetNamespace()
	}

	cfg, err := config.LoadFile(renderConfigPath)
	if err != nil {
		return err
	}

	tctx, err := templatedata.Build(tr, cfg)
	if err != nil {
		return err
	}
	bundle, err := render.Render(tctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if renderOutDir == "" {
		fmt.Fprintf(out, "TaskRun %s/%s (%s) renders %d artifacts, hash %s\n",
			tr.Namespace, tr.Name, tctx.Variant, len(bundle.Files), bundle.Hash)
		for _, key := range bundle.Keys() {
			fmt.Fprintf(out, "  %s (%d bytes)\n", key, len(bundle.Files[key]))
		}
		return nil
	}

	if err := writeBundle(renderOutDir, bundle); err != nil {
		return err
	}
	written := len(bundle.Files)

	if renderJobs {
		n, err := writeJobs(renderOutDir, tr, tctx)
		if err != nil {
			return err
		}
		written += n
	}

	fmt.Fprintf(out, "Wrote %d files to %s (bundle hash %s)\n", written, renderOutDir, bundle.Hash)
	return nil
}

// readTaskRun decodes a TaskRun manifest. Unknown fields are rejected so
// that typos do not silently fall back to defaults.
func readTaskRun(path string) (*v1alpha1.TaskRun, error) {
	if path == "" {
		return nil, fmt.Errorf("a TaskRun manifest is required (-f)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	tr := &v1alpha1.TaskRun{}
	if err := yaml.UnmarshalStrict(data, tr); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if tr.Kind != "" && tr.Kind != "TaskRun" {
		return nil, fmt.Errorf("%s contains a %s, not a TaskRun", path, tr.Kind)
	}
	if tr.Name == "" {
		return nil, fmt.Errorf("%s: metadata.name is required", path)
	}
	return tr, nil
}

func writeBundle(dir string, bundle *render.Bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, key := range bundle.Keys() {
		mode := os.FileMode(0o644)
		if strings.HasSuffix(key, ".sh") {
			mode = 0o755
		}
		if err := os.WriteFile(filepath.Join(dir, key), []byte(bundle.Files[key]), mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return nil
}

func writeJobs(dir string, tr *v1alpha1.TaskRun, tctx *templatedata.Context) (int, error) {
	builder := jobs.NewBuilder(trclient.NewScheme())
	bundleName := naming.Bundle(tr.Name)

	prep, err := builder.PrepJob(tr, tctx, bundleName)
	if err != nil {
		return 0, err
	}
	agent, err := builder.AgentJob(tr, tctx, bundleName)
	if err != nil {
		return 0, err
	}

	for file, job := range map[string]*batchv1.Job{"prep-job.yaml": prep, "agent-job.yaml": agent} {
		job.TypeMeta = metav1.TypeMeta{APIVersion: batchv1.SchemeGroupVersion.String(), Kind: "Job"}
		data, err := yaml.Marshal(job)
		if err != nil {
			return 0, fmt.Errorf("failed to encode %s: %w", file, err)
		}
		if err := os.WriteFile(filepath.Join(dir, file), data, 0o644); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", file, err)
		}
	}
	return 2, nil
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderFile, "file", "f", "", "TaskRun manifest to render")
	renderCmd.Flags().StringVar(&renderConfigPath, "config", "", "Controller configuration file (default: built-in defaults)")
	renderCmd.Flags().StringVar(&renderOutDir, "out", "", "Directory to write the artifacts to")
	renderCmd.Flags().BoolVar(&renderJobs, "jobs", false, "Also write the Job manifests (requires --out)")
	_ = renderCmd.MarkFlagRequired("file")
	_ = renderCmd.MarkFlagFilename("file", "yaml", "yml")
}
