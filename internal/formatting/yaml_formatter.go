package formatting

import (
	"sigs.k8s.io/yaml"

	trclient "taskrun/internal/client"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// YAMLFormatter provides YAML output formatting. Objects go through their
// JSON tags so the output matches kubectl's.
type YAMLFormatter struct {
	options Options
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(options Options) Formatter {
	return &YAMLFormatter{
		options: options,
	}
}

// FormatTaskRunList renders the summaries as a YAML list.
func (f *YAMLFormatter) FormatTaskRunList(runs []v1alpha1.TaskRun) (string, error) {
	now := f.options.now()
	out := make([]TaskRunSummary, 0, len(runs))
	for i := range runs {
		out = append(out, Summarize(&runs[i], now))
	}
	return f.marshal(out)
}

// FormatTaskRun renders the full object plus its events.
func (f *YAMLFormatter) FormatTaskRun(tr *v1alpha1.TaskRun, events []trclient.EventRecord) (string, error) {
	return f.marshal(detail{TaskRun: tr, Events: events})
}

// SetOptions updates the formatter options
func (f *YAMLFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *YAMLFormatter) GetOptions() Options {
	return f.options
}

func (f *YAMLFormatter) marshal(v interface{}) (string, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
