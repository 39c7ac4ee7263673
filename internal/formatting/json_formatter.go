package formatting

import (
	"encoding/json"

	trclient "taskrun/internal/client"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// JSONFormatter provides JSON output formatting
type JSONFormatter struct {
	options Options
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(options Options) Formatter {
	return &JSONFormatter{
		options: options,
	}
}

// FormatTaskRunList renders the summaries as a JSON array.
func (f *JSONFormatter) FormatTaskRunList(runs []v1alpha1.TaskRun) (string, error) {
	now := f.options.now()
	out := make([]TaskRunSummary, 0, len(runs))
	for i := range runs {
		out = append(out, Summarize(&runs[i], now))
	}
	return f.marshal(out)
}

// FormatTaskRun renders the full object plus its events.
func (f *JSONFormatter) FormatTaskRun(tr *v1alpha1.TaskRun, events []trclient.EventRecord) (string, error) {
	return f.marshal(detail{TaskRun: tr, Events: events})
}

// SetOptions updates the formatter options
func (f *JSONFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *JSONFormatter) GetOptions() Options {
	return f.options
}

func (f *JSONFormatter) marshal(v interface{}) (string, error) {
	var (
		b   []byte
		err error
	)
	if f.options.Quiet {
		b, err = json.Marshal(v)
	} else {
		b, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// detail is the document printed for a single TaskRun.
type detail struct {
	TaskRun *v1alpha1.TaskRun       `json:"taskRun"`
	Events  []trclient.EventRecord `json:"events,omitempty"`
}
