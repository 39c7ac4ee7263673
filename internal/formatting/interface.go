// Package formatting renders TaskRuns for the CLI in table, JSON or YAML form.
package formatting

import (
	"time"

	trclient "taskrun/internal/client"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, bool) {
	switch OutputFormat(s) {
	case FormatTable, FormatJSON, FormatYAML:
		return OutputFormat(s), true
	case "":
		return FormatTable, true
	}
	return "", false
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Quiet  bool // Suppress decorative elements
	Color  bool // Enable colored output

	// Now is the reference time for ages. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Formatter renders TaskRuns.
type Formatter interface {
	FormatTaskRunList(runs []v1alpha1.TaskRun) (string, error)

	// FormatTaskRun renders one TaskRun with its recent events, newest first.
	FormatTaskRun(tr *v1alpha1.TaskRun, events []trclient.EventRecord) (string, error)

	SetOptions(options Options)
	GetOptions() Options
}

// Factory creates formatters for different output formats
type Factory interface {
	CreateFormatter(options Options) Formatter
}

// NewFactory creates a new formatter factory
func NewFactory() Factory {
	return &factory{}
}

type factory struct{}

// CreateFormatter creates the appropriate formatter based on options
func (f *factory) CreateFormatter(options Options) Formatter {
	switch options.Format {
	case FormatJSON:
		return NewJSONFormatter(options)
	case FormatYAML:
		return NewYAMLFormatter(options)
	case FormatTable:
		fallthrough
	default:
		return NewTableFormatter(options)
	}
}
