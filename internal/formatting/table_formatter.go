package formatting

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	trclient "taskrun/internal/client"
	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

const maxMessageWidth = 60

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(options Options) Formatter {
	return &TableFormatter{
		options: options,
	}
}

// FormatTaskRunList renders one row per TaskRun.
func (f *TableFormatter) FormatTaskRunList(runs []v1alpha1.TaskRun) (string, error) {
	if len(runs) == 0 {
		return f.formatEmptyMessage("No TaskRuns found"), nil
	}

	t := f.createTable()
	if !f.options.Quiet {
		t.AppendHeader(f.header("NAME", "TASK", "SERVICE", "VARIANT", "PHASE", "AGE", "REASON"))
	}

	now := f.options.now()
	for i := range runs {
		s := Summarize(&runs[i], now)
		t.AppendRow(table.Row{s.Name, s.TaskID, s.Service, s.Variant, f.phase(s.Phase), s.Age, s.Reason})
	}

	out := t.Render()
	if !f.options.Quiet {
		out += fmt.Sprintf("\n%s %d\n", f.colorize(text.FgHiBlue, "Total:"), len(runs))
	}
	return out, nil
}

// FormatTaskRun renders a key/value table followed by the conditions and events.
func (f *TableFormatter) FormatTaskRun(tr *v1alpha1.TaskRun, events []trclient.EventRecord) (string, error) {
	s := Summarize(tr, f.options.now())

	var b strings.Builder

	details := f.createTable()
	details.AppendRows([]table.Row{
		{f.key("Name"), s.Namespace + "/" + s.Name},
		{f.key("Task"), s.TaskID},
		{f.key("Service"), s.Service},
		{f.key("Variant"), s.Variant},
		{f.key("Phase"), f.phase(s.Phase)},
		{f.key("Age"), s.Age},
	})
	for _, row := range []struct{ key, value string }{
		{"Workspace", s.Workspace},
		{"Bundle", s.Bundle},
		{"Prep job", s.PrepJob},
		{"Agent job", s.AgentJob},
		{"Reason", s.Reason},
		{"Message", s.Message},
		{"Logs", s.LogsHint},
	} {
		if row.value != "" {
			details.AppendRow(table.Row{f.key(row.key), row.value})
		}
	}
	b.WriteString(details.Render())
	b.WriteString("\n")

	if len(tr.Status.Conditions) > 0 {
		conds := f.createTable()
		conds.SetTitle("Conditions")
		conds.AppendHeader(f.header("TYPE", "STATUS", "REASON", "MESSAGE", "AGE"))
		now := f.options.now()
		for _, c := range tr.Status.Conditions {
			conds.AppendRow(table.Row{
				c.Type, c.Status, c.Reason,
				Truncate(c.Message, maxMessageWidth),
				FormatAge(now.Sub(c.LastTransitionTime.Time)),
			})
		}
		b.WriteString(conds.Render())
		b.WriteString("\n")
	}

	if len(events) > 0 {
		evs := f.createTable()
		evs.SetTitle("Events")
		evs.AppendHeader(f.header("TYPE", "REASON", "AGE", "MESSAGE"))
		now := f.options.now()
		for _, e := range events {
			evs.AppendRow(table.Row{e.Type, e.Reason, FormatAge(now.Sub(e.Timestamp)), Truncate(e.Message, maxMessageWidth)})
		}
		b.WriteString(evs.Render())
		b.WriteString("\n")
	}

	return b.String(), nil
}

// SetOptions updates the formatter options
func (f *TableFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *TableFormatter) GetOptions() Options {
	return f.options
}

// Helper methods

// createTable creates a new table with standard styling
func (f *TableFormatter) createTable() table.Writer {
	t := table.NewWriter()
	if f.options.Quiet {
		t.SetStyle(table.StyleLight)
		t.Style().Options.DrawBorder = false
		t.Style().Options.SeparateColumns = false
	} else {
		t.SetStyle(table.StyleRounded)
	}
	return t
}

func (f *TableFormatter) header(names ...string) table.Row {
	row := make(table.Row, len(names))
	for i, n := range names {
		row[i] = f.colorize(text.FgHiCyan, n)
	}
	return row
}

func (f *TableFormatter) key(k string) string {
	return f.colorize(text.FgHiCyan, k)
}

func (f *TableFormatter) phase(p string) string {
	switch v1alpha1.TaskRunPhase(p) {
	case v1alpha1.PhaseSucceeded:
		return f.colorize(text.FgGreen, p)
	case v1alpha1.PhaseFailed:
		return f.colorize(text.FgRed, p)
	case v1alpha1.PhasePreparing, v1alpha1.PhaseRunning:
		return f.colorize(text.FgYellow, p)
	}
	return p
}

func (f *TableFormatter) colorize(c text.Color, s string) string {
	if !f.options.Color {
		return s
	}
	return c.Sprint(s)
}

// formatEmptyMessage formats empty result messages
func (f *TableFormatter) formatEmptyMessage(message string) string {
	return f.colorize(text.FgYellow, message) + "\n"
}
