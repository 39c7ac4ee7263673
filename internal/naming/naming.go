// Package naming derives deterministic object names and label sets for the
// objects a TaskRun owns.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// Label keys put on every owned object.
const (
	LabelManagedBy      = "app.kubernetes.io/managed-by"
	LabelTaskRun        = "orchestrator.io/taskrun"
	LabelTaskID         = "orchestrator.io/task-id"
	LabelService        = "orchestrator.io/service"
	LabelContextVersion = "orchestrator.io/context-version"
	LabelJobType        = "orchestrator.io/job-type"

	// ManagedBy is the value of LabelManagedBy.
	ManagedBy = "taskrun-controller"

	// AnnotationBundleHash records the content hash of a published bundle.
	AnnotationBundleHash = "orchestrator.io/bundle-hash"
)

// Job types for LabelJobType.
const (
	JobTypePrep  = "prep"
	JobTypeAgent = "agent"
)

const (
	// MaxNameLength is the limit for names that end up as label values (job-name).
	MaxNameLength = 63

	hashLength = 8
)

// Child returns base + "-" + suffix, shortened to MaxNameLength by replacing
// the tail of base with a short hash of the full name. The result is stable
// for a given input.
func Child(base, suffix string) string {
	full := base + "-" + suffix
	if len(full) <= MaxNameLength {
		return full
	}
	sum := sha256.Sum256([]byte(full))
	h := hex.EncodeToString(sum[:])[:hashLength]
	keep := MaxNameLength - len(suffix) - len(h) - 2
	if keep < 1 {
		keep = 1
	}
	trimmed := strings.TrimRight(base[:keep], "-.")
	return trimmed + "-" + h + "-" + suffix
}

// PrepJob is the preparation job name for a TaskRun.
func PrepJob(taskRun string) string { return Child(taskRun, JobTypePrep) }

// AgentJob is the agent job name for a TaskRun.
func AgentJob(taskRun string) string { return Child(taskRun, JobTypeAgent) }

// Bundle is the artifact bundle ConfigMap name for a TaskRun.
func Bundle(taskRun string) string { return Child(taskRun, "bundle") }

// WorkspaceClaim is the per-service workspace claim name.
func WorkspaceClaim(service string) string { return "workspace-" + service }

// JobSelector is the label selector that finds a job's pods.
func JobSelector(jobName string) string { return "job-name=" + jobName }

// TaskRunLabels are the labels shared by every object a TaskRun owns.
func TaskRunLabels(tr *v1alpha1.TaskRun) map[string]string {
	cv := tr.Spec.ContextVersion
	if cv == 0 {
		cv = 1
	}
	return map[string]string{
		LabelManagedBy:      ManagedBy,
		LabelTaskRun:        LabelValue(tr.Name),
		LabelTaskID:         strconv.FormatInt(tr.Spec.TaskID, 10),
		LabelService:        LabelValue(tr.Spec.ServiceName),
		LabelContextVersion: strconv.FormatInt(int64(cv), 10),
	}
}

// JobLabels extends TaskRunLabels with the job type.
func JobLabels(tr *v1alpha1.TaskRun, jobType string) map[string]string {
	l := TaskRunLabels(tr)
	l[LabelJobType] = jobType
	return l
}

// WorkspaceLabels are the labels of a service's workspace claim.
func WorkspaceLabels(service string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedBy,
		LabelService:   LabelValue(service),
	}
}

// LabelValue makes s usable as a label value: at most 63 characters from
// [A-Za-z0-9._-], starting and ending with an alphanumeric.
func LabelValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if len(out) > MaxNameLength {
		out = out[:MaxNameLength]
	}
	return strings.Trim(out, "-_.")
}
