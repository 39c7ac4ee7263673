package reconciler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
)

// StatusSyncRetryBackoff bounds the conflict retries of a status write.
var StatusSyncRetryBackoff = wait.Backoff{
	Steps:    5,
	Duration: 10 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// IsConflictError reports whether err is an optimistic-concurrency conflict.
func IsConflictError(err error) bool {
	return apierrors.IsConflict(err)
}

// PlatformError is a failed call against the cluster API.
type PlatformError struct {
	// Op names what was being attempted, e.g. "create prep job".
	Op        string
	Err       error
	Transient bool
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Classify wraps err as a PlatformError and decides whether it is worth
// retrying. Unknown errors are treated as transient.
func Classify(op string, err error) *PlatformError {
	if err == nil {
		return nil
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe
	}
	return &PlatformError{Op: op, Err: err, Transient: isTransient(err)}
}

func isTransient(err error) bool {
	switch {
	case apierrors.IsForbidden(err),
		apierrors.IsInvalid(err),
		apierrors.IsBadRequest(err),
		apierrors.IsMethodNotSupported(err),
		apierrors.IsNotAcceptable(err),
		apierrors.IsUnsupportedMediaType(err),
		apierrors.IsRequestEntityTooLargeError(err),
		apierrors.IsUnauthorized(err):
		return false
	case apierrors.IsConflict(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsInternalError(err),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return true
}

// IsTransient reports whether err should be retried by requeueing.
func IsTransient(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return isTransient(err)
}

// JobFailure describes a child job that ended without success. It is always
// terminal for its TaskRun.
type JobFailure struct {
	// Kind is "prep" or "agent".
	Kind    string
	JobName string
	Reason  string
	Message string
}

func (e *JobFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s job %s failed: %s", e.Kind, e.JobName, e.Reason)
	}
	return fmt.Sprintf("%s job %s failed: %s: %s", e.Kind, e.JobName, e.Reason, e.Message)
}

const maxStatusMessageLength = 512

var sanitizers = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`), "bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)\b(password|passwd|token|apikey|api_key|secret)\s*[=:]\s*[^\s,;]+`), "${1}=[REDACTED]"},
	{regexp.MustCompile(`\b(ghp|gho|ghs|github_pat|sk-ant)_?[A-Za-z0-9_-]{16,}`), "[REDACTED]"},
	{regexp.MustCompile(`(^|[\s"'=(])/(?:[^\s/"']+/)+[^\s"')]*`), "${1}[PATH]"},
	{regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`), "[REDACTED]"},
}

// SanitizeErrorMessage removes credentials and local paths from a message
// before it is stored in status or events, and bounds its length.
func SanitizeErrorMessage(msg string) string {
	for _, s := range sanitizers {
		msg = s.re.ReplaceAllString(msg, s.repl)
	}
	if len(msg) > maxStatusMessageLength {
		cut := maxStatusMessageLength - 3
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
