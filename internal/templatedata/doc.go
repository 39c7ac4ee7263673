// Package templatedata turns a TaskRun and a controller config snapshot into
// the typed Context consumed by the renderer and the job builder.
//
// Build is the single validation point: a TaskRun that passes it can be
// rendered and scheduled, one that fails it never creates a cluster object.
package templatedata
