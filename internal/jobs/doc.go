// Package jobs builds the preparation and agent jobs of a TaskRun and
// classifies their status.
//
// Preparation scripts are static and embedded; everything specific to a run
// is passed through environment variables so user-supplied values are never
// spliced into shell source.
package jobs
