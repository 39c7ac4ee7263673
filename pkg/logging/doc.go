// Package logging provides the process-wide structured logger.
//
// It is a thin layer over log/slog that tags every record with a subsystem
// name. The same handler is bridged to logr and installed into
// controller-runtime and klog, so informer, leader-election and controller
// logs come out in the same format as application logs.
//
// # Usage
//
//	logging.Init(logging.Options{Level: logging.LevelInfo, Format: logging.FormatJSON})
//
//	logging.Info("Bootstrap", "Watching namespace %s", ns)
//	logging.Debug("Render", "Rendered %d artifacts for %s", n, name)
//	logging.Warn("Workspace", "Claim %s is still pending", claim)
//	logging.Error("TaskRunReconciler", err, "Failed to create job %s", jobName)
//
// Text output is intended for local runs; JSON output for in-cluster runs
// where logs are shipped to an aggregator.
//
// Until Init is called all log calls are dropped.
package logging
