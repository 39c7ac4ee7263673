// Package client is the typed access layer for TaskRuns and their Events.
//
// It wraps a controller-runtime client with the handful of TaskRun-specific
// operations the controller, the CLI and the status server share:
//
//	c, err := client.New(restConfig)
//	runs, err := c.ListTaskRuns(ctx, "agents", client.ListFilter{Service: "trader"})
//
// Tests build the same facade over a fake client with Wrap.
package client
