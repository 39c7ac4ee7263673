// Package app provides application bootstrap and lifecycle management for the
// TaskRun controller.
//
// # Architecture Overview
//
//  1. **Configuration (`config.go`)**: command-line settings and their validation
//  2. **Services (`services.go`)**: controller configuration loading and reconcile pipeline wiring
//  3. **Bootstrap (`bootstrap.go`)**: logging, cluster client, and the run loop
//  4. **Modes (`modes.go`)**: standalone and leader-elected execution
//  5. **Health (`health.go`)**: /metrics, /healthz and /readyz
//
// # Configuration Loading
//
// The controller configuration is resolved in this order:
//
//  1. `--config-map namespace/name`: the `config.yaml` key, read once at startup
//  2. `--config path`: a YAML file, reloaded when it changes on disk
//  3. built-in defaults
//
// A reload that fails validation is logged and the previous configuration
// stays active. Worker count changes need a restart; everything read per
// reconcile (images, deadlines, permissions, telemetry) applies to the next
// TaskRun that enters preparation.
//
// # Execution Modes
//
// Without `--leader-elect` the reconcile manager starts immediately. With it,
// the process competes for the Lease `taskrun-controller-leader` and only the
// holder runs the manager. Losing the lease ends Run with an error so the
// process restarts and rejoins as a standby.
//
// # Readiness
//
// `/readyz` succeeds on a standby right away and on the leader once the
// TaskRun and Job informers have synced.
//
// # Usage
//
//	cfg := app.NewConfig(debug, configPath)
//	cfg.Namespace = namespace
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
package app
