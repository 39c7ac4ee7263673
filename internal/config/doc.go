// Package config holds the controller configuration: the images, deadlines,
// resources, secret naming conventions, permission defaults, telemetry
// endpoints and reconciler tuning that every TaskRun reconcile reads.
//
// Configuration is YAML with camelCase keys. It can come from a file, from
// the config.yaml key of a ConfigMap, or from DefaultConfig alone. Values from
// a source are decoded on top of the defaults, then validated with Validate,
// which reports every problem at once as ValidationErrors.
//
// Reconcilers never hold a *ControllerConfig directly; they ask a Provider
// for the current snapshot. Watcher keeps an AtomicProvider in sync with a
// file on disk.
package config
