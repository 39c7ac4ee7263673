// Package v1alpha1 contains API Schema definitions for the orchestrator v1alpha1 API group.
//
// # API Group: orchestrator.io/v1alpha1
//
// ## TaskRun
//
// A TaskRun describes one unit of AI agent work against a repository. The
// controller turns it into a workspace volume keyed by service, a rendered
// artifact bundle, a preparation job and, once preparation succeeds, an
// agent job. Progress is recorded in status.phase and an append-only list
// of conditions.
//
// Example:
//
//	apiVersion: orchestrator.io/v1alpha1
//	kind: TaskRun
//	metadata:
//	  name: trader-task-1
//	  namespace: agents
//	spec:
//	  taskId: 1
//	  serviceName: trader
//	  repository:
//	    url: https://github.com/acme/trader.git
//	    branch: main
//	    githubUser: acme-bot
//	  catalogRepository:
//	    url: https://github.com/acme/trader-docs.git
//	    githubUser: acme-bot
//	  tools:
//	    preset: default
//
// +kubebuilder:object:generate=true
// +groupName=orchestrator.io
package v1alpha1
