// Package tools resolves tool presets and agent tool permissions.
//
// Everything here is a pure function over its inputs so the merge rules can
// be tested without a cluster or a template.
package tools
