package tools

import (
	"fmt"
	"sort"
)

// Preset names accepted on a TaskRun.
const (
	PresetMinimal  = "minimal"
	PresetDefault  = "default"
	PresetAdvanced = "advanced"
)

// Local capability names the agent container can run itself.
const (
	LocalFilesystem = "filesystem"
	LocalGit        = "git"
)

// Presets lists the accepted preset names in a stable order.
var Presets = []string{PresetMinimal, PresetDefault, PresetAdvanced}

// KnownLocal lists the local capabilities that have a server definition.
var KnownLocal = []string{LocalFilesystem, LocalGit}

// BuiltinDefaultRemote is the default preset's remote tool list when the
// controller configuration does not replace it.
var BuiltinDefaultRemote = []string{
	"brave_web_search",
	"memory_add_observations",
	"memory_create_entities",
	"memory_search_nodes",
}

// BuiltinAdvancedExtraRemote is added to the default list by the advanced preset.
var BuiltinAdvancedExtraRemote = []string{
	"github_create_pull_request",
	"github_get_file_contents",
	"github_search_code",
	"kubernetes_get_resource",
}

// LocalServer is how the tool proxy client starts a local capability.
type LocalServer struct {
	Command          string            `json:"command"`
	Args             []string          `json:"args"`
	Env              map[string]string `json:"env,omitempty"`
	WorkingDirectory string            `json:"workingDirectory,omitempty"`
}

// Catalog is the remote tool lists behind the presets. The zero value uses
// the built-in lists.
type Catalog struct {
	DefaultRemote       []string
	AdvancedExtraRemote []string
}

func (c Catalog) defaultRemote() []string {
	if len(c.DefaultRemote) > 0 {
		return c.DefaultRemote
	}
	return BuiltinDefaultRemote
}

func (c Catalog) advancedExtra() []string {
	if len(c.AdvancedExtraRemote) > 0 {
		return c.AdvancedExtraRemote
	}
	return BuiltinAdvancedExtraRemote
}

// Selection is the tool part of a TaskRun spec.
type Selection struct {
	Preset string
	Local  []string
	Remote []string
}

// Resolution is the concrete tool set handed to the renderer.
type Resolution struct {
	Preset       string
	Local        []string
	Remote       []string
	LocalServers map[string]LocalServer
}

// UnknownPresetError is returned for preset names outside the closed set.
type UnknownPresetError struct {
	Preset string
}

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("unknown tool preset %q (allowed: minimal, default, advanced)", e.Preset)
}

// UnknownLocalError is returned for local capabilities without a server definition.
type UnknownLocalError struct {
	Name string
}

func (e *UnknownLocalError) Error() string {
	return fmt.Sprintf("unknown local tool %q (allowed: filesystem, git)", e.Name)
}

// presetLists returns the local and remote lists a preset stands for.
func presetLists(preset string, catalog Catalog) (local, remote []string, err error) {
	switch preset {
	case PresetMinimal:
		return nil, nil, nil
	case PresetDefault:
		return nil, catalog.defaultRemote(), nil
	case PresetAdvanced:
		remote = append(append([]string{}, catalog.defaultRemote()...), catalog.advancedExtra()...)
		return []string{LocalFilesystem}, remote, nil
	default:
		return nil, nil, &UnknownPresetError{Preset: preset}
	}
}

// Scope is where the local servers operate inside the agent container.
type Scope struct {
	// Workspace is the volume root the filesystem server may read and write.
	Workspace string

	// Repository is the checkout the git server works on.
	Repository string
}

// Resolve turns a selection into a concrete tool set. An empty preset means
// "default". A non-empty explicit list replaces the preset's list for its axis
// only. Local servers are derived from the resolved local list and scoped
// by scope. Inputs are never modified.
func Resolve(sel Selection, catalog Catalog, scope Scope) (Resolution, error) {
	preset := sel.Preset
	if preset == "" {
		preset = PresetDefault
	}

	local, remote, err := presetLists(preset, catalog)
	if err != nil {
		return Resolution{}, err
	}
	if len(sel.Local) > 0 {
		local = sel.Local
	}
	if len(sel.Remote) > 0 {
		remote = sel.Remote
	}

	local = normalize(local)
	remote = normalize(remote)

	servers := make(map[string]LocalServer, len(local))
	for _, name := range local {
		server, ok := localServer(name, scope)
		if !ok {
			return Resolution{}, &UnknownLocalError{Name: name}
		}
		servers[name] = server
	}

	return Resolution{
		Preset:       preset,
		Local:        local,
		Remote:       remote,
		LocalServers: servers,
	}, nil
}

func localServer(name string, scope Scope) (LocalServer, bool) {
	switch name {
	case LocalFilesystem:
		return LocalServer{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", scope.Workspace},
		}, true
	case LocalGit:
		return LocalServer{
			Command:          "uvx",
			Args:             []string{"mcp-server-git", "--repository", scope.Repository},
			WorkingDirectory: scope.Repository,
		}, true
	default:
		return LocalServer{}, false
	}
}

// normalize returns a sorted copy without duplicates or empty names.
func normalize(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
