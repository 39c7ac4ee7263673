package tools

import (
	"fmt"
	"sort"
	"strings"

	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

// agentToolNames maps agentTools names to the agent's permission identifiers.
var agentToolNames = map[string]string{
	"bash":      "Bash",
	"edit":      "Edit",
	"read":      "Read",
	"write":     "Write",
	"multiedit": "MultiEdit",
	"glob":      "Glob",
	"grep":      "Grep",
	"ls":        "LS",
	"webfetch":  "WebFetch",
	"websearch": "WebSearch",
}

// Permissions is the allow/deny policy written to settings.json.
type Permissions struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// Policy is the controller-wide permission default.
type Policy struct {
	Allow []string
	Deny  []string

	// Override makes per-TaskRun agent tools replace Allow and Deny.
	Override bool
}

// UnknownAgentToolError is returned for agentTools names without a mapping.
type UnknownAgentToolError struct {
	Index int
	Name  string
}

func (e *UnknownAgentToolError) Error() string {
	return fmt.Sprintf("agentTools[%d]: unknown tool %q", e.Index, e.Name)
}

// MapPermissions combines the controller policy with per-TaskRun agent tools.
// Enabled tools are allowed with a wildcard, disabled ones denied with a
// wildcard, and every restriction becomes a deny rule for that tool.
func MapPermissions(agentTools []v1alpha1.AgentToolSpec, policy Policy) (Permissions, error) {
	if len(agentTools) == 0 {
		return Permissions{Allow: normalize(policy.Allow), Deny: normalize(policy.Deny)}, nil
	}

	var allow, deny []string
	for i, at := range agentTools {
		name, ok := agentToolNames[strings.ToLower(at.Name)]
		if !ok {
			return Permissions{}, &UnknownAgentToolError{Index: i, Name: at.Name}
		}
		if at.IsEnabled() {
			allow = append(allow, name+"(*)")
		} else {
			deny = append(deny, name+"(*)")
		}
		for _, r := range at.Restrictions {
			if r = strings.TrimSpace(r); r != "" {
				deny = append(deny, fmt.Sprintf("%s(%s)", name, r))
			}
		}
	}

	if !policy.Override {
		allow = append(append([]string{}, policy.Allow...), allow...)
		deny = append(append([]string{}, policy.Deny...), deny...)
	}
	return Permissions{Allow: normalize(allow), Deny: normalize(deny)}, nil
}

// KnownAgentTools returns the accepted agentTools names, sorted.
func KnownAgentTools() []string {
	names := make([]string, 0, len(agentToolNames))
	for n := range agentToolNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
