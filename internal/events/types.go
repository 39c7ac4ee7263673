package events

// EventType represents the type/severity of a Kubernetes Event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason represents the reason code for an event.
type EventReason string

// Pending path
const (
	// ReasonValidationFailed indicates the TaskRun spec was rejected before any object was created.
	ReasonValidationFailed EventReason = "ValidationFailed"

	// ReasonWorkspaceReady indicates the per-service workspace claim exists.
	ReasonWorkspaceReady EventReason = "WorkspaceReady"

	// ReasonWorkspaceBusy indicates another TaskRun for the same service holds the workspace.
	ReasonWorkspaceBusy EventReason = "WorkspaceBusy"

	// ReasonBundlePublished indicates the artifact bundle ConfigMap was written.
	ReasonBundlePublished EventReason = "BundlePublished"

	// ReasonRenderFailed indicates the artifact bundle could not be rendered.
	ReasonRenderFailed EventReason = "RenderFailed"

	// ReasonPlatformError indicates a cluster API call failed.
	ReasonPlatformError EventReason = "PlatformError"
)

// Job lifecycle
const (
	ReasonPreparationStarted   EventReason = "PreparationStarted"
	ReasonPreparationSucceeded EventReason = "PreparationSucceeded"
	ReasonPreparationFailed    EventReason = "PreparationFailed"

	ReasonAgentStarted   EventReason = "AgentStarted"
	ReasonAgentSucceeded EventReason = "AgentSucceeded"
	ReasonAgentFailed    EventReason = "AgentFailed"
)

// EventData holds contextual information for event message templating.
type EventData struct {
	// Name and Namespace identify the TaskRun.
	Name      string
	Namespace string

	// Service is the TaskRun's service name.
	Service string

	// Object names the child object involved, e.g. a job or claim name.
	Object string

	// Error contains error information for failure events.
	Error string
}

// getEventType returns the appropriate EventType for a given EventReason.
func getEventType(reason EventReason) EventType {
	switch reason {
	case ReasonValidationFailed,
		ReasonWorkspaceBusy,
		ReasonPlatformError,
		ReasonRenderFailed,
		ReasonPreparationFailed,
		ReasonAgentFailed:
		return EventTypeWarning
	default:
		return EventTypeNormal
	}
}
