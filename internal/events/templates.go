package events

import (
	"fmt"
	"strings"
)

// MessageTemplateEngine turns an EventReason and EventData into a message.
type MessageTemplateEngine struct {
	templates map[EventReason]string
}

// NewMessageTemplateEngine creates a new message template engine with default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	engine := &MessageTemplateEngine{
		templates: make(map[EventReason]string),
	}
	engine.loadDefaultTemplates()
	return engine
}

func (e *MessageTemplateEngine) loadDefaultTemplates() {
	e.templates[ReasonValidationFailed] = "TaskRun {{.Name}} failed validation{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonWorkspaceReady] = "Workspace {{.Object}} for service {{.Service}} is available"
	e.templates[ReasonWorkspaceBusy] = "Workspace for service {{.Service}} is in use by {{.Object}}, waiting"
	e.templates[ReasonBundlePublished] = "Artifact bundle {{.Object}} published"
	e.templates[ReasonRenderFailed] = "Artifact bundle could not be rendered{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonPlatformError] = "Cluster API call failed{{if .Error}}: {{.Error}}{{end}}"

	e.templates[ReasonPreparationStarted] = "Preparation job {{.Object}} created"
	e.templates[ReasonPreparationSucceeded] = "Preparation job {{.Object}} completed"
	e.templates[ReasonPreparationFailed] = "Preparation job {{.Object}} failed{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonAgentStarted] = "Agent job {{.Object}} created"
	e.templates[ReasonAgentSucceeded] = "Agent job {{.Object}} completed"
	e.templates[ReasonAgentFailed] = "Agent job {{.Object}} failed{{if .Error}}: {{.Error}}{{end}}"
}

// Render generates a message for the given event reason and data.
func (e *MessageTemplateEngine) Render(reason EventReason, data EventData) string {
	template, exists := e.templates[reason]
	if !exists {
		return fmt.Sprintf("Event: %s for %s/%s", string(reason), data.Namespace, data.Name)
	}
	return e.renderTemplate(template, data)
}

// SetTemplate allows customizing the message template for a specific event reason.
func (e *MessageTemplateEngine) SetTemplate(reason EventReason, template string) {
	e.templates[reason] = template
}

// GetTemplate returns the template for a specific event reason.
func (e *MessageTemplateEngine) GetTemplate(reason EventReason) (string, bool) {
	template, exists := e.templates[reason]
	return template, exists
}

// renderTemplate substitutes the EventData fields. Only plain field
// references and {{if .Error}}...{{end}} are understood.
func (e *MessageTemplateEngine) renderTemplate(template string, data EventData) string {
	result := e.renderConditional(template, "{{if .Error}}", "{{end}}", data.Error != "")

	return strings.NewReplacer(
		"{{.Name}}", data.Name,
		"{{.Namespace}}", data.Namespace,
		"{{.Service}}", data.Service,
		"{{.Object}}", data.Object,
		"{{.Error}}", data.Error,
	).Replace(result)
}

// renderConditional keeps or drops the first startMarker...endMarker block.
func (e *MessageTemplateEngine) renderConditional(template, startMarker, endMarker string, condition bool) string {
	startIndex := strings.Index(template, startMarker)
	if startIndex == -1 {
		return template
	}
	endIndex := strings.Index(template[startIndex:], endMarker)
	if endIndex == -1 {
		return template
	}
	endIndex += startIndex

	before := template[:startIndex]
	after := template[endIndex+len(endMarker):]
	if !condition {
		return before + after
	}
	return before + template[startIndex+len(startMarker):endIndex] + after
}
