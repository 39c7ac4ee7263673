package events

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"taskrun/pkg/apis/orchestrator/v1alpha1"
	"taskrun/pkg/logging"
)

// EventCreator is the part of the cluster client the generator needs.
type EventCreator interface {
	CreateEvent(ctx context.Context, obj client.Object, reason, message, eventType string) error
}

// Recorder emits TaskRun events. The reconciler depends on this interface.
type Recorder interface {
	TaskRunEvent(ctx context.Context, tr *v1alpha1.TaskRun, reason EventReason, data EventData)
}

// EventGenerator renders messages and hands them to an EventCreator.
type EventGenerator struct {
	client    EventCreator
	templates *MessageTemplateEngine
}

// NewEventGenerator creates a new EventGenerator.
func NewEventGenerator(c EventCreator) *EventGenerator {
	return &EventGenerator{
		client:    c,
		templates: NewMessageTemplateEngine(),
	}
}

// TaskRunEvent emits an event on tr. Failures are logged, never returned:
// a missing event must not block a phase transition.
func (g *EventGenerator) TaskRunEvent(ctx context.Context, tr *v1alpha1.TaskRun, reason EventReason, data EventData) {
	data.Name = tr.Name
	data.Namespace = tr.Namespace
	if data.Service == "" {
		data.Service = tr.Spec.ServiceName
	}

	message := g.templates.Render(reason, data)
	eventType := string(getEventType(reason))

	logging.Debug("events", "Generating TaskRun event: reason=%s, message=%s, type=%s",
		string(reason), message, eventType)

	if err := g.client.CreateEvent(ctx, tr, string(reason), message, eventType); err != nil {
		logging.Warn("events", "Failed to record %s event for %s/%s: %v", reason, tr.Namespace, tr.Name, err)
	}
}

// SetTemplate allows customizing the message template for a specific event reason.
func (g *EventGenerator) SetTemplate(reason EventReason, template string) {
	g.templates.SetTemplate(reason, template)
}

// Discard is a Recorder that drops every event.
type Discard struct{}

func (Discard) TaskRunEvent(context.Context, *v1alpha1.TaskRun, EventReason, EventData) {}
