package events

import (
	"context"
	"errors"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"taskrun/pkg/apis/orchestrator/v1alpha1"
)

type mockEvent struct {
	obj       ctrlclient.Object
	reason    string
	message   string
	eventType string
}

type mockCreator struct {
	events []mockEvent
	err    error
}

func (m *mockCreator) CreateEvent(ctx context.Context, obj ctrlclient.Object, reason, message, eventType string) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, mockEvent{obj: obj, reason: reason, message: message, eventType: eventType})
	return nil
}

func testTaskRun() *v1alpha1.TaskRun {
	return &v1alpha1.TaskRun{
		ObjectMeta: metav1.ObjectMeta{Name: "trader-1", Namespace: "agents"},
		Spec:       v1alpha1.TaskRunSpec{TaskID: 1, ServiceName: "trader"},
	}
}

func TestEventGenerator_TaskRunEvent(t *testing.T) {
	tests := []struct {
		name        string
		reason      EventReason
		data        EventData
		wantMessage string
		wantType    EventType
	}{
		{
			name:        "prep started",
			reason:      ReasonPreparationStarted,
			data:        EventData{Object: "trader-1-prep"},
			wantMessage: "Preparation job trader-1-prep created",
			wantType:    EventTypeNormal,
		},
		{
			name:        "agent failed with error",
			reason:      ReasonAgentFailed,
			data:        EventData{Object: "trader-1-agent", Error: "BackoffLimitExceeded"},
			wantMessage: "Agent job trader-1-agent failed: BackoffLimitExceeded",
			wantType:    EventTypeWarning,
		},
		{
			name:        "prep failed without error",
			reason:      ReasonPreparationFailed,
			data:        EventData{Object: "trader-1-prep"},
			wantMessage: "Preparation job trader-1-prep failed",
			wantType:    EventTypeWarning,
		},
		{
			name:        "workspace busy uses the TaskRun service",
			reason:      ReasonWorkspaceBusy,
			data:        EventData{Object: "trader-0"},
			wantMessage: "Workspace for service trader is in use by trader-0, waiting",
			wantType:    EventTypeWarning,
		},
		{
			name:        "validation failed",
			reason:      ReasonValidationFailed,
			data:        EventData{Error: "spec.tools.preset: unknown preset"},
			wantMessage: "TaskRun trader-1 failed validation: spec.tools.preset: unknown preset",
			wantType:    EventTypeWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creator := &mockCreator{}
			gen := NewEventGenerator(creator)

			gen.TaskRunEvent(context.Background(), testTaskRun(), tt.reason, tt.data)

			if len(creator.events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(creator.events))
			}
			ev := creator.events[0]
			if ev.reason != string(tt.reason) {
				t.Errorf("reason = %q, want %q", ev.reason, tt.reason)
			}
			if ev.message != tt.wantMessage {
				t.Errorf("message = %q, want %q", ev.message, tt.wantMessage)
			}
			if ev.eventType != string(tt.wantType) {
				t.Errorf("type = %q, want %q", ev.eventType, tt.wantType)
			}
			if ev.obj.GetName() != "trader-1" {
				t.Errorf("event attached to %q, want trader-1", ev.obj.GetName())
			}
		})
	}
}

func TestEventGenerator_CreateFailureIsSwallowed(t *testing.T) {
	creator := &mockCreator{err: errors.New("forbidden")}
	gen := NewEventGenerator(creator)

	// must not panic or block
	gen.TaskRunEvent(context.Background(), testTaskRun(), ReasonAgentStarted, EventData{Object: "x"})
}

func TestMessageTemplateEngine_UnknownReason(t *testing.T) {
	engine := NewMessageTemplateEngine()
	got := engine.Render(EventReason("Mystery"), EventData{Name: "a", Namespace: "b"})
	if got != "Event: Mystery for b/a" {
		t.Errorf("unexpected fallback message %q", got)
	}
}

func TestMessageTemplateEngine_SetTemplate(t *testing.T) {
	engine := NewMessageTemplateEngine()
	engine.SetTemplate(ReasonBundlePublished, "bundle {{.Object}} for {{.Namespace}}/{{.Name}}")

	got := engine.Render(ReasonBundlePublished, EventData{Name: "a", Namespace: "b", Object: "a-bundle"})
	if got != "bundle a-bundle for b/a" {
		t.Errorf("unexpected message %q", got)
	}

	tmpl, ok := engine.GetTemplate(ReasonBundlePublished)
	if !ok || tmpl == "" {
		t.Error("expected the custom template to be returned")
	}
}

func TestGetEventType(t *testing.T) {
	warnings := []EventReason{
		ReasonValidationFailed, ReasonWorkspaceBusy, ReasonPlatformError, ReasonRenderFailed,
		ReasonPreparationFailed, ReasonAgentFailed,
	}
	for _, r := range warnings {
		if getEventType(r) != EventTypeWarning {
			t.Errorf("%s should be a Warning", r)
		}
	}
	normals := []EventReason{
		ReasonWorkspaceReady, ReasonBundlePublished, ReasonPreparationStarted,
		ReasonPreparationSucceeded, ReasonAgentStarted, ReasonAgentSucceeded,
	}
	for _, r := range normals {
		if getEventType(r) != EventTypeNormal {
			t.Errorf("%s should be Normal", r)
		}
	}
}
