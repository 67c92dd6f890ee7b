package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/domain"
)

func TestNewTaskEvent_PayloadWalksLikeATask(t *testing.T) {
	task := &domain.Task{
		Envelope: domain.Envelope{ID: "task-1"},
		Title:    "ship feature",
		Status:   domain.TaskClosed,
		Priority: 2,
		Assignee: "agent-1",
	}

	evt := NewTaskEvent(SubjectTaskCompleted, "task-assignment", task)
	if evt.Type != SubjectTaskCompleted {
		t.Fatalf("expected type %q, got %q", SubjectTaskCompleted, evt.Type)
	}

	data, ok := evt.Data.(map[string]interface{})
	if !ok {
		t.Fatal("expected event.Data to be map[string]interface{}")
	}
	taskPayload, ok := data["task"].(map[string]interface{})
	if !ok {
		t.Fatal("expected data[\"task\"] to be map[string]interface{}")
	}
	if taskPayload["status"] != "closed" {
		t.Errorf("expected status closed, got %v", taskPayload["status"])
	}
	if taskPayload["assignee"] != "agent-1" {
		t.Errorf("expected assignee agent-1, got %v", taskPayload["assignee"])
	}
}

func TestMemoryEventBus_TaskCompletedConditionMatchesPayload(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)
	sub, err := b.Subscribe(SubjectTaskCompleted, func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	task := &domain.Task{Envelope: domain.Envelope{ID: "task-2"}, Status: domain.TaskClosed}
	evt := NewTaskEvent(SubjectTaskCompleted, "task-assignment", task)
	if err := b.Publish(ctx, SubjectTaskCompleted, evt); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		payload := e.Data.(map[string]interface{})["task"].(map[string]interface{})
		if payload["id"] != "task-2" {
			t.Errorf("expected task id task-2, got %v", payload["id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNewSyncConflictEvent(t *testing.T) {
	evt := NewSyncConflictEvent("sync-engine", "task-3", "task", "github")
	data := evt.Data.(map[string]interface{})
	if data["elementId"] != "task-3" || data["provider"] != "github" {
		t.Errorf("unexpected conflict payload: %+v", data)
	}
	if evt.Type != SubjectSyncConflict {
		t.Errorf("expected type %q, got %q", SubjectSyncConflict, evt.Type)
	}
}

func TestNewSessionExitedEvent(t *testing.T) {
	evt := NewSessionExitedEvent("dispatch-daemon", "sess-1", "agent-1", 1, "killed")
	data := evt.Data.(map[string]interface{})
	if data["sessionId"] != "sess-1" || data["exitCode"] != 1 || data["signal"] != "killed" {
		t.Errorf("unexpected session exited payload: %+v", data)
	}
}
