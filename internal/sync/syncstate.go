package sync

import (
	"encoding/json"

	"github.com/stoneforge-ai/stoneforge/internal/domain"
)

const syncStateKey = "_externalSync"

// syncStateOf reads task.Metadata[_externalSync], round-tripping through
// JSON since a value loaded from the Store arrives as a generic
// map[string]interface{} rather than a *domain.SyncState.
func syncStateOf(task *domain.Task) (*domain.SyncState, bool) {
	raw, ok := task.Metadata[syncStateKey]
	if !ok || raw == nil {
		return nil, false
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var state domain.SyncState
	if err := json.Unmarshal(buf, &state); err != nil {
		return nil, false
	}
	return &state, true
}

// setSyncState writes state back into task.Metadata, preserving every other
// key already present.
func setSyncState(task *domain.Task, state *domain.SyncState) {
	if task.Metadata == nil {
		task.Metadata = make(map[string]interface{})
	}
	task.Metadata[syncStateKey] = state
}

func toEngineTask(t *domain.Task) *Task {
	return &Task{
		ID:       t.ID,
		Title:    t.Title,
		Status:   string(t.Status),
		Priority: t.Priority,
		Type:     string(t.TaskType),
		Tags:     t.Tags,
		Assignee: t.Assignee,
	}
}
