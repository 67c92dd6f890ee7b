package bus

import "github.com/stoneforge-ai/stoneforge/internal/domain"

// Subject names cross-daemon notices are published under. Subscribers —
// chiefly the Steward Scheduler's event triggers — match against these
// verbatim, so renaming one is a breaking change for any already-registered
// trigger.
const (
	SubjectTaskCompleted     = "task_completed"
	SubjectTaskStatusChanged = "task_status_changed"
	SubjectSessionExited     = "session_exited"
	SubjectSyncConflict      = "sync_conflict"

	SubjectStewardStarted   = "execution:started"
	SubjectStewardCompleted = "execution:completed"
	SubjectStewardFailed    = "execution:failed"
)

// taskPayload flattens task into the plain map a condition expression's
// member access (task.status, task.priority, ...) walks; it is deliberately
// a subset of the full entity, not a json re-encoding of it.
func taskPayload(task *domain.Task) map[string]interface{} {
	payload := map[string]interface{}{
		"id":       task.ID,
		"status":   string(task.Status),
		"title":    task.Title,
		"priority": task.Priority,
	}
	if task.Assignee != "" {
		payload["assignee"] = task.Assignee
	}
	if task.Owner != "" {
		payload["owner"] = task.Owner
	}
	return payload
}

// NewTaskEvent builds a task-domain notice carrying task under the "task"
// key, so a steward trigger condition like task.status == "closed" can
// evaluate against it directly.
func NewTaskEvent(subject, source string, task *domain.Task) *Event {
	return NewEvent(subject, source, map[string]interface{}{
		"task": taskPayload(task),
	})
}

// NewSessionExitedEvent builds the cross-daemon notice the Dispatch Daemon
// publishes when a spawned session reaches its terminal exit, for any
// steward trigger or metrics consumer that wants it independent of the
// per-session listener the daemon itself already drives.
func NewSessionExitedEvent(source, sessionID, agentID string, exitCode int, signal string) *Event {
	return NewEvent(SubjectSessionExited, source, map[string]interface{}{
		"sessionId": sessionID,
		"agentId":   agentID,
		"exitCode":  exitCode,
		"signal":    signal,
	})
}

// NewSyncConflictEvent builds the notice the External Sync Engine publishes
// when a push/pull conflict could not be auto-resolved and was flagged for
// manual resolution instead.
func NewSyncConflictEvent(source, elementID, elementType, provider string) *Event {
	return NewEvent(SubjectSyncConflict, source, map[string]interface{}{
		"elementId":   elementID,
		"elementType": elementType,
		"provider":    provider,
	})
}

// NewStewardLifecycleEvent builds one of the Steward Scheduler's own
// started/completed/failed notices for a single fire.
func NewStewardLifecycleEvent(subject, source, stewardID string, entry *domain.StewardExecution) *Event {
	data := map[string]interface{}{"stewardId": stewardID}
	if entry != nil {
		data["success"] = entry.Success
		data["durationMs"] = entry.DurationMs
	}
	return NewEvent(subject, source, data)
}
