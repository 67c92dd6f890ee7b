// Package sync implements the External Sync Engine and Daemon: hash-guarded
// push of linked tasks to an external tracker, cursor-guarded pull of
// external changes back, and conflict resolution between the two (spec
// §4.8, §4.9).
package sync

import (
	"context"
	"time"
)

// ExternalItem is one item returned by a provider's ListSince call, already
// normalized to the engine's generic shape.
type ExternalItem struct {
	ExternalID string
	URL        string
	Title      string
	Status     string
	Priority   int
	Type       string
	Tags       []string
	Assignee   string
	UpdatedAt  time.Time
}

// ExternalUpdate is what Push sends back to the provider for one task.
type ExternalUpdate struct {
	Title    string
	Status   string
	Priority int
	Type     string
	Tags     []string
	Assignee string
}

// TaskFieldMapper converts between a task and its external representation.
// Implementations encode one provider's field vocabulary (e.g. which
// external status string means "closed").
type TaskFieldMapper interface {
	ToExternal(task *Task) ExternalUpdate
	FromExternal(item ExternalItem) TaskPatch
}

// Task is the minimal view of domain.Task the engine needs; kept separate
// from domain.Task so mappers don't reach into unrelated fields.
type Task struct {
	ID       string
	Title    string
	Status   string
	Priority int
	Type     string
	Tags     []string
	Assignee string
}

// TaskPatch is the local-side delta FromExternal produces; zero-value
// fields mean "leave unchanged" (Status is the exception: always set).
type TaskPatch struct {
	Title    string
	Status   string
	Priority int
	Type     string
	Tags     []string
	Assignee string
}

// ProviderAdapter is the injected boundary that replaces a concrete HTTP
// client for one external tracker.
type ProviderAdapter interface {
	Name() string
	FieldMap() TaskFieldMapper
	ListSince(ctx context.Context, project, cursor string) ([]ExternalItem, error)
	Update(ctx context.Context, externalID string, input ExternalUpdate) error
}
