package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/events/bus"
	"github.com/stoneforge-ai/stoneforge/internal/store"
	"github.com/stoneforge-ai/stoneforge/internal/taskassignment"
)

// cursorKey builds the Settings key a pull cursor is stored under.
func cursorKey(provider, project string, adapterType domain.AdapterType) string {
	return fmt.Sprintf("external_sync.cursor.%s.%s.%s", provider, project, adapterType)
}

// project is one (provider, project) pair the engine pulls from.
type project struct {
	provider string
	name     string
}

// Engine runs the push and pull algorithms over linked tasks.
// Document linking shares the same SyncState shape but is out of scope for
// the walk loop: the Store interface exposes no bulk document listing, so
// only explicitly-referenced documents could ever be synced.
type Engine struct {
	backend  store.Store
	settings store.Settings
	tasks    *taskassignment.Service
	logger   *logger.Logger
	eventBus bus.EventBus

	conflictStrategy Strategy

	adapters map[string]ProviderAdapter
	projects []project
}

// Config controls conflict handling; everything else is supplied per call.
type Config struct {
	ConflictStrategy Strategy
}

// New constructs an Engine. cfg.ConflictStrategy defaults to LastWriteWins.
func New(backend store.Store, settings store.Settings, tasks *taskassignment.Service, cfg Config, log *logger.Logger) *Engine {
	strategy := cfg.ConflictStrategy
	if strategy == "" {
		strategy = LastWriteWins
	}
	return &Engine{
		backend:          backend,
		settings:         settings,
		tasks:            tasks,
		logger:           log,
		conflictStrategy: strategy,
		adapters:         make(map[string]ProviderAdapter),
	}
}

// SetEventBus wires eventBus so flagged-manual conflicts publish a
// sync_conflict notice. Optional: skipped entirely when never called.
func (e *Engine) SetEventBus(eventBus bus.EventBus) {
	e.eventBus = eventBus
}

// RegisterAdapter makes adapter available for push and schedules project as
// a pull target under it. Calling it again for the same (provider, project)
// pair is a harmless no-op re-registration.
func (e *Engine) RegisterAdapter(adapter ProviderAdapter, projects ...string) {
	e.adapters[adapter.Name()] = adapter
next:
	for _, p := range projects {
		for _, existing := range e.projects {
			if existing.provider == adapter.Name() && existing.name == p {
				continue next
			}
		}
		e.projects = append(e.projects, project{provider: adapter.Name(), name: p})
	}
}

// Options controls one Sync cycle.
type Options struct {
	All    bool // also create local tasks for unlinked pulled items
	Force  bool // push regardless of hash/event-log guard
	DryRun bool
}

// Result summarizes one Sync cycle, matching the single log line §4.9 asks
// the daemon to emit.
type Result struct {
	Pushed    int
	Pulled    int
	Skipped   int
	Conflicts int
	Errors    []error
}

// Sync runs the push phase over every linked task, then the pull phase over
// every registered (provider, project) pair.
func (e *Engine) Sync(ctx context.Context, opts Options) Result {
	var result Result

	tasks, err := e.backend.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list tasks for push: %w", err))
	} else {
		for _, task := range tasks {
			state, linked := syncStateOf(task)
			if !linked {
				continue
			}
			adapter, ok := e.adapters[state.Provider]
			if !ok {
				continue
			}
			pushed, err := e.pushOne(ctx, task, state, adapter, opts)
			if err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			if pushed {
				result.Pushed++
			} else {
				result.Skipped++
			}
		}
	}

	for _, p := range e.projects {
		adapter := e.adapters[p.provider]
		pulled, conflicts, skipped, err := e.pullOne(ctx, adapter, p.name, opts)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Pulled += pulled
		result.Conflicts += conflicts
		result.Skipped += skipped
	}

	return result
}

// pushOne implements §4.8.1 for a single linked task.
func (e *Engine) pushOne(ctx context.Context, task *domain.Task, state *domain.SyncState, adapter ProviderAdapter, opts Options) (bool, error) {
	if state.Direction == domain.SyncPull {
		return false, nil
	}
	if task.Status == domain.TaskClosed || task.Status == domain.TaskTombstone {
		return false, nil
	}

	currentHash := hashTask(toEngineTask(task))
	if !opts.Force && currentHash == state.LastPushedHash {
		return false, nil
	}

	if !opts.Force && state.LastPushedAt != nil {
		events, err := e.backend.ListEvents(ctx, store.EventFilter{ElementID: task.ID, After: state.LastPushedAt})
		if err != nil {
			return false, fmt.Errorf("check event log for task %s: %w", task.ID, err)
		}
		if len(events) == 0 {
			return false, nil
		}
	}

	if opts.DryRun {
		e.logger.Info("would push task", zap.String("taskId", task.ID), zap.String("provider", state.Provider))
		return false, nil
	}

	update := adapter.FieldMap().ToExternal(toEngineTask(task))
	if err := adapter.Update(ctx, state.ExternalID, update); err != nil {
		return false, fmt.Errorf("push task %s to %s: %w", task.ID, state.Provider, err)
	}

	now := time.Now().UTC()
	state.LastPushedAt = &now
	state.LastPushedHash = currentHash
	setSyncState(task, state)
	if err := e.backend.UpdateTask(ctx, task); err != nil {
		return false, fmt.Errorf("persist push state for task %s: %w", task.ID, err)
	}
	return true, nil
}

// pullOne implements §4.8.2 for one (provider, project) pair.
func (e *Engine) pullOne(ctx context.Context, adapter ProviderAdapter, projectName string, opts Options) (pulled, conflicts, skipped int, err error) {
	key := cursorKey(adapter.Name(), projectName, domain.AdapterTask)
	cursor, _, err := e.settings.Get(ctx, key)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read cursor for %s/%s: %w", adapter.Name(), projectName, err)
	}

	items, err := adapter.ListSince(ctx, projectName, cursor)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("list since for %s/%s: %w", adapter.Name(), projectName, err)
	}

	linked, err := e.indexLinkedTasks(ctx, adapter.Name(), projectName)
	if err != nil {
		return 0, 0, 0, err
	}

	for _, item := range items {
		task, isLinked := linked[item.ExternalID]
		if !isLinked {
			if opts.All {
				if err := e.createFromExternal(ctx, adapter, projectName, item); err != nil {
					e.logger.Warn("failed to create task from external item",
						zap.String("provider", adapter.Name()), zap.String("externalId", item.ExternalID), zap.Error(err))
					continue
				}
				pulled++
			} else {
				skipped++
			}
			continue
		}

		applied, wasConflict, err := e.applyPulled(ctx, adapter, task, item)
		if err != nil {
			e.logger.Warn("failed to apply pulled item",
				zap.String("provider", adapter.Name()), zap.String("externalId", item.ExternalID), zap.Error(err))
			continue
		}
		if wasConflict {
			conflicts++
		}
		if applied {
			pulled++
		} else {
			skipped++
		}
	}

	if len(items) > 0 || cursor == "" {
		if err := e.settings.Set(ctx, key, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return pulled, conflicts, skipped, fmt.Errorf("advance cursor for %s/%s: %w", adapter.Name(), projectName, err)
		}
	}
	return pulled, conflicts, skipped, nil
}

// indexLinkedTasks builds externalId -> task for every task currently
// linked to (provider, project).
func (e *Engine) indexLinkedTasks(ctx context.Context, provider, projectName string) (map[string]*domain.Task, error) {
	tasks, err := e.backend.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks for pull index: %w", err)
	}
	index := make(map[string]*domain.Task)
	for _, task := range tasks {
		state, linked := syncStateOf(task)
		if !linked || state.Provider != provider || state.Project != projectName {
			continue
		}
		index[state.ExternalID] = task
	}
	return index, nil
}

func (e *Engine) createFromExternal(ctx context.Context, adapter ProviderAdapter, projectName string, item ExternalItem) error {
	patch := adapter.FieldMap().FromExternal(item)
	now := time.Now().UTC()
	task := &domain.Task{
		Envelope: domain.Envelope{
			Type:      "task",
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: "external-sync:" + adapter.Name(),
		},
		Title:    patch.Title,
		Status:   domain.TaskStatus(patch.Status),
		Priority: patch.Priority,
		TaskType: domain.TaskType(patch.Type),
		Tags:     patch.Tags,
		Assignee: patch.Assignee,
	}
	setSyncState(task, &domain.SyncState{
		Provider:       adapter.Name(),
		Project:        projectName,
		ExternalID:     item.ExternalID,
		URL:            item.URL,
		AdapterType:    domain.AdapterTask,
		Direction:      domain.SyncBidirectional,
		LastPulledAt:   &now,
		LastPulledHash: hashExternalItem(item),
	})
	return e.backend.CreateTask(ctx, task)
}

// applyPulled implements the per-item linked branch of §4.8.2, including
// conflict detection and the closed/archived reopen policy (§4.8.3).
func (e *Engine) applyPulled(ctx context.Context, adapter ProviderAdapter, task *domain.Task, item ExternalItem) (applied bool, wasConflict bool, err error) {
	state, _ := syncStateOf(task)
	remoteHash := hashExternalItem(item)
	if remoteHash == state.LastPulledHash {
		return false, false, nil
	}

	localChangedSincePush := hashTask(toEngineTask(task)) != state.LastPushedHash
	remoteChanged := true // we already know remoteHash != lastPulledHash

	patch := adapter.FieldMap().FromExternal(item)

	if task.Status == domain.TaskClosed || task.Status == domain.TaskTombstone {
		if patch.Status == string(domain.TaskOpen) {
			if _, err := e.tasks.ReopenTask(ctx, task.ID); err != nil {
				return false, false, fmt.Errorf("reopen task %s on remote reopen: %w", task.ID, err)
			}
			task.Status = domain.TaskOpen
			task.ClosedAt = nil
		} else {
			return false, false, nil
		}
	}

	if localChangedSincePush && remoteChanged {
		remoteNewer := item.UpdatedAt.After(task.UpdatedAt)
		switch resolve(e.conflictStrategy, remoteNewer) {
		case keepLocal:
			return false, false, nil
		case flagManual:
			task.Tags = appendUnique(task.Tags, "sync-conflict")
			if err := e.backend.UpdateTask(ctx, task); err != nil {
				return false, true, fmt.Errorf("tag conflicted task %s: %w", task.ID, err)
			}
			e.publishConflict(ctx, task, adapter.Name())
			return false, true, nil
		case applyRemote:
			wasConflict = true
		}
	}

	applyPatch(task, patch)
	now := time.Now().UTC()
	state.LastPulledAt = &now
	state.LastPulledHash = remoteHash
	setSyncState(task, state)
	if err := e.backend.UpdateTask(ctx, task); err != nil {
		return false, wasConflict, fmt.Errorf("persist pulled task %s: %w", task.ID, err)
	}
	return true, wasConflict, nil
}

// publishConflict notifies the event bus of a manual-resolution conflict, if
// one is wired. Publish failures are logged, not returned: a missing notice
// must never fail the sync cycle that already tagged the task.
func (e *Engine) publishConflict(ctx context.Context, task *domain.Task, provider string) {
	if e.eventBus == nil {
		return
	}
	evt := bus.NewSyncConflictEvent("sync-engine", task.ID, "task", provider)
	if err := e.eventBus.Publish(ctx, bus.SubjectSyncConflict, evt); err != nil {
		e.logger.Warn("failed to publish sync conflict", zap.String("taskId", task.ID), zap.Error(err))
	}
}

func applyPatch(task *domain.Task, patch TaskPatch) {
	if patch.Title != "" {
		task.Title = patch.Title
	}
	task.Status = domain.TaskStatus(patch.Status)
	if patch.Priority != 0 {
		task.Priority = patch.Priority
	}
	if patch.Type != "" {
		task.TaskType = domain.TaskType(patch.Type)
	}
	if patch.Tags != nil {
		task.Tags = patch.Tags
	}
	if patch.Assignee != "" {
		task.Assignee = patch.Assignee
	}
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
