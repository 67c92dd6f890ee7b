// Package taskassignment encapsulates the task status machine and workload
// accounting the Dispatch Service and daemons drive tasks through.
package taskassignment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/apperr"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/events/bus"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// Service drives task status transitions and tracks per-agent workload. It
// holds no state of its own beyond a Store handle: all reads and writes go
// through the Store. eventBus is optional — a nil bus just skips the notice.
type Service struct {
	backend  store.Store
	logger   *logger.Logger
	eventBus bus.EventBus
}

// New constructs a Service backed by backend.
func New(backend store.Store, log *logger.Logger) *Service {
	return &Service{backend: backend, logger: log}
}

// SetEventBus wires eventBus so status transitions publish task_completed /
// task_status_changed notices for the Steward Scheduler's event triggers to
// match against. Optional: skipped entirely when never called.
func (s *Service) SetEventBus(eventBus bus.EventBus) {
	s.eventBus = eventBus
}

func stringsOf(statuses []domain.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// transitionTo moves task to the new status, enforcing the transition
// table. closedAt is set/cleared as a side effect of entering/leaving the
// closed status.
func (s *Service) transitionTo(ctx context.Context, task *domain.Task, to domain.TaskStatus) error {
	from := task.Status
	if !isValidStatusTransition(from, to) {
		return apperr.InvalidStatus(string(from), string(to), stringsOf(allowedTransitions(from)))
	}

	task.Status = to
	now := time.Now().UTC()
	switch to {
	case domain.TaskClosed:
		if from != domain.TaskClosed {
			task.ClosedAt = &now
		}
	default:
		if from == domain.TaskClosed {
			task.ClosedAt = nil
		}
	}

	if err := s.backend.UpdateTask(ctx, task); err != nil {
		return apperr.Wrap(err, "persist task status transition")
	}
	s.logger.Info("task status transition", zap.String("taskId", task.ID), zap.String("from", string(from)), zap.String("to", string(to)))
	s.publishStatusChange(ctx, task, from, to)
	return nil
}

// publishStatusChange notifies the event bus of a task's status change, if
// one is wired. Publish failures are logged, not returned: a steward trigger
// missing one notice must never fail the task transition itself.
func (s *Service) publishStatusChange(ctx context.Context, task *domain.Task, from, to domain.TaskStatus) {
	if s.eventBus == nil || from == to {
		return
	}
	if err := s.eventBus.Publish(ctx, bus.SubjectTaskStatusChanged, bus.NewTaskEvent(bus.SubjectTaskStatusChanged, "task-assignment", task)); err != nil {
		s.logger.Warn("failed to publish task status change", zap.String("taskId", task.ID), zap.Error(err))
	}
	if to == domain.TaskClosed {
		if err := s.eventBus.Publish(ctx, bus.SubjectTaskCompleted, bus.NewTaskEvent(bus.SubjectTaskCompleted, "task-assignment", task)); err != nil {
			s.logger.Warn("failed to publish task completed", zap.String("taskId", task.ID), zap.Error(err))
		}
	}
}

// UpdateTaskStatus transitions task to status, validating against the
// transition table. Transitioning to the task's current status is a no-op
// write (idempotent aside from updatedAt).
func (s *Service) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) (*domain.Task, error) {
	task, err := s.backend.GetTask(ctx, taskID)
	if err != nil {
		return nil, apperr.NotFound("task", taskID)
	}
	if err := s.transitionTo(ctx, task, status); err != nil {
		return nil, err
	}
	return task, nil
}

// CloseTask transitions task to closed, recording reason.
func (s *Service) CloseTask(ctx context.Context, taskID string, reason string) (*domain.Task, error) {
	task, err := s.backend.GetTask(ctx, taskID)
	if err != nil {
		return nil, apperr.NotFound("task", taskID)
	}
	task.CloseReason = reason
	if err := s.transitionTo(ctx, task, domain.TaskClosed); err != nil {
		return nil, err
	}
	return task, nil
}

// ReopenTask transitions a closed task back to open, clearing closedAt.
func (s *Service) ReopenTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.UpdateTaskStatus(ctx, taskID, domain.TaskOpen)
}

// StartTask transitions task to in_progress.
func (s *Service) StartTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.UpdateTaskStatus(ctx, taskID, domain.TaskInProgress)
}

// AssignToAgent sets task.assignee without changing status.
func (s *Service) AssignToAgent(ctx context.Context, taskID, agentID string) (*domain.Task, error) {
	task, err := s.backend.GetTask(ctx, taskID)
	if err != nil {
		return nil, apperr.NotFound("task", taskID)
	}
	task.Assignee = agentID
	if err := s.backend.UpdateTask(ctx, task); err != nil {
		return nil, apperr.Wrap(err, "persist task assignment")
	}
	return task, nil
}

// UnassignTask clears task.assignee without a status change.
func (s *Service) UnassignTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.AssignToAgent(ctx, taskID, "")
}

// nonWorkloadStatuses are statuses excluded from workload counts.
var nonWorkloadStatuses = map[domain.TaskStatus]bool{
	domain.TaskClosed:    true,
	domain.TaskTombstone: true,
	domain.TaskBacklog:   true,
}

// GetAgentWorkload counts agentID's non-terminal, non-backlog tasks.
func (s *Service) GetAgentWorkload(ctx context.Context, agentID string) (int, error) {
	tasks, err := s.backend.ListTasks(ctx, store.TaskFilter{Assignee: agentID})
	if err != nil {
		return 0, apperr.Wrap(err, "list agent tasks")
	}
	count := 0
	for _, t := range tasks {
		if !nonWorkloadStatuses[t.Status] {
			count++
		}
	}
	return count, nil
}

// AgentHasCapacity reports whether agent's current workload is below its
// configured concurrency limit.
func (s *Service) AgentHasCapacity(ctx context.Context, agentID string, maxConcurrentTasks int) (bool, error) {
	workload, err := s.GetAgentWorkload(ctx, agentID)
	if err != nil {
		return false, err
	}
	return workload < maxConcurrentTasks, nil
}
