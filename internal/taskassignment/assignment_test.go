package taskassignment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/common/apperr"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/store/sqlitestore"
)

func newTestService(t *testing.T) (*Service, *sqlitestore.SQLiteStore) {
	t.Helper()
	backend, err := sqlitestore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return New(backend, logger.Default()), backend
}

func TestTaskLifecycle_CloseAndReopen(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t)

	task := &domain.Task{Title: "ship feature", Status: domain.TaskOpen, Priority: 3}
	require.NoError(t, backend.CreateTask(ctx, task))

	_, err := svc.UpdateTaskStatus(ctx, task.ID, domain.TaskInProgress)
	require.NoError(t, err)

	closed, err := svc.CloseTask(ctx, task.ID, "Completed")
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	require.Equal(t, "Completed", closed.CloseReason)

	reopened, err := svc.ReopenTask(ctx, task.ID)
	require.NoError(t, err)
	require.Nil(t, reopened.ClosedAt)
	require.Equal(t, domain.TaskOpen, reopened.Status)
}

func TestTombstoneTransition_FailsWithEmptyAllowedSet(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t)

	task := &domain.Task{Title: "deleted task", Status: domain.TaskTombstone, Priority: 3}
	require.NoError(t, backend.CreateTask(ctx, task))

	_, err := svc.UpdateTaskStatus(ctx, task.ID, domain.TaskOpen)
	require.True(t, apperr.Is(err, apperr.CodeInvalidStatus))

	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Empty(t, appErr.Status.Allowed)
}

func TestGetAgentWorkload_ExcludesTerminalAndBacklog(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t)

	statuses := []domain.TaskStatus{domain.TaskOpen, domain.TaskInProgress, domain.TaskClosed, domain.TaskBacklog}
	for _, st := range statuses {
		require.NoError(t, backend.CreateTask(ctx, &domain.Task{Title: string(st), Status: st, Priority: 3, Assignee: "agent-1"}))
	}

	workload, err := svc.GetAgentWorkload(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 2, workload)
}

func TestAgentHasCapacity(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t)

	require.NoError(t, backend.CreateTask(ctx, &domain.Task{Title: "t1", Status: domain.TaskInProgress, Priority: 3, Assignee: "agent-1"}))

	has, err := svc.AgentHasCapacity(ctx, "agent-1", 1)
	require.NoError(t, err)
	require.False(t, has)

	has, err = svc.AgentHasCapacity(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.True(t, has)
}

func TestUpdateTaskStatus_IdempotentNoOp(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t)

	task := &domain.Task{Title: "noop", Status: domain.TaskOpen, Priority: 3}
	require.NoError(t, backend.CreateTask(ctx, task))

	updated, err := svc.UpdateTaskStatus(ctx, task.ID, domain.TaskOpen)
	require.NoError(t, err)
	require.Equal(t, domain.TaskOpen, updated.Status)
}

func TestUpdateTaskStatus_ClosedToClosedLeavesClosedAtUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, backend := newTestService(t)

	task := &domain.Task{Title: "in progress", Status: domain.TaskInProgress, Priority: 3}
	require.NoError(t, backend.CreateTask(ctx, task))

	closed, err := svc.UpdateTaskStatus(ctx, task.ID, domain.TaskClosed)
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	firstClosedAt := *closed.ClosedAt

	time.Sleep(time.Millisecond)
	reclosed, err := svc.UpdateTaskStatus(ctx, task.ID, domain.TaskClosed)
	require.NoError(t, err)
	require.Equal(t, domain.TaskClosed, reclosed.Status)
	require.NotNil(t, reclosed.ClosedAt)
	require.True(t, reclosed.ClosedAt.Equal(firstClosedAt), "closed->closed no-op must not reset ClosedAt")
}
