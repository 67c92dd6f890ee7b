package dispatch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/agentregistry"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/sessionmanager"
	"github.com/stoneforge-ai/stoneforge/internal/spawner"
	"github.com/stoneforge-ai/stoneforge/internal/store/sqlitestore"
	"github.com/stoneforge-ai/stoneforge/internal/taskassignment"
	"github.com/stoneforge-ai/stoneforge/internal/worktree"
)

type fakeHeadlessHandle struct {
	ch chan spawner.AgentMessage
}

func (h *fakeHeadlessHandle) Messages() <-chan spawner.AgentMessage { return h.ch }
func (h *fakeHeadlessHandle) Send(string) error                     { return nil }
func (h *fakeHeadlessHandle) Interrupt() error                      { return nil }
func (h *fakeHeadlessHandle) Close() error                          { return nil }
func (h *fakeHeadlessHandle) PID() int                              { return 4242 }

type fakeHeadlessProvider struct{ handle *fakeHeadlessHandle }

func (p *fakeHeadlessProvider) Start(ctx context.Context, opts spawner.StartOptions) (spawner.HeadlessHandle, error) {
	return p.handle, nil
}
func (p *fakeHeadlessProvider) Resume(ctx context.Context, providerSessionID string, opts spawner.StartOptions) (spawner.HeadlessHandle, error) {
	return p.handle, nil
}

func newTestDaemon(t *testing.T) (*Daemon, *agentregistry.Registry, *fakeHeadlessHandle) {
	t.Helper()
	ctx := context.Background()

	backend, err := sqlitestore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	registry, err := agentregistry.New(ctx, backend, logger.Default())
	require.NoError(t, err)

	handle := &fakeHeadlessHandle{ch: make(chan spawner.AgentMessage, 8)}
	procs := spawner.New(backend, &fakeHeadlessProvider{handle: handle}, nil, logger.Default())

	sessions, err := sessionmanager.New(ctx, backend, procs, logger.Default())
	require.NoError(t, err)

	tasks := taskassignment.New(backend, logger.Default())
	svc := New(backend, tasks, registry, nil)

	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = time.Second

	daemon := NewDaemon(svc, sessions, procs, tasks, backend, cfg, logger.Default())
	return daemon, registry, handle
}

// initGitRepo creates a throwaway repository with one commit on "main" so
// worktree-wiring tests can exercise real `git worktree add`/`remove`.
func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial")
	return dir
}

func TestDaemon_StartStop_Idempotent(t *testing.T) {
	daemon, _, _ := newTestDaemon(t)

	require.NoError(t, daemon.Start(context.Background()))
	require.Error(t, daemon.Start(context.Background()))

	require.NoError(t, daemon.Stop())
	require.Error(t, daemon.Stop())
}

func TestDaemon_RunCycle_StartsSessionForReadyTask(t *testing.T) {
	ctx := context.Background()
	daemon, registry, handle := newTestDaemon(t)

	agent, err := registry.RegisterWorker(ctx, "worker-1", domain.WorkerPersistent)
	require.NoError(t, err)

	task := &domain.Task{
		Envelope: domain.Envelope{ID: "task-1"},
		Title:    "fix the thing",
		Status:   domain.TaskOpen,
		Priority: 1,
	}
	require.NoError(t, daemon.backend.CreateTask(ctx, task))

	daemon.runCycle(ctx)

	updated, err := daemon.backend.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, domain.TaskInProgress, updated.Status)
	require.Equal(t, agent.ID, updated.Assignee)

	handle.ch <- spawner.AgentMessage{Type: spawner.AgentMessageResult, Data: map[string]interface{}{"isError": false}}
	close(handle.ch)
}

func TestDaemon_RunCycle_AllocatesAndReleasesWorktreeWhenConfigured(t *testing.T) {
	ctx := context.Background()
	daemon, registry, handle := newTestDaemon(t)

	repo := initGitRepo(t)
	wtMgr, err := worktree.New(worktree.Config{BasePath: t.TempDir()}, logger.Default())
	require.NoError(t, err)
	daemon.UseWorktrees(wtMgr, repo, "main")

	_, err = registry.RegisterWorker(ctx, "worker-1", domain.WorkerPersistent)
	require.NoError(t, err)

	task := &domain.Task{
		Envelope: domain.Envelope{ID: "task-1"},
		Title:    "fix the thing",
		Status:   domain.TaskOpen,
		Priority: 1,
	}
	require.NoError(t, daemon.backend.CreateTask(ctx, task))

	daemon.runCycle(ctx)

	wt, ok := wtMgr.GetByTask("task-1")
	require.True(t, ok)
	require.DirExists(t, wt.Path)

	handle.ch <- spawner.AgentMessage{Type: spawner.AgentMessageResult, Data: map[string]interface{}{"isError": false}}
	close(handle.ch)

	require.Eventually(t, func() bool {
		_, stillAllocated := wtMgr.GetByTask("task-1")
		return !stillAllocated
	}, time.Second, 5*time.Millisecond)
}

func TestDaemon_RateLimitChecker_ReflectsTrackedState(t *testing.T) {
	daemon, _, _ := newTestDaemon(t)
	require.False(t, daemon.IsLimited("default"))

	daemon.setLimitedUntil("default", time.Now().Add(time.Minute))
	require.True(t, daemon.IsLimited("default"))

	daemon.setLimitedUntil("default", time.Now().Add(-time.Minute))
	require.True(t, daemon.IsLimited("default")) // setLimitedUntil never shrinks the window
}
