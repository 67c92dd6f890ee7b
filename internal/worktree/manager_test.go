package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		BasePath:     t.TempDir(),
		BranchPrefix: "stoneforge/",
	}
}

// initGitRepo creates a throwaway repository with one commit on "main" so
// tests can exercise real `git worktree add`/`remove` plumbing.
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

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := New(newTestConfig(t), logger.Default())
	require.NoError(t, err)
	return mgr
}

func TestAllocate_CreatesWorktreeOnFirstCall(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	repo := initGitRepo(t)

	wt, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: repo, BaseBranch: "main", TaskTitle: "fix login bug"})
	require.NoError(t, err)
	require.DirExists(t, wt.Path)
	require.Equal(t, StatusActive, wt.Status)
	require.Contains(t, wt.Branch, "stoneforge/")
}

func TestAllocate_ReusesExistingWorktreeForSameTask(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	repo := initGitRepo(t)

	first, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: repo, BaseBranch: "main"})
	require.NoError(t, err)

	second, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: repo, BaseBranch: "main"})
	require.NoError(t, err)
	require.Equal(t, first.Path, second.Path)
}

func TestAllocate_DistinctTasksGetDistinctWorktrees(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	repo := initGitRepo(t)

	wt1, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: repo, BaseBranch: "main"})
	require.NoError(t, err)
	wt2, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-2", RepositoryPath: repo, BaseBranch: "main"})
	require.NoError(t, err)

	require.NotEqual(t, wt1.Path, wt2.Path)
	require.NotEqual(t, wt1.Branch, wt2.Branch)
}

func TestAllocate_RejectsUnknownBaseBranch(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	repo := initGitRepo(t)

	_, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: repo, BaseBranch: "does-not-exist"})
	require.ErrorIs(t, err, ErrInvalidBaseBranch)
}

func TestAllocate_RejectsNonGitRepository(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	_, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: t.TempDir(), BaseBranch: "main"})
	require.ErrorIs(t, err, ErrRepoNotGit)
}

func TestRelease_RemovesDirectoryAndFreesSlot(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	repo := initGitRepo(t)

	wt, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: repo, BaseBranch: "main"})
	require.NoError(t, err)

	require.NoError(t, mgr.Release(ctx, "task-1", false))
	require.NoDirExists(t, wt.Path)

	_, ok := mgr.GetByTask("task-1")
	require.False(t, ok)
}

func TestRelease_UnknownTaskIsNoop(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Release(context.Background(), "never-allocated", false))
}

func TestRelease_ThenAllocateCreatesFreshWorktree(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	repo := initGitRepo(t)

	first, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: repo, BaseBranch: "main"})
	require.NoError(t, err)
	require.NoError(t, mgr.Release(ctx, "task-1", true))

	second, err := mgr.Allocate(ctx, AllocateRequest{TaskID: "task-1", RepositoryPath: repo, BaseBranch: "main"})
	require.NoError(t, err)
	require.NotEqual(t, first.Path, second.Path)
}

func TestSanitizeForBranch(t *testing.T) {
	require.Equal(t, "fix-login-bug", sanitizeForBranch("Fix Login Bug!!", 30))
	require.Equal(t, "", sanitizeForBranch("", 30))
	require.Equal(t, "abc", sanitizeForBranch("abcdefgh", 3))
}

func TestRepoLocks_ReferenceCountingCleanup(t *testing.T) {
	mgr := newTestManager(t)
	l1 := mgr.getRepoLock("/repo")
	l2 := mgr.getRepoLock("/repo")
	require.Same(t, l1, l2)

	mgr.releaseRepoLock("/repo")
	mgr.releaseRepoLock("/repo")

	mgr.repoLockMu.Lock()
	_, exists := mgr.repoLocks["/repo"]
	mgr.repoLockMu.Unlock()
	require.False(t, exists)
}
