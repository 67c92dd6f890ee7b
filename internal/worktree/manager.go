package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
)

// repoLockEntry tracks a per-repository mutex and its reference count, so a
// repo no longer being worked on doesn't pin an entry in the map forever.
type repoLockEntry struct {
	mu       *sync.Mutex
	refCount int
}

// Manager allocates and releases exclusive per-task git worktrees. It holds
// no database of its own: a task has at most one live worktree, tracked
// in-memory for the lifetime of the process that owns it.
type Manager struct {
	config Config
	logger *logger.Logger

	mu     sync.RWMutex
	byTask map[string]*Worktree

	repoLockMu sync.Mutex
	repoLocks  map[string]*repoLockEntry
}

// New constructs a Manager, creating its base directory if necessary.
func New(cfg Config, log *logger.Logger) (*Manager, error) {
	cfg.normalize()
	if log == nil {
		log = logger.Default()
	}

	basePath, err := cfg.expandedBasePath()
	if err != nil {
		return nil, fmt.Errorf("expand worktree base path: %w", err)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &Manager{
		config:    cfg,
		logger:    log.WithFields(zap.String("component", "worktree-manager")),
		byTask:    make(map[string]*Worktree),
		repoLocks: make(map[string]*repoLockEntry),
	}, nil
}

func (m *Manager) getRepoLock(repoPath string) *sync.Mutex {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()

	if entry, ok := m.repoLocks[repoPath]; ok {
		entry.refCount++
		return entry.mu
	}
	entry := &repoLockEntry{mu: &sync.Mutex{}, refCount: 1}
	m.repoLocks[repoPath] = entry
	return entry.mu
}

func (m *Manager) releaseRepoLock(repoPath string) {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()

	entry, ok := m.repoLocks[repoPath]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		delete(m.repoLocks, repoPath)
	}
}

// Allocate returns the worktree already allocated to req.TaskID if one is
// live and valid, otherwise creates a new one via `git worktree add`. Each
// task holds at most one worktree at a time: allocations are exclusive
// per task.
func (m *Manager) Allocate(ctx context.Context, req AllocateRequest) (*Worktree, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	existing, ok := m.byTask[req.TaskID]
	m.mu.RUnlock()
	if ok && m.IsValid(existing.Path) {
		return existing, nil
	}

	if !m.isGitRepo(req.RepositoryPath) {
		return nil, ErrRepoNotGit
	}

	repoLock := m.getRepoLock(req.RepositoryPath)
	repoLock.Lock()
	defer func() {
		repoLock.Unlock()
		m.releaseRepoLock(req.RepositoryPath)
	}()

	if !m.branchExists(ctx, req.RepositoryPath, req.BaseBranch) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBaseBranch, req.BaseBranch)
	}

	return m.createWorktree(ctx, req)
}

func (m *Manager) createWorktree(ctx context.Context, req AllocateRequest) (*Worktree, error) {
	dirName, branchName := m.buildNames(req)

	basePath, err := m.config.expandedBasePath()
	if err != nil {
		return nil, fmt.Errorf("expand worktree base path: %w", err)
	}
	path := filepath.Join(basePath, dirName)

	if err := m.gitAddWorktree(ctx, req.RepositoryPath, branchName, path, req.BaseBranch); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	wt := &Worktree{
		TaskID:         req.TaskID,
		RepositoryPath: req.RepositoryPath,
		Path:           path,
		Branch:         branchName,
		BaseBranch:     req.BaseBranch,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	m.byTask[req.TaskID] = wt
	m.mu.Unlock()

	m.logger.Info("allocated worktree",
		zap.String("taskId", req.TaskID),
		zap.String("path", path),
		zap.String("branch", branchName))
	return wt, nil
}

func (m *Manager) buildNames(req AllocateRequest) (dirName, branchName string) {
	suffix := randomSuffix(6)
	prefix := m.config.BranchPrefix

	base := sanitizeForBranch(req.TaskTitle, 24)
	if base == "" {
		base = sanitizeForBranch(req.TaskID, 24)
	}
	if base == "" {
		base = suffix
	}
	dirName = req.TaskID + "_" + suffix
	branchName = prefix + base + "-" + suffix
	return dirName, branchName
}

// gitAddWorktree runs `git worktree add -b <branch> <path> <baseRef>`.
func (m *Manager) gitAddWorktree(ctx context.Context, repoPath, branch, path, baseRef string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path, baseRef)
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		m.logger.Error("git worktree add failed", zap.String("output", string(output)), zap.Error(err))
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(output))
	}
	return nil
}

// Release removes a task's worktree directory, and optionally its branch,
// freeing the slot for a future Allocate call. Releasing a task with no
// live worktree is a no-op.
func (m *Manager) Release(ctx context.Context, taskID string, removeBranch bool) error {
	m.mu.Lock()
	wt, ok := m.byTask[taskID]
	if ok {
		delete(m.byTask, taskID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	repoLock := m.getRepoLock(wt.RepositoryPath)
	repoLock.Lock()
	defer func() {
		repoLock.Unlock()
		m.releaseRepoLock(wt.RepositoryPath)
	}()

	if err := m.removeWorktreeDir(ctx, wt.Path, wt.RepositoryPath); err != nil {
		m.logger.Warn("failed to remove worktree directory", zap.String("path", wt.Path), zap.Error(err))
	}

	if removeBranch {
		cmd := exec.CommandContext(ctx, "git", "branch", "-D", wt.Branch)
		cmd.Dir = wt.RepositoryPath
		if output, err := cmd.CombinedOutput(); err != nil {
			m.logger.Warn("failed to delete worktree branch",
				zap.String("branch", wt.Branch), zap.String("output", string(output)), zap.Error(err))
		}
	}

	m.logger.Info("released worktree", zap.String("taskId", taskID), zap.String("path", wt.Path))
	return nil
}

// GetByTask returns the worktree currently allocated to taskID, if any.
func (m *Manager) GetByTask(taskID string) (*Worktree, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wt, ok := m.byTask[taskID]
	return wt, ok
}

// IsValid reports whether path is a live, usable worktree directory.
func (m *Manager) IsValid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	content, err := os.ReadFile(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(content), "gitdir:")
}

func (m *Manager) isGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

func (m *Manager) branchExists(ctx context.Context, repoPath, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

// removeWorktreeDir tries `git worktree remove --force` first, falling back
// to a plain directory removal plus `git worktree prune` for a worktree
// whose git metadata is already gone.
func (m *Manager) removeWorktreeDir(ctx context.Context, path, repoPath string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Debug("git worktree remove failed, falling back to rm", zap.String("output", string(output)), zap.Error(err))

		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove worktree directory: %w", err)
		}

		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = repoPath
		if err := prune.Run(); err != nil {
			m.logger.Debug("git worktree prune failed", zap.Error(err))
		}
	}
	return nil
}
