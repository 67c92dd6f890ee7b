// Package worktree allocates an exclusive git working directory per task
// so concurrent sessions never collide on the same checkout.
package worktree

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an allocated worktree.
type Status string

const (
	StatusActive  Status = "active"
	StatusRemoved Status = "removed"
)

// Worktree is one allocated git working directory.
type Worktree struct {
	TaskID         string
	RepositoryPath string
	Path           string
	Branch         string
	BaseBranch     string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var (
	// ErrRepoNotGit is returned when the repository path is not a git repository.
	ErrRepoNotGit = errors.New("repository is not a git repository")

	// ErrInvalidBaseBranch is returned when the base branch does not exist.
	ErrInvalidBaseBranch = errors.New("base branch does not exist")

	// ErrGitCommandFailed is returned when a git command fails.
	ErrGitCommandFailed = errors.New("git command failed")

	// ErrNotFound is returned when no worktree is allocated for a task.
	ErrNotFound = errors.New("worktree not found for task")
)

// AllocateRequest describes the worktree a task needs.
type AllocateRequest struct {
	// TaskID is the task the worktree is exclusive to (required).
	TaskID string

	// RepositoryPath is the path to the main repository checkout (required).
	RepositoryPath string

	// BaseBranch is the branch to base the new worktree on (required).
	BaseBranch string

	// TaskTitle, if set, is used to derive a readable branch name instead of
	// the bare task ID.
	TaskTitle string
}

func (r AllocateRequest) Validate() error {
	if r.TaskID == "" {
		return errors.New("worktree: task id is required")
	}
	if r.RepositoryPath == "" {
		return ErrRepoNotGit
	}
	if r.BaseBranch == "" {
		return ErrInvalidBaseBranch
	}
	return nil
}
