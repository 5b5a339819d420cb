// Package worktree provides isolated working directories for concurrently
// running nodes. Each active node gets its own worktree (and therefore its
// own index), so parallel executions never contend on a shared working tree.
package worktree

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/example/agentplan/internal/gitexec"
)

// Manager creates, reuses and destroys git worktrees. Add/remove operations
// against the same repository mutate shared repository metadata and are
// serialized through a per-repository mutex; unrelated repositories proceed
// fully in parallel.
type Manager struct {
	git gitexec.Runner

	mu    sync.Mutex
	locks map[string]*sync.Mutex // Keyed by repository path
}

// NewManager creates a worktree Manager.
func NewManager(git gitexec.Runner) *Manager {
	return &Manager{
		git:   git,
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) repoLock(repoPath string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[repoPath]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[repoPath] = lock
	}
	return lock
}

// AddBranch creates a branch-backed worktree at path, creating or resetting
// branch to fromRef.
func (m *Manager) AddBranch(ctx context.Context, repoPath, path, branch, fromRef string) error {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := gitexec.MustRun(ctx, m.git, repoPath,
		"worktree", "add", "-B", branch, path, fromRef); err != nil {
		return fmt.Errorf("failed to add branch worktree: %w", err)
	}
	return nil
}

// AddDetached creates a detached-HEAD worktree at path, checked out at the
// given commit. Detached worktrees avoid "branch already checked out"
// failures when the integration step merges by SHA rather than branch name.
func (m *Manager) AddDetached(ctx context.Context, repoPath, path, commit string) error {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := gitexec.MustRun(ctx, m.git, repoPath,
		"worktree", "add", "--detach", path, commit); err != nil {
		return fmt.Errorf("failed to add detached worktree: %w", err)
	}
	return nil
}

// CreateOrReuseDetached returns the HEAD of an existing valid worktree at
// path, or creates a fresh detached worktree at commit. Reuse lets a retried
// node skip expensive setup.
func (m *Manager) CreateOrReuseDetached(ctx context.Context, repoPath, path, commit string) (head string, reused bool, err error) {
	if m.isValidWorktree(path) {
		res, err := gitexec.MustRun(ctx, m.git, path, "rev-parse", "HEAD")
		if err != nil {
			return "", false, fmt.Errorf("failed to read worktree HEAD: %w", err)
		}
		return strings.TrimSpace(res.Stdout), true, nil
	}
	if err := m.AddDetached(ctx, repoPath, path, commit); err != nil {
		return "", false, err
	}
	return commit, false, nil
}

// isValidWorktree reports whether path looks like a usable worktree: the
// directory exists and contains a .git marker (file or directory).
func (m *Manager) isValidWorktree(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

// RemoveSafe tears down the worktree at path. It force-removes the
// registration, always prunes stale registrations regardless of removal
// success, and best-effort deletes any leftover directory. It never returns
// an error: this path runs during cancellation and cleanup, which must not
// be blocked by teardown failures.
func (m *Manager) RemoveSafe(ctx context.Context, repoPath, path string) {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	if res, err := m.git.Run(ctx, repoPath, "worktree", "remove", "--force", path); err != nil {
		log.Printf("worktree: remove %s failed to run: %v", path, err)
	} else if !res.Ok() {
		log.Printf("worktree: remove %s exited %d: %s", path, res.ExitCode, strings.TrimSpace(res.Combined()))
	}

	if res, err := m.git.Run(ctx, repoPath, "worktree", "prune"); err != nil {
		log.Printf("worktree: prune failed to run: %v", err)
	} else if !res.Ok() {
		log.Printf("worktree: prune exited %d: %s", res.ExitCode, strings.TrimSpace(res.Combined()))
	}

	if err := os.RemoveAll(path); err != nil {
		log.Printf("worktree: leftover directory %s not removed: %v", path, err)
	}
}
