package worktree

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LinkSubmodules materializes submodules in a fresh worktree without the
// cost of a recursive re-checkout. Each submodule path is replaced with a
// symbolic link to the already-initialized submodule directory inside the
// main repository, assuming submodule content is branch-independent. If a
// link cannot be created, that submodule falls back to a real per-path
// checkout.
func (m *Manager) LinkSubmodules(ctx context.Context, repoPath, worktreePath string) error {
	paths, err := m.submodulePaths(ctx, worktreePath)
	if err != nil {
		return err
	}
	for _, sub := range paths {
		target := filepath.Join(repoPath, sub)
		linkAt := filepath.Join(worktreePath, sub)

		if _, err := os.Stat(target); err != nil {
			// Not initialized in the main repo; nothing to link against.
			log.Printf("worktree: submodule %s not initialized in %s, skipping", sub, repoPath)
			continue
		}

		if err := os.RemoveAll(linkAt); err != nil {
			return fmt.Errorf("failed to clear submodule path %s: %w", sub, err)
		}
		if err := os.MkdirAll(filepath.Dir(linkAt), 0o755); err != nil {
			return fmt.Errorf("failed to create submodule parent for %s: %w", sub, err)
		}
		if err := os.Symlink(target, linkAt); err != nil {
			log.Printf("worktree: symlink for submodule %s failed (%v), falling back to checkout", sub, err)
			if err := m.checkoutSubmodule(ctx, worktreePath, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// submodulePaths lists submodule paths declared in the worktree's
// .gitmodules file. A missing file means no submodules.
func (m *Manager) submodulePaths(ctx context.Context, worktreePath string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(worktreePath, ".gitmodules")); err != nil {
		return nil, nil
	}
	res, err := m.git.Run(ctx, worktreePath,
		"config", "--file", ".gitmodules", "--get-regexp", `^submodule\..*\.path$`)
	if err != nil {
		return nil, fmt.Errorf("failed to list submodules: %w", err)
	}
	if !res.Ok() {
		// Exit 1 means no matches.
		return nil, nil
	}

	var paths []string
	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	for scanner.Scan() {
		// Lines look like "submodule.<name>.path <path>".
		fields := strings.SplitN(scanner.Text(), " ", 2)
		if len(fields) == 2 && fields[1] != "" {
			paths = append(paths, fields[1])
		}
	}
	return paths, nil
}

func (m *Manager) checkoutSubmodule(ctx context.Context, worktreePath, sub string) error {
	res, err := m.git.Run(ctx, worktreePath, "submodule", "update", "--init", "--", sub)
	if err != nil {
		return fmt.Errorf("failed to run submodule checkout for %s: %w", sub, err)
	}
	if !res.Ok() {
		return fmt.Errorf("submodule checkout for %s exited %d: %s",
			sub, res.ExitCode, strings.TrimSpace(res.Combined()))
	}
	return nil
}
