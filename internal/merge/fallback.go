package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/agentplan/internal/gitexec"
)

// Mode selects the checkout-based merge flavor used by the fallback engine.
type Mode int

const (
	ModeDefault Mode = iota
	ModeSquash
	ModeNoFF
)

// MergeInWorktree performs a conventional merge of source into the branch
// checked out at worktreePath. This is the fallback for git versions without
// merge-tree support; it needs a real checkout and therefore a worktree.
// Conflicts are listed by diffing for unmerged paths, then the merge is
// aborted so the worktree stays clean.
func (e *Engine) MergeInWorktree(ctx context.Context, worktreePath, source string, mode Mode) (*Result, error) {
	args := []string{"merge"}
	switch mode {
	case ModeSquash:
		args = append(args, "--squash")
	case ModeNoFF:
		args = append(args, "--no-ff")
	}
	args = append(args, source)

	res, err := e.git.Run(ctx, worktreePath, args...)
	if err != nil {
		return nil, err
	}
	if res.Ok() {
		return &Result{Success: true, Output: res.Combined()}, nil
	}

	unmerged, err := e.unmergedPaths(ctx, worktreePath)
	if err != nil {
		return nil, err
	}
	// Leave the worktree usable for the next attempt. Best effort: abort
	// fails when the merge never started.
	_, _ = e.git.Run(ctx, worktreePath, "merge", "--abort")

	if len(unmerged) == 0 {
		return nil, &gitexec.CommandError{Args: args, Result: res}
	}
	return &Result{
		Success:       false,
		HasConflicts:  true,
		ConflictFiles: unmerged,
		Output:        res.Combined(),
	}, nil
}

func (e *Engine) unmergedPaths(ctx context.Context, worktreePath string) ([]string, error) {
	res, err := e.git.Run(ctx, worktreePath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("failed to list unmerged paths: %w", err)
	}
	if !res.Ok() {
		return nil, &gitexec.CommandError{Args: []string{"diff", "--name-only", "--diff-filter=U"}, Result: res}
	}
	var paths []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}
