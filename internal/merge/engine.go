// Package merge integrates branches purely through git object-database
// operations. The primary path computes and commits tree-level merges without
// touching any working directory, so integration can run while unrelated
// worktrees are being created and removed. A checkout-based fallback covers
// git versions lacking the tree-level primitive.
package merge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/gitexec"
)

// Result describes the outcome of a merge computation. A conflicted merge is
// a result, not an error: callers decide whether to resolve or give up.
type Result struct {
	Success       bool
	HasConflicts  bool
	TreeSHA       string
	ConflictFiles []string
	Output        string
}

// Engine computes merges against one git object database.
type Engine struct {
	git gitexec.Runner
}

// NewEngine creates a merge Engine.
func NewEngine(git gitexec.Runner) *Engine {
	return &Engine{git: git}
}

// MergeWithoutCheckout computes the three-way merge of target and source as a
// tree object, without a working directory or branch checkout. On success the
// Result carries the merged tree SHA. Conflicts come back as a conflict-file
// list. A git binary without merge-tree support yields
// domain.ErrUnsupportedGitVersion so callers can pick the checkout fallback.
func (e *Engine) MergeWithoutCheckout(ctx context.Context, repoPath, target, source string) (*Result, error) {
	res, err := e.git.Run(ctx, repoPath, "merge-tree", "--write-tree", target, source)
	if err != nil {
		return nil, err
	}
	combined := res.Combined()
	if unsupportedOutput(combined) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedGitVersion, firstLine(res.Stderr))
	}

	if res.Ok() {
		return &Result{
			Success: true,
			TreeSHA: firstLine(res.Stdout),
			Output:  combined,
		}, nil
	}

	conflicts := parseConflictFiles(combined)
	if len(conflicts) == 0 {
		// Non-zero exit with no conflict markers is a generic failure.
		return nil, &gitexec.CommandError{
			Args:   []string{"merge-tree", "--write-tree", target, source},
			Result: res,
		}
	}
	return &Result{
		Success:       false,
		HasConflicts:  true,
		TreeSHA:       firstLine(res.Stdout), // Partial tree, when git printed one
		ConflictFiles: conflicts,
		Output:        combined,
	}, nil
}

// CommitTree synthesizes a commit object for tree with the given parents and
// message. No working directory or ref is touched; publishing the commit is
// the caller's job.
func (e *Engine) CommitTree(ctx context.Context, repoPath, treeSHA string, parents []string, message string) (string, error) {
	args := []string{"commit-tree", treeSHA}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	args = append(args, "-m", message)

	res, err := gitexec.MustRun(ctx, e.git, repoPath, args...)
	if err != nil {
		return "", fmt.Errorf("failed to commit tree %s: %w", treeSHA, err)
	}
	return firstLine(res.Stdout), nil
}

// ResolveRef resolves a ref to a full commit SHA.
func (e *Engine) ResolveRef(ctx context.Context, repoPath, ref string) (string, error) {
	res, err := gitexec.MustRun(ctx, e.git, repoPath, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return firstLine(res.Stdout), nil
}

// TreeOfCommit returns the tree SHA a commit points at.
func (e *Engine) TreeOfCommit(ctx context.Context, repoPath, commitSHA string) (string, error) {
	res, err := gitexec.MustRun(ctx, e.git, repoPath, "rev-parse", commitSHA+"^{tree}")
	if err != nil {
		return "", fmt.Errorf("failed to read tree of %s: %w", commitSHA, err)
	}
	return firstLine(res.Stdout), nil
}

// UpdateRef points ref at commitSHA.
func (e *Engine) UpdateRef(ctx context.Context, repoPath, ref, commitSHA string) error {
	if _, err := gitexec.MustRun(ctx, e.git, repoPath, "update-ref", ref, commitSHA); err != nil {
		return fmt.Errorf("failed to update ref %s: %w", ref, err)
	}
	return nil
}

// DeleteRef removes ref if it exists. Missing refs are not an error.
func (e *Engine) DeleteRef(ctx context.Context, repoPath, ref string) error {
	res, err := e.git.Run(ctx, repoPath, "update-ref", "-d", ref)
	if err != nil {
		return fmt.Errorf("failed to delete ref %s: %w", ref, err)
	}
	if !res.Ok() && !strings.Contains(res.Stderr, "unable to resolve") {
		return &gitexec.CommandError{Args: []string{"update-ref", "-d", ref}, Result: res}
	}
	return nil
}

// ReadFileAtTree reads a file's content at path from the given tree.
func (e *Engine) ReadFileAtTree(ctx context.Context, repoPath, treeSHA, path string) ([]byte, error) {
	res, err := gitexec.MustRun(ctx, e.git, repoPath, "cat-file", "-p", treeSHA+":"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", path, treeSHA, err)
	}
	return []byte(res.Stdout), nil
}

// WriteBlob writes an arbitrary byte blob into the object store and returns
// its id.
func (e *Engine) WriteBlob(ctx context.Context, repoPath string, content []byte) (string, error) {
	res, err := e.git.RunStdin(ctx, repoPath, bytes.NewReader(content),
		"hash-object", "-w", "--stdin")
	if err != nil {
		return "", err
	}
	if !res.Ok() {
		return "", &gitexec.CommandError{Args: []string{"hash-object", "-w", "--stdin"}, Result: res}
	}
	return firstLine(res.Stdout), nil
}

// SpliceTree splices a set of path -> blob replacements into baseTree and
// returns the new tree SHA. The base tree is loaded into a temporary index
// file, never the repository's real index, so concurrent resolution attempts
// cannot contend. Each replaced file keeps its original mode bit; new paths
// get 100644.
func (e *Engine) SpliceTree(ctx context.Context, repoPath, baseTree string, replacements map[string]string) (string, error) {
	indexFile, err := os.CreateTemp("", "agentplan-index-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp index: %w", err)
	}
	indexPath := indexFile.Name()
	indexFile.Close()
	os.Remove(indexPath) // read-tree wants to create the file itself
	defer os.Remove(indexPath)

	env := []string{"GIT_INDEX_FILE=" + indexPath}

	res, err := e.git.RunEnv(ctx, repoPath, env, "read-tree", baseTree)
	if err != nil {
		return "", err
	}
	if !res.Ok() {
		return "", &gitexec.CommandError{Args: []string{"read-tree", baseTree}, Result: res}
	}

	paths := make([]string, 0, len(replacements))
	for p := range replacements {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		mode, err := e.fileMode(ctx, repoPath, baseTree, path)
		if err != nil {
			return "", err
		}
		cacheinfo := mode + "," + replacements[path] + "," + path
		res, err := e.git.RunEnv(ctx, repoPath, env, "update-index", "--add", "--cacheinfo", cacheinfo)
		if err != nil {
			return "", err
		}
		if !res.Ok() {
			return "", &gitexec.CommandError{Args: []string{"update-index", "--add", "--cacheinfo", cacheinfo}, Result: res}
		}
	}

	res, err = e.git.RunEnv(ctx, repoPath, env, "write-tree")
	if err != nil {
		return "", err
	}
	if !res.Ok() {
		return "", &gitexec.CommandError{Args: []string{"write-tree"}, Result: res}
	}
	return firstLine(res.Stdout), nil
}

// fileMode returns the mode bits a path has in tree, or 100644 for new files.
func (e *Engine) fileMode(ctx context.Context, repoPath, treeSHA, path string) (string, error) {
	res, err := e.git.Run(ctx, repoPath, "ls-tree", treeSHA, "--", path)
	if err != nil {
		return "", err
	}
	line := firstLine(res.Stdout)
	if line == "" {
		return "100644", nil
	}
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return "100644", nil
	}
	return fields[0], nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func unsupportedOutput(out string) bool {
	return strings.Contains(out, "is not a git command") ||
		strings.Contains(out, "unknown option")
}
