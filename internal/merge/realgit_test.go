package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/example/agentplan/internal/gitexec"
)

// initTestRepo creates a real repository with one commit and returns the
// repo path and the HEAD SHA.
func initTestRepo(t *testing.T, git gitexec.Runner) (string, string) {
	t.Helper()
	ctx := context.Background()
	repo := t.TempDir()

	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		if _, err := gitexec.MustRun(ctx, git, repo, args...); err != nil {
			t.Fatalf("git %v failed: %v", args, err)
		}
	}
	if err := os.WriteFile(filepath.Join(repo, "file.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	for _, args := range [][]string{
		{"add", "file.txt"},
		{"commit", "-m", "initial"},
	} {
		if _, err := gitexec.MustRun(ctx, git, repo, args...); err != nil {
			t.Fatalf("git %v failed: %v", args, err)
		}
	}

	e := NewEngine(git)
	head, err := e.ResolveRef(ctx, repo, "HEAD")
	if err != nil {
		t.Fatalf("ResolveRef() error = %v", err)
	}
	return repo, head
}

func TestCommitTreeRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	git := gitexec.NewGit()
	repo, head := initTestRepo(t, git)
	e := NewEngine(git)
	ctx := context.Background()

	tree, err := e.TreeOfCommit(ctx, repo, head)
	if err != nil {
		t.Fatalf("TreeOfCommit() error = %v", err)
	}

	commit, err := e.CommitTree(ctx, repo, tree, []string{head}, "synthesized")
	if err != nil {
		t.Fatalf("CommitTree() error = %v", err)
	}
	if commit == head {
		t.Fatal("CommitTree returned the parent commit")
	}

	// The new commit's tree must be exactly the tree it was built from.
	roundTrip, err := e.TreeOfCommit(ctx, repo, commit)
	if err != nil {
		t.Fatalf("TreeOfCommit() error = %v", err)
	}
	if roundTrip != tree {
		t.Errorf("tree of synthesized commit = %s, want %s", roundTrip, tree)
	}
}
