//go:build unix

package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/gitexec"
	"github.com/example/agentplan/internal/service"
)

func startJob(t *testing.T, l *Local, node *domain.Node) *service.RunningJob {
	t.Helper()
	job, err := l.Start(context.Background(), &service.ExecRequest{
		PlanID:       "plan1",
		Node:         node,
		RepoPath:     "/repo",
		WorktreePath: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return job
}

func awaitOutcome(t *testing.T, job *service.RunningJob) service.ExecOutcome {
	t.Helper()
	select {
	case outcome := <-job.Done:
		return outcome
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
		return service.ExecOutcome{}
	}
}

func TestLocalRunsScriptToSuccess(t *testing.T) {
	l := NewLocal(gitexec.NewFakeRunner())
	job := startJob(t, l, &domain.Node{ID: "n1", ProducerID: "n1", Work: "true"})
	if job.PID <= 0 {
		t.Errorf("PID = %d, want a real process id", job.PID)
	}
	outcome := awaitOutcome(t, job)
	if !outcome.Success {
		t.Errorf("outcome = %+v, want success", outcome)
	}
}

func TestLocalReportsFailure(t *testing.T) {
	l := NewLocal(gitexec.NewFakeRunner())
	job := startJob(t, l, &domain.Node{ID: "n1", ProducerID: "n1", Work: "exit 3"})
	outcome := awaitOutcome(t, job)
	if outcome.Success {
		t.Fatal("failing script reported success")
	}
	if outcome.FailureReason != domain.FailureError {
		t.Errorf("reason = %q, want %q", outcome.FailureReason, domain.FailureError)
	}
}

func TestLocalStopsAtFirstFailingStep(t *testing.T) {
	l := NewLocal(gitexec.NewFakeRunner())
	wt := t.TempDir()
	job, err := l.Start(context.Background(), &service.ExecRequest{
		PlanID:       "plan1",
		Node:         &domain.Node{ID: "n1", ProducerID: "n1", Prechecks: "false", Work: "touch ran-anyway"},
		RepoPath:     "/repo",
		WorktreePath: wt,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	outcome := awaitOutcome(t, job)
	if outcome.Success {
		t.Error("failing precheck reported success")
	}
	if _, err := os.Stat(filepath.Join(wt, "ran-anyway")); err == nil {
		t.Error("work step ran after the precheck failed")
	}
}

func TestLocalEmptyScriptSucceedsImmediately(t *testing.T) {
	l := NewLocal(gitexec.NewFakeRunner())
	job := startJob(t, l, &domain.Node{ID: "n1", ProducerID: "n1"})
	if job.PID != 0 {
		t.Errorf("PID = %d, want 0 for a marker node", job.PID)
	}
	outcome := awaitOutcome(t, job)
	if !outcome.Success {
		t.Errorf("outcome = %+v, want success", outcome)
	}
}

func TestLocalCancelKillsProcess(t *testing.T) {
	l := NewLocal(gitexec.NewFakeRunner())
	job := startJob(t, l, &domain.Node{ID: "n1", ProducerID: "n1", Work: "sleep 60"})

	if err := l.Cancel("plan1", "n1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	outcome := awaitOutcome(t, job)
	if !outcome.Canceled {
		t.Errorf("outcome = %+v, want canceled", outcome)
	}
	if err := l.Cancel("plan1", "n1"); err == nil {
		t.Error("canceling a finished job did not error")
	}
}

func TestLocalExpectsNoChangesFailsOnDirtyWorktree(t *testing.T) {
	git := gitexec.NewFakeRunner()
	git.Respond("rev-parse HEAD", gitexec.Result{Stdout: "head111\n"})
	git.Respond("status --porcelain", gitexec.Result{Stdout: " M main.go\n"})

	l := NewLocal(git)
	job := startJob(t, l, &domain.Node{
		ID: "n1", ProducerID: "n1",
		Work:             "true",
		ExpectsNoChanges: true,
	})
	outcome := awaitOutcome(t, job)
	if outcome.Success {
		t.Fatal("dirty worktree reported success")
	}
	if outcome.FailureReason != domain.FailureUnexpectedChanges {
		t.Errorf("reason = %q, want %q", outcome.FailureReason, domain.FailureUnexpectedChanges)
	}
}

func TestLocalExpectsNoChangesPassesWhenClean(t *testing.T) {
	git := gitexec.NewFakeRunner()
	git.Respond("rev-parse HEAD", gitexec.Result{Stdout: "head111\n"})
	git.Respond("status --porcelain", gitexec.Result{Stdout: ""})

	l := NewLocal(git)
	job := startJob(t, l, &domain.Node{
		ID: "n1", ProducerID: "n1",
		Work:             "true",
		ExpectsNoChanges: true,
	})
	outcome := awaitOutcome(t, job)
	if !outcome.Success {
		t.Errorf("outcome = %+v, want success", outcome)
	}
}
