// Package executor runs node work as local shell processes inside the
// node's worktree. It is the default Executor; remote or containerized
// executors would implement the same interface.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/gitexec"
	"github.com/example/agentplan/internal/service"
)

// Local executes node scripts with the system shell. One OS process per
// node; prechecks, work and postchecks run as a single script so the job
// stops at the first failing step.
type Local struct {
	shell string
	git   gitexec.Runner

	mu    sync.Mutex
	procs map[string]*running
}

type running struct {
	cmd      *exec.Cmd
	canceled bool
}

// NewLocal creates a Local executor. git is used to verify worktree state
// after jobs that declare expectsNoChanges.
func NewLocal(git gitexec.Runner) *Local {
	return &Local{
		shell: "/bin/sh",
		git:   git,
		procs: make(map[string]*running),
	}
}

func jobScript(node *domain.Node) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{node.Prechecks, node.Work, node.Postchecks} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	// set -e makes the script's exit status that of the first failing step,
	// not the last command: a failing precheck must fail the whole job.
	return "set -e\n" + strings.Join(parts, "\n")
}

func (l *Local) Start(ctx context.Context, req *service.ExecRequest) (*service.RunningJob, error) {
	script := jobScript(req.Node)
	done := make(chan service.ExecOutcome, 1)

	// A node with no scripts is a pure dependency marker.
	if script == "" {
		done <- service.ExecOutcome{Success: true}
		return &service.RunningJob{Done: done}, nil
	}

	headBefore := ""
	if req.Node.ExpectsNoChanges {
		if sha, err := l.headOf(ctx, req.WorktreePath); err == nil {
			headBefore = sha
		}
	}

	cmd := exec.Command(l.shell, "-c", script)
	cmd.Dir = req.WorktreePath
	cmd.Env = append(os.Environ(),
		"AGENTPLAN_PLAN="+req.PlanID,
		"AGENTPLAN_NODE="+req.Node.ProducerID,
		"AGENTPLAN_TASK="+req.Node.Task,
		"AGENTPLAN_INSTRUCTIONS="+req.Node.Instructions,
		"AGENTPLAN_REPO="+req.RepoPath,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start job for node %s: %w", req.Node.ID, err)
	}

	key := req.PlanID + "/" + req.Node.ID
	proc := &running{cmd: cmd}
	l.mu.Lock()
	l.procs[key] = proc
	l.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()

		l.mu.Lock()
		canceled := proc.canceled
		delete(l.procs, key)
		l.mu.Unlock()

		switch {
		case canceled:
			done <- service.ExecOutcome{Canceled: true, Error: "canceled"}
		case waitErr != nil:
			done <- service.ExecOutcome{
				Success:       false,
				FailureReason: domain.FailureError,
				Error:         fmt.Sprintf("job exited with error: %v", waitErr),
			}
		default:
			done <- l.verify(req, headBefore)
		}
	}()

	return &service.RunningJob{PID: cmd.Process.Pid, Done: done}, nil
}

// verify checks post-conditions of a zero-exit job. A job that declared
// expectsNoChanges fails when it left dirty files or moved HEAD.
func (l *Local) verify(req *service.ExecRequest, headBefore string) service.ExecOutcome {
	if !req.Node.ExpectsNoChanges {
		return service.ExecOutcome{Success: true}
	}
	ctx := context.Background()

	res, err := l.git.Run(ctx, req.WorktreePath, "status", "--porcelain")
	if err == nil && res.Ok() && strings.TrimSpace(res.Stdout) != "" {
		return service.ExecOutcome{
			Success:       false,
			FailureReason: domain.FailureUnexpectedChanges,
			Error:         fmt.Sprintf("job left uncommitted changes:\n%s", strings.TrimSpace(res.Stdout)),
		}
	}
	if headBefore != "" {
		if headAfter, err := l.headOf(ctx, req.WorktreePath); err == nil && headAfter != headBefore {
			return service.ExecOutcome{
				Success:       false,
				FailureReason: domain.FailureUnexpectedChanges,
				Error:         fmt.Sprintf("job created commits: HEAD moved from %s to %s", headBefore, headAfter),
			}
		}
	}
	return service.ExecOutcome{Success: true}
}

func (l *Local) headOf(ctx context.Context, worktreePath string) (string, error) {
	res, err := gitexec.MustRun(ctx, l.git, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (l *Local) Cancel(planID, nodeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	proc, ok := l.procs[planID+"/"+nodeID]
	if !ok {
		return fmt.Errorf("no running job for node %s", nodeID)
	}
	proc.canceled = true
	if err := proc.cmd.Process.Kill(); err != nil {
		log.Printf("executor: failed to kill pid %d: %v", proc.cmd.Process.Pid, err)
		return err
	}
	return nil
}
