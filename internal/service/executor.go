package service

import (
	"context"

	"github.com/example/agentplan/internal/domain"
)

// ExecRequest asks the executor to start the external work for one node.
// The worktree is already prepared; the executor only runs the job inside it.
type ExecRequest struct {
	PlanID       string
	Node         *domain.Node
	RepoPath     string
	WorktreePath string
}

// ExecOutcome is the terminal result the executor reports for a node.
type ExecOutcome struct {
	Success       bool
	Canceled      bool
	FailureReason string
	Error         string
}

// RunningJob is a handle to started external work. PID identifies the
// underlying OS process for crash recovery; Done delivers exactly one
// outcome.
type RunningJob struct {
	PID  int
	Done <-chan ExecOutcome
}

// Executor starts and cancels the external work for nodes. The coordinator
// never runs work itself; it dispatches through this boundary and consumes
// completions from RunningJob.Done.
type Executor interface {
	// Start launches the work and returns once the process is running.
	Start(ctx context.Context, req *ExecRequest) (*RunningJob, error)

	// Cancel terminates the underlying process for a node, if it is still
	// running. The outcome is still delivered on the job's Done channel.
	Cancel(planID, nodeID string) error
}
