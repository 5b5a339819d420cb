package domain

import (
	"fmt"
	"time"
)

// NodeStatus describes where a node is in its execution lifecycle.
type NodeStatus int

const (
	StatusUnknown   NodeStatus = 0
	StatusPending   NodeStatus = 10 // Waiting on dependencies
	StatusReady     NodeStatus = 20 // All dependencies succeeded, eligible to run
	StatusScheduled NodeStatus = 30 // Claimed by the scheduler, work not started
	StatusRunning   NodeStatus = 40 // External process running
	StatusSucceeded NodeStatus = 50
	StatusFailed    NodeStatus = 60
	StatusBlocked   NodeStatus = 70 // An upstream dependency failed or was canceled
	StatusCanceled  NodeStatus = 80
)

func (s NodeStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusReady:
		return "READY"
	case StatusScheduled:
		return "SCHEDULED"
	case StatusRunning:
		return "RUNNING"
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusFailed:
		return "FAILED"
	case StatusBlocked:
		return "BLOCKED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if no further work will happen on the node without
// an explicit retry.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// IsOccupying returns true if the node counts against concurrency limits.
func (s NodeStatus) IsOccupying() bool {
	return s == StatusScheduled || s == StatusRunning
}

// ValidNodeTransition checks if a status transition is allowed.
// The table is closed: anything not listed here is rejected.
func ValidNodeTransition(from, to NodeStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusReady || to == StatusBlocked || to == StatusCanceled
	case StatusReady:
		return to == StatusScheduled || to == StatusBlocked || to == StatusCanceled
	case StatusScheduled:
		// Scheduled -> Failed covers dispatch errors (worktree setup etc.)
		// before the external process ever started.
		return to == StatusRunning || to == StatusFailed || to == StatusCanceled
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed || to == StatusCanceled
	case StatusBlocked:
		// Blocked nodes re-evaluate toward pending/ready when an upstream
		// failure is retried.
		return to == StatusPending || to == StatusReady || to == StatusCanceled
	case StatusFailed, StatusCanceled:
		return to == StatusPending // Retry
	case StatusSucceeded:
		return false
	default:
		return to == StatusPending || to == StatusReady // Initial state
	}
}

// FailureReason classifies a terminal failure.
const (
	FailureCrashed           = "crashed"            // Host died while the node ran
	FailureError             = "error"              // Work command exited non-zero
	FailureMergeConflict     = "merge_conflict"     // Integration hit conflicts
	FailureUnexpectedChanges = "unexpected_changes" // Job declared expectsNoChanges but produced commits
	FailureDispatch          = "dispatch"           // Worktree/branch setup failed
)

// NodeExecutionState tracks the mutable execution bookkeeping for one node.
// The node itself is immutable after build; everything that changes lives
// here. Version increases monotonically on every mutation and serves as an
// optimistic-concurrency/audit token for observers.
type NodeExecutionState struct {
	NodeID        string
	Status        NodeStatus
	Version       int64
	Attempts      int
	StartedAt     *time.Time
	EndedAt       *time.Time
	PID           int
	WorktreePath  string
	Error         string
	FailureReason string
}

// NewNodeExecutionState creates the initial state for a node.
// Nodes without dependencies start ready, everything else pending.
func NewNodeExecutionState(nodeID string, hasDependencies bool) *NodeExecutionState {
	status := StatusReady
	if hasDependencies {
		status = StatusPending
	}
	return &NodeExecutionState{
		NodeID:  nodeID,
		Status:  status,
		Version: 1,
	}
}

// SetStatus transitions the node to a new status, rejecting anything outside
// the transition table. Version is bumped on success.
func (s *NodeExecutionState) SetStatus(to NodeStatus) error {
	if !ValidNodeTransition(s.Status, to) {
		return fmt.Errorf("%w: cannot transition node %s from %s to %s",
			ErrInvalidState, s.NodeID, s.Status, to)
	}
	s.Status = to
	s.Version++
	return nil
}

// Touch bumps the version for a non-status mutation (pid, worktree, error).
func (s *NodeExecutionState) Touch() {
	s.Version++
}

// MarkStarted records process details when the external work actually starts.
func (s *NodeExecutionState) MarkStarted(pid int, worktreePath string) error {
	if err := s.SetStatus(StatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.StartedAt = &now
	s.PID = pid
	s.WorktreePath = worktreePath
	s.Attempts++
	return nil
}

// MarkEnded records a terminal outcome.
func (s *NodeExecutionState) MarkEnded(to NodeStatus, errMsg, reason string) error {
	if err := s.SetStatus(to); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.EndedAt = &now
	s.Error = errMsg
	s.FailureReason = reason
	s.PID = 0
	return nil
}

// ResetForRetry moves a failed or canceled node back to pending. Attempt
// history is preserved; previously blocked dependents are re-evaluated by the
// caller.
func (s *NodeExecutionState) ResetForRetry() error {
	if err := s.SetStatus(StatusPending); err != nil {
		return err
	}
	s.StartedAt = nil
	s.EndedAt = nil
	s.Error = ""
	s.FailureReason = ""
	s.PID = 0
	return nil
}
