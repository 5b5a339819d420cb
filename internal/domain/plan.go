package domain

import (
	"strings"
	"time"
)

// PlanStatus is the derived, plan-level aggregate of node statuses.
// It is computed on demand and never stored.
type PlanStatus int

const (
	PlanPending   PlanStatus = 0
	PlanRunning   PlanStatus = 1
	PlanSucceeded PlanStatus = 2
	PlanFailed    PlanStatus = 3
	PlanCanceled  PlanStatus = 4
)

func (s PlanStatus) String() string {
	switch s {
	case PlanRunning:
		return "RUNNING"
	case PlanSucceeded:
		return "SUCCEEDED"
	case PlanFailed:
		return "FAILED"
	case PlanCanceled:
		return "CANCELED"
	default:
		return "PENDING"
	}
}

// IsTerminal returns true for aggregate outcomes that fire planComplete.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanSucceeded || s == PlanFailed || s == PlanCanceled
}

// Snapshot records the transient integration branch and worktree a plan uses
// while results are being folded into the target branch.
type Snapshot struct {
	Branch       string `json:"branch"`
	WorktreePath string `json:"worktreePath"`
}

// Plan is a validated DAG of jobs targeting one repository and branch.
// The graph (Nodes, edges, Roots, Leaves, Groups) is immutable after build;
// NodeStates, pause flag, snapshot and timestamps change at runtime.
type Plan struct {
	ID                 string
	Name               string
	Spec               *PlanSpec
	Nodes              map[string]*Node
	ProducerIDToNodeID map[string]string
	Roots              []string
	Leaves             []string
	NodeStates         map[string]*NodeExecutionState
	Groups             map[string]*Group
	GroupStates        map[string]*GroupExecutionState

	RepoPath     string
	BaseBranch   string
	TargetBranch string
	WorktreeRoot string
	MaxParallel  int

	IsPaused     bool
	StateVersion int64
	Snapshot     *Snapshot

	CreatedAt time.Time
	EndedAt   *time.Time
}

// Node returns the node with the given ID, or nil.
func (p *Plan) Node(nodeID string) *Node {
	return p.Nodes[nodeID]
}

// NodeByProducerID resolves a producerId to its node, or nil.
func (p *Plan) NodeByProducerID(producerID string) *Node {
	if id, ok := p.ProducerIDToNodeID[producerID]; ok {
		return p.Nodes[id]
	}
	return nil
}

// State returns the execution state for a node, or nil.
func (p *Plan) State(nodeID string) *NodeExecutionState {
	return p.NodeStates[nodeID]
}

// StatusCounts returns the number of nodes per status.
func (p *Plan) StatusCounts() map[NodeStatus]int {
	counts := make(map[NodeStatus]int)
	for _, st := range p.NodeStates {
		counts[st.Status]++
	}
	return counts
}

// OccupiedSlots counts nodes currently holding a concurrency slot.
func (p *Plan) OccupiedSlots() int {
	n := 0
	for _, st := range p.NodeStates {
		if st.Status.IsOccupying() {
			n++
		}
	}
	return n
}

// AggregateStatus derives the plan-level status from node states.
// Succeeded only when every node succeeded; running while anything is
// scheduled or running; failed once work has stopped with failed or blocked
// nodes left; canceled when work stopped and cancellation (not failure)
// explains every unfinished node.
func (p *Plan) AggregateStatus() PlanStatus {
	counts := p.StatusCounts()
	total := len(p.NodeStates)
	if total == 0 {
		return PlanPending
	}
	if counts[StatusSucceeded] == total {
		return PlanSucceeded
	}
	if counts[StatusScheduled] > 0 || counts[StatusRunning] > 0 {
		return PlanRunning
	}
	if counts[StatusPending] > 0 || counts[StatusReady] > 0 {
		return PlanPending
	}
	// Everything is terminal or blocked and nothing can make progress.
	if counts[StatusFailed] > 0 {
		return PlanFailed
	}
	if counts[StatusCanceled] > 0 {
		return PlanCanceled
	}
	return PlanFailed
}

// RecomputeGroupStates rebuilds the per-group aggregates, rolling every
// node's status up through all ancestor groups.
func (p *Plan) RecomputeGroupStates() {
	states := make(map[string]*GroupExecutionState, len(p.Groups))
	for gid := range p.Groups {
		states[gid] = &GroupExecutionState{GroupID: gid}
	}
	for _, node := range p.Nodes {
		if node.GroupID == "" {
			continue
		}
		st := p.NodeStates[node.ID]
		if st == nil {
			continue
		}
		segments := SplitGroupPath(node.GroupID)
		for i := range segments {
			ancestor := strings.Join(segments[:i+1], GroupPathSeparator)
			if gs, ok := states[ancestor]; ok {
				gs.tally(st.Status)
			}
		}
	}
	p.GroupStates = states
}
