package domain

// Node is one unit of work in a plan. Identified internally by UUID and
// externally by the human-chosen ProducerID, which is stable across retries
// and unique within the plan. Immutable after build; execution bookkeeping
// lives in NodeExecutionState.
type Node struct {
	ID         string
	ProducerID string
	Name       string
	Task       string

	// Optional command strings run inside the node's worktree.
	Prechecks  string
	Work       string
	Postchecks string

	// Instructions is free-form guidance forwarded to the executor.
	Instructions string

	// BaseBranch overrides the plan's base branch for this node, if set.
	BaseBranch string

	// ExpectsNoChanges marks jobs that must not produce commits; any change
	// is treated as a failure.
	ExpectsNoChanges bool

	// AutoHeal grants one automatic retry on failure.
	AutoHeal bool

	Dependencies []string // Node IDs this node depends on
	Dependents   []string // Reverse edges, computed at build time
	GroupID      string   // Owning group path, if any
}

// IsRoot returns true if the node has no dependencies.
func (n *Node) IsRoot() bool {
	return len(n.Dependencies) == 0
}

// IsLeaf returns true if no other node depends on this one.
func (n *Node) IsLeaf() bool {
	return len(n.Dependents) == 0
}
