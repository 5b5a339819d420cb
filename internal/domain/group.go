package domain

import "strings"

// GroupPathSeparator splits nested group paths ("backend/api/auth").
const GroupPathSeparator = "/"

// Group is a named, path-addressed bucket of nodes. Groups nest: every
// slash-separated prefix of a member's path is itself a group, auto-created
// at build time.
type Group struct {
	ID       string // The full path doubles as the ID
	Name     string // Last path segment
	ParentID string // Empty for top-level groups
	NodeIDs  []string

	// NodeCount includes nodes of all descendant groups.
	NodeCount int
}

// SplitGroupPath returns the cleaned segments of a group path, or nil for an
// empty path.
func SplitGroupPath(path string) []string {
	path = strings.Trim(path, GroupPathSeparator)
	if path == "" {
		return nil
	}
	return strings.Split(path, GroupPathSeparator)
}

// GroupExecutionState aggregates member node statuses for one group,
// including every descendant group's members.
type GroupExecutionState struct {
	GroupID   string
	Running   int
	Succeeded int
	Failed    int
	Blocked   int
	Canceled  int
	Total     int
}

// tally folds one node status into the counts.
func (g *GroupExecutionState) tally(s NodeStatus) {
	g.Total++
	switch s {
	case StatusScheduled, StatusRunning:
		g.Running++
	case StatusSucceeded:
		g.Succeeded++
	case StatusFailed:
		g.Failed++
	case StatusBlocked:
		g.Blocked++
	case StatusCanceled:
		g.Canceled++
	}
}
