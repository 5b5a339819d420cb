package service

import (
	"context"
	"log"

	"github.com/example/agentplan/internal/domain"
)

// allDepsSucceededLocked reports whether every dependency of node has
// succeeded. A node with no dependencies trivially qualifies.
func (c *Coordinator) allDepsSucceededLocked(plan *domain.Plan, node *domain.Node) bool {
	for _, depID := range node.Dependencies {
		st := plan.State(depID)
		if st == nil || st.Status != domain.StatusSucceeded {
			return false
		}
	}
	return true
}

// anyDepUnrunnableLocked reports whether some dependency of node is failed,
// canceled or itself blocked, which makes node unrunnable.
func (c *Coordinator) anyDepUnrunnableLocked(plan *domain.Plan, node *domain.Node) bool {
	for _, depID := range node.Dependencies {
		st := plan.State(depID)
		if st == nil {
			continue
		}
		switch st.Status {
		case domain.StatusFailed, domain.StatusCanceled, domain.StatusBlocked:
			return true
		}
	}
	return false
}

// promoteDependentsLocked moves direct dependents of a succeeded node from
// pending to ready when their last remaining dependency just completed.
func (c *Coordinator) promoteDependentsLocked(ctx context.Context, plan *domain.Plan, node *domain.Node) {
	for _, depID := range node.Dependents {
		st := plan.State(depID)
		if st == nil || st.Status != domain.StatusPending {
			continue
		}
		if !c.allDepsSucceededLocked(plan, plan.Nodes[depID]) {
			continue
		}
		if err := c.transitionLocked(ctx, plan, st, func() error {
			return st.SetStatus(domain.StatusReady)
		}); err != nil {
			log.Printf("coordinator: failed to promote node %s: %v", depID, err)
		}
	}
}

// blockDownstreamLocked marks the whole transitive downstream of a failed or
// canceled node as blocked. Nodes that already reached a terminal or active
// state are left alone.
func (c *Coordinator) blockDownstreamLocked(ctx context.Context, plan *domain.Plan, node *domain.Node) {
	if node == nil {
		return
	}
	visited := make(map[string]bool)
	queue := append([]string(nil), node.Dependents...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		st := plan.State(id)
		if st != nil && (st.Status == domain.StatusPending || st.Status == domain.StatusReady) {
			if err := c.transitionLocked(ctx, plan, st, func() error {
				return st.SetStatus(domain.StatusBlocked)
			}); err != nil {
				log.Printf("coordinator: failed to block node %s: %v", id, err)
			}
		}
		if next := plan.Nodes[id]; next != nil {
			queue = append(queue, next.Dependents...)
		}
	}
}

// unblockDownstreamLocked re-evaluates blocked nodes downstream of a retried
// node, breadth-first so upstream decisions are settled before their
// dependents are examined. A blocked node whose dependencies are all clear of
// failure moves back to pending, or straight to ready when every dependency
// has already succeeded. Nodes still pinned by another failed chain stay
// blocked.
func (c *Coordinator) unblockDownstreamLocked(ctx context.Context, plan *domain.Plan, node *domain.Node) {
	if node == nil {
		return
	}
	visited := make(map[string]bool)
	queue := append([]string(nil), node.Dependents...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		st := plan.State(id)
		next := plan.Nodes[id]
		if st != nil && next != nil && st.Status == domain.StatusBlocked && !c.anyDepUnrunnableLocked(plan, next) {
			to := domain.StatusPending
			if c.allDepsSucceededLocked(plan, next) {
				to = domain.StatusReady
			}
			if err := c.transitionLocked(ctx, plan, st, func() error {
				return st.SetStatus(to)
			}); err != nil {
				log.Printf("coordinator: failed to unblock node %s: %v", id, err)
			}
		}
		if next != nil {
			queue = append(queue, next.Dependents...)
		}
	}
}
