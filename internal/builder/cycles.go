package builder

import (
	"sort"

	"github.com/example/agentplan/internal/domain"
)

const (
	colorWhite = iota // Unvisited
	colorGray         // On the active DFS path
	colorBlack        // Fully explored
)

// findCycles detects dependency cycles with an iterative depth-first search.
// The explicit frame stack avoids recursion-depth limits on pathological
// wide or deep graphs. Each cycle is rendered as producerIds in cycle order,
// closed by repeating the entry node.
func findCycles(plan *domain.Plan) [][]string {
	ids := make([]string, 0, len(plan.Nodes))
	for nodeID := range plan.Nodes {
		ids = append(ids, nodeID)
	}
	sort.Strings(ids)

	color := make(map[string]int, len(ids))
	var cycles [][]string

	type frame struct {
		nodeID string
		next   int // Index of the next dependency edge to follow
	}

	for _, start := range ids {
		if color[start] != colorWhite {
			continue
		}
		stack := []frame{{nodeID: start}}
		path := []string{start}
		color[start] = colorGray

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			deps := plan.Nodes[f.nodeID].Dependencies
			if f.next < len(deps) {
				child := deps[f.next]
				f.next++
				switch color[child] {
				case colorWhite:
					color[child] = colorGray
					path = append(path, child)
					stack = append(stack, frame{nodeID: child})
				case colorGray:
					// child is on the active path: the slice from its first
					// occurrence is the cycle.
					for i, onPath := range path {
						if onPath == child {
							cycles = append(cycles, renderCycle(plan, path[i:]))
							break
						}
					}
				}
			} else {
				color[f.nodeID] = colorBlack
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
			}
		}
	}
	return cycles
}

func renderCycle(plan *domain.Plan, nodeIDs []string) []string {
	out := make([]string, 0, len(nodeIDs)+1)
	for _, nodeID := range nodeIDs {
		out = append(out, plan.Nodes[nodeID].ProducerID)
	}
	// Close the loop for readability.
	out = append(out, plan.Nodes[nodeIDs[0]].ProducerID)
	return out
}
