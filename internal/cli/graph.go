package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/agentplan/internal/domain"
)

var graphCmd = &cobra.Command{
	Use:   "graph <plan-id>",
	Short: "Render a plan's DAG with per-node status",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
}

func runGraph(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	uow, err := store.Begin(cmd.Context())
	if err != nil {
		return err
	}
	defer uow.Rollback()
	plan, err := uow.Plans().Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "plan %s (%s)\n\n", plan.ID, plan.Name)
	for i, level := range topoLevels(plan) {
		fmt.Fprintf(cmd.OutOrStdout(), "level %d\n", i)
		for _, id := range level {
			node := plan.Nodes[id]
			st := plan.State(id)
			line := fmt.Sprintf("  %s %-20s %s", statusGlyph(st.Status), node.ProducerID, st.Status)
			if len(node.Dependencies) > 0 {
				deps := make([]string, 0, len(node.Dependencies))
				for _, depID := range node.Dependencies {
					deps = append(deps, plan.Nodes[depID].ProducerID)
				}
				sort.Strings(deps)
				line += "  <- " + strings.Join(deps, ", ")
			}
			if st.Error != "" {
				line += "  (" + st.Error + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}
	return nil
}

// topoLevels layers the DAG: level 0 holds the roots, each later level holds
// nodes whose dependencies all sit in earlier levels. The builder rejects
// cycles, so every node lands in some level.
func topoLevels(plan *domain.Plan) [][]string {
	depth := make(map[string]int, len(plan.Nodes))
	remaining := make(map[string]int, len(plan.Nodes))
	queue := make([]string, 0, len(plan.Roots))
	for id, node := range plan.Nodes {
		remaining[id] = len(node.Dependencies)
		if len(node.Dependencies) == 0 {
			queue = append(queue, id)
		}
	}

	maxDepth := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if depth[id] > maxDepth {
			maxDepth = depth[id]
		}
		for _, depID := range plan.Nodes[id].Dependents {
			if d := depth[id] + 1; d > depth[depID] {
				depth[depID] = d
			}
			remaining[depID]--
			if remaining[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	levels := make([][]string, maxDepth+1)
	for id := range plan.Nodes {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	for _, level := range levels {
		sort.Slice(level, func(i, j int) bool {
			return plan.Nodes[level[i]].ProducerID < plan.Nodes[level[j]].ProducerID
		})
	}
	return levels
}

func statusGlyph(s domain.NodeStatus) string {
	switch s {
	case domain.StatusSucceeded:
		return "✓"
	case domain.StatusFailed:
		return "✗"
	case domain.StatusRunning, domain.StatusScheduled:
		return "▶"
	case domain.StatusBlocked, domain.StatusCanceled:
		return "⊘"
	default:
		return "·"
	}
}
