package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status [plan-id]",
	Short: "Show persisted plans, or the node states of one plan",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	if len(args) == 1 {
		return printPlan(cmd, uow, args[0])
	}
	return printPlans(cmd, uow)
}

func printPlans(cmd *cobra.Command, uow storage.UnitOfWork) error {
	plans, err := uow.Plans().List(cmd.Context())
	if err != nil {
		return err
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.Before(plans[j].CreatedAt) })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tNAME\tSTATUS\tJOBS\tCREATED")
	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			p.ID, p.Name, planStatusLabel(p), len(p.Nodes), p.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func planStatusLabel(p *domain.Plan) string {
	if p.IsPaused {
		return "paused"
	}
	return p.AggregateStatus().String()
}

func printPlan(cmd *cobra.Command, uow storage.UnitOfWork, planID string) error {
	plan, err := uow.Plans().Get(cmd.Context(), planID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "plan %s (%s): %s\n", plan.ID, plan.Name, planStatusLabel(plan))
	fmt.Fprintf(cmd.OutOrStdout(), "repo %s, base %s, target %s\n\n",
		plan.RepoPath, plan.BaseBranch, plan.TargetBranch)

	ids := make([]string, 0, len(plan.Nodes))
	for id := range plan.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return plan.Nodes[ids[i]].ProducerID < plan.Nodes[ids[j]].ProducerID
	})

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tATTEMPTS\tDETAIL")
	for _, id := range ids {
		node := plan.Nodes[id]
		st := plan.State(id)
		detail := st.Error
		if st.FailureReason != "" {
			detail = fmt.Sprintf("[%s] %s", st.FailureReason, st.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", node.ProducerID, st.Status, st.Attempts, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(plan.Groups) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nGROUP\tNODES")
		paths := make([]string, 0, len(plan.Groups))
		for path := range plan.Groups {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", path, plan.Groups[path].NodeCount)
		}
	}
	return nil
}
