package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/agentplan/internal/domain"
)

var cancelJob string

var cancelCmd = &cobra.Command{
	Use:   "cancel <plan-id>",
	Short: "Cancel a plan, or one job with --job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelJob, "job", "", "producerId of a single job to cancel")
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	uow, err := store.BeginImmediate(cmd.Context())
	if err != nil {
		return err
	}
	defer uow.Rollback()

	plan, err := uow.Plans().Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	var targets []*domain.NodeExecutionState
	if cancelJob != "" {
		node := plan.NodeByProducerID(cancelJob)
		if node == nil {
			return fmt.Errorf("%w: job %s", domain.ErrNotFound, cancelJob)
		}
		targets = append(targets, plan.State(node.ID))
	} else {
		for _, st := range plan.NodeStates {
			targets = append(targets, st)
		}
	}

	canceled := 0
	for _, st := range targets {
		if st.Status.IsTerminal() {
			continue
		}
		if err := st.MarkEnded(domain.StatusCanceled, "", ""); err != nil {
			return err
		}
		if err := uow.NodeStates().Put(cmd.Context(), plan.ID, st); err != nil {
			return err
		}
		canceled++
	}
	if err := uow.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "canceled %d jobs in plan %s\n", canceled, plan.ID)
	return nil
}
