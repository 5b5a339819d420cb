package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <plan-id>",
	Short: "Pause a plan so no new jobs are dispatched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(cmd, args[0], true)
	},
}

var unpauseCmd = &cobra.Command{
	Use:   "unpause <plan-id>",
	Short: "Clear a plan's pause flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(cmd, args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(unpauseCmd)
}

// setPaused flips the persisted pause flag. A coordinator holding the plan
// picks the change up on its next store reconciliation; a later resume
// honors it immediately.
func setPaused(cmd *cobra.Command, planID string, paused bool) error {
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

	plan, err := uow.Plans().Get(cmd.Context(), planID)
	if err != nil {
		return err
	}
	plan.IsPaused = paused
	plan.StateVersion++
	if err := uow.Plans().UpdateMeta(cmd.Context(), plan); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}
	state := "paused"
	if !paused {
		state = "unpaused"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "plan %s %s\n", planID, state)
	return nil
}
