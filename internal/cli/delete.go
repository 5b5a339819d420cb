package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <plan-id>",
	Short: "Delete a plan, its worktrees and its persisted state",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	c := newCoordinator(store)
	if err := c.Load(cmd.Context()); err != nil {
		return err
	}
	defer c.Stop()

	if err := c.DeletePlan(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "plan %s deleted\n", args[0])
	return nil
}
