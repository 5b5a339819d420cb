package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/service"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Recover persisted plans and run them until all complete",
	Long: `resume loads every persisted plan, fails nodes whose processes died while
the coordinator was down, and keeps scheduling until all loaded plans reach
a terminal status.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	c := newCoordinator(store)
	sub := c.Events().Subscribe("")
	defer c.Events().Unsubscribe(sub)

	if err := c.LoadAndRecover(cmd.Context()); err != nil {
		return err
	}
	c.Run(cmd.Context())
	defer c.Stop()

	watcher, err := service.WatchStore(c)
	if err != nil {
		log.Printf("resume: store watching disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	if allPlansSettled(c) {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to resume")
		return nil
	}

	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case ev := <-sub.Events:
			switch e := ev.(type) {
			case domain.PlanCompletedEvent:
				fmt.Fprintf(cmd.OutOrStdout(), "plan %s: %s\n", e.PlanID, e.Status)
			case domain.PlanDeletedEvent:
				fmt.Fprintf(cmd.OutOrStdout(), "plan %s deleted\n", e.PlanID)
			}
			if allPlansSettled(c) {
				return nil
			}
		}
	}
}

func allPlansSettled(c *service.Coordinator) bool {
	for _, plan := range c.ListPlans() {
		if plan.IsPaused {
			continue
		}
		if !plan.AggregateStatus().IsTerminal() {
			return false
		}
	}
	return true
}
