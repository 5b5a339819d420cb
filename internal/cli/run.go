package cli

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/example/agentplan/internal/domain"
	"github.com/example/agentplan/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Create a plan from a YAML spec and run it to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	spec, err := domain.LoadPlanSpec(args[0])
	if err != nil {
		return err
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	c := newCoordinator(store)
	if err := c.LoadAndRecover(cmd.Context()); err != nil {
		return err
	}
	c.Run(cmd.Context())
	defer c.Stop()

	watcher, err := service.WatchStore(c)
	if err != nil {
		log.Printf("run: store watching disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	sub := c.Events().Subscribe("")
	defer c.Events().Unsubscribe(sub)

	plan, err := c.CreatePlan(cmd.Context(), spec)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(cmd.ErrOrStderr(), "plan is invalid:")
			for _, p := range verr.Problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
			}
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "plan %s created with %d jobs\n", plan.ID, len(plan.Nodes))

	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case ev := <-sub.Events:
			switch e := ev.(type) {
			case domain.NodeTransitionEvent:
				if e.PlanID == plan.ID {
					node := plan.Node(e.NodeID)
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s -> %s\n", node.ProducerID, e.From, e.To)
				}
			case domain.PlanCompletedEvent:
				if e.PlanID != plan.ID {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "plan %s: %s\n", plan.ID, e.Status)
				if e.Status != domain.PlanSucceeded {
					return fmt.Errorf("plan finished with status %s", e.Status)
				}
				return nil
			}
		}
	}
}
