package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/agentplan/internal/builder"
	"github.com/example/agentplan/internal/domain"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan.yaml>",
	Short: "Validate a plan spec without creating or running anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	spec, err := domain.LoadPlanSpec(args[0])
	if err != nil {
		return err
	}

	plan, err := builder.Build(spec)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d problems:\n", len(verr.Problems))
			for _, p := range verr.Problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
			}
			return fmt.Errorf("plan spec is invalid")
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d jobs, %d roots, %d leaves, %d groups\n",
		len(plan.Nodes), len(plan.Roots), len(plan.Leaves), len(plan.Groups))
	return nil
}
