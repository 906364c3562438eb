package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func newDestroyCommand() *cobra.Command {
	var (
		phase       string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down deployed resources",
		Long: `Destroy deletes the resources of the selected phase in reverse
dependency order. Destroying everything removes the application layer
before the foundation so the container app never outlives its vault.

Key vault and secret deletions are soft deletes; the vault stays
recoverable for its retention window.`,
		Example: `  # Tear down the application layer only
  bridgectl destroy --phase application

  # Tear down everything without prompting
  bridgectl destroy --phase all --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			// Reverse phase order: the application layer goes first.
			phases, err := phaseSequence(phase)
			if err != nil {
				return err
			}
			if len(phases) == 2 {
				phases = []string{"application", "foundation"}
			}

			for _, p := range phases {
				resources, err := a.buildResources(ctx, p)
				if err != nil {
					return err
				}

				plan, err := a.planner.BuildPlan(ctx, resources, engine.PlanOptions{
					Environment: a.params.Environment,
					Phase:       enginePhase(p),
					Destroy:     true,
				})
				if err != nil {
					return err
				}
				if err := printPlan(plan); err != nil {
					return err
				}

				if plan.Summary.ToDelete == 0 {
					log.Info().Str("phase", p).Msg("Nothing to destroy")
					continue
				}

				if !autoApprove {
					if !confirm(cmd, fmt.Sprintf("Destroy %d resources in %s?",
						plan.Summary.ToDelete, a.params.Environment)) {
						return fmt.Errorf("destroy cancelled")
					}
				}

				run, err := a.runner.Execute(ctx, plan, engine.RunOptions{
					FailFast: true,
					User:     os.Getenv("USER"),
				})
				if err != nil {
					return err
				}
				if err := printRun(run); err != nil {
					return err
				}
				if run.Status != engine.RunStatusSucceeded {
					return fmt.Errorf("destroy run %s finished %s", run.ID, run.Status)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "application", "phase to destroy (foundation, application, all)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the interactive confirmation")

	return cmd
}
