package commands

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		phase   string
		refresh bool
		outFile string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what an apply would change",
		Long: `Plan builds the desired resource graph, diffs it against recorded
(or refreshed) state, and prints the resulting operations without
changing anything. The plan is persisted so a later apply can reuse it.`,
		Example: `  # Plan both phases
  bridgectl plan

  # Plan the foundation against live Azure state
  bridgectl plan --phase foundation --refresh

  # Save the plan as JSON for review
  bridgectl plan --out plan.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			resources, err := a.buildResources(ctx, phase)
			if err != nil {
				return err
			}

			plan, err := a.planner.BuildPlan(ctx, resources, engine.PlanOptions{
				Environment: a.params.Environment,
				Phase:       enginePhase(phase),
				Refresh:     refresh,
			})
			if err != nil {
				return err
			}

			result, err := a.policy.EvaluatePlan(ctx, plan)
			if err != nil {
				return err
			}
			if err := printPolicyResult(result); err != nil {
				return err
			}

			if err := a.store.SavePlan(ctx, plan); err != nil {
				return err
			}
			log.Debug().Str("plan_id", plan.ID).Msg("Plan persisted")

			if outFile != "" {
				raw, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(outFile, raw, 0o644); err != nil {
					return err
				}
			}

			return printPlan(plan)
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "all", "phase to plan (foundation, application, all)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "read live Azure state instead of trusting the store")
	cmd.Flags().StringVar(&outFile, "out", "", "write the plan as JSON to this file")

	return cmd
}
