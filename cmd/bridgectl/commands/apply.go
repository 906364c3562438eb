package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		phase       string
		refresh     bool
		autoApprove bool
		dryRun      bool
		outputsFile string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or reconcile the deployment",
		Long: `Apply converges Azure onto the desired state, one phase at a time.
The foundation phase runs first and its outputs (vault ID, environment
ID) are recorded in the store and written as a YAML artifact; the
application phase binds to those outputs.

A failed apply leaves created resources in place. Re-running the same
apply converges the remainder.`,
		Example: `  # Apply both phases
  bridgectl apply

  # Apply only the foundation, non-interactively
  bridgectl apply --phase foundation --auto-approve

  # Preview the full execution without touching Azure
  bridgectl apply --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			phases, err := phaseSequence(phase)
			if err != nil {
				return err
			}

			for _, p := range phases {
				if err := applyPhase(cmd, a, p, refresh, autoApprove, dryRun, outputsFile); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "all", "phase to apply (foundation, application, all)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "read live Azure state instead of trusting the store")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the interactive confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate execution without calling Azure")
	cmd.Flags().StringVar(&outputsFile, "outputs-file", "foundation-outputs.yaml", "path for the foundation outputs artifact")

	return cmd
}

// phaseSequence expands the phase flag into the ordered phases to run.
func phaseSequence(phase string) ([]string, error) {
	switch phase {
	case "foundation":
		return []string{"foundation"}, nil
	case "application":
		return []string{"application"}, nil
	case "all", "":
		return []string{"foundation", "application"}, nil
	default:
		return nil, fmt.Errorf("unknown phase %q (want foundation, application, or all)", phase)
	}
}

// applyPhase plans, gates, and executes a single phase.
func applyPhase(cmd *cobra.Command, a *app, phase string, refresh, autoApprove, dryRun bool, outputsFile string) error {
	ctx := cmd.Context()

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
	if err := printPlan(plan); err != nil {
		return err
	}

	mutating := plan.Summary.ToCreate + plan.Summary.ToUpdate + plan.Summary.ToDelete
	if mutating > 0 && !autoApprove && !dryRun {
		if !confirm(cmd, fmt.Sprintf("Apply %d changes to %s?", mutating, a.params.Environment)) {
			return fmt.Errorf("apply cancelled")
		}
	}

	log.Info().
		Str("phase", phase).
		Str("plan_id", plan.ID).
		Bool("dry_run", dryRun).
		Msg("Executing plan")

	run, err := a.runner.Execute(ctx, plan, engine.RunOptions{
		DryRun:   dryRun,
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
		return fmt.Errorf("run %s finished %s; re-run apply to converge the remainder", run.ID, run.Status)
	}

	if phase == "foundation" && !dryRun {
		return recordFoundationOutputs(ctx, a, outputsFile)
	}
	return nil
}

// recordFoundationOutputs persists the typed foundation outputs and
// writes the YAML artifact. When the run was a pure no-op (no unit
// produced outputs), the previously stored outputs are reused.
func recordFoundationOutputs(ctx context.Context, a *app, outputsFile string) error {
	outputs, err := deploy.CollectFoundationOutputs(
		a.params.Environment, a.params.Location, a.runner.Outputs())
	if err != nil {
		stored, loadErr := deploy.LoadFoundationOutputs(ctx, a.store, a.params.Environment)
		if loadErr != nil {
			return fmt.Errorf("foundation outputs unavailable: %w", err)
		}
		outputs = stored
	}

	if err := deploy.SaveFoundationOutputs(ctx, a.store, outputs); err != nil {
		return err
	}
	if outputsFile != "" {
		if err := deploy.WriteOutputsArtifact(outputs, outputsFile); err != nil {
			return err
		}
		log.Info().Str("path", outputsFile).Msg("Foundation outputs written")
	}
	return nil
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s Only 'yes' is accepted: ", prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
