package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var phase string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate parameters and the desired resource graph",
		Long: `Validate parses the deployment parameters, builds the desired
resource graph, and checks every resource against its provider schema
and the built-in policies. No Azure calls are made.`,
		Example: `  # Validate the default parameters file
  bridgectl validate

  # Validate only the foundation phase
  bridgectl validate --phase foundation -p environments/prod.cue`,
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

			provider, err := a.registry.Get("azure")
			if err != nil {
				return err
			}

			failures := 0
			for i := range resources {
				res := &resources[i]

				if err := provider.Validate(ctx, res.Type, res.Config); err != nil {
					failures++
					fmt.Printf("  %s: %v\n", res.ID, err)
					continue
				}

				result, err := a.policy.EvaluateResource(ctx, res)
				if err != nil {
					return err
				}
				for _, w := range result.Warnings {
					fmt.Printf("  %s: warning: %s\n", res.ID, w)
				}
				if !result.Allowed {
					failures++
					for _, v := range result.Violations {
						fmt.Printf("  %s: policy %s: %s\n", res.ID, v.Policy, v.Message)
					}
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d resources failed validation", failures, len(resources))
			}

			log.Info().
				Int("resources", len(resources)).
				Str("environment", a.params.Environment).
				Msg("Validation passed")

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"environment": a.params.Environment,
					"resources":   len(resources),
					"valid":       true,
				})
			}
			fmt.Printf("All %d resources valid for environment %s\n",
				len(resources), a.params.Environment)
			return nil
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "all", "phase to validate (foundation, application, all)")

	return cmd
}
