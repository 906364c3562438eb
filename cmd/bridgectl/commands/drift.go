package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func newDriftCommand() *cobra.Command {
	var failOnDrift bool

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare recorded state against live Azure state",
		Long: `Drift reads every recorded resource from Azure and diffs the live
state against the desired configuration. Role assignments and the RBAC
propagation wait are skipped; they cannot be located without a live
principal and are re-verified on every apply instead.`,
		Example: `  # Report drift
  bridgectl drift

  # Fail (exit 1) when any resource drifted, for CI
  bridgectl drift --fail-on-drift`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			provider, err := a.registry.Get("azure")
			if err != nil {
				return err
			}

			resources, err := a.store.ListResources(ctx, nil)
			if err != nil {
				return err
			}

			detections := make([]engine.DriftDetection, 0, len(resources))
			drifted := 0

			for i := range resources {
				res := &resources[i]
				detection := engine.DriftDetection{
					ResourceID:   res.ID,
					DetectedAt:   time.Now(),
					DesiredState: res.Config,
				}

				switch res.Type {
				case "azure.role_assignment", "azure.rbac_wait":
					detection.Status = engine.DriftStatusNotApplicable
					detections = append(detections, detection)
					continue
				}

				read, err := provider.Read(ctx, engine.ReadRequest{
					ResourceID:   res.ID,
					ResourceType: res.Type,
					Config:       res.Config,
				})
				if err != nil {
					log.Warn().Err(err).Str("resource", res.ID).Msg("Drift read failed")
					detection.Status = engine.DriftStatusUnknown
					detections = append(detections, detection)
					continue
				}
				if !read.Exists {
					detection.Status = engine.DriftStatusDrifted
					drifted++
					detections = append(detections, detection)
					continue
				}
				detection.ActualState = read.State

				resp, err := provider.Plan(ctx, engine.PlanRequest{
					ResourceID:   res.ID,
					ResourceType: res.Type,
					DesiredState: res.Config,
					ActualState:  read.State,
				})
				if err != nil {
					return err
				}
				if resp.Operation == engine.OperationNoop {
					detection.Status = engine.DriftStatusInSync
				} else {
					detection.Status = engine.DriftStatusDrifted
					detection.Drifts = resp.Changes
					drifted++
				}
				detections = append(detections, detection)
			}

			if jsonOutput {
				if err := printJSON(detections); err != nil {
					return err
				}
			} else {
				for _, d := range detections {
					fmt.Printf("  %-36s %s\n", d.ResourceID, d.Status)
					for _, change := range d.Drifts {
						fmt.Printf("      %s: %v -> %v\n", change.Path, change.Before, change.After)
					}
				}
				fmt.Printf("\n%d of %d resources drifted\n", drifted, len(detections))
			}

			if failOnDrift && drifted > 0 {
				return fmt.Errorf("%d resources drifted from desired state", drifted)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failOnDrift, "fail-on-drift", false, "exit non-zero when drift is found")

	return cmd
}
