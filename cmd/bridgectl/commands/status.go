package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var (
		runID string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded resources and runs",
		Long: `Status reads the local state store only; it never calls Azure.
Without flags it lists the recorded resources and the most recent runs
for the configured environment. With --run it shows one run's events.`,
		Example: `  # Recent runs and resource states
  bridgectl status

  # Event log of a specific run
  bridgectl status --run 4f7c9a12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if runID != "" {
				run, err := a.store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				events, err := a.store.GetEvents(ctx, runID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]interface{}{"run": run, "events": events})
				}
				if err := printRun(run); err != nil {
					return err
				}
				for _, ev := range events {
					fmt.Printf("  %s  %-22s %-32s %s\n",
						ev.Timestamp.Format("15:04:05"), ev.Type, ev.ResourceID, ev.Message)
				}
				return nil
			}

			resources, err := a.store.ListResources(ctx, nil)
			if err != nil {
				return err
			}
			runs, err := a.store.ListRuns(ctx, a.params.Environment, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{"resources": resources, "runs": runs})
			}

			fmt.Printf("Resources (%d):\n", len(resources))
			for _, res := range resources {
				fmt.Printf("  %-36s %-26s %-10s %s\n", res.ID, res.Type, res.Phase, res.Status)
			}

			fmt.Printf("\nRuns (%d):\n", len(runs))
			for _, run := range runs {
				fmt.Printf("  %-36s %-12s %-10s %s\n",
					run.ID, run.Phase, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show the events of a single run")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs to list")

	return cmd
}
