package commands

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func newDevCommand() *cobra.Command {
	var phase string

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch the parameters file and re-plan on change",
		Long: `Dev watches the deployment parameters for changes and prints a fresh
plan after every save. Nothing is applied; it is a tight feedback loop
for editing parameters.`,
		Example: `  # Re-plan the foundation whenever prod.cue changes
  bridgectl dev --phase foundation -p environments/prod.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			// Watch the containing directory; editors replace files
			// rather than writing them in place.
			watchTarget := paramsPath
			watchDir := filepath.Dir(paramsPath)
			if err := watcher.Add(watchDir); err != nil {
				return err
			}

			replan := func() {
				params, err := loadParams(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Parameters invalid")
					return
				}
				a.params = params

				resources, err := a.buildResources(ctx, phase)
				if err != nil {
					log.Error().Err(err).Msg("Failed to build resource graph")
					return
				}
				plan, err := a.planner.BuildPlan(ctx, resources, engine.PlanOptions{
					Environment: a.params.Environment,
					Phase:       enginePhase(phase),
				})
				if err != nil {
					log.Error().Err(err).Msg("Planning failed")
					return
				}
				if result, err := a.policy.EvaluatePlan(ctx, plan); err == nil {
					if perr := printPolicyResult(result); perr != nil {
						log.Warn().Err(perr).Msg("Plan would be denied")
					}
				}
				if err := printPlan(plan); err != nil {
					log.Error().Err(err).Msg("Failed to print plan")
				}
			}

			log.Info().Str("path", watchTarget).Msg("Watching for changes, Ctrl-C to stop")
			replan()

			// Debounce bursts of write events from a single save.
			var debounce *time.Timer
			pending := make(chan struct{}, 1)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-pending:
					replan()
				case err := <-watcher.Errors:
					log.Error().Err(err).Msg("Watcher error")
				case event := <-watcher.Events:
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					if !watchesPath(watchTarget, event.Name) {
						continue
					}
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(300*time.Millisecond, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})
				}
			}
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "all", "phase to plan (foundation, application, all)")

	return cmd
}

// watchesPath reports whether the changed file is the watched target,
// or inside it when the target is a directory.
func watchesPath(target, changed string) bool {
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return true
	}
	changedAbs, err := filepath.Abs(changed)
	if err != nil {
		return true
	}
	if targetAbs == changedAbs {
		return true
	}
	rel, err := filepath.Rel(targetAbs, changedAbs)
	if err != nil {
		return false
	}
	return !filepath.IsAbs(rel) && rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
