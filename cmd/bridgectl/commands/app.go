package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ticketbridge/ticketbridge/pkg/config"
	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
	"github.com/ticketbridge/ticketbridge/pkg/policy"
	"github.com/ticketbridge/ticketbridge/pkg/providers/azure"
	"github.com/ticketbridge/ticketbridge/pkg/stores"
	"github.com/ticketbridge/ticketbridge/pkg/telemetry"
)

// app bundles the wired components a command needs: parsed parameters,
// the state store, the provider registry, planner, runner, and the
// policy engine.
type app struct {
	params   *config.DeploymentParams
	store    *stores.SQLiteStore
	bus      *telemetry.EventBus
	registry *azure.Registry
	planner  *engine.GraphPlanner
	runner   *engine.GraphRunner
	policy   *policy.Engine
	logger   zerolog.Logger
}

// newApp loads parameters, opens the state store, and wires the engine.
// withProvider controls whether the Azure provider is initialized;
// commands that never call Azure (status) skip it so they work without
// credentials.
func newApp(ctx context.Context, withProvider bool) (*app, error) {
	logger := log.Logger
	if verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	params, err := loadParams(ctx)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	bus, err := telemetry.NewEventBus(telemetry.DefaultConfig().Events)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	policyEngine, err := policy.NewEngine(logger)
	if err != nil {
		bus.Close()
		store.Close()
		return nil, err
	}
	if policyDir != "" {
		if err := policyEngine.LoadPolicies(ctx, []string{policyDir}); err != nil {
			bus.Close()
			store.Close()
			return nil, err
		}
	}

	registry := azure.NewRegistry()
	if withProvider {
		provider := azure.NewProvider(logger)
		settings, err := json.Marshal(azure.Settings{
			SubscriptionID: params.SubscriptionID,
			TenantID:       os.Getenv("AZURE_TENANT_ID"),
		})
		if err != nil {
			bus.Close()
			store.Close()
			return nil, err
		}
		if err := provider.Init(ctx, engine.ProviderConfig{
			Name:   azure.ProviderName,
			Config: settings,
		}); err != nil {
			bus.Close()
			store.Close()
			return nil, err
		}
		if err := registry.Register(azure.ProviderName, provider); err != nil {
			bus.Close()
			store.Close()
			return nil, err
		}
	}

	return &app{
		params:   params,
		store:    store,
		bus:      bus,
		registry: registry,
		planner:  engine.NewGraphPlanner(registry, store),
		runner:   engine.NewGraphRunner(4, registry, bus, store),
		policy:   policyEngine,
		logger:   logger,
	}, nil
}

func (a *app) Close() {
	a.bus.Close()
	a.store.Close()
}

// loadParams parses and validates the deployment parameters.
func loadParams(ctx context.Context) (*config.DeploymentParams, error) {
	parser := config.NewParser()
	parsed, err := parser.Load(ctx, []string{paramsPath})
	if err != nil {
		return nil, fmt.Errorf("failed to load parameters from %s: %w", paramsPath, err)
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, ve := range parsed.Errors {
			msgs = append(msgs, ve.Message)
		}
		return nil, fmt.Errorf("invalid parameters in %s: %s", paramsPath, strings.Join(msgs, "; "))
	}

	params := parsed.Params
	params.ApplyDefaults()
	return &params, nil
}

// openStore opens, initializes, and migrates the SQLite state store.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: statePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// buildResources assembles the desired resource graph for the requested
// phase. The application and combined graphs bind to stored foundation
// outputs when they exist.
func (a *app) buildResources(ctx context.Context, phase string) ([]engine.Resource, error) {
	switch phase {
	case "foundation":
		return deploy.BuildFoundationGraph(a.params)
	case "application":
		outputs, err := deploy.LoadFoundationOutputs(ctx, a.store, a.params.Environment)
		if err != nil {
			return nil, fmt.Errorf("foundation outputs not found for %s; apply the foundation phase first: %w",
				a.params.Environment, err)
		}
		return deploy.BuildApplicationGraph(a.params, outputs)
	case "all", "":
		outputs, err := deploy.LoadFoundationOutputs(ctx, a.store, a.params.Environment)
		if err != nil {
			// No foundation yet: plan covers the foundation only.
			outputs = nil
		}
		return deploy.BuildAllResources(a.params, outputs)
	default:
		return nil, fmt.Errorf("unknown phase %q (want foundation, application, or all)", phase)
	}
}

// enginePhase maps a phase flag value to the planner's phase filter.
func enginePhase(phase string) engine.Phase {
	switch phase {
	case "foundation":
		return engine.PhaseFoundation
	case "application":
		return engine.PhaseApplication
	default:
		return ""
	}
}
