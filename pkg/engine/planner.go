package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Default execution budgets per resource type. Container apps and managed
// environments take minutes to provision; most other resources settle fast.
var defaultTimeouts = map[string]time.Duration{
	"azure.resource_group":      2 * time.Minute,
	"azure.storage_account":     5 * time.Minute,
	"azure.managed_environment": 15 * time.Minute,
	"azure.key_vault":           5 * time.Minute,
	"azure.key_vault_secret":    1 * time.Minute,
	"azure.managed_identity":    2 * time.Minute,
	"azure.role_assignment":     2 * time.Minute,
	"azure.rbac_wait":           10 * time.Minute,
	"azure.container_app":       15 * time.Minute,
}

// defaultTimeout applies when a resource type has no entry above.
const defaultTimeout = 5 * time.Minute

// defaultMaxRetries is the retry budget for retryable failures per unit.
const defaultMaxRetries = 4

// GraphPlanner builds execution plans by diffing desired resources against
// stored and live state through the provider.
type GraphPlanner struct {
	registry ProviderRegistry
	state    StateManager
}

// NewGraphPlanner creates a planner backed by the given provider registry
// and state manager.
func NewGraphPlanner(registry ProviderRegistry, state StateManager) *GraphPlanner {
	return &GraphPlanner{
		registry: registry,
		state:    state,
	}
}

// BuildPlan computes the plan for the given resources. Resources outside
// the requested phase are excluded before planning, so a foundation plan
// never touches application resources and vice versa.
func (p *GraphPlanner) BuildPlan(ctx context.Context, resources []Resource, opts PlanOptions) (*Plan, error) {
	selected := filterByPhase(resources, opts.Phase)
	if err := validateDependencyClosure(selected); err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:          uuid.New().String(),
		Environment: opts.Environment,
		Phase:       opts.Phase,
		CreatedAt:   time.Now(),
		Units:       make([]PlanUnit, 0, len(selected)),
	}

	unitIDByResource := make(map[string]string, len(selected))

	for i := range selected {
		res := &selected[i]

		unit, err := p.planResource(ctx, res, opts)
		if err != nil {
			return nil, err
		}

		unitIDByResource[res.ID] = unit.ID
		plan.Units = append(plan.Units, *unit)
	}

	// Map resource dependencies onto plan unit dependencies. Destroy
	// plans reverse every edge so teardown runs leaves-first.
	for i := range plan.Units {
		unit := &plan.Units[i]
		res := findResource(selected, unit.ResourceID)
		if res == nil {
			continue
		}
		for _, depResourceID := range res.Dependencies {
			depUnitID, ok := unitIDByResource[depResourceID]
			if !ok {
				// Cross-phase dependency satisfied by stored outputs.
				continue
			}
			if opts.Destroy {
				dependent := findUnitByResource(plan.Units, depResourceID)
				if dependent != nil {
					dependent.Dependencies = append(dependent.Dependencies, Dependency{
						TargetID: unit.ID,
						Type:     DependencyOrder,
					})
				}
				continue
			}
			unit.Dependencies = append(unit.Dependencies, Dependency{
				TargetID: depUnitID,
				Type:     DependencyRequire,
			})
		}
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(plan.Units)
	if err != nil {
		return nil, fmt.Errorf("failed to build execution graph: %w", err)
	}
	if err := builder.ValidateGraph(graph); err != nil {
		return nil, err
	}
	plan.Graph = graph
	plan.Summary = summarize(plan.Units)

	return plan, nil
}

// planResource determines the operation for a single resource.
func (p *GraphPlanner) planResource(ctx context.Context, res *Resource, opts PlanOptions) (*PlanUnit, error) {
	providerName := providerForType(res.Type)
	provider, err := p.registry.Get(providerName)
	if err != nil {
		return nil, NewPermanentError(
			fmt.Sprintf("no provider for resource type %s", res.Type), err,
		).WithCode(ErrCodeProviderFailed).WithResource(res.ID)
	}

	unit := &PlanUnit{
		ID:           uuid.New().String(),
		ResourceID:   res.ID,
		ResourceType: res.Type,
		Phase:        res.Phase,
		Status:       PlanStatusPending,
		ProviderName: providerName,
		DesiredState: res.Config,
		MaxRetries:   defaultMaxRetries,
		Timeout:      timeoutFor(res.Type),
	}

	stored, err := p.state.GetResource(ctx, res.ID)
	if err == nil && stored != nil {
		unit.ActualState = stored.State
	}

	if opts.Destroy {
		if unit.ActualState == nil {
			unit.Operation = OperationNoop
		} else {
			unit.Operation = OperationDelete
		}
		return unit, nil
	}

	// Refresh live state through the provider when asked, or when the
	// store has never seen this resource.
	if opts.Refresh || unit.ActualState == nil {
		read, err := provider.Read(ctx, ReadRequest{
			ResourceID:   res.ID,
			ResourceType: res.Type,
			Config:       res.Config,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", res.ID, err)
		}
		if read.Exists {
			unit.ActualState = read.State
		} else {
			unit.ActualState = nil
		}
	}

	resp, err := provider.Plan(ctx, PlanRequest{
		ResourceID:   res.ID,
		ResourceType: res.Type,
		DesiredState: res.Config,
		ActualState:  unit.ActualState,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to plan %s: %w", res.ID, err)
	}

	unit.Operation = resp.Operation
	unit.Changes = resp.Changes

	return unit, nil
}

// filterByPhase returns the resources belonging to the given phase, or all
// resources when phase is empty.
func filterByPhase(resources []Resource, phase Phase) []Resource {
	if phase == "" {
		return resources
	}
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		if r.Phase == phase {
			out = append(out, r)
		}
	}
	return out
}

// validateDependencyClosure rejects application resources depending on
// foundation resources that are neither in the plan nor recorded as phase
// outputs; those dependencies must resolve through FoundationOutputs.
func validateDependencyClosure(resources []Resource) error {
	index := make(map[string]*Resource, len(resources))
	for i := range resources {
		index[resources[i].ID] = &resources[i]
	}
	for i := range resources {
		res := &resources[i]
		for _, dep := range res.Dependencies {
			target, ok := index[dep]
			if !ok {
				// Cross-phase reference, resolved from stored outputs.
				continue
			}
			if res.Phase == PhaseFoundation && target.Phase == PhaseApplication {
				return NewPermanentError(
					fmt.Sprintf("foundation resource %s depends on application resource %s", res.ID, dep),
					nil,
				).WithCode(ErrCodeValidation).WithResource(res.ID)
			}
		}
	}
	return nil
}

func findResource(resources []Resource, id string) *Resource {
	for i := range resources {
		if resources[i].ID == id {
			return &resources[i]
		}
	}
	return nil
}

func findUnitByResource(units []PlanUnit, resourceID string) *PlanUnit {
	for i := range units {
		if units[i].ResourceID == resourceID {
			return &units[i]
		}
	}
	return nil
}

// providerForType maps a resource type to its provider name. All azure.*
// types are served by the compiled-in Azure provider.
func providerForType(resourceType string) string {
	for i := 0; i < len(resourceType); i++ {
		if resourceType[i] == '.' {
			return resourceType[:i]
		}
	}
	return resourceType
}

func timeoutFor(resourceType string) time.Duration {
	if d, ok := defaultTimeouts[resourceType]; ok {
		return d
	}
	return defaultTimeout
}

// summarize computes the plan summary from its units.
func summarize(units []PlanUnit) PlanSummary {
	s := PlanSummary{TotalResources: len(units)}
	for _, u := range units {
		switch u.Operation {
		case OperationCreate:
			s.ToCreate++
		case OperationUpdate:
			s.ToUpdate++
		case OperationDelete:
			s.ToDelete++
		case OperationNoop:
			s.NoChange++
		}
	}
	return s
}
