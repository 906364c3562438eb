package engine

import (
	"context"
	"encoding/json"
	"testing"
)

func testResources() []Resource {
	return []Resource{
		{
			ID:     "foundation.rg",
			Type:   "azure.resource_group",
			Phase:  PhaseFoundation,
			Config: json.RawMessage(`{"name":"jira-rg-dev"}`),
		},
		{
			ID:           "foundation.vault",
			Type:         "azure.key_vault",
			Phase:        PhaseFoundation,
			Config:       json.RawMessage(`{"name":"jira-dev"}`),
			Dependencies: []string{"foundation.rg"},
		},
		{
			ID:           "application.identity",
			Type:         "azure.managed_identity",
			Phase:        PhaseApplication,
			Config:       json.RawMessage(`{"name":"jira-bridge-id-dev"}`),
			Dependencies: []string{"foundation.vault"},
		},
	}
}

func TestBuildPlanCreatesAll(t *testing.T) {
	planner := NewGraphPlanner(&fakeRegistry{provider: newFakeProvider()}, newMemoryState())

	plan, err := planner.BuildPlan(context.Background(), testResources(), PlanOptions{
		Environment: "dev",
	})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.Units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(plan.Units))
	}
	if plan.Summary.ToCreate != 3 {
		t.Errorf("summary.ToCreate = %d, want 3", plan.Summary.ToCreate)
	}
	if plan.Graph == nil || plan.Graph.Depth != 3 {
		t.Errorf("expected graph depth 3, got %+v", plan.Graph)
	}
}

func TestBuildPlanPhaseFilter(t *testing.T) {
	planner := NewGraphPlanner(&fakeRegistry{provider: newFakeProvider()}, newMemoryState())

	plan, err := planner.BuildPlan(context.Background(), testResources(), PlanOptions{
		Environment: "dev",
		Phase:       PhaseFoundation,
	})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.Units) != 2 {
		t.Fatalf("expected 2 foundation units, got %d", len(plan.Units))
	}
	for _, unit := range plan.Units {
		if unit.Phase != PhaseFoundation {
			t.Errorf("unit %s has phase %s, want foundation", unit.ResourceID, unit.Phase)
		}
	}
}

func TestBuildPlanApplicationPhaseSkipsForeignDeps(t *testing.T) {
	// The identity depends on foundation.vault, which is outside the
	// application plan. The dependency resolves through stored outputs,
	// so the unit must be a root.
	planner := NewGraphPlanner(&fakeRegistry{provider: newFakeProvider()}, newMemoryState())

	plan, err := planner.BuildPlan(context.Background(), testResources(), PlanOptions{
		Environment: "dev",
		Phase:       PhaseApplication,
	})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.Units) != 1 {
		t.Fatalf("expected 1 application unit, got %d", len(plan.Units))
	}
	if len(plan.Units[0].Dependencies) != 0 {
		t.Errorf("expected no in-plan dependencies, got %v", plan.Units[0].Dependencies)
	}
}

func TestBuildPlanNoopWhenConverged(t *testing.T) {
	provider := newFakeProvider()
	state := newMemoryState()
	planner := NewGraphPlanner(&fakeRegistry{provider: provider}, state)

	resources := testResources()
	for _, res := range resources {
		saved := res
		saved.State = res.Config
		if err := state.SaveResource(context.Background(), &saved); err != nil {
			t.Fatalf("SaveResource failed: %v", err)
		}
	}

	plan, err := planner.BuildPlan(context.Background(), resources, PlanOptions{Environment: "dev"})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if plan.Summary.NoChange != 3 {
		t.Errorf("summary.NoChange = %d, want 3", plan.Summary.NoChange)
	}
	if plan.Summary.ToCreate != 0 {
		t.Errorf("summary.ToCreate = %d, want 0", plan.Summary.ToCreate)
	}
}

func TestBuildPlanDestroyReversesOrder(t *testing.T) {
	provider := newFakeProvider()
	state := newMemoryState()
	planner := NewGraphPlanner(&fakeRegistry{provider: provider}, state)

	resources := testResources()[:2] // rg, vault
	for _, res := range resources {
		saved := res
		saved.State = res.Config
		if err := state.SaveResource(context.Background(), &saved); err != nil {
			t.Fatalf("SaveResource failed: %v", err)
		}
	}

	plan, err := planner.BuildPlan(context.Background(), resources, PlanOptions{
		Environment: "dev",
		Phase:       PhaseFoundation,
		Destroy:     true,
	})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	var rgUnit, vaultUnit *PlanUnit
	for i := range plan.Units {
		switch plan.Units[i].ResourceID {
		case "foundation.rg":
			rgUnit = &plan.Units[i]
		case "foundation.vault":
			vaultUnit = &plan.Units[i]
		}
	}
	if rgUnit == nil || vaultUnit == nil {
		t.Fatal("missing destroy units")
	}
	if rgUnit.Operation != OperationDelete || vaultUnit.Operation != OperationDelete {
		t.Errorf("operations = %s/%s, want delete/delete", rgUnit.Operation, vaultUnit.Operation)
	}
	// vault deletes first, then the resource group
	if vaultUnit.ExecutionOrder >= rgUnit.ExecutionOrder {
		t.Errorf("vault order %d should come before rg order %d",
			vaultUnit.ExecutionOrder, rgUnit.ExecutionOrder)
	}
}

func TestBuildPlanRejectsBackwardPhaseDependency(t *testing.T) {
	resources := []Resource{
		{
			ID:           "foundation.vault",
			Type:         "azure.key_vault",
			Phase:        PhaseFoundation,
			Config:       json.RawMessage(`{}`),
			Dependencies: []string{"application.identity"},
		},
		{
			ID:     "application.identity",
			Type:   "azure.managed_identity",
			Phase:  PhaseApplication,
			Config: json.RawMessage(`{}`),
		},
	}

	planner := NewGraphPlanner(&fakeRegistry{provider: newFakeProvider()}, newMemoryState())
	_, err := planner.BuildPlan(context.Background(), resources, PlanOptions{Environment: "dev"})
	if err == nil {
		t.Fatal("expected phase ordering error, got nil")
	}
}
