package engine

import (
	"strings"
	"testing"
)

func makeUnit(id string, deps ...string) PlanUnit {
	dependencies := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		dependencies = append(dependencies, Dependency{TargetID: d, Type: DependencyRequire})
	}
	return PlanUnit{
		ID:           id,
		ResourceID:   "foundation." + id,
		Operation:    OperationCreate,
		Status:       PlanStatusPending,
		Dependencies: dependencies,
	}
}

func TestBuildGraphEmpty(t *testing.T) {
	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(nil)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	if graph.Depth != 0 {
		t.Errorf("expected depth 0, got %d", graph.Depth)
	}
	if len(graph.Nodes) != 0 {
		t.Errorf("expected no nodes, got %d", len(graph.Nodes))
	}
}

func TestBuildGraphLevels(t *testing.T) {
	// rg -> {storage, env, vault}; vault -> secrets
	units := []PlanUnit{
		makeUnit("rg"),
		makeUnit("storage", "rg"),
		makeUnit("env", "rg"),
		makeUnit("vault", "rg"),
		makeUnit("secrets", "vault"),
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(units)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	if graph.Depth != 3 {
		t.Fatalf("expected depth 3, got %d", graph.Depth)
	}

	levels := builder.GetLevels()
	if len(levels[0]) != 1 || levels[0][0] != "rg" {
		t.Errorf("level 0 = %v, want [rg]", levels[0])
	}
	if len(levels[1]) != 3 {
		t.Errorf("level 1 has %d units, want 3", len(levels[1]))
	}
	if len(levels[2]) != 1 || levels[2][0] != "secrets" {
		t.Errorf("level 2 = %v, want [secrets]", levels[2])
	}

	if len(graph.Roots) != 1 || graph.Roots[0] != "rg" {
		t.Errorf("roots = %v, want [rg]", graph.Roots)
	}

	if err := builder.ValidateGraph(graph); err != nil {
		t.Errorf("ValidateGraph failed: %v", err)
	}
}

func TestBuildGraphExecutionOrder(t *testing.T) {
	units := []PlanUnit{
		makeUnit("identity"),
		makeUnit("roleassignment", "identity"),
		makeUnit("rbacwait", "roleassignment"),
		makeUnit("containerapp", "rbacwait", "identity"),
	}

	builder := NewDAGBuilder()
	_, err := builder.BuildGraph(units)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	order := make(map[string]int)
	for _, u := range units {
		order[u.ID] = u.ExecutionOrder
	}

	if order["identity"] >= order["roleassignment"] {
		t.Errorf("identity (%d) should come before roleassignment (%d)",
			order["identity"], order["roleassignment"])
	}
	if order["roleassignment"] >= order["rbacwait"] {
		t.Errorf("roleassignment (%d) should come before rbacwait (%d)",
			order["roleassignment"], order["rbacwait"])
	}
	if order["rbacwait"] >= order["containerapp"] {
		t.Errorf("rbacwait (%d) should come before containerapp (%d)",
			order["rbacwait"], order["containerapp"])
	}
}

func TestBuildGraphCycleDetection(t *testing.T) {
	units := []PlanUnit{
		makeUnit("a", "c"),
		makeUnit("b", "a"),
		makeUnit("c", "b"),
	}

	builder := NewDAGBuilder()
	_, err := builder.BuildGraph(units)
	if err == nil {
		t.Fatal("expected cycle detection error, got nil")
	}
	if !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildGraphMissingDependency(t *testing.T) {
	units := []PlanUnit{
		makeUnit("app", "missing"),
	}

	builder := NewDAGBuilder()
	_, err := builder.BuildGraph(units)
	if err == nil {
		t.Fatal("expected missing dependency error, got nil")
	}
	if !strings.Contains(err.Error(), "non-existent") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildGraphDuplicateID(t *testing.T) {
	units := []PlanUnit{
		makeUnit("vault"),
		makeUnit("vault"),
	}

	builder := NewDAGBuilder()
	_, err := builder.BuildGraph(units)
	if err == nil {
		t.Fatal("expected duplicate ID error, got nil")
	}
}

func TestBuildGraphEmptyID(t *testing.T) {
	units := []PlanUnit{{ID: "", ResourceID: "foundation.x"}}

	builder := NewDAGBuilder()
	_, err := builder.BuildGraph(units)
	if err == nil {
		t.Fatal("expected empty ID error, got nil")
	}
}

func TestToDOT(t *testing.T) {
	units := []PlanUnit{
		makeUnit("rg"),
		makeUnit("vault", "rg"),
	}

	builder := NewDAGBuilder()
	if _, err := builder.BuildGraph(units); err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	dot := builder.ToDOT()
	if !strings.Contains(dot, "digraph ExecutionGraph") {
		t.Error("DOT output missing digraph header")
	}
	if !strings.Contains(dot, `"rg" -> "vault"`) {
		t.Errorf("DOT output missing edge:\n%s", dot)
	}
}
