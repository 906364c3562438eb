package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func buildTestPlan(t *testing.T, provider *fakeProvider, state *memoryState, resources []Resource) *Plan {
	t.Helper()
	planner := NewGraphPlanner(&fakeRegistry{provider: provider}, state)
	plan, err := planner.BuildPlan(context.Background(), resources, PlanOptions{Environment: "dev"})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	return plan
}

func TestExecuteAppliesInDependencyOrder(t *testing.T) {
	provider := newFakeProvider()
	state := newMemoryState()
	plan := buildTestPlan(t, provider, state, testResources())

	runner := NewGraphRunner(2, &fakeRegistry{provider: provider}, nil, state)
	run, err := runner.Execute(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}
	if run.Summary.Succeeded != 3 {
		t.Errorf("summary.Succeeded = %d, want 3", run.Summary.Succeeded)
	}

	pos := make(map[string]int)
	for i, id := range provider.applyLog {
		pos[id] = i
	}
	if pos["foundation.rg"] > pos["foundation.vault"] {
		t.Errorf("rg applied after vault: %v", provider.applyLog)
	}
	if pos["foundation.vault"] > pos["application.identity"] {
		t.Errorf("vault applied after identity: %v", provider.applyLog)
	}
}

func TestExecutePersistsResourceState(t *testing.T) {
	provider := newFakeProvider()
	state := newMemoryState()
	plan := buildTestPlan(t, provider, state, testResources())

	runner := NewGraphRunner(2, &fakeRegistry{provider: provider}, nil, state)
	if _, err := runner.Execute(context.Background(), plan, RunOptions{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	res, err := state.GetResource(context.Background(), "foundation.vault")
	if err != nil {
		t.Fatalf("GetResource failed: %v", err)
	}
	if res.Status != ResourceStatusReady {
		t.Errorf("resource status = %s, want ready", res.Status)
	}
	if res.Version != 1 {
		t.Errorf("resource version = %d, want 1", res.Version)
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.applyErrs["foundation.rg"] = []error{
		NewTransientError("provisioning not settled", nil),
	}
	state := newMemoryState()
	plan := buildTestPlan(t, provider, state, testResources()[:1])

	runner := NewGraphRunner(1, &fakeRegistry{provider: provider}, nil, state)
	run, err := runner.Execute(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("run status = %s, want succeeded after retry", run.Status)
	}
}

func TestExecuteSkipsDependentsOnPermanentFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.applyErrs["foundation.rg"] = []error{
		NewPermanentError("invalid location", nil).WithCode(ErrCodeValidation),
	}
	state := newMemoryState()
	plan := buildTestPlan(t, provider, state, testResources())

	runner := NewGraphRunner(2, &fakeRegistry{provider: provider}, nil, state)
	run, _ := runner.Execute(context.Background(), plan, RunOptions{})

	if run.Status != RunStatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if run.Summary.Failed != 1 {
		t.Errorf("summary.Failed = %d, want 1", run.Summary.Failed)
	}
	if run.Summary.Skipped != 2 {
		t.Errorf("summary.Skipped = %d, want 2", run.Summary.Skipped)
	}
	// No apply should have reached Azure for the dependents.
	for _, id := range provider.applyLog {
		if id == "foundation.vault" || id == "application.identity" {
			t.Errorf("dependent %s was applied after root failure", id)
		}
	}
}

func TestExecutePropagatesOutputsToDependents(t *testing.T) {
	provider := newFakeProvider()
	provider.outputs["foundation.vault"] = map[string]string{
		"vaultUri": "https://jira-dev.vault.azure.net/",
	}
	state := newMemoryState()
	plan := buildTestPlan(t, provider, state, testResources())

	runner := NewGraphRunner(2, &fakeRegistry{provider: provider}, nil, state)
	if _, err := runner.Execute(context.Background(), plan, RunOptions{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	inputs := provider.inputsLog["application.identity"]
	if inputs == nil {
		t.Fatal("identity apply received no inputs")
	}
	if got := inputs["foundation.vault"]["vaultUri"]; got != "https://jira-dev.vault.azure.net/" {
		t.Errorf("vaultUri input = %q", got)
	}

	collected := runner.Outputs()
	if collected["foundation.vault"]["vaultUri"] != "https://jira-dev.vault.azure.net/" {
		t.Errorf("runner outputs missing vault URI: %v", collected)
	}
}

func TestExecuteSeedsOutputsFromNoopDependencies(t *testing.T) {
	provider := newFakeProvider()
	state := newMemoryState()

	// The identity is already converged: its recorded state matches the
	// desired config, so it plans as a noop on this run.
	identityCfg := json.RawMessage(`{"name":"jira-bridge-id-dev","principalId":"11111111-2222-3333-4444-555555555555"}`)
	identity := Resource{
		ID:     "application.identity",
		Type:   "azure.managed_identity",
		Phase:  PhaseApplication,
		Config: identityCfg,
		State:  identityCfg,
		Status: ResourceStatusReady,
	}
	if err := state.SaveResource(context.Background(), &identity); err != nil {
		t.Fatalf("SaveResource failed: %v", err)
	}
	provider.applied[identity.ID] = identityCfg

	resources := []Resource{
		identity,
		{
			ID:           "application.role_assignment",
			Type:         "azure.role_assignment",
			Phase:        PhaseApplication,
			Config:       json.RawMessage(`{"roleDefinitionId":"4633458b-17de-408a-b874-0445c86b69e6"}`),
			Dependencies: []string{"application.identity"},
		},
	}
	plan := buildTestPlan(t, provider, state, resources)
	if plan.Summary.NoChange != 1 || plan.Summary.ToCreate != 1 {
		t.Fatalf("plan summary = %+v, want 1 noop and 1 create", plan.Summary)
	}

	runner := NewGraphRunner(1, &fakeRegistry{provider: provider}, nil, state)
	run, err := runner.Execute(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}

	// The noop identity never reaches the provider, but the role
	// assignment still sees its recorded principal ID.
	for _, id := range provider.applyLog {
		if id == "application.identity" {
			t.Fatalf("converged identity was re-applied: %v", provider.applyLog)
		}
	}
	inputs := provider.inputsLog["application.role_assignment"]
	if inputs == nil {
		t.Fatal("role assignment apply received no inputs")
	}
	if got := inputs["application.identity"]["principalId"]; got != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("principalId input = %q", got)
	}
}

func TestExecuteDryRunTouchesNothing(t *testing.T) {
	provider := newFakeProvider()
	state := newMemoryState()
	plan := buildTestPlan(t, provider, state, testResources())

	runner := NewGraphRunner(2, &fakeRegistry{provider: provider}, nil, state)
	run, err := runner.Execute(context.Background(), plan, RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("run status = %s, want succeeded", run.Status)
	}
	if len(provider.applyLog) != 0 {
		t.Errorf("dry run applied resources: %v", provider.applyLog)
	}
}

func TestExecuteReapplyConverges(t *testing.T) {
	provider := newFakeProvider()
	state := newMemoryState()
	resources := testResources()

	plan := buildTestPlan(t, provider, state, resources)
	runner := NewGraphRunner(2, &fakeRegistry{provider: provider}, nil, state)
	if _, err := runner.Execute(context.Background(), plan, RunOptions{}); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}

	// Second plan against the converged state is all noops.
	plan2 := buildTestPlan(t, provider, state, resources)
	if plan2.Summary.NoChange != 3 {
		t.Fatalf("second plan NoChange = %d, want 3", plan2.Summary.NoChange)
	}

	applyCount := len(provider.applyLog)
	run2, err := NewGraphRunner(2, &fakeRegistry{provider: provider}, nil, state).
		Execute(context.Background(), plan2, RunOptions{})
	if err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	if run2.Status != RunStatusSucceeded {
		t.Errorf("second run status = %s, want succeeded", run2.Status)
	}
	if len(provider.applyLog) != applyCount {
		t.Errorf("noop re-apply reached the provider: %v", provider.applyLog[applyCount:])
	}
}

func TestExecuteRejectsNilPlan(t *testing.T) {
	runner := NewGraphRunner(1, &fakeRegistry{provider: newFakeProvider()}, nil, newMemoryState())
	if _, err := runner.Execute(context.Background(), nil, RunOptions{}); err == nil {
		t.Fatal("expected error for nil plan")
	}

	if _, err := runner.Execute(context.Background(), &Plan{Units: []PlanUnit{{ID: "x"}}}, RunOptions{}); err == nil {
		t.Fatal("expected error for plan without graph")
	}
}

func TestExecuteDestroyPlan(t *testing.T) {
	provider := newFakeProvider()
	state := newMemoryState()
	resources := testResources()[:2]
	for _, res := range resources {
		saved := res
		saved.State = res.Config
		if err := state.SaveResource(context.Background(), &saved); err != nil {
			t.Fatalf("SaveResource failed: %v", err)
		}
		provider.applied[res.ID] = res.Config
	}

	planner := NewGraphPlanner(&fakeRegistry{provider: provider}, state)
	plan, err := planner.BuildPlan(context.Background(), resources, PlanOptions{
		Environment: "dev",
		Destroy:     true,
	})
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	runner := NewGraphRunner(1, &fakeRegistry{provider: provider}, nil, state)
	run, err := runner.Execute(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}

	if _, err := state.GetResource(context.Background(), "foundation.vault"); err == nil {
		t.Error("vault still present in state after destroy")
	}
	if len(provider.applied) != 0 {
		t.Errorf("provider still has resources: %v", provider.applied)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		retryable bool
		class     ErrorClass
	}{
		{"transient", NewTransientError("timeout", nil), true, ErrorClassTransient},
		{"throttled", NewThrottledError("429", nil), true, ErrorClassThrottled},
		{"conflict", NewConflictError("409", nil), true, ErrorClassConflict},
		{"permanent", NewPermanentError("bad sku", nil), false, ErrorClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := Classify(tt.err); got != tt.class {
				t.Errorf("Classify = %s, want %s", got, tt.class)
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	err := NewConflictError("assignment exists", nil).
		WithResource("application.roleassignment").
		WithOperation("create").
		WithCode(ErrCodeConflict)

	msg := err.Error()
	for _, want := range []string{"conflict", "application.roleassignment", "create"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
