package policy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestBuiltinPoliciesLoaded(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) != 6 {
		t.Errorf("expected 6 built-in policies, got %d", len(policies))
	}

	if _, err := e.GetPolicy("storage-security"); err != nil {
		t.Errorf("storage-security policy missing: %v", err)
	}
	if _, err := e.GetPolicy("nonexistent"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestStorageSecurityViolations(t *testing.T) {
	e := newTestEngine(t)

	resource := &engine.Resource{
		ID:   "foundation.storage",
		Type: "azure.storage_account",
		Name: "jirastprod",
		Config: json.RawMessage(`{
			"httpsOnly": false,
			"minimumTlsVersion": "TLS1_0",
			"allowBlobPublicAccess": true
		}`),
	}

	result, err := e.EvaluateResource(context.Background(), resource)
	if err != nil {
		t.Fatalf("EvaluateResource failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected insecure storage account to be denied")
	}
	if len(result.Violations) != 3 {
		t.Errorf("expected 3 violations, got %d: %+v", len(result.Violations), result.Violations)
	}
}

func TestCompliantStorageAllowed(t *testing.T) {
	e := newTestEngine(t)

	resource := &engine.Resource{
		ID:   "foundation.storage",
		Type: "azure.storage_account",
		Name: "jirastprod",
		Config: json.RawMessage(`{
			"httpsOnly": true,
			"minimumTlsVersion": "TLS1_2",
			"allowBlobPublicAccess": false
		}`),
	}

	result, err := e.EvaluateResource(context.Background(), resource)
	if err != nil {
		t.Fatalf("EvaluateResource failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("expected compliant storage account to pass, violations: %+v", result.Violations)
	}
}

func TestVaultRetentionFloor(t *testing.T) {
	e := newTestEngine(t)

	resource := &engine.Resource{
		ID:   "foundation.vault",
		Type: "azure.key_vault",
		Name: "jira-prod",
		Config: json.RawMessage(`{
			"enableSoftDelete": true,
			"softDeleteRetentionDays": 30,
			"enableRbacAuthorization": true
		}`),
	}

	result, err := e.EvaluateResource(context.Background(), resource)
	if err != nil {
		t.Fatalf("EvaluateResource failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected 30-day retention to be denied")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "vault-retention" && strings.Contains(v.Message, "minimum is 90") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected retention violation, got %+v", result.Violations)
	}
}

func TestReplicaBoundsInPlan(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		ID:          "plan-001",
		Environment: "prod",
		Units: []engine.PlanUnit{
			{
				ID:           "unit-app",
				ResourceID:   "application.containerapp",
				ResourceType: "azure.container_app",
				Phase:        engine.PhaseApplication,
				Operation:    engine.OperationCreate,
				DesiredState: json.RawMessage(`{
					"image": "bridgeacr.azurecr.io/jira-bridge:v1",
					"scale": {"minReplicas": 5, "maxReplicas": 3}
				}`),
			},
		},
	}

	result, err := e.EvaluatePlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected minReplicas > maxReplicas to be denied")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "replica-bounds" && v.ResourceID == "application.containerapp" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected replica-bounds violation, got %+v", result.Violations)
	}
}

func TestRegistryHostPinned(t *testing.T) {
	e := newTestEngine(t)

	resource := &engine.Resource{
		ID:   "application.containerapp",
		Type: "azure.container_app",
		Name: "jira-bridge-prod",
		Config: json.RawMessage(`{
			"image": "docker.io/library/nginx:latest",
			"scale": {"minReplicas": 0, "maxReplicas": 3}
		}`),
	}

	result, err := e.EvaluateResource(context.Background(), resource)
	if err != nil {
		t.Fatalf("EvaluateResource failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected non-ACR image to be denied")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "registry-host" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected registry-host violation, got %+v", result.Violations)
	}
}

func TestStorageAccountNaming(t *testing.T) {
	e := newTestEngine(t)

	resource := &engine.Resource{
		ID:     "foundation.storage",
		Type:   "azure.storage_account",
		Name:   "jira-st-prod", // hyphens not allowed for storage accounts
		Config: json.RawMessage(`{"httpsOnly": true, "minimumTlsVersion": "TLS1_2", "allowBlobPublicAccess": false}`),
	}

	result, err := e.EvaluateResource(context.Background(), resource)
	if err != nil {
		t.Fatalf("EvaluateResource failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected hyphenated storage account name to be denied")
	}
}

func TestMassDeleteWarnsButAllows(t *testing.T) {
	e := newTestEngine(t)

	units := make([]engine.PlanUnit, 5)
	for i := range units {
		units[i] = engine.PlanUnit{
			ID:           "unit-" + string(rune('a'+i)),
			ResourceID:   "foundation.res" + string(rune('a'+i)),
			ResourceType: "azure.resource_group",
			Operation:    engine.OperationDelete,
		}
	}

	plan := &engine.Plan{ID: "plan-destroy", Environment: "dev", Units: units}

	result, err := e.EvaluatePlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("warning-severity violation should not block, got %+v", result.Violations)
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "mass-delete" && v.Severity == "warning" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected mass-delete warning, got %+v", result.Violations)
	}
}

func TestDisablePolicy(t *testing.T) {
	e := newTestEngine(t)

	if err := e.DisablePolicy("storage-security"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	resource := &engine.Resource{
		ID:     "foundation.storage",
		Type:   "azure.storage_account",
		Name:   "jirastprod",
		Config: json.RawMessage(`{"httpsOnly": false, "minimumTlsVersion": "TLS1_0"}`),
	}

	result, err := e.EvaluateResource(context.Background(), resource)
	if err != nil {
		t.Fatalf("EvaluateResource failed: %v", err)
	}

	for _, v := range result.Violations {
		if v.Policy == "storage-security" {
			t.Errorf("disabled policy still produced violation: %+v", v)
		}
	}

	if err := e.EnablePolicy("storage-security"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
}
