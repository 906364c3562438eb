package deploy

import (
	"encoding/json"
	"testing"

	"github.com/ticketbridge/ticketbridge/pkg/config"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func testParams() *config.DeploymentParams {
	p := &config.DeploymentParams{
		Environment:    "prod",
		Location:       "westeurope",
		SubscriptionID: "c9d5e0a1-2b3c-4d5e-8f90-112233445566",
		Registry: config.RegistryParams{
			Name:      "bridgeacr",
			ImageName: "jira-bridge",
			ImageTag:  "v1.2.3",
		},
		Tags: map[string]string{"team": "platform"},
	}
	p.ApplyDefaults()
	return p
}

func testOutputs() *FoundationOutputs {
	return &FoundationOutputs{
		Environment:            "prod",
		Location:               "westeurope",
		ResourceGroup:          "jira-rg-prod",
		VaultName:              "jira-prod",
		VaultID:                "/subscriptions/c9d5e0a1-2b3c-4d5e-8f90-112233445566/resourceGroups/jira-rg-prod/providers/Microsoft.KeyVault/vaults/jira-prod",
		VaultURI:               "https://jira-prod.vault.azure.net/",
		StorageAccountName:     "jirastprod",
		ManagedEnvironmentName: "jira-env-prod",
		ManagedEnvironmentID:   "/subscriptions/c9d5e0a1-2b3c-4d5e-8f90-112233445566/resourceGroups/jira-rg-prod/providers/Microsoft.App/managedEnvironments/jira-env-prod",
	}
}

func findByID(t *testing.T, resources []engine.Resource, id string) *engine.Resource {
	t.Helper()
	for i := range resources {
		if resources[i].ID == id {
			return &resources[i]
		}
	}
	t.Fatalf("resource %s not found", id)
	return nil
}

func TestFoundationGraphShape(t *testing.T) {
	resources, err := BuildFoundationGraph(testParams())
	if err != nil {
		t.Fatalf("BuildFoundationGraph failed: %v", err)
	}

	// Resource group, storage, environment, vault, plus one unit per secret.
	want := 4 + len(RequiredSecrets)
	if len(resources) != want {
		t.Fatalf("expected %d resources, got %d", want, len(resources))
	}

	for i := range resources {
		if resources[i].Phase != engine.PhaseFoundation {
			t.Errorf("resource %s in wrong phase %s", resources[i].ID, resources[i].Phase)
		}
	}

	rg := findByID(t, resources, ResourceGroupID)
	if rg.Name != "jira-rg-prod" {
		t.Errorf("unexpected resource group name %q", rg.Name)
	}
	if len(rg.Dependencies) != 0 {
		t.Errorf("resource group should have no dependencies, got %v", rg.Dependencies)
	}

	storage := findByID(t, resources, StorageAccountID)
	if storage.Name != "jirastprod" {
		t.Errorf("unexpected storage account name %q", storage.Name)
	}
	if len(storage.Dependencies) != 1 || storage.Dependencies[0] != ResourceGroupID {
		t.Errorf("storage should depend on the resource group, got %v", storage.Dependencies)
	}
}

func TestFoundationStorageSecurityFlags(t *testing.T) {
	resources, err := BuildFoundationGraph(testParams())
	if err != nil {
		t.Fatalf("BuildFoundationGraph failed: %v", err)
	}

	var cfg StorageAccountConfig
	if err := json.Unmarshal(findByID(t, resources, StorageAccountID).Config, &cfg); err != nil {
		t.Fatalf("failed to decode storage config: %v", err)
	}

	if !cfg.HTTPSOnly {
		t.Error("storage must enforce HTTPS only")
	}
	if cfg.MinimumTLSVersion != "TLS1_2" {
		t.Errorf("expected TLS1_2 floor, got %s", cfg.MinimumTLSVersion)
	}
	if cfg.AllowBlobPublicAccess {
		t.Error("public blob access must be denied")
	}
	if cfg.SKU != "Standard_LRS" || cfg.Kind != "StorageV2" {
		t.Errorf("unexpected sku/kind %s/%s", cfg.SKU, cfg.Kind)
	}
}

func TestFoundationVaultPosture(t *testing.T) {
	resources, err := BuildFoundationGraph(testParams())
	if err != nil {
		t.Fatalf("BuildFoundationGraph failed: %v", err)
	}

	var cfg KeyVaultConfig
	if err := json.Unmarshal(findByID(t, resources, VaultID).Config, &cfg); err != nil {
		t.Fatalf("failed to decode vault config: %v", err)
	}

	if !cfg.EnableSoftDelete {
		t.Error("vault must enable soft delete")
	}
	if cfg.SoftDeleteRetentionDays != 90 {
		t.Errorf("expected 90-day retention, got %d", cfg.SoftDeleteRetentionDays)
	}
	if !cfg.EnableRbacAuthorization {
		t.Error("vault must use RBAC authorization")
	}
}

func TestFoundationSecretPlaceholders(t *testing.T) {
	resources, err := BuildFoundationGraph(testParams())
	if err != nil {
		t.Fatalf("BuildFoundationGraph failed: %v", err)
	}

	if len(RequiredSecrets) != 7 {
		t.Fatalf("expected 7 required secrets, got %d", len(RequiredSecrets))
	}

	for _, name := range RequiredSecrets {
		res := findByID(t, resources, SecretResourceID(name))

		var cfg SecretConfig
		if err := json.Unmarshal(res.Config, &cfg); err != nil {
			t.Fatalf("failed to decode secret config for %s: %v", name, err)
		}
		if cfg.Value != name {
			t.Errorf("secret %s placeholder value should equal its name, got %q", name, cfg.Value)
		}
		if cfg.VaultName != "jira-prod" {
			t.Errorf("secret %s bound to wrong vault %q", name, cfg.VaultName)
		}
		if len(res.Dependencies) != 1 || res.Dependencies[0] != VaultID {
			t.Errorf("secret %s should depend on the vault, got %v", name, res.Dependencies)
		}
	}
}

func TestApplicationGraphRequiresOutputs(t *testing.T) {
	if _, err := BuildApplicationGraph(testParams(), nil); err == nil {
		t.Fatal("expected error when foundation outputs are missing")
	}

	incomplete := testOutputs()
	incomplete.ManagedEnvironmentID = ""
	if _, err := BuildApplicationGraph(testParams(), incomplete); err == nil {
		t.Fatal("expected error for incomplete foundation outputs")
	}
}

func TestApplicationGraphShape(t *testing.T) {
	resources, err := BuildApplicationGraph(testParams(), testOutputs())
	if err != nil {
		t.Fatalf("BuildApplicationGraph failed: %v", err)
	}

	if len(resources) != 4 {
		t.Fatalf("expected 4 application resources, got %d", len(resources))
	}

	assignment := findByID(t, resources, RoleAssignmentID)
	var raCfg RoleAssignmentConfig
	if err := json.Unmarshal(assignment.Config, &raCfg); err != nil {
		t.Fatalf("failed to decode role assignment config: %v", err)
	}
	if raCfg.Scope != testOutputs().VaultID {
		t.Errorf("role assignment scoped to %q, want the vault", raCfg.Scope)
	}
	if raCfg.PrincipalSource != IdentityID {
		t.Errorf("role assignment should source its principal from the identity, got %q", raCfg.PrincipalSource)
	}

	wait := findByID(t, resources, RBACWaitID)
	if len(wait.Dependencies) != 1 || wait.Dependencies[0] != RoleAssignmentID {
		t.Errorf("wait should depend on the role assignment, got %v", wait.Dependencies)
	}

	app := findByID(t, resources, ContainerAppID)
	deps := map[string]bool{}
	for _, d := range app.Dependencies {
		deps[d] = true
	}
	if !deps[RBACWaitID] {
		t.Error("container app must depend on the RBAC propagation wait")
	}
	if !deps[IdentityID] {
		t.Error("container app must depend on the identity")
	}

	var appCfg ContainerAppConfig
	if err := json.Unmarshal(app.Config, &appCfg); err != nil {
		t.Fatalf("failed to decode container app config: %v", err)
	}
	if appCfg.Image != "bridgeacr.azurecr.io/jira-bridge:v1.2.3" {
		t.Errorf("unexpected image %q", appCfg.Image)
	}
	if appCfg.Scale.ConcurrentRequests != 100 {
		t.Errorf("expected 100 concurrent requests trigger, got %d", appCfg.Scale.ConcurrentRequests)
	}
	if appCfg.Scale.MinReplicas != 0 {
		t.Errorf("expected scale-to-zero default, got minReplicas=%d", appCfg.Scale.MinReplicas)
	}
	if appCfg.Registry.Server != "bridgeacr.azurecr.io" {
		t.Errorf("unexpected registry server %q", appCfg.Registry.Server)
	}
	if appCfg.EnvironmentID == "" {
		t.Error("container app must bind the managed environment ID from outputs")
	}
}

func TestRoleDefinitionPath(t *testing.T) {
	got := RoleDefinitionResourceID("c9d5e0a1-2b3c-4d5e-8f90-112233445566", KeyVaultSecretsUserRoleID)
	want := "/subscriptions/c9d5e0a1-2b3c-4d5e-8f90-112233445566/providers/Microsoft.Authorization/roleDefinitions/4633458b-17de-408a-b874-0445c86b69e6"
	if got != want {
		t.Errorf("role definition path mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestBuildAllResources(t *testing.T) {
	all, err := BuildAllResources(testParams(), testOutputs())
	if err != nil {
		t.Fatalf("BuildAllResources failed: %v", err)
	}
	if len(all) != 4+len(RequiredSecrets)+4 {
		t.Fatalf("unexpected combined resource count %d", len(all))
	}

	// Without outputs only the foundation half is buildable.
	foundationOnly, err := BuildAllResources(testParams(), nil)
	if err != nil {
		t.Fatalf("BuildAllResources without outputs failed: %v", err)
	}
	if len(foundationOnly) != 4+len(RequiredSecrets) {
		t.Fatalf("expected foundation-only graph, got %d resources", len(foundationOnly))
	}
}
