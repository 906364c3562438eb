package deploy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ticketbridge/ticketbridge/pkg/stores"
)

func newTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func TestCollectFoundationOutputs(t *testing.T) {
	runOutputs := map[string]map[string]string{
		VaultID: {
			"vaultId":  "/subscriptions/sub/resourceGroups/jira-rg-dev/providers/Microsoft.KeyVault/vaults/jira-dev",
			"vaultUri": "https://jira-dev.vault.azure.net/",
		},
		ManagedEnvironmentID: {
			"environmentId": "/subscriptions/sub/resourceGroups/jira-rg-dev/providers/Microsoft.App/managedEnvironments/jira-env-dev",
		},
	}

	outputs, err := CollectFoundationOutputs("dev", "westeurope", runOutputs)
	if err != nil {
		t.Fatalf("CollectFoundationOutputs failed: %v", err)
	}

	if outputs.ResourceGroup != "jira-rg-dev" {
		t.Errorf("unexpected resource group %q", outputs.ResourceGroup)
	}
	if outputs.VaultName != "jira-dev" {
		t.Errorf("unexpected vault name %q", outputs.VaultName)
	}
	if outputs.ManagedEnvironmentID == "" {
		t.Error("environment ID should come from run outputs")
	}
}

func TestCollectFoundationOutputsIncompleteRun(t *testing.T) {
	// No vault or environment outputs recorded: the record must not
	// validate, forcing a foundation re-run instead of guessed IDs.
	if _, err := CollectFoundationOutputs("dev", "westeurope", nil); err == nil {
		t.Fatal("expected error when run outputs are missing")
	}
}

func TestFoundationOutputsStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := testOutputs()
	if err := SaveFoundationOutputs(ctx, store, want); err != nil {
		t.Fatalf("SaveFoundationOutputs failed: %v", err)
	}

	got, err := LoadFoundationOutputs(ctx, store, "prod")
	if err != nil {
		t.Fatalf("LoadFoundationOutputs failed: %v", err)
	}

	if *got != *want {
		t.Errorf("outputs round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoadFoundationOutputsMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := LoadFoundationOutputs(ctx, store, "ghost"); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}

func TestOutputsArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foundation-outputs.yaml")

	want := testOutputs()
	if err := WriteOutputsArtifact(want, path); err != nil {
		t.Fatalf("WriteOutputsArtifact failed: %v", err)
	}

	got, err := ReadOutputsArtifact(path)
	if err != nil {
		t.Fatalf("ReadOutputsArtifact failed: %v", err)
	}

	if *got != *want {
		t.Errorf("artifact round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestValidateRejectsPartialOutputs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FoundationOutputs)
	}{
		{"missing vault id", func(o *FoundationOutputs) { o.VaultID = "" }},
		{"missing environment id", func(o *FoundationOutputs) { o.ManagedEnvironmentID = "" }},
		{"missing resource group", func(o *FoundationOutputs) { o.ResourceGroup = "" }},
		{"missing location", func(o *FoundationOutputs) { o.Location = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputs := testOutputs()
			tt.mutate(outputs)
			if err := outputs.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
