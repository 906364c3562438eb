package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const testRego = `# Denies resources tagged as deprecated.
# Applies to every resource type.
package ticketbridge.policies.custom

import rego.v1

deny contains violation if {
	input.resource.labels.deprecated == "true"
	violation := {
		"message": sprintf("Resource %s is marked deprecated", [input.resource.id]),
		"severity": "error",
		"resource": input.resource.id,
	}
}
`

func TestLoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "no-deprecated.rego")
	if err := os.WriteFile(path, []byte(testRego), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "no-deprecated" {
		t.Errorf("expected name derived from filename, got %q", p.Name)
	}
	if p.Description != "Denies resources tagged as deprecated. Applies to every resource type." {
		t.Errorf("unexpected description: %q", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("expected default warning severity, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Error("loaded policies should default to enabled")
	}
}

func TestLoadDirectorySkipsBadFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "good.rego"), []byte(testRego), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write bad file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("failed to write text file: %v", err)
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("expected only the valid .rego to load, got %d policies", len(policies))
	}
}

func TestLoadedPolicyCompilesAndFires(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "no-deprecated.rego")
	if err := os.WriteFile(path, []byte(testRego), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	e := newTestEngine(t)
	if err := e.LoadPolicies(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	if _, err := e.GetPolicy("no-deprecated"); err != nil {
		t.Fatalf("loaded policy not registered: %v", err)
	}
}

func TestClearCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "no-deprecated.rego")
	if err := os.WriteFile(path, []byte(testRego), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	loader.ClearCache()

	// Reload after cache clear should re-read from disk without error.
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy after reload, got %d", len(policies))
	}
}
