package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// FoundationOutputs is the typed record the foundation phase publishes
// and the application phase binds against. Persisting it removes any
// chance of the two phases disagreeing about derived names.
type FoundationOutputs struct {
	Environment            string `json:"environment" yaml:"environment"`
	Location               string `json:"location" yaml:"location"`
	ResourceGroup          string `json:"resourceGroup" yaml:"resourceGroup"`
	VaultName              string `json:"vaultName" yaml:"vaultName"`
	VaultID                string `json:"vaultId" yaml:"vaultId"`
	VaultURI               string `json:"vaultUri" yaml:"vaultUri"`
	StorageAccountName     string `json:"storageAccountName" yaml:"storageAccountName"`
	ManagedEnvironmentName string `json:"managedEnvironmentName" yaml:"managedEnvironmentName"`
	ManagedEnvironmentID   string `json:"managedEnvironmentId" yaml:"managedEnvironmentId"`
}

// Validate checks that every field the application phase consumes is
// populated.
func (o *FoundationOutputs) Validate() error {
	missing := func(field string) error {
		return engine.NewPermanentError(
			fmt.Sprintf("foundation outputs are missing %s; re-run the foundation phase", field), nil,
		).WithCode(engine.ErrCodeValidation)
	}
	switch {
	case o.Environment == "":
		return missing("environment")
	case o.Location == "":
		return missing("location")
	case o.ResourceGroup == "":
		return missing("resourceGroup")
	case o.VaultName == "":
		return missing("vaultName")
	case o.VaultID == "":
		return missing("vaultId")
	case o.VaultURI == "":
		return missing("vaultUri")
	case o.StorageAccountName == "":
		return missing("storageAccountName")
	case o.ManagedEnvironmentName == "":
		return missing("managedEnvironmentName")
	case o.ManagedEnvironmentID == "":
		return missing("managedEnvironmentId")
	}
	return nil
}

// CollectFoundationOutputs assembles the outputs record from a completed
// foundation run's per-resource apply outputs.
func CollectFoundationOutputs(environment, location string, runOutputs map[string]map[string]string) (*FoundationOutputs, error) {
	out := &FoundationOutputs{
		Environment:            environment,
		Location:               location,
		ResourceGroup:          ResourceGroupName(environment),
		VaultName:              VaultName(environment),
		VaultURI:               VaultURI(VaultName(environment)),
		StorageAccountName:     StorageAccountName(environment),
		ManagedEnvironmentName: ManagedEnvironmentName(environment),
	}

	if vault, ok := runOutputs[VaultID]; ok {
		if id := vault["vaultId"]; id != "" {
			out.VaultID = id
		}
		if uri := vault["vaultUri"]; uri != "" {
			out.VaultURI = uri
		}
	}
	if env, ok := runOutputs[ManagedEnvironmentID]; ok {
		if id := env["environmentId"]; id != "" {
			out.ManagedEnvironmentID = id
		}
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveFoundationOutputs persists the outputs record to the state store.
func SaveFoundationOutputs(ctx context.Context, state engine.StateManager, outputs *FoundationOutputs) error {
	if err := outputs.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal foundation outputs: %w", err)
	}
	return state.SavePhaseOutputs(ctx, outputs.Environment, engine.PhaseFoundation, raw)
}

// LoadFoundationOutputs reads the outputs record for an environment from
// the state store.
func LoadFoundationOutputs(ctx context.Context, state engine.StateManager, environment string) (*FoundationOutputs, error) {
	raw, err := state.GetPhaseOutputs(ctx, environment, engine.PhaseFoundation)
	if err != nil {
		return nil, err
	}
	var outputs FoundationOutputs
	if err := json.Unmarshal(raw, &outputs); err != nil {
		return nil, fmt.Errorf("failed to decode foundation outputs: %w", err)
	}
	return &outputs, nil
}

// WriteOutputsArtifact writes the outputs record as a YAML file next to
// the deployment parameters, for humans and out-of-band tooling.
func WriteOutputsArtifact(outputs *FoundationOutputs, path string) error {
	data, err := yaml.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal outputs artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write outputs artifact: %w", err)
	}
	return nil
}

// ReadOutputsArtifact loads an outputs record from a YAML artifact.
func ReadOutputsArtifact(path string) (*FoundationOutputs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read outputs artifact: %w", err)
	}
	var outputs FoundationOutputs
	if err := yaml.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to parse outputs artifact: %w", err)
	}
	return &outputs, nil
}
