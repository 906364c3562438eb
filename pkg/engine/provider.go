package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Provider is the interface a resource provider implements. The Azure
// provider is compiled in; the engine only ever talks to this contract.
type Provider interface {
	// Init initializes the provider with configuration.
	// This is called once before the first operation.
	Init(ctx context.Context, config ProviderConfig) error

	// Read retrieves the current state of a resource.
	// Returns the actual state or an error.
	Read(ctx context.Context, req ReadRequest) (*ReadResponse, error)

	// Plan computes the operation needed to reach desired state.
	Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)

	// Apply executes the planned operation to achieve desired state.
	// Apply must be idempotent: re-applying an already-converged resource
	// reconciles rather than recreates.
	Apply(ctx context.Context, req ApplyRequest) (*ApplyResponse, error)

	// Destroy removes the resource completely.
	Destroy(ctx context.Context, req DestroyRequest) (*DestroyResponse, error)

	// Validate validates a resource configuration for the given type.
	Validate(ctx context.Context, resourceType string, config json.RawMessage) error

	// Metadata returns information about this provider.
	Metadata() ProviderMetadata
}

// ProviderConfig contains provider initialization configuration.
type ProviderConfig struct {
	// Name is the name of the provider.
	Name string `json:"name"`

	// Version is the version of the provider.
	Version string `json:"version"`

	// Config is provider-specific configuration, such as the Azure
	// subscription ID.
	Config json.RawMessage `json:"config,omitempty"`

	// Timeout is the default timeout for provider operations.
	Timeout time.Duration `json:"timeout"`
}

// ReadRequest contains the parameters for a Read operation.
type ReadRequest struct {
	// ResourceID is the engine identifier of the resource.
	ResourceID string `json:"resource_id"`

	// ResourceType selects which resource implementation handles the read.
	ResourceType string `json:"resource_type"`

	// Config is the desired configuration, used to locate the resource.
	Config json.RawMessage `json:"config"`
}

// ReadResponse contains the result of a Read operation.
type ReadResponse struct {
	// State is the current actual state of the resource.
	State json.RawMessage `json:"state"`

	// Exists indicates whether the resource exists.
	Exists bool `json:"exists"`
}

// PlanRequest contains the parameters for a Plan operation.
type PlanRequest struct {
	// ResourceID is the engine identifier of the resource.
	ResourceID string `json:"resource_id"`

	// ResourceType selects which resource implementation handles the plan.
	ResourceType string `json:"resource_type"`

	// DesiredState is the desired configuration.
	DesiredState json.RawMessage `json:"desired_state"`

	// ActualState is the current state (from Read).
	ActualState json.RawMessage `json:"actual_state,omitempty"`
}

// PlanResponse contains the result of a Plan operation.
type PlanResponse struct {
	// Operation is the determined operation to perform.
	Operation OperationType `json:"operation"`

	// Changes lists the changes that will be made.
	Changes []Change `json:"changes"`

	// Warnings are non-fatal warnings about the plan.
	Warnings []string `json:"warnings,omitempty"`
}

// ApplyRequest contains the parameters for an Apply operation.
type ApplyRequest struct {
	// ResourceID is the engine identifier of the resource.
	ResourceID string `json:"resource_id"`

	// ResourceType selects which resource implementation handles the apply.
	ResourceType string `json:"resource_type"`

	// DesiredState is the desired configuration.
	DesiredState json.RawMessage `json:"desired_state"`

	// ActualState is the current state before the operation.
	ActualState json.RawMessage `json:"actual_state,omitempty"`

	// Operation is the operation to perform.
	Operation OperationType `json:"operation"`

	// Inputs carries outputs of already-applied resources this resource
	// depends on, keyed by source resource ID then output name. The role
	// assignment reads the identity's principal ID from here.
	Inputs map[string]map[string]string `json:"inputs,omitempty"`
}

// ApplyResponse contains the result of an Apply operation.
type ApplyResponse struct {
	// NewState is the resulting state after the operation.
	NewState json.RawMessage `json:"new_state"`

	// Outputs are named values produced by the operation, available as
	// Inputs to dependent resources in the same run and persisted with
	// the run for cross-phase consumption.
	Outputs map[string]string `json:"outputs,omitempty"`
}

// DestroyRequest contains the parameters for a Destroy operation.
type DestroyRequest struct {
	// ResourceID is the engine identifier of the resource.
	ResourceID string `json:"resource_id"`

	// ResourceType selects which resource implementation handles the destroy.
	ResourceType string `json:"resource_type"`

	// State is the current state of the resource.
	State json.RawMessage `json:"state"`
}

// DestroyResponse contains the result of a Destroy operation.
type DestroyResponse struct {
	// Success indicates whether the destruction was successful.
	Success bool `json:"success"`
}

// ProviderMetadata contains information about a provider.
type ProviderMetadata struct {
	// Name is the provider name.
	Name string `json:"name"`

	// Version is the provider version.
	Version string `json:"version"`

	// Description describes what this provider does.
	Description string `json:"description"`

	// ResourceTypes lists the resource types the provider handles.
	ResourceTypes []string `json:"resource_types"`
}
