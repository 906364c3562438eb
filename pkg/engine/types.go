package engine

import (
	"encoding/json"
	"time"
)

// Resource represents a managed Azure resource in a deployment phase.
type Resource struct {
	// ID is the unique identifier for this resource within the deployment
	// (e.g., "foundation.vault", "application.containerapp").
	ID string `json:"id"`

	// Type is the resource type (e.g., "azure.storage_account",
	// "azure.key_vault", "azure.container_app").
	Type string `json:"type"`

	// Name is the Azure resource name.
	Name string `json:"name"`

	// Phase is the deployment phase this resource belongs to.
	Phase Phase `json:"phase"`

	// Config is the desired configuration for this resource.
	Config json.RawMessage `json:"config"`

	// State is the last observed state of the resource.
	State json.RawMessage `json:"state,omitempty"`

	// Status is the current status of the resource.
	Status ResourceStatus `json:"status"`

	// Labels are key-value pairs for organizing and selecting resources.
	Labels map[string]string `json:"labels,omitempty"`

	// Dependencies lists resource IDs that this resource depends on.
	// Dependencies may only point at the same or an earlier phase.
	Dependencies []string `json:"dependencies,omitempty"`

	// CreatedAt is when the resource was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the resource was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the resource version for optimistic locking.
	Version int64 `json:"version"`
}

// PlanUnit represents a unit of work in the execution DAG.
type PlanUnit struct {
	// ID is the unique identifier for this plan unit.
	ID string `json:"id"`

	// ResourceID is the ID of the resource this plan unit operates on.
	ResourceID string `json:"resource_id"`

	// ResourceType is the provider resource type being operated on.
	ResourceType string `json:"resource_type"`

	// Phase is the deployment phase of the underlying resource.
	Phase Phase `json:"phase"`

	// Operation is the type of operation to perform.
	Operation OperationType `json:"operation"`

	// Status is the current execution status of this plan unit.
	Status PlanStatus `json:"status"`

	// Dependencies lists plan unit IDs that must complete before this unit.
	Dependencies []Dependency `json:"dependencies,omitempty"`

	// DesiredState is the desired configuration after this operation.
	DesiredState json.RawMessage `json:"desired_state,omitempty"`

	// ActualState is the current state before this operation.
	ActualState json.RawMessage `json:"actual_state,omitempty"`

	// Changes describes what will change if this operation is applied.
	Changes []Change `json:"changes,omitempty"`

	// ProviderName is the name of the provider that will execute this operation.
	ProviderName string `json:"provider_name"`

	// ExecutionOrder is the topological level for execution.
	ExecutionOrder int `json:"execution_order"`

	// MaxRetries is the maximum number of retry attempts allowed.
	MaxRetries int `json:"max_retries"`

	// Timeout is the maximum duration for executing this plan unit.
	Timeout time.Duration `json:"timeout"`

	// Result is the execution result once the plan unit completes.
	Result *ExecutionResult `json:"result,omitempty"`
}

// Dependency represents an edge in the execution DAG.
type Dependency struct {
	// TargetID is the ID of the plan unit this depends on.
	TargetID string `json:"target_id"`

	// Type is the type of dependency relationship.
	Type DependencyType `json:"type"`
}

// DependencyType represents the type of dependency between plan units.
type DependencyType string

const (
	// DependencyRequire indicates a hard dependency that must succeed.
	// The container app requires the RBAC-propagation wait this way.
	DependencyRequire DependencyType = "require"

	// DependencyOrder indicates ordering without success requirement.
	DependencyOrder DependencyType = "order"
)

// Change represents a single change to be applied to a resource.
type Change struct {
	// Path is the JSON path to the field being changed (e.g., ".config.maxReplicas").
	Path string `json:"path"`

	// Before is the value before the change.
	Before interface{} `json:"before,omitempty"`

	// After is the value after the change.
	After interface{} `json:"after,omitempty"`

	// Action describes the change action (add, remove, modify).
	Action ChangeAction `json:"action"`
}

// ChangeAction represents the type of change being made.
type ChangeAction string

const (
	// ChangeActionAdd indicates a new field is being added.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove indicates a field is being removed.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify indicates a field value is being changed.
	ChangeActionModify ChangeAction = "modify"
)

// ExecutionResult represents the outcome of executing a plan unit.
type ExecutionResult struct {
	// PlanUnitID is the ID of the plan unit this result belongs to.
	PlanUnitID string `json:"plan_unit_id"`

	// Status indicates whether the execution succeeded or failed.
	Status PlanStatus `json:"status"`

	// StartedAt is when the execution started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the execution completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`

	// NewState is the resulting state after the operation.
	NewState json.RawMessage `json:"new_state,omitempty"`

	// Outputs are named values produced by the operation for consumption
	// by dependent units (e.g., the managed identity's principal ID).
	Outputs map[string]string `json:"outputs,omitempty"`

	// Error is the error that occurred, if any.
	Error *Error `json:"error,omitempty"`
}

// Event represents a timeline event during execution.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// PlanUnitID is the ID of the plan unit, if applicable.
	PlanUnitID string `json:"plan_unit_id,omitempty"`

	// ResourceID is the ID of the resource, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// Plan represents a complete execution plan for one or both phases.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Environment is the deployment environment the plan targets.
	Environment string `json:"environment"`

	// Phase is the phase this plan covers; empty when the plan spans both.
	Phase Phase `json:"phase,omitempty"`

	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`

	// Units are all the plan units to be executed.
	Units []PlanUnit `json:"units"`

	// Graph is the DAG representation of the plan.
	Graph *ExecutionGraph `json:"graph,omitempty"`

	// Summary provides high-level statistics about the plan.
	Summary PlanSummary `json:"summary"`
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	// TotalResources is the total number of resources in the plan.
	TotalResources int `json:"total_resources"`

	// ToCreate is the number of resources to create.
	ToCreate int `json:"to_create"`

	// ToUpdate is the number of resources to update.
	ToUpdate int `json:"to_update"`

	// ToDelete is the number of resources to delete.
	ToDelete int `json:"to_delete"`

	// NoChange is the number of resources with no changes.
	NoChange int `json:"no_change"`
}

// ExecutionGraph represents the DAG of plan units.
type ExecutionGraph struct {
	// Nodes maps plan unit IDs to their graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists all dependency edges in the graph.
	Edges []GraphEdge `json:"edges"`

	// Roots are the plan unit IDs with no dependencies.
	Roots []string `json:"roots"`

	// Depth is the maximum depth of the graph.
	Depth int `json:"depth"`
}

// GraphNode represents a node in the execution graph.
type GraphNode struct {
	// ID is the plan unit ID.
	ID string `json:"id"`

	// Level is the topological level (depth from roots).
	Level int `json:"level"`

	// Dependencies are the incoming edges (units this depends on).
	Dependencies []string `json:"dependencies"`

	// Dependents are the outgoing edges (units that depend on this).
	Dependents []string `json:"dependents"`
}

// GraphEdge represents an edge in the execution graph.
type GraphEdge struct {
	// From is the source plan unit ID.
	From string `json:"from"`

	// To is the target plan unit ID.
	To string `json:"to"`

	// Type is the dependency type.
	Type DependencyType `json:"type"`
}

// Run represents an execution run of a plan.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// PlanID is the ID of the plan being executed.
	PlanID string `json:"plan_id"`

	// Environment is the deployment environment the run targets.
	Environment string `json:"environment"`

	// Phase is the phase executed by this run, if single-phase.
	Phase Phase `json:"phase,omitempty"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// User is the user who initiated the run.
	User string `json:"user,omitempty"`

	// Summary provides statistics about the run.
	Summary RunSummary `json:"summary"`
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	// Total is the total number of plan units.
	Total int `json:"total"`

	// Succeeded is the number of plan units that succeeded.
	Succeeded int `json:"succeeded"`

	// Failed is the number of plan units that failed.
	Failed int `json:"failed"`

	// Skipped is the number of plan units that were skipped.
	Skipped int `json:"skipped"`

	// Pending is the number of plan units still pending.
	Pending int `json:"pending"`

	// Running is the number of plan units currently running.
	Running int `json:"running"`
}

// DriftDetection represents drift detection results for a resource.
type DriftDetection struct {
	// ResourceID is the ID of the resource.
	ResourceID string `json:"resource_id"`

	// Status is the drift status.
	Status DriftStatus `json:"status"`

	// DetectedAt is when drift was detected.
	DetectedAt time.Time `json:"detected_at"`

	// DesiredState is the desired state from configuration.
	DesiredState json.RawMessage `json:"desired_state"`

	// ActualState is the actual state discovered from Azure.
	ActualState json.RawMessage `json:"actual_state"`

	// Drifts lists the specific drifts detected.
	Drifts []Change `json:"drifts,omitempty"`
}
