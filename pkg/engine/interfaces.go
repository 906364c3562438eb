package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Planner computes differences and builds execution plans.
type Planner interface {
	// BuildPlan diffs the desired resources against stored and live state
	// and produces an executable plan with its dependency graph.
	BuildPlan(ctx context.Context, resources []Resource, opts PlanOptions) (*Plan, error)
}

// PlanOptions controls plan generation.
type PlanOptions struct {
	// Environment is the deployment environment being planned.
	Environment string `json:"environment"`

	// Phase restricts the plan to a single phase; empty plans both.
	Phase Phase `json:"phase,omitempty"`

	// Refresh forces a provider Read for every resource instead of
	// trusting stored state.
	Refresh bool `json:"refresh,omitempty"`

	// Destroy plans deletion of every resource, in reverse dependency order.
	Destroy bool `json:"destroy,omitempty"`
}

// Runner executes plans by walking the DAG level by level.
type Runner interface {
	// Execute runs a plan to completion and returns the finished run.
	// Execution is synchronous; cancellation comes from ctx.
	Execute(ctx context.Context, plan *Plan, opts RunOptions) (*Run, error)
}

// RunOptions contains options for executing a plan.
type RunOptions struct {
	// MaxParallel is the maximum number of plan units to execute in parallel.
	MaxParallel int `json:"max_parallel,omitempty"`

	// DryRun executes the plan in dry-run mode (no actual changes).
	DryRun bool `json:"dry_run,omitempty"`

	// FailFast stops scheduling new levels on first failure.
	FailFast bool `json:"fail_fast,omitempty"`

	// User is the user initiating the execution.
	User string `json:"user,omitempty"`
}

// StateManager manages resource state persistence.
type StateManager interface {
	// GetResource retrieves a resource by ID.
	GetResource(ctx context.Context, resourceID string) (*Resource, error)

	// SaveResource persists a resource state.
	SaveResource(ctx context.Context, resource *Resource) error

	// DeleteResource removes a resource from state.
	DeleteResource(ctx context.Context, resourceID string) error

	// ListResources lists all resources matching the selector.
	ListResources(ctx context.Context, selector map[string]string) ([]Resource, error)

	// GetPlan retrieves a plan by ID.
	GetPlan(ctx context.Context, planID string) (*Plan, error)

	// SavePlan persists a plan.
	SavePlan(ctx context.Context, plan *Plan) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// SaveRun persists a run.
	SaveRun(ctx context.Context, run *Run) error

	// ListRuns lists runs for an environment, newest first.
	ListRuns(ctx context.Context, environment string, limit int) ([]Run, error)

	// AppendEvent appends an event to the event log.
	AppendEvent(ctx context.Context, event *Event) error

	// GetEvents retrieves events for a run.
	GetEvents(ctx context.Context, runID string) ([]Event, error)

	// SavePhaseOutputs persists the typed outputs of a completed phase.
	SavePhaseOutputs(ctx context.Context, environment string, phase Phase, outputs json.RawMessage) error

	// GetPhaseOutputs retrieves the stored outputs of a phase.
	GetPhaseOutputs(ctx context.Context, environment string, phase Phase) (json.RawMessage, error)
}

// PolicyGate evaluates guardrail policies against a plan before execution.
type PolicyGate interface {
	// EvaluatePlan evaluates policies against a plan.
	EvaluatePlan(ctx context.Context, plan *Plan) (*PolicyResult, error)

	// EvaluateResource evaluates policies against a single resource.
	EvaluateResource(ctx context.Context, resource *Resource) (*PolicyResult, error)
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed indicates if the operation is allowed.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policy warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (error, warning).
	Severity string `json:"severity"`

	// ResourceID is the resource that violated the policy, if applicable.
	ResourceID string `json:"resource_id,omitempty"`
}

// ProviderRegistry resolves providers by name.
type ProviderRegistry interface {
	// Register registers a provider.
	Register(name string, provider Provider) error

	// Get retrieves a provider by name.
	Get(name string) (Provider, error)

	// List lists all registered providers.
	List() []ProviderMetadata
}

// EventPublisher publishes events to subscribers.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error

	// Subscribe subscribes to events matching a filter.
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, error)

	// Close stops the publisher and releases subscriptions.
	Close() error
}

// EventFilter represents criteria for filtering events.
type EventFilter struct {
	// RunID filters events by run ID.
	RunID string `json:"run_id,omitempty"`

	// ResourceID filters events by resource ID.
	ResourceID string `json:"resource_id,omitempty"`

	// Types filters events by type.
	Types []EventType `json:"types,omitempty"`
}
