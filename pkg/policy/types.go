// Package policy evaluates OPA/Rego guardrails against deployment plans
// and resources before they are applied. Built-in policies cover the
// Azure security posture the bridge requires; additional .rego files can
// be loaded and hot-reloaded from disk.
package policy

import (
	"encoding/json"
	"time"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never be applied.
	SeverityCritical Severity = "critical"
)

// Policy represents a guardrail rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyInput is the input document for Rego evaluation.
type PolicyInput struct {
	// Resource is the resource being evaluated, if resource-scoped.
	Resource *inputResource `json:"resource,omitempty"`

	// Plan is the execution plan being evaluated, if plan-scoped.
	Plan *engine.Plan `json:"plan,omitempty"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// inputResource is the resource shape exposed to Rego. Plan units and
// engine resources both project into it.
type inputResource struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Name   string            `json:"name,omitempty"`
	Phase  string            `json:"phase,omitempty"`
	Config json.RawMessage   `json:"config,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// User is the user performing the operation.
	User string `json:"user,omitempty"`

	// Environment is the deployment environment.
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed.
	Operation string `json:"operation,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
