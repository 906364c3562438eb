// Package config loads and validates deployment parameters from CUE
// files. Parameters describe one target environment of the ticket
// bridge; validation combines CUE schema unification, struct tags, and
// an optional Starlark hook for computed values.
package config

import (
	"fmt"
	"time"
)

// DeploymentParams are the validated inputs for one environment.
type DeploymentParams struct {
	// Environment is the short environment name (e.g., "prod", "staging").
	// It seeds every derived Azure resource name.
	Environment string `json:"environment" validate:"required,min=2,max=16,lowercase,alphanum"`

	// Location is the Azure region (e.g., "westeurope").
	Location string `json:"location" validate:"required"`

	// SubscriptionID is the target Azure subscription.
	SubscriptionID string `json:"subscriptionId" validate:"required,uuid"`

	// Registry identifies the container registry and image to deploy.
	Registry RegistryParams `json:"registry" validate:"required"`

	// Scale bounds the container app's replica range.
	Scale ScaleParams `json:"scale"`

	// Tags are applied to every created resource.
	Tags map[string]string `json:"tags,omitempty"`
}

// RegistryParams identify the ACR image the container app runs.
type RegistryParams struct {
	// Name is the registry name without the .azurecr.io suffix.
	Name string `json:"name" validate:"required,alphanum,min=5,max=50"`

	// ResourceGroup is the resource group holding the registry, used
	// for the credential lookup. Defaults to the deployment group.
	ResourceGroup string `json:"resourceGroup,omitempty"`

	// ImageName is the repository name inside the registry.
	ImageName string `json:"imageName" validate:"required"`

	// ImageTag is the tag to deploy.
	ImageTag string `json:"imageTag" validate:"required"`
}

// ScaleParams bound the container app's autoscaling.
type ScaleParams struct {
	// MinReplicas is the floor; zero enables scale-to-zero.
	MinReplicas int32 `json:"minReplicas" validate:"gte=0,ltefield=MaxReplicas"`

	// MaxReplicas is the ceiling.
	MaxReplicas int32 `json:"maxReplicas" validate:"gte=1,lte=300"`

	// ConcurrentRequests is the HTTP scale-rule trigger threshold.
	ConcurrentRequests int `json:"concurrentRequests" validate:"gte=1"`

	// TargetPort is the ingress target port inside the container.
	TargetPort int `json:"targetPort" validate:"gte=1,lte=65535"`
}

// ImageReference returns the full image reference for the container app.
func (p *DeploymentParams) ImageReference() string {
	return fmt.Sprintf("%s.azurecr.io/%s:%s",
		p.Registry.Name, p.Registry.ImageName, p.Registry.ImageTag)
}

// ApplyDefaults fills unset optional fields with their defaults.
func (p *DeploymentParams) ApplyDefaults() {
	if p.Scale.MaxReplicas == 0 {
		p.Scale.MaxReplicas = 3
	}
	if p.Scale.ConcurrentRequests == 0 {
		p.Scale.ConcurrentRequests = 100
	}
	if p.Scale.TargetPort == 0 {
		p.Scale.TargetPort = 8080
	}
	if p.Registry.ResourceGroup == "" {
		p.Registry.ResourceGroup = "jira-rg-" + p.Environment
	}
}

// ParsedParams is the result of loading a parameters source.
type ParsedParams struct {
	// Params are the decoded deployment parameters.
	Params DeploymentParams `json:"params"`

	// Computed holds the globals exported by the Starlark hook, if any.
	Computed map[string]interface{} `json:"computed,omitempty"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the parameters were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists validation errors; non-empty means the parameters
	// must not be applied.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "deployment.scale").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity"`
}

// StarlarkResult represents the result of evaluating the computed hook.
type StarlarkResult struct {
	// Output is the exported globals from the script.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
