package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for parameter validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	_ = sr.RegisterSchema("deployment", builtinDeploymentSchema)
	_ = sr.RegisterSchema("registry", builtinRegistrySchema)
	_ = sr.RegisterSchema("scale", builtinScaleSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#" + exportName(schemaName)))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition", schemaName)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// exportName maps a registry key to its CUE definition name.
func exportName(name string) string {
	switch name {
	case "deployment":
		return "Deployment"
	case "registry":
		return "Registry"
	case "scale":
		return "Scale"
	default:
		return name
	}
}

// Built-in schema definitions

const builtinDeploymentSchema = `
// Deployment schema for ticketbridge environment parameters
#Deployment: {
	// environment seeds every derived Azure resource name
	environment: string & =~"^[a-z0-9]{2,16}$"

	// location is the Azure region
	location: string & =~"^[a-z0-9]+$"

	// subscriptionId is the target subscription
	subscriptionId: string & =~"^[0-9a-fA-F]{8}-([0-9a-fA-F]{4}-){3}[0-9a-fA-F]{12}$"

	registry: #Registry

	scale?: #Scale

	// tags are applied to every created resource
	tags?: {[string]: string}
}

#Registry: {
	// name is the registry name without the .azurecr.io suffix
	name: string & =~"^[a-zA-Z0-9]{5,50}$"

	resourceGroup?: string

	imageName: string & =~"^[a-z0-9]+([._/-][a-z0-9]+)*$"

	imageTag: string & =~"^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$"
}

#Scale: {
	minReplicas?: int & >=0
	maxReplicas?: int & >=1 & <=300
	concurrentRequests?: int & >=1
	targetPort?: int & >=1 & <=65535
}
`

const builtinRegistrySchema = `
#Registry: {
	name: string & =~"^[a-zA-Z0-9]{5,50}$"
	resourceGroup?: string
	imageName: string
	imageTag: string
}
`

const builtinScaleSchema = `
#Scale: {
	minReplicas?: int & >=0
	maxReplicas?: int & >=1 & <=300
	concurrentRequests?: int & >=1
	targetPort?: int & >=1 & <=65535
}
`
