// Package azure implements the compiled-in provider for the Azure
// resources both deployment phases manage. Every Apply is a
// read-check-reconcile CreateOrUpdate: re-applying a converged resource
// reconciles it, never recreates it.
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// ProviderName is the name this provider registers under; it matches the
// prefix of every resource type it serves.
const ProviderName = "azure"

const providerVersion = "1.0.0"

// Settings is the provider-specific configuration carried inside
// engine.ProviderConfig.Config.
type Settings struct {
	// SubscriptionID is the target subscription.
	SubscriptionID string `json:"subscriptionId"`

	// TenantID is the AAD tenant, required for key vault creation.
	TenantID string `json:"tenantId"`
}

// resourceHandler is the per-type contract the dispatcher fans out to.
type resourceHandler interface {
	Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error)
	Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error)
	Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error)
	Validate(config json.RawMessage) error
}

// Provider implements engine.Provider for all azure.* resource types.
type Provider struct {
	mu          sync.RWMutex
	settings    Settings
	clients     *clientFactory
	handlers    map[string]resourceHandler
	logger      zerolog.Logger
	initialized bool
}

// NewProvider creates an uninitialized Azure provider.
func NewProvider(logger zerolog.Logger) *Provider {
	return &Provider{
		logger: logger.With().Str("component", "azure-provider").Logger(),
	}
}

// Init parses settings, builds the credential chain and ARM clients, and
// wires the per-type handlers.
func (p *Provider) Init(_ context.Context, config engine.ProviderConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("provider already initialized")
	}

	var settings Settings
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &settings); err != nil {
			return fmt.Errorf("failed to parse provider settings: %w", err)
		}
	}
	if settings.SubscriptionID == "" {
		return engine.NewPermanentError("provider settings are missing subscriptionId", nil).
			WithCode(engine.ErrCodeValidation)
	}

	cred, err := newCredential()
	if err != nil {
		return err
	}
	clients, err := newClientFactory(settings.SubscriptionID, cred)
	if err != nil {
		return err
	}

	p.settings = settings
	p.clients = clients
	p.handlers = map[string]resourceHandler{
		"azure.resource_group":      &resourceGroupHandler{clients: clients},
		"azure.storage_account":     &storageAccountHandler{clients: clients},
		"azure.managed_environment": &managedEnvironmentHandler{clients: clients},
		"azure.key_vault":           &keyVaultHandler{clients: clients, tenantID: settings.TenantID},
		"azure.key_vault_secret":    &secretHandler{clients: clients},
		"azure.managed_identity":    &identityHandler{clients: clients},
		"azure.role_assignment":     &roleAssignmentHandler{clients: clients},
		"azure.rbac_wait":           &rbacWaitHandler{clients: clients, logger: p.logger},
		"azure.container_app":       &containerAppHandler{clients: clients},
	}
	p.initialized = true

	p.logger.Info().
		Str("subscription", settings.SubscriptionID).
		Int("resource_types", len(p.handlers)).
		Msg("Azure provider initialized")

	return nil
}

// Read retrieves the live state of a resource.
func (p *Provider) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	handler, err := p.handlerFor(req.ResourceType, req.ResourceID)
	if err != nil {
		return nil, err
	}
	return handler.Read(ctx, req)
}

// Plan diffs desired against actual state. Missing resources are created;
// existing ones are updated when any desired field diverges.
func (p *Provider) Plan(_ context.Context, req engine.PlanRequest) (*engine.PlanResponse, error) {
	if _, err := p.handlerFor(req.ResourceType, req.ResourceID); err != nil {
		return nil, err
	}

	if req.ActualState == nil {
		if req.ResourceType == "azure.rbac_wait" {
			return &engine.PlanResponse{Operation: engine.OperationWait}, nil
		}
		return &engine.PlanResponse{Operation: engine.OperationCreate}, nil
	}

	changes, err := diffStates(req.DesiredState, req.ActualState)
	if err != nil {
		return nil, engine.NewPermanentError("failed to diff states", err).
			WithCode(engine.ErrCodeValidation).WithResource(req.ResourceID)
	}
	if len(changes) == 0 {
		return &engine.PlanResponse{Operation: engine.OperationNoop}, nil
	}
	return &engine.PlanResponse{Operation: engine.OperationUpdate, Changes: changes}, nil
}

// Apply converges the resource to its desired state.
func (p *Provider) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	handler, err := p.handlerFor(req.ResourceType, req.ResourceID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := handler.Apply(ctx, req)
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("resource", req.ResourceID).
		Str("operation", string(req.Operation)).
		Dur("duration", time.Since(start)).
		Msg("Resource applied")

	return resp, nil
}

// Destroy removes the resource.
func (p *Provider) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	handler, err := p.handlerFor(req.ResourceType, req.ResourceID)
	if err != nil {
		return nil, err
	}
	return handler.Destroy(ctx, req)
}

// Validate checks a resource configuration without touching Azure.
func (p *Provider) Validate(_ context.Context, resourceType string, config json.RawMessage) error {
	handler, err := p.handlerFor(resourceType, "")
	if err != nil {
		return err
	}
	return handler.Validate(config)
}

// Metadata returns provider information.
func (p *Provider) Metadata() engine.ProviderMetadata {
	p.mu.RLock()
	defer p.mu.RUnlock()

	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	sort.Strings(types)

	return engine.ProviderMetadata{
		Name:          ProviderName,
		Version:       providerVersion,
		Description:   "Provisions the Azure resources behind the App Insights to Jira bridge",
		ResourceTypes: types,
	}
}

func (p *Provider) handlerFor(resourceType, resourceID string) (resourceHandler, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.initialized {
		return nil, engine.NewPermanentError("provider not initialized", nil).
			WithCode(engine.ErrCodeProviderFailed).WithResource(resourceID)
	}
	handler, ok := p.handlers[resourceType]
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("unsupported resource type %s", resourceType), nil,
		).WithCode(engine.ErrCodeValidation).WithResource(resourceID)
	}
	return handler, nil
}

// diffStates compares every desired field against the actual state and
// reports the divergences. Fields the actual state does not echo (apply
// inputs such as principalSource) are ignored.
func diffStates(desired, actual json.RawMessage) ([]engine.Change, error) {
	var want, have map[string]interface{}
	if err := json.Unmarshal(desired, &want); err != nil {
		return nil, fmt.Errorf("invalid desired state: %w", err)
	}
	if err := json.Unmarshal(actual, &have); err != nil {
		return nil, fmt.Errorf("invalid actual state: %w", err)
	}

	var changes []engine.Change
	collectChanges("", want, have, &changes)
	return changes, nil
}

func collectChanges(prefix string, want, have map[string]interface{}, changes *[]engine.Change) {
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := prefix + "." + key
		wantVal := want[key]
		haveVal, present := have[key]
		if !present {
			continue
		}

		wantMap, wantIsMap := wantVal.(map[string]interface{})
		haveMap, haveIsMap := haveVal.(map[string]interface{})
		if wantIsMap && haveIsMap {
			collectChanges(path, wantMap, haveMap, changes)
			continue
		}

		if !reflect.DeepEqual(wantVal, haveVal) {
			*changes = append(*changes, engine.Change{
				Path:   path,
				Before: haveVal,
				After:  wantVal,
				Action: engine.ChangeActionModify,
			})
		}
	}
}
