package deploy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ticketbridge/ticketbridge/pkg/config"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// Engine resource IDs. The application phase references foundation
// resources through FoundationOutputs, never through these IDs.
const (
	ResourceGroupID      = "foundation.resource_group"
	StorageAccountID     = "foundation.storage"
	ManagedEnvironmentID = "foundation.environment"
	VaultID              = "foundation.vault"
	IdentityID           = "application.identity"
	RoleAssignmentID     = "application.role_assignment"
	RBACWaitID           = "application.rbac_wait"
	ContainerAppID       = "application.containerapp"
)

// SecretResourceID returns the engine ID for one vault secret slot.
func SecretResourceID(secretName string) string {
	return "foundation.secret." + secretName
}

// ResourceGroupConfig is the desired state of the resource group.
type ResourceGroupConfig struct {
	Name           string            `json:"name"`
	Location       string            `json:"location"`
	SubscriptionID string            `json:"subscriptionId"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// StorageAccountConfig is the desired state of the storage account.
// The transport flags are what the storage-security policy checks.
type StorageAccountConfig struct {
	Name                  string            `json:"name"`
	ResourceGroup         string            `json:"resourceGroup"`
	Location              string            `json:"location"`
	SubscriptionID        string            `json:"subscriptionId"`
	SKU                   string            `json:"sku"`
	Kind                  string            `json:"kind"`
	HTTPSOnly             bool              `json:"httpsOnly"`
	MinimumTLSVersion     string            `json:"minimumTlsVersion"`
	AllowBlobPublicAccess bool              `json:"allowBlobPublicAccess"`
	Tags                  map[string]string `json:"tags,omitempty"`
}

// ManagedEnvironmentConfig is the desired state of the container-apps
// environment.
type ManagedEnvironmentConfig struct {
	Name           string            `json:"name"`
	ResourceGroup  string            `json:"resourceGroup"`
	Location       string            `json:"location"`
	SubscriptionID string            `json:"subscriptionId"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// KeyVaultConfig is the desired state of the key vault.
type KeyVaultConfig struct {
	Name                    string            `json:"name"`
	ResourceGroup           string            `json:"resourceGroup"`
	Location                string            `json:"location"`
	SubscriptionID          string            `json:"subscriptionId"`
	SKU                     string            `json:"sku"`
	EnableSoftDelete        bool              `json:"enableSoftDelete"`
	SoftDeleteRetentionDays int32             `json:"softDeleteRetentionDays"`
	EnableRbacAuthorization bool              `json:"enableRbacAuthorization"`
	Tags                    map[string]string `json:"tags,omitempty"`
}

// SecretConfig is the desired state of one vault secret slot.
type SecretConfig struct {
	VaultName string `json:"vaultName"`
	VaultURI  string `json:"vaultUri"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

// ManagedIdentityConfig is the desired state of the user-assigned
// managed identity.
type ManagedIdentityConfig struct {
	Name           string            `json:"name"`
	ResourceGroup  string            `json:"resourceGroup"`
	Location       string            `json:"location"`
	SubscriptionID string            `json:"subscriptionId"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// RoleAssignmentConfig is the desired state of the vault-scope role
// assignment. The principal ID is not known at plan time; the provider
// reads it from the identity resource's apply outputs via
// PrincipalSource.
type RoleAssignmentConfig struct {
	SubscriptionID   string `json:"subscriptionId"`
	Scope            string `json:"scope"`
	RoleDefinitionID string `json:"roleDefinitionId"`
	PrincipalSource  string `json:"principalSource"`
}

// RBACWaitConfig describes the propagation probe that runs between the
// role assignment and the container app.
type RBACWaitConfig struct {
	SubscriptionID   string        `json:"subscriptionId"`
	Scope            string        `json:"scope"`
	RoleDefinitionID string        `json:"roleDefinitionId"`
	PrincipalSource  string        `json:"principalSource"`
	MaxAttempts      int           `json:"maxAttempts"`
	InitialDelay     time.Duration `json:"initialDelay"`
}

// RegistryRef locates the ACR whose admin password becomes the
// deployment-scoped registry secret.
type RegistryRef struct {
	Name          string `json:"name"`
	ResourceGroup string `json:"resourceGroup"`
	Server        string `json:"server"`
}

// ScaleConfig bounds the container app's replica range; field names
// match the replica-bounds policy.
type ScaleConfig struct {
	MinReplicas        int32 `json:"minReplicas"`
	MaxReplicas        int32 `json:"maxReplicas"`
	ConcurrentRequests int   `json:"concurrentRequests"`
}

// ContainerAppConfig is the desired state of the container app. The
// managed environment ID and identity client ID resolve at apply time
// from foundation outputs and the identity unit's outputs.
type ContainerAppConfig struct {
	Name           string            `json:"name"`
	ResourceGroup  string            `json:"resourceGroup"`
	Location       string            `json:"location"`
	SubscriptionID string            `json:"subscriptionId"`
	EnvironmentID  string            `json:"environmentId"`
	Image          string            `json:"image"`
	TargetPort     int               `json:"targetPort"`
	Registry       RegistryRef       `json:"registry"`
	Scale          ScaleConfig       `json:"scale"`
	IdentitySource string            `json:"identitySource"`
	IdentityName   string            `json:"identityName"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// DefaultTags merges the configured tags with the tags every managed
// resource carries.
func DefaultTags(params *config.DeploymentParams) map[string]string {
	tags := map[string]string{
		"environment": params.Environment,
		"managedBy":   "bridgectl",
	}
	for k, v := range params.Tags {
		tags[k] = v
	}
	return tags
}

// BuildFoundationGraph produces the foundation-phase resources: the
// resource group, storage account, managed environment, key vault, and
// the placeholder secrets.
func BuildFoundationGraph(params *config.DeploymentParams) ([]engine.Resource, error) {
	env := params.Environment
	tags := DefaultTags(params)
	rgName := ResourceGroupName(env)

	resources := make([]engine.Resource, 0, 4+len(RequiredSecrets))

	rg, err := newResource(ResourceGroupID, "azure.resource_group", rgName,
		engine.PhaseFoundation, ResourceGroupConfig{
			Name:           rgName,
			Location:       params.Location,
			SubscriptionID: params.SubscriptionID,
			Tags:           tags,
		}, nil)
	if err != nil {
		return nil, err
	}
	resources = append(resources, *rg)

	storage, err := newResource(StorageAccountID, "azure.storage_account", StorageAccountName(env),
		engine.PhaseFoundation, StorageAccountConfig{
			Name:                  StorageAccountName(env),
			ResourceGroup:         rgName,
			Location:              params.Location,
			SubscriptionID:        params.SubscriptionID,
			SKU:                   "Standard_LRS",
			Kind:                  "StorageV2",
			HTTPSOnly:             true,
			MinimumTLSVersion:     "TLS1_2",
			AllowBlobPublicAccess: false,
			Tags:                  tags,
		}, []string{ResourceGroupID})
	if err != nil {
		return nil, err
	}
	resources = append(resources, *storage)

	managedEnv, err := newResource(ManagedEnvironmentID, "azure.managed_environment", ManagedEnvironmentName(env),
		engine.PhaseFoundation, ManagedEnvironmentConfig{
			Name:           ManagedEnvironmentName(env),
			ResourceGroup:  rgName,
			Location:       params.Location,
			SubscriptionID: params.SubscriptionID,
			Tags:           tags,
		}, []string{ResourceGroupID})
	if err != nil {
		return nil, err
	}
	resources = append(resources, *managedEnv)

	vault, err := newResource(VaultID, "azure.key_vault", VaultName(env),
		engine.PhaseFoundation, KeyVaultConfig{
			Name:                    VaultName(env),
			ResourceGroup:           rgName,
			Location:                params.Location,
			SubscriptionID:          params.SubscriptionID,
			SKU:                     "standard",
			EnableSoftDelete:        true,
			SoftDeleteRetentionDays: 90,
			EnableRbacAuthorization: true,
			Tags:                    tags,
		}, []string{ResourceGroupID})
	if err != nil {
		return nil, err
	}
	resources = append(resources, *vault)

	// Placeholder slots: value equals name until `secrets set` replaces it.
	for _, name := range RequiredSecrets {
		secret, err := newResource(SecretResourceID(name), "azure.key_vault_secret", name,
			engine.PhaseFoundation, SecretConfig{
				VaultName: VaultName(env),
				VaultURI:  VaultURI(VaultName(env)),
				Name:      name,
				Value:     name,
			}, []string{VaultID})
		if err != nil {
			return nil, err
		}
		resources = append(resources, *secret)
	}

	return resources, nil
}

// BuildApplicationGraph produces the application-phase resources bound
// to the given foundation outputs: the managed identity, the vault-scope
// role assignment, the RBAC propagation wait, and the container app.
// The container app takes a hard dependency on the wait so it never
// starts before the identity can actually read secrets.
func BuildApplicationGraph(params *config.DeploymentParams, outputs *FoundationOutputs) ([]engine.Resource, error) {
	if outputs == nil {
		return nil, engine.NewPermanentError(
			"application phase requires foundation outputs; run the foundation phase first", nil,
		).WithCode(engine.ErrCodeValidation)
	}
	if err := outputs.Validate(); err != nil {
		return nil, err
	}

	env := params.Environment
	tags := DefaultTags(params)
	vaultScope := outputs.VaultID
	roleDefID := RoleDefinitionResourceID(params.SubscriptionID, KeyVaultSecretsUserRoleID)

	resources := make([]engine.Resource, 0, 4)

	identity, err := newResource(IdentityID, "azure.managed_identity", IdentityName(env),
		engine.PhaseApplication, ManagedIdentityConfig{
			Name:           IdentityName(env),
			ResourceGroup:  outputs.ResourceGroup,
			Location:       outputs.Location,
			SubscriptionID: params.SubscriptionID,
			Tags:           tags,
		}, nil)
	if err != nil {
		return nil, err
	}
	resources = append(resources, *identity)

	assignment, err := newResource(RoleAssignmentID, "azure.role_assignment",
		"kv-secrets-user-"+env, engine.PhaseApplication, RoleAssignmentConfig{
			SubscriptionID:   params.SubscriptionID,
			Scope:            vaultScope,
			RoleDefinitionID: roleDefID,
			PrincipalSource:  IdentityID,
		}, []string{IdentityID})
	if err != nil {
		return nil, err
	}
	resources = append(resources, *assignment)

	wait, err := newResource(RBACWaitID, "azure.rbac_wait",
		"rbac-propagation-"+env, engine.PhaseApplication, RBACWaitConfig{
			SubscriptionID:   params.SubscriptionID,
			Scope:            vaultScope,
			RoleDefinitionID: roleDefID,
			PrincipalSource:  IdentityID,
			MaxAttempts:      10,
			InitialDelay:     2 * time.Second,
		}, []string{RoleAssignmentID})
	if err != nil {
		return nil, err
	}
	resources = append(resources, *wait)

	app, err := newResource(ContainerAppID, "azure.container_app", ContainerAppName(env),
		engine.PhaseApplication, ContainerAppConfig{
			Name:           ContainerAppName(env),
			ResourceGroup:  outputs.ResourceGroup,
			Location:       outputs.Location,
			SubscriptionID: params.SubscriptionID,
			EnvironmentID:  outputs.ManagedEnvironmentID,
			Image:          params.ImageReference(),
			TargetPort:     params.Scale.TargetPort,
			Registry: RegistryRef{
				Name:          params.Registry.Name,
				ResourceGroup: params.Registry.ResourceGroup,
				Server:        RegistryServer(params.Registry.Name),
			},
			Scale: ScaleConfig{
				MinReplicas:        params.Scale.MinReplicas,
				MaxReplicas:        params.Scale.MaxReplicas,
				ConcurrentRequests: params.Scale.ConcurrentRequests,
			},
			IdentitySource: IdentityID,
			IdentityName:   IdentityName(env),
			Tags:           tags,
		}, []string{IdentityID, RBACWaitID})
	if err != nil {
		return nil, err
	}
	resources = append(resources, *app)

	return resources, nil
}

// BuildAllResources produces both phase graphs. The application phase
// still only plans once foundation outputs exist.
func BuildAllResources(params *config.DeploymentParams, outputs *FoundationOutputs) ([]engine.Resource, error) {
	foundation, err := BuildFoundationGraph(params)
	if err != nil {
		return nil, err
	}
	if outputs == nil {
		return foundation, nil
	}
	application, err := BuildApplicationGraph(params, outputs)
	if err != nil {
		return nil, err
	}
	return append(foundation, application...), nil
}

// newResource marshals the typed config and wraps it into an engine
// resource.
func newResource(id, resourceType, name string, phase engine.Phase, cfg interface{}, deps []string) (*engine.Resource, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config for %s: %w", id, err)
	}
	now := time.Now()
	return &engine.Resource{
		ID:           id,
		Type:         resourceType,
		Name:         name,
		Phase:        phase,
		Config:       raw,
		Status:       engine.ResourceStatusPending,
		Labels:       map[string]string{"phase": string(phase)},
		Dependencies: deps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
