package azure

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

type keyVaultHandler struct {
	clients  *clientFactory
	tenantID string
}

type keyVaultState struct {
	deploy.KeyVaultConfig
	ID       string `json:"vaultId"`
	VaultURI string `json:"vaultUri,omitempty"`
}

func (h *keyVaultHandler) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	var cfg deploy.KeyVaultConfig
	if err := decodeConfig(req.Config, &cfg); err != nil {
		return nil, err
	}

	resp, err := h.clients.vaults.Get(ctx, cfg.ResourceGroup, cfg.Name, nil)
	if err != nil {
		if isNotFound(err) {
			return &engine.ReadResponse{Exists: false}, nil
		}
		return nil, classifyError(err, req.ResourceID, "read")
	}

	observed := cfg
	if props := resp.Properties; props != nil {
		if props.EnableSoftDelete != nil {
			observed.EnableSoftDelete = *props.EnableSoftDelete
		}
		if props.SoftDeleteRetentionInDays != nil {
			observed.SoftDeleteRetentionDays = *props.SoftDeleteRetentionInDays
		}
		if props.EnableRbacAuthorization != nil {
			observed.EnableRbacAuthorization = *props.EnableRbacAuthorization
		}
	}

	state, err := marshalState(keyVaultState{
		KeyVaultConfig: observed,
		ID:             deref(resp.ID),
		VaultURI:       vaultURIFrom(resp.Vault),
	})
	if err != nil {
		return nil, err
	}
	return &engine.ReadResponse{State: state, Exists: true}, nil
}

func (h *keyVaultHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.KeyVaultConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}
	if h.tenantID == "" {
		return nil, engine.NewPermanentError(
			"tenantId is required to create a key vault; set it in the provider settings", nil,
		).WithCode(engine.ErrCodeValidation).WithResource(req.ResourceID)
	}

	poller, err := h.clients.vaults.BeginCreateOrUpdate(ctx, cfg.ResourceGroup, cfg.Name,
		armkeyvault.VaultCreateOrUpdateParameters{
			Location: to.Ptr(cfg.Location),
			Tags:     toAzureTags(cfg.Tags),
			Properties: &armkeyvault.VaultProperties{
				TenantID: to.Ptr(h.tenantID),
				SKU: &armkeyvault.SKU{
					Family: to.Ptr(armkeyvault.SKUFamilyA),
					Name:   to.Ptr(armkeyvault.SKUNameStandard),
				},
				EnableSoftDelete:          to.Ptr(cfg.EnableSoftDelete),
				SoftDeleteRetentionInDays: to.Ptr(cfg.SoftDeleteRetentionDays),
				EnableRbacAuthorization:   to.Ptr(cfg.EnableRbacAuthorization),
			},
		}, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	uri := vaultURIFrom(resp.Vault)
	state, err := marshalState(keyVaultState{
		KeyVaultConfig: cfg,
		ID:             deref(resp.ID),
		VaultURI:       uri,
	})
	if err != nil {
		return nil, err
	}

	return &engine.ApplyResponse{
		NewState: state,
		Outputs: map[string]string{
			"vaultId":   deref(resp.ID),
			"vaultName": cfg.Name,
			"vaultUri":  uri,
		},
	}, nil
}

// Destroy deletes the vault. Soft delete keeps it recoverable for the
// configured retention window; no purge is issued.
func (h *keyVaultHandler) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var state keyVaultState
	if err := decodeConfig(req.State, &state); err != nil {
		return nil, err
	}

	if _, err := h.clients.vaults.Delete(ctx, state.ResourceGroup, state.Name, nil); err != nil {
		if isNotFound(err) {
			return &engine.DestroyResponse{Success: true}, nil
		}
		return nil, classifyError(err, req.ResourceID, "destroy")
	}
	return &engine.DestroyResponse{Success: true}, nil
}

func (h *keyVaultHandler) Validate(config json.RawMessage) error {
	var cfg deploy.KeyVaultConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	if err := requireFields(map[string]string{
		"name":          cfg.Name,
		"resourceGroup": cfg.ResourceGroup,
		"location":      cfg.Location,
	}); err != nil {
		return err
	}
	if !cfg.EnableSoftDelete {
		return engine.NewPermanentError("key vault must enable soft delete", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if cfg.SoftDeleteRetentionDays < 90 {
		return engine.NewPermanentError("key vault soft-delete retention must be at least 90 days", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if !cfg.EnableRbacAuthorization {
		return engine.NewPermanentError("key vault must use RBAC authorization", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

func vaultURIFrom(vault armkeyvault.Vault) string {
	if vault.Properties == nil {
		return ""
	}
	return deref(vault.Properties.VaultURI)
}
