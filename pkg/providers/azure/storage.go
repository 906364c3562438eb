package azure

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

type storageAccountHandler struct {
	clients *clientFactory
}

type storageAccountState struct {
	deploy.StorageAccountConfig
	ID                string `json:"id"`
	ProvisioningState string `json:"provisioningState,omitempty"`
}

func (h *storageAccountHandler) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	var cfg deploy.StorageAccountConfig
	if err := decodeConfig(req.Config, &cfg); err != nil {
		return nil, err
	}

	resp, err := h.clients.accounts.GetProperties(ctx, cfg.ResourceGroup, cfg.Name, nil)
	if err != nil {
		if isNotFound(err) {
			return &engine.ReadResponse{Exists: false}, nil
		}
		return nil, classifyError(err, req.ResourceID, "read")
	}

	// Echo the live security flags so drift against the desired posture
	// is visible.
	observed := cfg
	if props := resp.Properties; props != nil {
		if props.EnableHTTPSTrafficOnly != nil {
			observed.HTTPSOnly = *props.EnableHTTPSTrafficOnly
		}
		if props.MinimumTLSVersion != nil {
			observed.MinimumTLSVersion = string(*props.MinimumTLSVersion)
		}
		if props.AllowBlobPublicAccess != nil {
			observed.AllowBlobPublicAccess = *props.AllowBlobPublicAccess
		}
	}

	state, err := marshalState(storageAccountState{
		StorageAccountConfig: observed,
		ID:                   deref(resp.ID),
	})
	if err != nil {
		return nil, err
	}
	return &engine.ReadResponse{State: state, Exists: true}, nil
}

func (h *storageAccountHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.StorageAccountConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}

	poller, err := h.clients.accounts.BeginCreate(ctx, cfg.ResourceGroup, cfg.Name,
		armstorage.AccountCreateParameters{
			Location: to.Ptr(cfg.Location),
			Kind:     to.Ptr(armstorage.Kind(cfg.Kind)),
			SKU: &armstorage.SKU{
				Name: to.Ptr(armstorage.SKUName(cfg.SKU)),
			},
			Properties: &armstorage.AccountPropertiesCreateParameters{
				EnableHTTPSTrafficOnly: to.Ptr(cfg.HTTPSOnly),
				MinimumTLSVersion:      to.Ptr(armstorage.MinimumTLSVersion(cfg.MinimumTLSVersion)),
				AllowBlobPublicAccess:  to.Ptr(cfg.AllowBlobPublicAccess),
			},
			Tags: toAzureTags(cfg.Tags),
		}, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	state, err := marshalState(storageAccountState{
		StorageAccountConfig: cfg,
		ID:                   deref(resp.ID),
	})
	if err != nil {
		return nil, err
	}

	return &engine.ApplyResponse{
		NewState: state,
		Outputs: map[string]string{
			"storageAccountId":   deref(resp.ID),
			"storageAccountName": cfg.Name,
		},
	}, nil
}

func (h *storageAccountHandler) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var state storageAccountState
	if err := decodeConfig(req.State, &state); err != nil {
		return nil, err
	}

	if _, err := h.clients.accounts.Delete(ctx, state.ResourceGroup, state.Name, nil); err != nil {
		if isNotFound(err) {
			return &engine.DestroyResponse{Success: true}, nil
		}
		return nil, classifyError(err, req.ResourceID, "destroy")
	}
	return &engine.DestroyResponse{Success: true}, nil
}

func (h *storageAccountHandler) Validate(config json.RawMessage) error {
	var cfg deploy.StorageAccountConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	if err := requireFields(map[string]string{
		"name":          cfg.Name,
		"resourceGroup": cfg.ResourceGroup,
		"location":      cfg.Location,
		"sku":           cfg.SKU,
		"kind":          cfg.Kind,
	}); err != nil {
		return err
	}
	if !cfg.HTTPSOnly {
		return engine.NewPermanentError("storage account must enforce HTTPS-only traffic", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if cfg.MinimumTLSVersion != string(armstorage.MinimumTLSVersionTLS12) {
		return engine.NewPermanentError("storage account TLS floor must be TLS1_2", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if cfg.AllowBlobPublicAccess {
		return engine.NewPermanentError("storage account must not allow public blob access", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}
