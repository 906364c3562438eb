package azure

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

type identityHandler struct {
	clients *clientFactory
}

type identityState struct {
	deploy.ManagedIdentityConfig
	ID          string `json:"resourceId"`
	PrincipalID string `json:"principalId"`
	ClientID    string `json:"clientId"`
}

func (h *identityHandler) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	var cfg deploy.ManagedIdentityConfig
	if err := decodeConfig(req.Config, &cfg); err != nil {
		return nil, err
	}

	resp, err := h.clients.identities.Get(ctx, cfg.ResourceGroup, cfg.Name, nil)
	if err != nil {
		if isNotFound(err) {
			return &engine.ReadResponse{Exists: false}, nil
		}
		return nil, classifyError(err, req.ResourceID, "read")
	}

	state, err := marshalState(identityStateFrom(cfg, resp.Identity))
	if err != nil {
		return nil, err
	}
	return &engine.ReadResponse{State: state, Exists: true}, nil
}

func (h *identityHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.ManagedIdentityConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}

	resp, err := h.clients.identities.CreateOrUpdate(ctx, cfg.ResourceGroup, cfg.Name,
		armmsi.Identity{
			Location: to.Ptr(cfg.Location),
			Tags:     toAzureTags(cfg.Tags),
		}, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	st := identityStateFrom(cfg, resp.Identity)
	state, err := marshalState(st)
	if err != nil {
		return nil, err
	}

	return &engine.ApplyResponse{
		NewState: state,
		Outputs: map[string]string{
			"resourceId":  st.ID,
			"principalId": st.PrincipalID,
			"clientId":    st.ClientID,
		},
	}, nil
}

func (h *identityHandler) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var state identityState
	if err := decodeConfig(req.State, &state); err != nil {
		return nil, err
	}

	if _, err := h.clients.identities.Delete(ctx, state.ResourceGroup, state.Name, nil); err != nil {
		if isNotFound(err) {
			return &engine.DestroyResponse{Success: true}, nil
		}
		return nil, classifyError(err, req.ResourceID, "destroy")
	}
	return &engine.DestroyResponse{Success: true}, nil
}

func (h *identityHandler) Validate(config json.RawMessage) error {
	var cfg deploy.ManagedIdentityConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"name":          cfg.Name,
		"resourceGroup": cfg.ResourceGroup,
		"location":      cfg.Location,
	})
}

func identityStateFrom(cfg deploy.ManagedIdentityConfig, identity armmsi.Identity) identityState {
	state := identityState{
		ManagedIdentityConfig: cfg,
		ID:                    deref(identity.ID),
	}
	if identity.Properties != nil {
		state.PrincipalID = deref(identity.Properties.PrincipalID)
		state.ClientID = deref(identity.Properties.ClientID)
	}
	return state
}
