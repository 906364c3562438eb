package azure

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appcontainers/armappcontainers/v3"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

type managedEnvironmentHandler struct {
	clients *clientFactory
}

type managedEnvironmentState struct {
	deploy.ManagedEnvironmentConfig
	ID            string `json:"environmentId"`
	DefaultDomain string `json:"defaultDomain,omitempty"`
}

func (h *managedEnvironmentHandler) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	var cfg deploy.ManagedEnvironmentConfig
	if err := decodeConfig(req.Config, &cfg); err != nil {
		return nil, err
	}

	resp, err := h.clients.environments.Get(ctx, cfg.ResourceGroup, cfg.Name, nil)
	if err != nil {
		if isNotFound(err) {
			return &engine.ReadResponse{Exists: false}, nil
		}
		return nil, classifyError(err, req.ResourceID, "read")
	}

	state, err := marshalState(h.toState(cfg, resp.ManagedEnvironment))
	if err != nil {
		return nil, err
	}
	return &engine.ReadResponse{State: state, Exists: true}, nil
}

func (h *managedEnvironmentHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.ManagedEnvironmentConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}

	poller, err := h.clients.environments.BeginCreateOrUpdate(ctx, cfg.ResourceGroup, cfg.Name,
		armappcontainers.ManagedEnvironment{
			Location:   to.Ptr(cfg.Location),
			Tags:       toAzureTags(cfg.Tags),
			Properties: &armappcontainers.ManagedEnvironmentProperties{},
		}, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	state, err := marshalState(h.toState(cfg, resp.ManagedEnvironment))
	if err != nil {
		return nil, err
	}

	return &engine.ApplyResponse{
		NewState: state,
		Outputs: map[string]string{
			"environmentId":   deref(resp.ID),
			"environmentName": cfg.Name,
		},
	}, nil
}

func (h *managedEnvironmentHandler) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var state managedEnvironmentState
	if err := decodeConfig(req.State, &state); err != nil {
		return nil, err
	}

	poller, err := h.clients.environments.BeginDelete(ctx, state.ResourceGroup, state.Name, nil)
	if err != nil {
		if isNotFound(err) {
			return &engine.DestroyResponse{Success: true}, nil
		}
		return nil, classifyError(err, req.ResourceID, "destroy")
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return nil, classifyError(err, req.ResourceID, "destroy")
	}
	return &engine.DestroyResponse{Success: true}, nil
}

func (h *managedEnvironmentHandler) Validate(config json.RawMessage) error {
	var cfg deploy.ManagedEnvironmentConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"name":          cfg.Name,
		"resourceGroup": cfg.ResourceGroup,
		"location":      cfg.Location,
	})
}

func (h *managedEnvironmentHandler) toState(cfg deploy.ManagedEnvironmentConfig, env armappcontainers.ManagedEnvironment) managedEnvironmentState {
	state := managedEnvironmentState{
		ManagedEnvironmentConfig: cfg,
		ID:                       deref(env.ID),
	}
	if env.Properties != nil {
		state.DefaultDomain = deref(env.Properties.DefaultDomain)
	}
	return state
}
