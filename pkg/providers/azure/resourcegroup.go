package azure

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

type resourceGroupHandler struct {
	clients *clientFactory
}

type resourceGroupState struct {
	deploy.ResourceGroupConfig
	ID string `json:"id"`
}

func (h *resourceGroupHandler) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	var cfg deploy.ResourceGroupConfig
	if err := decodeConfig(req.Config, &cfg); err != nil {
		return nil, err
	}

	resp, err := h.clients.groups.Get(ctx, cfg.Name, nil)
	if err != nil {
		if isNotFound(err) {
			return &engine.ReadResponse{Exists: false}, nil
		}
		return nil, classifyError(err, req.ResourceID, "read")
	}

	state, err := marshalState(resourceGroupState{
		ResourceGroupConfig: cfg,
		ID:                  deref(resp.ID),
	})
	if err != nil {
		return nil, err
	}
	return &engine.ReadResponse{State: state, Exists: true}, nil
}

func (h *resourceGroupHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.ResourceGroupConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}

	resp, err := h.clients.groups.CreateOrUpdate(ctx, cfg.Name, armresources.ResourceGroup{
		Location: to.Ptr(cfg.Location),
		Tags:     toAzureTags(cfg.Tags),
	}, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	state, err := marshalState(resourceGroupState{
		ResourceGroupConfig: cfg,
		ID:                  deref(resp.ID),
	})
	if err != nil {
		return nil, err
	}

	return &engine.ApplyResponse{
		NewState: state,
		Outputs: map[string]string{
			"resourceGroupId": deref(resp.ID),
		},
	}, nil
}

func (h *resourceGroupHandler) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var state resourceGroupState
	if err := decodeConfig(req.State, &state); err != nil {
		return nil, err
	}

	poller, err := h.clients.groups.BeginDelete(ctx, state.Name, nil)
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

func (h *resourceGroupHandler) Validate(config json.RawMessage) error {
	var cfg deploy.ResourceGroupConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"name":           cfg.Name,
		"location":       cfg.Location,
		"subscriptionId": cfg.SubscriptionID,
	})
}

// deref returns the pointed-to string or empty.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
