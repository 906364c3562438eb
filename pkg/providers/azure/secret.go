package azure

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

type secretHandler struct {
	clients *clientFactory
}

// secretState never carries the secret value; only existence and version
// metadata are persisted.
type secretState struct {
	VaultName string `json:"vaultName"`
	VaultURI  string `json:"vaultUri"`
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
}

func (h *secretHandler) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	var cfg deploy.SecretConfig
	if err := decodeConfig(req.Config, &cfg); err != nil {
		return nil, err
	}

	client, err := h.clients.secretsClient(cfg.VaultURI)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetSecret(ctx, cfg.Name, "", nil)
	if err != nil {
		if isNotFound(err) {
			return &engine.ReadResponse{Exists: false}, nil
		}
		return nil, classifyError(err, req.ResourceID, "read")
	}

	state, err := marshalState(secretState{
		VaultName: cfg.VaultName,
		VaultURI:  cfg.VaultURI,
		Name:      cfg.Name,
		Version:   versionFrom(resp.ID),
	})
	if err != nil {
		return nil, err
	}
	return &engine.ReadResponse{State: state, Exists: true}, nil
}

// Apply creates the placeholder slot. An existing secret is left
// untouched: real values injected with `secrets set` must survive
// re-applies.
func (h *secretHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.SecretConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}

	client, err := h.clients.secretsClient(cfg.VaultURI)
	if err != nil {
		return nil, err
	}

	existing, err := client.GetSecret(ctx, cfg.Name, "", nil)
	if err == nil {
		state, merr := marshalState(secretState{
			VaultName: cfg.VaultName,
			VaultURI:  cfg.VaultURI,
			Name:      cfg.Name,
			Version:   versionFrom(existing.ID),
		})
		if merr != nil {
			return nil, merr
		}
		return &engine.ApplyResponse{NewState: state}, nil
	}
	if !isNotFound(err) {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	value := cfg.Value
	resp, err := client.SetSecret(ctx, cfg.Name, azsecrets.SetSecretParameters{Value: &value}, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	state, err := marshalState(secretState{
		VaultName: cfg.VaultName,
		VaultURI:  cfg.VaultURI,
		Name:      cfg.Name,
		Version:   versionFrom(resp.ID),
	})
	if err != nil {
		return nil, err
	}
	return &engine.ApplyResponse{NewState: state}, nil
}

// Destroy soft-deletes the secret; the vault's retention window governs
// recoverability.
func (h *secretHandler) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var state secretState
	if err := decodeConfig(req.State, &state); err != nil {
		return nil, err
	}

	client, err := h.clients.secretsClient(state.VaultURI)
	if err != nil {
		return nil, err
	}

	if _, err := client.DeleteSecret(ctx, state.Name, nil); err != nil {
		if isNotFound(err) {
			return &engine.DestroyResponse{Success: true}, nil
		}
		return nil, classifyError(err, req.ResourceID, "destroy")
	}
	return &engine.DestroyResponse{Success: true}, nil
}

func (h *secretHandler) Validate(config json.RawMessage) error {
	var cfg deploy.SecretConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"vaultName": cfg.VaultName,
		"vaultUri":  cfg.VaultURI,
		"name":      cfg.Name,
		"value":     cfg.Value,
	})
}

func versionFrom(id *azsecrets.ID) string {
	if id == nil {
		return ""
	}
	return id.Version()
}
