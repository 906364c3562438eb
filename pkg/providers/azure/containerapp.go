package azure

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appcontainers/armappcontainers/v3"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// registryPasswordSecretName is the deployment-scoped secret holding the
// ACR admin password, referenced by the registry credential block.
const registryPasswordSecretName = "registry-password"

type containerAppHandler struct {
	clients *clientFactory
}

type containerAppState struct {
	deploy.ContainerAppConfig
	ID   string `json:"id"`
	FQDN string `json:"fqdn,omitempty"`
}

func (h *containerAppHandler) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	var cfg deploy.ContainerAppConfig
	if err := decodeConfig(req.Config, &cfg); err != nil {
		return nil, err
	}

	resp, err := h.clients.apps.Get(ctx, cfg.ResourceGroup, cfg.Name, nil)
	if err != nil {
		if isNotFound(err) {
			return &engine.ReadResponse{Exists: false}, nil
		}
		return nil, classifyError(err, req.ResourceID, "read")
	}

	observed := cfg
	if resp.Properties != nil && resp.Properties.Template != nil {
		if tmpl := resp.Properties.Template; len(tmpl.Containers) > 0 && tmpl.Containers[0].Image != nil {
			observed.Image = *tmpl.Containers[0].Image
		}
		if scale := resp.Properties.Template.Scale; scale != nil {
			if scale.MinReplicas != nil {
				observed.Scale.MinReplicas = *scale.MinReplicas
			}
			if scale.MaxReplicas != nil {
				observed.Scale.MaxReplicas = *scale.MaxReplicas
			}
		}
	}

	state, err := marshalState(containerAppState{
		ContainerAppConfig: observed,
		ID:                 deref(resp.ID),
		FQDN:               appFQDN(resp.ContainerApp),
	})
	if err != nil {
		return nil, err
	}
	return &engine.ReadResponse{State: state, Exists: true}, nil
}

func (h *containerAppHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.ContainerAppConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}

	identityResourceID, clientID, err := h.resolveIdentity(ctx, &cfg, req.Inputs, req.ResourceID)
	if err != nil {
		return nil, err
	}

	// Registry password is fetched live and never persisted; the app
	// references it through a deployment-scoped secret.
	username, password, err := h.registryCredentials(ctx, cfg.Registry, req.ResourceID)
	if err != nil {
		return nil, err
	}

	app := armappcontainers.ContainerApp{
		Location: to.Ptr(cfg.Location),
		Tags:     toAzureTags(cfg.Tags),
		Identity: &armappcontainers.ManagedServiceIdentity{
			Type: to.Ptr(armappcontainers.ManagedServiceIdentityTypeUserAssigned),
			UserAssignedIdentities: map[string]*armappcontainers.UserAssignedIdentity{
				identityResourceID: {},
			},
		},
		Properties: &armappcontainers.ContainerAppProperties{
			EnvironmentID: to.Ptr(cfg.EnvironmentID),
			Configuration: &armappcontainers.Configuration{
				Ingress: &armappcontainers.Ingress{
					External:   to.Ptr(true),
					TargetPort: to.Ptr(int32(cfg.TargetPort)),
					CorsPolicy: &armappcontainers.CorsPolicy{
						AllowedOrigins: []*string{to.Ptr("*")},
						AllowedMethods: []*string{to.Ptr("*")},
						AllowedHeaders: []*string{to.Ptr("*")},
					},
				},
				Secrets: []*armappcontainers.Secret{
					{
						Name:  to.Ptr(registryPasswordSecretName),
						Value: to.Ptr(password),
					},
				},
				Registries: []*armappcontainers.RegistryCredentials{
					{
						Server:            to.Ptr(cfg.Registry.Server),
						Username:          to.Ptr(username),
						PasswordSecretRef: to.Ptr(registryPasswordSecretName),
					},
				},
			},
			Template: &armappcontainers.Template{
				Containers: []*armappcontainers.Container{
					{
						Name:  to.Ptr(cfg.Name),
						Image: to.Ptr(cfg.Image),
						Env: []*armappcontainers.EnvironmentVar{
							{
								Name:  to.Ptr("AZURE_CLIENT_ID"),
								Value: to.Ptr(clientID),
							},
						},
					},
				},
				Scale: &armappcontainers.Scale{
					MinReplicas: to.Ptr(cfg.Scale.MinReplicas),
					MaxReplicas: to.Ptr(cfg.Scale.MaxReplicas),
					Rules: []*armappcontainers.ScaleRule{
						{
							Name: to.Ptr("http-scaling"),
							HTTP: &armappcontainers.HTTPScaleRule{
								Metadata: map[string]*string{
									"concurrentRequests": to.Ptr(strconv.Itoa(cfg.Scale.ConcurrentRequests)),
								},
							},
						},
					},
				},
			},
		},
	}

	poller, err := h.clients.apps.BeginCreateOrUpdate(ctx, cfg.ResourceGroup, cfg.Name, app, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	fqdn := appFQDN(resp.ContainerApp)
	state, err := marshalState(containerAppState{
		ContainerAppConfig: cfg,
		ID:                 deref(resp.ID),
		FQDN:               fqdn,
	})
	if err != nil {
		return nil, err
	}

	return &engine.ApplyResponse{
		NewState: state,
		Outputs: map[string]string{
			"appId": deref(resp.ID),
			"fqdn":  fqdn,
		},
	}, nil
}

func (h *containerAppHandler) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var state containerAppState
	if err := decodeConfig(req.State, &state); err != nil {
		return nil, err
	}

	poller, err := h.clients.apps.BeginDelete(ctx, state.ResourceGroup, state.Name, nil)
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

func (h *containerAppHandler) Validate(config json.RawMessage) error {
	var cfg deploy.ContainerAppConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	if err := requireFields(map[string]string{
		"name":           cfg.Name,
		"resourceGroup":  cfg.ResourceGroup,
		"location":       cfg.Location,
		"environmentId":  cfg.EnvironmentID,
		"image":          cfg.Image,
		"registry.name":  cfg.Registry.Name,
		"identitySource": cfg.IdentitySource,
	}); err != nil {
		return err
	}
	if cfg.Scale.MinReplicas > cfg.Scale.MaxReplicas {
		return engine.NewPermanentError("minReplicas must not exceed maxReplicas", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if cfg.TargetPort <= 0 || cfg.TargetPort > 65535 {
		return engine.NewPermanentError("targetPort must be a valid port", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// resolveIdentity finds the identity's resource ID and client ID, first
// from the current run's outputs, then from Azure when the identity unit
// was a no-op this run.
func (h *containerAppHandler) resolveIdentity(
	ctx context.Context,
	cfg *deploy.ContainerAppConfig,
	inputs map[string]map[string]string,
	resourceID string,
) (string, string, error) {
	identityResourceID, rok := resolveInput(inputs, cfg.IdentitySource, "resourceId")
	clientID, cok := resolveInput(inputs, cfg.IdentitySource, "clientId")
	if rok && cok {
		return identityResourceID, clientID, nil
	}

	resp, err := h.clients.identities.Get(ctx, cfg.ResourceGroup, cfg.IdentityName, nil)
	if err != nil {
		return "", "", classifyError(err, resourceID, "apply")
	}
	if resp.Properties == nil || resp.Properties.ClientID == nil {
		return "", "", engine.NewPermanentError(
			"managed identity has no client ID yet", nil,
		).WithCode(engine.ErrCodeDependencyFailed).WithResource(resourceID)
	}
	return deref(resp.ID), deref(resp.Properties.ClientID), nil
}

// registryCredentials fetches the ACR admin credentials live.
func (h *containerAppHandler) registryCredentials(ctx context.Context, registry deploy.RegistryRef, resourceID string) (string, string, error) {
	resp, err := h.clients.registries.ListCredentials(ctx, registry.ResourceGroup, registry.Name, nil)
	if err != nil {
		return "", "", classifyError(err, resourceID, "apply")
	}
	if resp.Username == nil || len(resp.Passwords) == 0 || resp.Passwords[0].Value == nil {
		return "", "", engine.NewPermanentError(
			"registry admin credentials unavailable; enable the admin user on the registry", nil,
		).WithCode(engine.ErrCodePermissionDenied).WithResource(resourceID)
	}
	return *resp.Username, *resp.Passwords[0].Value, nil
}

func appFQDN(app armappcontainers.ContainerApp) string {
	if app.Properties == nil || app.Properties.Configuration == nil || app.Properties.Configuration.Ingress == nil {
		return ""
	}
	return deref(app.Properties.Configuration.Ingress.Fqdn)
}
