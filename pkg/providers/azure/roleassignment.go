package azure

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

type roleAssignmentHandler struct {
	clients *clientFactory
}

type roleAssignmentState struct {
	deploy.RoleAssignmentConfig
	AssignmentName string `json:"assignmentName"`
	PrincipalID    string `json:"principalId"`
	ID             string `json:"id"`
}

// Read cannot locate the assignment without the principal ID, which only
// exists once the identity has been applied. Planning treats the
// assignment as absent and relies on the conflict-tolerant create.
func (h *roleAssignmentHandler) Read(_ context.Context, _ engine.ReadRequest) (*engine.ReadResponse, error) {
	return &engine.ReadResponse{Exists: false}, nil
}

func (h *roleAssignmentHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.RoleAssignmentConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}

	principalID, ok := resolveInput(req.Inputs, cfg.PrincipalSource, "principalId")
	if !ok {
		return nil, engine.NewPermanentError(
			"identity principal ID not available; the identity apply must precede the role assignment", nil,
		).WithCode(engine.ErrCodeDependencyFailed).WithResource(req.ResourceID)
	}

	name := RoleAssignmentName(cfg.Scope, cfg.RoleDefinitionID, principalID)

	resp, err := h.clients.roleAssignments.Create(ctx, cfg.Scope, name,
		armauthorization.RoleAssignmentCreateParameters{
			Properties: &armauthorization.RoleAssignmentProperties{
				PrincipalID:      to.Ptr(principalID),
				RoleDefinitionID: to.Ptr(cfg.RoleDefinitionID),
				PrincipalType:    to.Ptr(armauthorization.PrincipalTypeServicePrincipal),
			},
		}, nil)

	assignmentID := ""
	switch {
	case err == nil:
		assignmentID = deref(resp.ID)
	case isRoleAssignmentExists(err):
		// Deterministic name, same triple: already converged.
	default:
		return nil, classifyError(err, req.ResourceID, "apply")
	}

	state, err := marshalState(roleAssignmentState{
		RoleAssignmentConfig: cfg,
		AssignmentName:       name,
		PrincipalID:          principalID,
		ID:                   assignmentID,
	})
	if err != nil {
		return nil, err
	}

	return &engine.ApplyResponse{
		NewState: state,
		Outputs: map[string]string{
			"assignmentName": name,
			"principalId":    principalID,
		},
	}, nil
}

func (h *roleAssignmentHandler) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var state roleAssignmentState
	if err := decodeConfig(req.State, &state); err != nil {
		return nil, err
	}
	if state.AssignmentName == "" {
		return &engine.DestroyResponse{Success: true}, nil
	}

	if _, err := h.clients.roleAssignments.Delete(ctx, state.Scope, state.AssignmentName, nil); err != nil {
		if isNotFound(err) {
			return &engine.DestroyResponse{Success: true}, nil
		}
		return nil, classifyError(err, req.ResourceID, "destroy")
	}
	return &engine.DestroyResponse{Success: true}, nil
}

func (h *roleAssignmentHandler) Validate(config json.RawMessage) error {
	var cfg deploy.RoleAssignmentConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"scope":            cfg.Scope,
		"roleDefinitionId": cfg.RoleDefinitionID,
		"principalSource":  cfg.PrincipalSource,
	})
}
