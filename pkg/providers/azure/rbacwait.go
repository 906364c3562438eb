package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// rbacWaitHandler blocks between the role assignment and the container
// app until the assignment is actually readable at vault scope. Azure
// RBAC propagation is eventually consistent; starting the app before the
// grant lands makes it crash-loop on vault reads.
type rbacWaitHandler struct {
	clients *clientFactory
	logger  zerolog.Logger
}

type rbacWaitState struct {
	deploy.RBACWaitConfig
	AssignmentName string `json:"assignmentName"`
	Verified       bool   `json:"verified"`
	Attempts       int    `json:"attempts"`
}

// Read always reports absent so a fresh plan re-verifies propagation.
func (h *rbacWaitHandler) Read(_ context.Context, _ engine.ReadRequest) (*engine.ReadResponse, error) {
	return &engine.ReadResponse{Exists: false}, nil
}

func (h *rbacWaitHandler) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var cfg deploy.RBACWaitConfig
	if err := decodeConfig(req.DesiredState, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}

	name, ok := resolveInput(req.Inputs, deploy.RoleAssignmentID, "assignmentName")
	if !ok {
		principalID, pok := resolveInput(req.Inputs, cfg.PrincipalSource, "principalId")
		if !pok {
			return nil, engine.NewPermanentError(
				"cannot verify RBAC propagation without the assignment name or principal ID", nil,
			).WithCode(engine.ErrCodeDependencyFailed).WithResource(req.ResourceID)
		}
		name = RoleAssignmentName(cfg.Scope, cfg.RoleDefinitionID, principalID)
	}

	attempts, err := h.waitForAssignment(ctx, cfg, name, req.ResourceID)
	if err != nil {
		return nil, err
	}

	state, err := marshalState(rbacWaitState{
		RBACWaitConfig: cfg,
		AssignmentName: name,
		Verified:       true,
		Attempts:       attempts,
	})
	if err != nil {
		return nil, err
	}

	return &engine.ApplyResponse{
		NewState: state,
		Outputs: map[string]string{
			"assignmentName": name,
		},
	}, nil
}

// waitForAssignment polls with doubling delays until the assignment is
// readable or the attempt budget runs out.
func (h *rbacWaitHandler) waitForAssignment(ctx context.Context, cfg deploy.RBACWaitConfig, name, resourceID string) (int, error) {
	delay := cfg.InitialDelay
	const maxDelay = time.Minute

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		_, err := h.clients.roleAssignments.Get(ctx, cfg.Scope, name, nil)
		if err == nil {
			h.logger.Info().
				Str("assignment", name).
				Int("attempts", attempt).
				Msg("Role assignment visible at scope")
			return attempt, nil
		}
		if !isNotFound(err) {
			return attempt, classifyError(err, resourceID, "wait")
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		h.logger.Debug().
			Str("assignment", name).
			Int("attempt", attempt).
			Dur("next_delay", delay).
			Msg("Role assignment not yet visible")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return cfg.MaxAttempts, engine.NewTransientError(
		fmt.Sprintf("role assignment %s not visible after %d attempts", name, cfg.MaxAttempts), nil,
	).WithCode(engine.ErrCodeRBACPropagation).WithResource(resourceID)
}

// Destroy is a no-op; the wait owns no Azure resource.
func (h *rbacWaitHandler) Destroy(_ context.Context, _ engine.DestroyRequest) (*engine.DestroyResponse, error) {
	return &engine.DestroyResponse{Success: true}, nil
}

func (h *rbacWaitHandler) Validate(config json.RawMessage) error {
	var cfg deploy.RBACWaitConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"scope":            cfg.Scope,
		"roleDefinitionId": cfg.RoleDefinitionID,
		"principalSource":  cfg.PrincipalSource,
	})
}
