package azure

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// classifyError maps an Azure SDK error onto the engine's error model so
// the runner retries what is worth retrying. Throttling and server-side
// failures are retryable; auth and validation failures are not.
func classifyError(err error, resourceID, operation string) *engine.Error {
	if err == nil {
		return nil
	}

	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		return engineErr
	}

	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return engine.NewTransientError(
			fmt.Sprintf("azure request failed: %v", err), err,
		).WithResource(resourceID).WithOperation(operation)
	}

	msg := fmt.Sprintf("azure returned %d (%s)", respErr.StatusCode, respErr.ErrorCode)

	switch respErr.StatusCode {
	case http.StatusTooManyRequests:
		return engine.NewThrottledError(msg, err).
			WithCode(engine.ErrCodeRateLimited).
			WithResource(resourceID).WithOperation(operation)

	case http.StatusConflict:
		return engine.NewConflictError(msg, err).
			WithCode(engine.ErrCodeConflict).
			WithResource(resourceID).WithOperation(operation)

	case http.StatusNotFound:
		return engine.NewPermanentError(msg, err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(resourceID).WithOperation(operation)

	case http.StatusUnauthorized, http.StatusForbidden:
		return engine.NewPermanentError(msg, err).
			WithCode(engine.ErrCodePermissionDenied).
			WithResource(resourceID).WithOperation(operation)

	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return engine.NewPermanentError(msg, err).
			WithCode(engine.ErrCodeValidation).
			WithResource(resourceID).WithOperation(operation)

	default:
		if respErr.StatusCode >= 500 {
			return engine.NewTransientError(msg, err).
				WithCode(engine.ErrCodeInternal).
				WithResource(resourceID).WithOperation(operation)
		}
		return engine.NewPermanentError(msg, err).
			WithCode(engine.ErrCodeProviderFailed).
			WithResource(resourceID).WithOperation(operation)
	}
}

// isNotFound reports whether an Azure SDK error is a 404.
func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// isRoleAssignmentExists reports whether a role assignment create hit the
// already-exists conflict, which the apply treats as converged.
func isRoleAssignmentExists(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.StatusCode == http.StatusConflict && respErr.ErrorCode == "RoleAssignmentExists"
}
