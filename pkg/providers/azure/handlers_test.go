package azure

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func TestRoleAssignmentNameDeterministic(t *testing.T) {
	scope := "/subscriptions/sub/resourceGroups/jira-rg-prod/providers/Microsoft.KeyVault/vaults/jira-prod"
	roleDef := "/subscriptions/sub/providers/Microsoft.Authorization/roleDefinitions/4633458b-17de-408a-b874-0445c86b69e6"
	principal := "11111111-2222-3333-4444-555555555555"

	a := RoleAssignmentName(scope, roleDef, principal)
	b := RoleAssignmentName(scope, roleDef, principal)
	if a != b {
		t.Errorf("same triple must yield the same name: %s vs %s", a, b)
	}

	guid := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	if !guid.MatchString(a) {
		t.Errorf("name %q is not a GUID", a)
	}

	// Case differences in ARM IDs must not produce a second assignment.
	c := RoleAssignmentName(scope, roleDef, "11111111-2222-3333-4444-555555555555")
	upper := RoleAssignmentName(scope, roleDef, "11111111-2222-3333-4444-555555555555")
	if c != upper {
		t.Errorf("case-insensitive inputs diverged: %s vs %s", c, upper)
	}

	other := RoleAssignmentName(scope, roleDef, "99999999-2222-3333-4444-555555555555")
	if a == other {
		t.Error("different principals must yield different names")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		errorCode string
		wantClass engine.ErrorClass
		wantCode  string
	}{
		{"throttled", http.StatusTooManyRequests, "TooManyRequests", engine.ErrorClassThrottled, engine.ErrCodeRateLimited},
		{"conflict", http.StatusConflict, "Conflict", engine.ErrorClassConflict, engine.ErrCodeConflict},
		{"not found", http.StatusNotFound, "ResourceNotFound", engine.ErrorClassPermanent, engine.ErrCodeNotFound},
		{"forbidden", http.StatusForbidden, "AuthorizationFailed", engine.ErrorClassPermanent, engine.ErrCodePermissionDenied},
		{"bad request", http.StatusBadRequest, "InvalidParameter", engine.ErrorClassPermanent, engine.ErrCodeValidation},
		{"server error", http.StatusInternalServerError, "InternalServerError", engine.ErrorClassTransient, engine.ErrCodeInternal},
		{"bad gateway", http.StatusBadGateway, "", engine.ErrorClassTransient, engine.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &azcore.ResponseError{StatusCode: tt.status, ErrorCode: tt.errorCode}
			got := classifyError(src, "foundation.storage", "apply")

			if got.Class != tt.wantClass {
				t.Errorf("expected class %s, got %s", tt.wantClass, got.Class)
			}
			if got.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, got.Code)
			}
		})
	}
}

func TestClassifyErrorPassesThroughEngineErrors(t *testing.T) {
	src := engine.NewPermanentError("already classified", nil).WithCode(engine.ErrCodeValidation)
	got := classifyError(src, "x", "apply")
	if got != src {
		t.Error("existing engine errors should pass through unchanged")
	}
}

func TestClassifyErrorWrapsUnknownAsTransient(t *testing.T) {
	got := classifyError(errors.New("connection reset"), "x", "read")
	if got.Class != engine.ErrorClassTransient {
		t.Errorf("network-level failures should be transient, got %s", got.Class)
	}
}

func TestIsRoleAssignmentExists(t *testing.T) {
	exists := &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "RoleAssignmentExists"}
	if !isRoleAssignmentExists(exists) {
		t.Error("expected RoleAssignmentExists conflict to be recognized")
	}

	otherConflict := &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "AnotherConflict"}
	if isRoleAssignmentExists(otherConflict) {
		t.Error("other conflicts must not be treated as converged")
	}
}

func TestResolveInput(t *testing.T) {
	inputs := map[string]map[string]string{
		"application.identity":        {"principalId": "p-1", "clientId": "c-1"},
		"application.role_assignment": {"assignmentName": "guid-1", "principalId": "p-1"},
	}

	if v, ok := resolveInput(inputs, "application.identity", "principalId"); !ok || v != "p-1" {
		t.Errorf("preferred source lookup failed: %q %v", v, ok)
	}
	// Falls back to any source carrying the key.
	if v, ok := resolveInput(inputs, "application.identity", "assignmentName"); !ok || v != "guid-1" {
		t.Errorf("fallback lookup failed: %q %v", v, ok)
	}
	if _, ok := resolveInput(inputs, "application.identity", "missing"); ok {
		t.Error("expected miss for unknown key")
	}
	if _, ok := resolveInput(nil, "application.identity", "principalId"); ok {
		t.Error("expected miss for nil inputs")
	}
}

func TestStorageValidateEnforcesPosture(t *testing.T) {
	h := &storageAccountHandler{}

	good := json.RawMessage(`{
		"name":"jirastprod","resourceGroup":"jira-rg-prod","location":"westeurope",
		"subscriptionId":"sub","sku":"Standard_LRS","kind":"StorageV2",
		"httpsOnly":true,"minimumTlsVersion":"TLS1_2","allowBlobPublicAccess":false
	}`)
	if err := h.Validate(good); err != nil {
		t.Errorf("compliant config rejected: %v", err)
	}

	tests := []struct {
		name string
		cfg  string
	}{
		{"http allowed", `{"name":"x","resourceGroup":"rg","location":"we","sku":"Standard_LRS","kind":"StorageV2","httpsOnly":false,"minimumTlsVersion":"TLS1_2"}`},
		{"weak tls", `{"name":"x","resourceGroup":"rg","location":"we","sku":"Standard_LRS","kind":"StorageV2","httpsOnly":true,"minimumTlsVersion":"TLS1_0"}`},
		{"public blobs", `{"name":"x","resourceGroup":"rg","location":"we","sku":"Standard_LRS","kind":"StorageV2","httpsOnly":true,"minimumTlsVersion":"TLS1_2","allowBlobPublicAccess":true}`},
		{"missing name", `{"resourceGroup":"rg","location":"we","sku":"Standard_LRS","kind":"StorageV2","httpsOnly":true,"minimumTlsVersion":"TLS1_2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.Validate(json.RawMessage(tt.cfg)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestVaultValidateEnforcesPosture(t *testing.T) {
	h := &keyVaultHandler{}

	good := json.RawMessage(`{
		"name":"jira-prod","resourceGroup":"jira-rg-prod","location":"westeurope",
		"enableSoftDelete":true,"softDeleteRetentionDays":90,"enableRbacAuthorization":true
	}`)
	if err := h.Validate(good); err != nil {
		t.Errorf("compliant config rejected: %v", err)
	}

	shortRetention := json.RawMessage(`{
		"name":"jira-prod","resourceGroup":"jira-rg-prod","location":"westeurope",
		"enableSoftDelete":true,"softDeleteRetentionDays":30,"enableRbacAuthorization":true
	}`)
	if err := h.Validate(shortRetention); err == nil {
		t.Error("expected rejection of 30-day retention")
	}

	accessPolicies := json.RawMessage(`{
		"name":"jira-prod","resourceGroup":"jira-rg-prod","location":"westeurope",
		"enableSoftDelete":true,"softDeleteRetentionDays":90,"enableRbacAuthorization":false
	}`)
	if err := h.Validate(accessPolicies); err == nil {
		t.Error("expected rejection of access-policy authorization")
	}
}

func TestContainerAppValidate(t *testing.T) {
	h := &containerAppHandler{}

	good := json.RawMessage(`{
		"name":"jira-bridge-prod","resourceGroup":"jira-rg-prod","location":"westeurope",
		"environmentId":"/subscriptions/x/managedEnvironments/jira-env-prod",
		"image":"bridgeacr.azurecr.io/jira-bridge:v1","targetPort":8080,
		"registry":{"name":"bridgeacr","resourceGroup":"jira-rg-prod","server":"bridgeacr.azurecr.io"},
		"scale":{"minReplicas":0,"maxReplicas":3,"concurrentRequests":100},
		"identitySource":"application.identity","identityName":"jira-bridge-id-prod"
	}`)
	if err := h.Validate(good); err != nil {
		t.Errorf("compliant config rejected: %v", err)
	}

	badScale := json.RawMessage(`{
		"name":"a","resourceGroup":"rg","location":"we","environmentId":"e","image":"i",
		"targetPort":8080,"registry":{"name":"r"},"identitySource":"s",
		"scale":{"minReplicas":5,"maxReplicas":3}
	}`)
	if err := h.Validate(badScale); err == nil {
		t.Error("expected rejection when minReplicas exceeds maxReplicas")
	}

	badPort := json.RawMessage(`{
		"name":"a","resourceGroup":"rg","location":"we","environmentId":"e","image":"i",
		"targetPort":0,"registry":{"name":"r"},"identitySource":"s",
		"scale":{"minReplicas":0,"maxReplicas":3}
	}`)
	if err := h.Validate(badPort); err == nil {
		t.Error("expected rejection of missing target port")
	}
}

func TestSecretValidate(t *testing.T) {
	h := &secretHandler{}

	good := json.RawMessage(`{"vaultName":"jira-prod","vaultUri":"https://jira-prod.vault.azure.net/","name":"JIRA-TOKEN","value":"JIRA-TOKEN"}`)
	if err := h.Validate(good); err != nil {
		t.Errorf("compliant config rejected: %v", err)
	}

	missingVault := json.RawMessage(`{"name":"JIRA-TOKEN","value":"JIRA-TOKEN"}`)
	if err := h.Validate(missingVault); err == nil {
		t.Error("expected rejection without vault binding")
	}
}

func TestRBACWaitValidate(t *testing.T) {
	h := &rbacWaitHandler{}

	good := json.RawMessage(`{"scope":"/subscriptions/x","roleDefinitionId":"/subscriptions/x/roleDefinitions/y","principalSource":"application.identity","maxAttempts":10}`)
	if err := h.Validate(good); err != nil {
		t.Errorf("compliant config rejected: %v", err)
	}

	missingScope := json.RawMessage(`{"roleDefinitionId":"x","principalSource":"y"}`)
	if err := h.Validate(missingScope); err == nil {
		t.Error("expected rejection without scope")
	}
}
