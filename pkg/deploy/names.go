// Package deploy assembles the foundation and application resource
// graphs from validated deployment parameters, and carries the typed
// foundation outputs the application phase binds against.
package deploy

import (
	"fmt"
)

// KeyVaultSecretsUserRoleID is the built-in role definition GUID for
// "Key Vault Secrets User".
const KeyVaultSecretsUserRoleID = "4633458b-17de-408a-b874-0445c86b69e6"

// RequiredSecrets are the vault slots the bridge reads at runtime. Each
// is created as a placeholder whose value equals its own name; real
// values are injected afterwards with `bridgectl secrets set`.
var RequiredSecrets = []string{
	"APPINSIGHTS-APP-ID",
	"APPINSIGHTS-API-KEY",
	"JIRA-EMAIL",
	"JIRA-TOKEN",
	"JIRA-URL",
	"JIRA-PROJECT",
	"AZURE-CONNECTION-STRING",
}

// ResourceGroupName returns the resource group name for an environment.
func ResourceGroupName(environment string) string {
	return "jira-rg-" + environment
}

// VaultName returns the Key Vault name for an environment.
func VaultName(environment string) string {
	return "jira-" + environment
}

// VaultURI returns the data-plane URI for a vault name.
func VaultURI(vaultName string) string {
	return fmt.Sprintf("https://%s.vault.azure.net/", vaultName)
}

// StorageAccountName returns the storage account name for an
// environment. Storage accounts allow no separators, so the name is
// plain lowercase alphanumeric.
func StorageAccountName(environment string) string {
	return "jirast" + environment
}

// ManagedEnvironmentName returns the container-apps environment name.
func ManagedEnvironmentName(environment string) string {
	return "jira-env-" + environment
}

// IdentityName returns the user-assigned managed identity name.
func IdentityName(environment string) string {
	return "jira-bridge-id-" + environment
}

// ContainerAppName returns the container app name.
func ContainerAppName(environment string) string {
	return "jira-bridge-" + environment
}

// VaultResourceID returns the ARM resource ID of the environment's
// vault. This is the scope the secrets-user role assignment targets.
func VaultResourceID(subscriptionID, environment string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.KeyVault/vaults/%s",
		subscriptionID, ResourceGroupName(environment), VaultName(environment))
}

// RoleDefinitionResourceID returns the full ARM path of a built-in role
// definition within a subscription.
func RoleDefinitionResourceID(subscriptionID, roleID string) string {
	return fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s",
		subscriptionID, roleID)
}

// RegistryServer returns the login server for an ACR name.
func RegistryServer(acrName string) string {
	return acrName + ".azurecr.io"
}
