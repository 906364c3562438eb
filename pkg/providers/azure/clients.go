package azure

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appcontainers/armappcontainers/v3"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerregistry/armcontainerregistry"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// clientFactory bundles the ARM clients one subscription needs. Data-plane
// secret clients are built per vault URI on demand.
type clientFactory struct {
	credential      azcore.TokenCredential
	groups          *armresources.ResourceGroupsClient
	accounts        *armstorage.AccountsClient
	vaults          *armkeyvault.VaultsClient
	environments    *armappcontainers.ManagedEnvironmentsClient
	apps            *armappcontainers.ContainerAppsClient
	identities      *armmsi.UserAssignedIdentitiesClient
	roleAssignments *armauthorization.RoleAssignmentsClient
	registries      *armcontainerregistry.RegistriesClient
}

// newCredential builds the default credential chain (environment,
// workload identity, managed identity, CLI).
func newCredential() (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build azure credential: %w", err)
	}
	return cred, nil
}

// newClientFactory constructs all ARM clients for a subscription.
func newClientFactory(subscriptionID string, cred azcore.TokenCredential) (*clientFactory, error) {
	groups, err := armresources.NewResourceGroupsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	accounts, err := armstorage.NewAccountsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage accounts client: %w", err)
	}
	vaults, err := armkeyvault.NewVaultsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key vaults client: %w", err)
	}
	environments, err := armappcontainers.NewManagedEnvironmentsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create managed environments client: %w", err)
	}
	apps, err := armappcontainers.NewContainerAppsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create container apps client: %w", err)
	}
	identities, err := armmsi.NewUserAssignedIdentitiesClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create identities client: %w", err)
	}
	roleAssignments, err := armauthorization.NewRoleAssignmentsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create role assignments client: %w", err)
	}
	registries, err := armcontainerregistry.NewRegistriesClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registries client: %w", err)
	}

	return &clientFactory{
		credential:      cred,
		groups:          groups,
		accounts:        accounts,
		vaults:          vaults,
		environments:    environments,
		apps:            apps,
		identities:      identities,
		roleAssignments: roleAssignments,
		registries:      registries,
	}, nil
}

// secretsClient builds a data-plane client for one vault.
func (f *clientFactory) secretsClient(vaultURI string) (*azsecrets.Client, error) {
	client, err := azsecrets.NewClient(vaultURI, f.credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets client for %s: %w", vaultURI, err)
	}
	return client, nil
}
