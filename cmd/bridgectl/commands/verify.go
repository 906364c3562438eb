package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
	"github.com/ticketbridge/ticketbridge/pkg/providers/azure"
)

func newVerifyAccessCommand() *cobra.Command {
	var (
		wait     bool
		attempts int
	)

	cmd := &cobra.Command{
		Use:   "verify-access",
		Short: "Check that the identity's vault role assignment is visible",
		Long: `Verify-access resolves the bridge's managed identity, computes its
deterministic role assignment name, and checks whether the Key Vault
Secrets User grant is readable at vault scope. Use it to diagnose RBAC
propagation delays without running a full apply.`,
		Example: `  # One-shot check
  bridgectl verify-access

  # Poll until the grant is visible
  bridgectl verify-access --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			params, err := loadParams(ctx)
			if err != nil {
				return err
			}

			env := params.Environment
			scope := vaultScope(ctx, params.SubscriptionID, env)
			roleDefID := deploy.RoleDefinitionResourceID(params.SubscriptionID, deploy.KeyVaultSecretsUserRoleID)

			cred, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return fmt.Errorf("failed to build Azure credential: %w", err)
			}

			identities, err := armmsi.NewUserAssignedIdentitiesClient(params.SubscriptionID, cred, nil)
			if err != nil {
				return err
			}
			identity, err := identities.Get(ctx, deploy.ResourceGroupName(env), deploy.IdentityName(env), nil)
			if err != nil {
				return fmt.Errorf("managed identity not found; apply the application phase first: %w", err)
			}
			if identity.Properties == nil || identity.Properties.PrincipalID == nil {
				return fmt.Errorf("managed identity has no principal ID yet")
			}
			principalID := *identity.Properties.PrincipalID

			assignments, err := armauthorization.NewRoleAssignmentsClient(params.SubscriptionID, cred, nil)
			if err != nil {
				return err
			}
			name := azure.RoleAssignmentName(scope, roleDefID, principalID)

			maxAttempts := 1
			if wait {
				maxAttempts = attempts
			}

			delay := 2 * time.Second
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				if _, err := assignments.Get(ctx, scope, name, nil); err == nil {
					log.Info().
						Str("assignment", name).
						Str("principal", principalID).
						Int("attempts", attempt).
						Msg("Vault access grant is visible")
					fmt.Printf("Role assignment %s visible at vault scope\n", name)
					return nil
				}

				if attempt == maxAttempts {
					break
				}
				log.Info().
					Int("attempt", attempt).
					Dur("next_delay", delay).
					Msg("Grant not yet visible, retrying")
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
				if delay *= 2; delay > time.Minute {
					delay = time.Minute
				}
			}

			return fmt.Errorf("role assignment %s not visible at vault scope after %d attempts", name, maxAttempts)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the grant is visible")
	cmd.Flags().IntVar(&attempts, "attempts", 10, "polling attempts when --wait is set")

	return cmd
}

// vaultScope prefers the vault ID recorded by the foundation apply and
// falls back to the derived resource ID when no outputs are stored.
func vaultScope(ctx context.Context, subscriptionID, env string) string {
	scope := deploy.VaultResourceID(subscriptionID, env)
	if store, err := openStore(ctx); err == nil {
		if outputs, err := deploy.LoadFoundationOutputs(ctx, store, env); err == nil && outputs.VaultID != "" {
			scope = outputs.VaultID
		}
		store.Close()
	}
	return scope
}
