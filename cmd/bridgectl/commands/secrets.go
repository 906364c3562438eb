package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ticketbridge/ticketbridge/pkg/deploy"
)

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the bridge's key vault secrets",
		Long: `The foundation phase seeds the vault with placeholder secrets whose
value equals their name. These subcommands replace the placeholders
with real values and report which slots are still unset. Values are
written straight to the vault and never stored locally.`,
	}

	cmd.AddCommand(newSecretsSetCommand())
	cmd.AddCommand(newSecretsListCommand())

	return cmd
}

func newSecretsSetCommand() *cobra.Command {
	var (
		fromEnv  string
		fromFile string
	)

	cmd := &cobra.Command{
		Use:   "set NAME [VALUE]",
		Short: "Set one of the bridge's secrets to a real value",
		Example: `  # Value from an argument
  bridgectl secrets set JIRA-URL https://example.atlassian.net

  # Value from the environment, keeping it out of shell history
  bridgectl secrets set JIRA-TOKEN --from-env JIRA_TOKEN

  # Value read from a file
  bridgectl secrets set AZURE-CONNECTION-STRING --from-file conn.txt`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			if !isRequiredSecret(name) {
				return fmt.Errorf("unknown secret %q; expected one of: %s",
					name, strings.Join(deploy.RequiredSecrets, ", "))
			}

			value, err := secretValue(cmd, args, fromEnv, fromFile)
			if err != nil {
				return err
			}

			client, err := vaultClient(ctx)
			if err != nil {
				return err
			}

			if _, err := client.SetSecret(ctx, name, azsecrets.SetSecretParameters{
				Value: to.Ptr(value),
			}, nil); err != nil {
				return fmt.Errorf("failed to set secret %s: %w", name, err)
			}

			log.Info().Str("secret", name).Msg("Secret updated")
			return nil
		},
	}

	cmd.Flags().StringVar(&fromEnv, "from-env", "", "read the value from this environment variable")
	cmd.Flags().StringVar(&fromFile, "from-file", "", "read the value from this file")

	return cmd
}

func newSecretsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show which secrets still hold their placeholder value",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := vaultClient(ctx)
			if err != nil {
				return err
			}

			type slot struct {
				Name   string `json:"name"`
				Status string `json:"status"`
			}
			slots := make([]slot, 0, len(deploy.RequiredSecrets))

			for _, name := range deploy.RequiredSecrets {
				resp, err := client.GetSecret(ctx, name, "", nil)
				switch {
				case err != nil:
					slots = append(slots, slot{Name: name, Status: "missing"})
				case resp.Value != nil && *resp.Value == name:
					slots = append(slots, slot{Name: name, Status: "placeholder"})
				default:
					slots = append(slots, slot{Name: name, Status: "set"})
				}
			}

			if jsonOutput {
				return printJSON(slots)
			}
			for _, s := range slots {
				fmt.Printf("  %-28s %s\n", s.Name, s.Status)
			}
			return nil
		},
	}
}

// vaultClient builds a secrets client for the environment's vault,
// preferring the recorded foundation outputs over the derived name.
func vaultClient(ctx context.Context) (*azsecrets.Client, error) {
	params, err := loadParams(ctx)
	if err != nil {
		return nil, err
	}

	vaultURI := deploy.VaultURI(deploy.VaultName(params.Environment))
	if store, err := openStore(ctx); err == nil {
		if outputs, err := deploy.LoadFoundationOutputs(ctx, store, params.Environment); err == nil {
			vaultURI = outputs.VaultURI
		}
		store.Close()
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build Azure credential: %w", err)
	}
	return azsecrets.NewClient(vaultURI, cred, nil)
}

func isRequiredSecret(name string) bool {
	for _, s := range deploy.RequiredSecrets {
		if s == name {
			return true
		}
	}
	return false
}

// secretValue resolves the secret value from the argument, environment,
// file, or interactively from stdin.
func secretValue(cmd *cobra.Command, args []string, fromEnv, fromFile string) (string, error) {
	switch {
	case len(args) == 2:
		return args[1], nil
	case fromEnv != "":
		value, ok := os.LookupEnv(fromEnv)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", fromEnv)
		}
		return value, nil
	case fromFile != "":
		raw, err := os.ReadFile(fromFile)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(raw), "\n"), nil
	default:
		fmt.Fprint(cmd.OutOrStdout(), "Value: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}
