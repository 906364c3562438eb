package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	paramsPath string
	statePath  string
	policyDir  string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bridgectl",
		Short: "bridgectl - Azure provisioning for the exception-to-ticket bridge",
		Long: `bridgectl provisions and operates the Azure footprint of the
App Insights to Jira exception bridge.

Provisioning is split into two phases:
  foundation    resource group, storage account, container apps
                environment, RBAC key vault, placeholder secrets
  application   user-assigned identity, vault role assignment,
                RBAC propagation wait, container app

Every apply is a converge: re-running a phase reconciles what exists
and creates only what is missing.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&paramsPath, "params", "p", "params.cue", "deployment parameters file or directory")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "bridgectl.db", "state database path")
	rootCmd.PersistentFlags().StringVar(&policyDir, "policy-dir", "", "directory of additional rego policies")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newSecretsCommand())
	rootCmd.AddCommand(newVerifyAccessCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
