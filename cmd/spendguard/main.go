package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	serverURL  string
	token      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}

	root := &cobra.Command{
		Use:           "spendguard",
		Short:         "SpendGuard: policy, budget and x402 payment guard for agent spend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.configPath, "config", "c", "spendguard.yaml", "path to config file")
	root.PersistentFlags().StringVar(&gf.serverURL, "server", "", "manage a running server at this URL instead of the configured store")
	root.PersistentFlags().StringVar(&gf.token, "token", os.Getenv("SPENDGUARD_ADMIN_TOKEN"), "admin bearer token for --server")

	root.AddCommand(
		newServeCmd(gf),
		newMCPCmd(gf),
		newBudgetCmd(gf),
		newPolicyCmd(gf),
		newAuditCmd(gf),
		newNoncesCmd(gf),
		newResetAllCmd(gf),
		newPayCmd(gf),
		newTokenCmd(gf),
	)
	return root
}
