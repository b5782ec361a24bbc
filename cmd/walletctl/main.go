package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/congo-pay/walletcore/internal/config"
)

type app struct {
	cfg config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "walletctl",
		Short:         "Operate the wallet ledger",
		Long:          "walletctl applies schema migrations, reconciles pending entries and audits balances against the ledger.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newReconcileCmd(a))
	root.AddCommand(newVerifyCmd(a))
	root.AddCommand(newTokenCmd(a))
	return root
}
