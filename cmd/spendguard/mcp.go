package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/mcp"
	"github.com/pario-ai/spendguard/pkg/payment"
)

func newMCPCmd(gf *globalFlags) *cobra.Command {
	var autoPay bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start SpendGuard as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol; logs go to stderr.
			logger := quietLogger()
			cfg, g, cleanup, err := openGuard(ctx, gf.configPath, logger, guard.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			var signer payment.Signer
			if autoPay {
				if cfg.Payment.SignatureScheme != "mock" {
					return fmt.Errorf("--auto-pay needs the mock signature scheme, got %q", cfg.Payment.SignatureScheme)
				}
				signer = payment.MockSigner{}
			}
			return mcp.New(g, signer, logger, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().BoolVar(&autoPay, "auto-pay", false, "let spendguard_execute pay quotes with the mock signer")
	return cmd
}
