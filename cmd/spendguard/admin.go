package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/server"
)

func newNoncesCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nonces",
		Short: "Manage consumed payment nonces",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget consumed nonces and pending payment quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				if err := a.ClearNonces(ctx); err != nil {
					return err
				}
				fmt.Println("Nonces and pending payments cleared.")
				return nil
			})
		},
	})
	return cmd
}

func newResetAllCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-all",
		Short: "Clear logs, nonces and pending payments; restore budget and policy defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(gf, func(ctx context.Context, a admin) error {
				if err := a.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Println("SpendGuard state cleared.")
				return nil
			})
		},
	}
}

func newTokenCmd(gf *globalFlags) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with server.admin_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(gf.configPath)
			if err != nil {
				return err
			}
			token, err := server.IssueAdminToken(cfg.Server.AdminSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
