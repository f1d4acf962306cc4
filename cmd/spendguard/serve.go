package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/logging"
	"github.com/pario-ai/spendguard/pkg/server"
	"github.com/pario-ai/spendguard/pkg/telemetry"
)

func newServeCmd(gf *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SpendGuard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(gf.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen != "" {
				cfg.Listen = listen
			}

			logger, err := logging.Setup(os.Stderr, cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tp, err := telemetry.Init(ctx, cfg.Telemetry, version, logger)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					logger.Warn("telemetry shutdown", "error", err)
				}
			}()

			stores, err := openStores(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
			}
			defer func() { _ = stores.Close() }()

			g, err := guard.NewFromConfig(ctx, cfg, stores, guard.Options{
				Logger:         logger,
				TracerProvider: tp.TracerProvider(),
			})
			if err != nil {
				return err
			}
			if cfg.Server.AdminSecret == "" {
				logger.Warn("server.admin_secret is empty; admin routes are unauthenticated")
			}

			logger.Info("starting spendguard",
				"config", gf.configPath,
				"store", cfg.Store.Backend,
				"providers", g.Providers.Names(),
			)
			return server.New(cfg, g, logger).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
