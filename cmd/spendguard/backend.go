package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pario-ai/spendguard/pkg/client"
	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/logging"
	"github.com/pario-ai/spendguard/pkg/models"
)

// admin is the state management surface shared by a running server
// (client.Client) and a directly opened store (localAdmin).
type admin interface {
	Budget(ctx context.Context) (models.BudgetStatus, error)
	ResetBudget(ctx context.Context) error
	SetDailyLimit(ctx context.Context, limit models.Amount) error
	Policy(ctx context.Context) (models.PolicyConfig, error)
	UpdatePolicy(ctx context.Context, u models.PolicyUpdate) (models.PolicyConfig, error)
	AuditLogs(ctx context.Context, limit int) (client.Logs, error)
	ClearLogs(ctx context.Context) error
	ClearNonces(ctx context.Context) error
	ClearAll(ctx context.Context) error
}

type localAdmin struct {
	g *guard.Guard
}

func (l localAdmin) Budget(ctx context.Context) (models.BudgetStatus, error) {
	return l.g.Budget.Status(ctx)
}

func (l localAdmin) ResetBudget(ctx context.Context) error {
	_, err := l.g.Budget.Reset(ctx)
	return err
}

func (l localAdmin) SetDailyLimit(ctx context.Context, limit models.Amount) error {
	_, err := l.g.Budget.SetLimit(ctx, limit)
	return err
}

func (l localAdmin) Policy(ctx context.Context) (models.PolicyConfig, error) {
	return l.g.Policy.Get(ctx)
}

func (l localAdmin) UpdatePolicy(ctx context.Context, u models.PolicyUpdate) (models.PolicyConfig, error) {
	return l.g.Policy.Update(ctx, u)
}

func (l localAdmin) AuditLogs(ctx context.Context, limit int) (client.Logs, error) {
	logs, err := l.g.Audit.Logs(ctx, limit)
	if err != nil {
		return client.Logs{}, err
	}
	stats, err := l.g.Audit.Stats(ctx)
	if err != nil {
		return client.Logs{}, err
	}
	return client.Logs{Logs: logs, Stats: stats}, nil
}

func (l localAdmin) ClearLogs(ctx context.Context) error   { return l.g.Audit.Clear(ctx) }
func (l localAdmin) ClearNonces(ctx context.Context) error { return l.g.ClearNonces(ctx) }
func (l localAdmin) ClearAll(ctx context.Context) error    { return l.g.ClearAll(ctx) }

// openAdmin returns a client for --server, otherwise the configured store.
// The in-memory backend is process local, so it only makes sense with --server.
func openAdmin(ctx context.Context, gf *globalFlags) (admin, func(), error) {
	if gf.serverURL != "" {
		c := client.New(gf.serverURL)
		c.AdminToken = gf.token
		return c, func() {}, nil
	}

	logger := quietLogger()
	cfg, g, cleanup, err := openGuard(ctx, gf.configPath, logger, guard.Options{})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("memory store is process local; use --server to manage a running instance")
	}
	return localAdmin{g: g}, cleanup, nil
}

// quietLogger logs warnings and above to stderr for one-shot commands.
func quietLogger() *slog.Logger {
	l, err := logging.New(os.Stderr, config.LogConfig{Level: "warn"})
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
