package guard

import (
	"context"
	"fmt"

	"github.com/pario-ai/spendguard/pkg/audit"
	"github.com/pario-ai/spendguard/pkg/budget"
	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/payment"
	"github.com/pario-ai/spendguard/pkg/policy"
	"github.com/pario-ai/spendguard/pkg/provider"
	"github.com/pario-ai/spendguard/pkg/store"
)

// NewFromConfig wires a Guard over stores and seeds policy and budget
// defaults into empty stores. opts.PendingTTL and opts.EnforceBudgetOnQuote
// are taken from cfg.
func NewFromConfig(ctx context.Context, cfg *config.Config, stores *store.Stores, opts Options) (*Guard, error) {
	registry, err := provider.NewRegistryFromConfig(cfg.Providers)
	if err != nil {
		return nil, err
	}
	sv, err := payment.NewSignatureVerifier(cfg.Payment.SignatureScheme)
	if err != nil {
		return nil, err
	}

	pe := policy.New(stores.Policy, cfg.Policy)
	if err := pe.Init(ctx); err != nil {
		return nil, fmt.Errorf("init policy: %w", err)
	}
	ledger := budget.New(stores.Budget, cfg.Budget.DailyLimit, opts.Logger)
	if err := ledger.Init(ctx); err != nil {
		return nil, fmt.Errorf("init budget: %w", err)
	}

	opts.PendingTTL = cfg.Payment.PendingTTL
	opts.EnforceBudgetOnQuote = cfg.Budget.EnforceOnQuote
	return New(Deps{
		Policy:    pe,
		Budget:    ledger,
		Verifier:  payment.NewVerifier(stores.Nonces, sv),
		Nonces:    stores.Nonces,
		Pending:   stores.Pending,
		Providers: registry,
		Audit:     audit.New(stores.Audit, cfg.Audit, opts.Logger),
	}, opts), nil
}
