// Package budget tracks spend against a daily limit.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// ErrBudgetExceeded is returned by Require when the cost exceeds what remains.
var ErrBudgetExceeded = errors.New("budget exceeded")

// CheckResult is the outcome of a budget check.
type CheckResult struct {
	Allowed   bool
	Code      models.ReasonCode
	Reason    string
	Remaining models.Amount
}

// Ledger wraps a BudgetStore with check and admin operations.
type Ledger struct {
	store        store.BudgetStore
	defaultLimit models.Amount
	logger       *slog.Logger
}

// New creates a Ledger. defaultLimit seeds an empty store and is restored by Restore.
func New(s store.BudgetStore, defaultLimit models.Amount, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, defaultLimit: defaultLimit, logger: logger.With("component", "budget")}
}

// Init writes the default state if the store is empty.
func (l *Ledger) Init(ctx context.Context) error {
	_, err := l.store.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load budget: %w", err)
	}
	return l.seed(ctx)
}

func (l *Ledger) seed(ctx context.Context) error {
	state := models.BudgetState{DailyLimit: l.defaultLimit, Remaining: l.defaultLimit}
	if err := l.store.Set(ctx, state); err != nil {
		return fmt.Errorf("seed budget: %w", err)
	}
	return nil
}

func (l *Ledger) state(ctx context.Context) (models.BudgetState, error) {
	st, err := l.store.Get(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return models.BudgetState{DailyLimit: l.defaultLimit, Remaining: l.defaultLimit}, nil
	}
	if err != nil {
		return models.BudgetState{}, fmt.Errorf("budget status: %w", err)
	}
	return st, nil
}

// Status returns the current spend figures.
func (l *Ledger) Status(ctx context.Context) (models.BudgetStatus, error) {
	st, err := l.state(ctx)
	if err != nil {
		return models.BudgetStatus{}, err
	}
	return st.Status(), nil
}

// Check reports whether amount fits in the remaining budget. It never mutates.
func (l *Ledger) Check(ctx context.Context, amount models.Amount) (CheckResult, error) {
	st, err := l.state(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if amount > st.Remaining {
		detail := fmt.Sprintf("%s exceeds remaining %s", amount.Dollars(), st.Remaining.Dollars())
		return CheckResult{
			Code:      models.ReasonBudgetExceeded,
			Reason:    models.Reason(models.ReasonBudgetExceeded, detail),
			Remaining: st.Remaining,
		}, nil
	}
	return CheckResult{
		Allowed:   true,
		Code:      models.ReasonBudgetCheckPassed,
		Reason:    string(models.ReasonBudgetCheckPassed),
		Remaining: st.Remaining,
	}, nil
}

// Require is Check as an error: ErrBudgetExceeded when amount does not fit.
func (l *Ledger) Require(ctx context.Context, amount models.Amount) error {
	res, err := l.Check(ctx, amount)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return fmt.Errorf("%w: %s", ErrBudgetExceeded, res.Reason)
	}
	return nil
}

// Deduct subtracts amount atomically; remaining never drops below zero.
func (l *Ledger) Deduct(ctx context.Context, amount models.Amount) (models.BudgetState, error) {
	if amount < 0 {
		return models.BudgetState{}, fmt.Errorf("deduct: negative amount %s", amount)
	}
	st, err := l.store.Deduct(ctx, amount)
	if errors.Is(err, store.ErrNotFound) {
		if err := l.seed(ctx); err != nil {
			return models.BudgetState{}, err
		}
		st, err = l.store.Deduct(ctx, amount)
	}
	if err != nil {
		return models.BudgetState{}, fmt.Errorf("deduct budget: %w", err)
	}
	l.logger.DebugContext(ctx, "budget deducted", "amount", amount.String(), "remaining", st.Remaining.String())
	return st, nil
}

// Reset restores remaining to the current daily limit.
func (l *Ledger) Reset(ctx context.Context) (models.BudgetStatus, error) {
	st, err := l.store.Reset(ctx)
	if errors.Is(err, store.ErrNotFound) {
		if err := l.seed(ctx); err != nil {
			return models.BudgetStatus{}, err
		}
		return l.Status(ctx)
	}
	if err != nil {
		return models.BudgetStatus{}, fmt.Errorf("reset budget: %w", err)
	}
	l.logger.InfoContext(ctx, "budget reset", "daily_limit", st.DailyLimit.String())
	return st.Status(), nil
}

// SetLimit changes the daily limit and resets remaining to it.
func (l *Ledger) SetLimit(ctx context.Context, limit models.Amount) (models.BudgetStatus, error) {
	if limit < 0 {
		return models.BudgetStatus{}, fmt.Errorf("set limit: negative limit %s", limit)
	}
	st := models.BudgetState{DailyLimit: limit, Remaining: limit}
	if err := l.store.Set(ctx, st); err != nil {
		return models.BudgetStatus{}, fmt.Errorf("set limit: %w", err)
	}
	l.logger.InfoContext(ctx, "budget limit set", "daily_limit", limit.String())
	return st.Status(), nil
}

// Restore puts the ledger back to the configured default limit.
func (l *Ledger) Restore(ctx context.Context) (models.BudgetStatus, error) {
	return l.SetLimit(ctx, l.defaultLimit)
}
