// Package policy decides whether a request is permitted before any money moves.
package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// Request is the subject of a policy check.
type Request struct {
	Provider string
	Action   string
	Task     string
	Cost     models.Amount
}

// Result is the outcome of a policy check.
type Result struct {
	Allowed bool
	Code    models.ReasonCode
	Reason  string
}

// Engine evaluates requests against the stored policy.
type Engine struct {
	store    store.PolicyStore
	defaults models.PolicyConfig
}

// New creates an Engine. defaults seed an empty store and are restored by Reset.
func New(s store.PolicyStore, defaults models.PolicyConfig) *Engine {
	return &Engine{store: s, defaults: defaults.Clone()}
}

// Init writes the defaults if no policy has been stored yet.
func (e *Engine) Init(ctx context.Context) error {
	_, err := e.store.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load policy: %w", err)
	}
	if _, err := e.store.Set(ctx, e.defaults.FullUpdate()); err != nil {
		return fmt.Errorf("seed policy: %w", err)
	}
	return nil
}

// Get returns the active policy, falling back to defaults when none is stored.
func (e *Engine) Get(ctx context.Context) (models.PolicyConfig, error) {
	p, err := e.store.Get(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return e.defaults.Clone(), nil
	}
	if err != nil {
		return models.PolicyConfig{}, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// Update applies a partial change.
func (e *Engine) Update(ctx context.Context, u models.PolicyUpdate) (models.PolicyConfig, error) {
	if u.MaxPricePerCall != nil && *u.MaxPricePerCall < 0 {
		return models.PolicyConfig{}, fmt.Errorf("max_price_per_call must not be negative")
	}
	p, err := e.store.Set(ctx, u)
	if err != nil {
		return models.PolicyConfig{}, fmt.Errorf("update policy: %w", err)
	}
	return p, nil
}

// Reset restores the defaults.
func (e *Engine) Reset(ctx context.Context) (models.PolicyConfig, error) {
	return e.Update(ctx, e.defaults.FullUpdate())
}

// Check evaluates the rules in order; the first failure wins.
func (e *Engine) Check(ctx context.Context, req Request) (Result, error) {
	p, err := e.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	return Evaluate(p, req), nil
}

// Evaluate is the pure rule evaluation behind Check.
func Evaluate(p models.PolicyConfig, req Request) Result {
	if !slices.Contains(p.AllowedProviders, req.Provider) {
		return deny(models.ReasonProviderNotAllowed, fmt.Sprintf("%q not in allowlist", req.Provider))
	}
	if !slices.Contains(p.AllowedActions, req.Action) {
		return deny(models.ReasonActionNotAllowed, fmt.Sprintf("%q not in allowlist", req.Action))
	}
	if !slices.Contains(p.AllowedTasks, req.Task) {
		return deny(models.ReasonTaskNotAllowed, fmt.Sprintf("%q not in allowlist", req.Task))
	}
	if req.Cost > p.MaxPricePerCall {
		return deny(models.ReasonPriceExceeded,
			fmt.Sprintf("%s exceeds max %s", req.Cost.Dollars(), p.MaxPricePerCall.Dollars()))
	}
	return Result{
		Allowed: true,
		Code:    models.ReasonPolicyCheckPassed,
		Reason:  string(models.ReasonPolicyCheckPassed),
	}
}

func deny(code models.ReasonCode, detail string) Result {
	return Result{Code: code, Reason: models.Reason(code, detail)}
}
