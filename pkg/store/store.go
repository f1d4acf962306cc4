// Package store defines the persistence contracts for guard state.
// Implementations live in the memory, sqlstore and redisstore subpackages.
package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
)

// ErrNotFound is returned when a record does not exist or has expired.
var ErrNotFound = errors.New("not found")

// PolicyStore holds the single active policy.
type PolicyStore interface {
	// Get returns ErrNotFound until a policy has been written.
	Get(ctx context.Context) (models.PolicyConfig, error)
	// Set merges a partial update atomically and returns the result.
	Set(ctx context.Context, update models.PolicyUpdate) (models.PolicyConfig, error)
}

// BudgetStore holds the spend ledger.
type BudgetStore interface {
	// Get returns ErrNotFound until a state has been written.
	Get(ctx context.Context) (models.BudgetState, error)
	Set(ctx context.Context, state models.BudgetState) error
	// Deduct subtracts amount from remaining in one atomic step, flooring at zero.
	Deduct(ctx context.Context, amount models.Amount) (models.BudgetState, error)
	// Reset sets remaining back to the daily limit.
	Reset(ctx context.Context) (models.BudgetState, error)
}

// NonceStore is the set of consumed payment nonces.
type NonceStore interface {
	// Claim adds nonce if absent. It reports false when the nonce was already claimed.
	Claim(ctx context.Context, nonce string) (bool, error)
	IsClaimed(ctx context.Context, nonce string) (bool, error)
	Clear(ctx context.Context) error
}

// PendingStore holds outstanding payment quotes keyed by nonce.
type PendingStore interface {
	Put(ctx context.Context, nonce string, req models.PaymentRequirement, ttl time.Duration) error
	// Get returns ErrNotFound for unknown or expired nonces.
	Get(ctx context.Context, nonce string) (models.PaymentRequirement, error)
	Remove(ctx context.Context, nonce string) error
	Clear(ctx context.Context) error
}

// AuditStore is a bounded, append-only log of decisions.
type AuditStore interface {
	// Append assigns the next log_<n> id, stores the entry and evicts the oldest
	// entries beyond the retention bound.
	Append(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error)
	// List returns up to limit entries, newest first. limit <= 0 means all retained.
	List(ctx context.Context, limit int) ([]models.AuditLogEntry, error)
	// Clear removes all entries and restarts the id counter.
	Clear(ctx context.Context) error
}

// Stores bundles one backend's implementations.
type Stores struct {
	Policy  PolicyStore
	Budget  BudgetStore
	Nonces  NonceStore
	Pending PendingStore
	Audit   AuditStore

	closer func() error
}

// NewStores bundles implementations with an optional close hook.
func NewStores(p PolicyStore, b BudgetStore, n NonceStore, pe PendingStore, a AuditStore, closer func() error) *Stores {
	return &Stores{Policy: p, Budget: b, Nonces: n, Pending: pe, Audit: a, closer: closer}
}

// Close releases backend resources.
func (s *Stores) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// LogID formats a counter value as an audit id.
func LogID(n int64) string {
	return "log_" + strconv.FormatInt(n, 10)
}
