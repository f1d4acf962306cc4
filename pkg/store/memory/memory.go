// Package memory provides in-process implementations of the store contracts.
// State is lost on restart; use it for tests and single-instance development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// New returns a full set of in-memory stores. maxEntries bounds the audit log.
func New(maxEntries int) *store.Stores {
	return store.NewStores(
		NewPolicyStore(),
		NewBudgetStore(),
		NewNonceStore(),
		NewPendingStore(),
		NewAuditStore(maxEntries),
		nil,
	)
}

// PolicyStore keeps the policy behind a mutex.
type PolicyStore struct {
	mu     sync.RWMutex
	policy *models.PolicyConfig
}

func NewPolicyStore() *PolicyStore { return &PolicyStore{} }

func (s *PolicyStore) Get(_ context.Context) (models.PolicyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.policy == nil {
		return models.PolicyConfig{}, store.ErrNotFound
	}
	return s.policy.Clone(), nil
}

func (s *PolicyStore) Set(_ context.Context, update models.PolicyUpdate) (models.PolicyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur models.PolicyConfig
	if s.policy != nil {
		cur = *s.policy
	}
	next := cur.Apply(update)
	s.policy = &next
	return next.Clone(), nil
}

// BudgetStore keeps the ledger behind a mutex so deductions serialize.
type BudgetStore struct {
	mu    sync.Mutex
	state *models.BudgetState
}

func NewBudgetStore() *BudgetStore { return &BudgetStore{} }

func (s *BudgetStore) Get(_ context.Context) (models.BudgetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return models.BudgetState{}, store.ErrNotFound
	}
	return *s.state, nil
}

func (s *BudgetStore) Set(_ context.Context, state models.BudgetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
	return nil
}

func (s *BudgetStore) Deduct(_ context.Context, amount models.Amount) (models.BudgetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return models.BudgetState{}, store.ErrNotFound
	}
	s.state.Remaining -= amount
	if s.state.Remaining < 0 {
		s.state.Remaining = 0
	}
	return *s.state, nil
}

func (s *BudgetStore) Reset(_ context.Context) (models.BudgetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return models.BudgetState{}, store.ErrNotFound
	}
	s.state.Remaining = s.state.DailyLimit
	return *s.state, nil
}

// NonceStore is a mutex-guarded set.
type NonceStore struct {
	mu   sync.Mutex
	used map[string]time.Time
}

func NewNonceStore() *NonceStore {
	return &NonceStore{used: make(map[string]time.Time)}
}

func (s *NonceStore) Claim(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.used[nonce]; ok {
		return false, nil
	}
	s.used[nonce] = time.Now()
	return true, nil
}

func (s *NonceStore) IsClaimed(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[nonce]
	return ok, nil
}

func (s *NonceStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = make(map[string]time.Time)
	return nil
}

// PendingStore holds quotes with lazy expiry.
type PendingStore struct {
	mu    sync.Mutex
	items map[string]pendingItem
	now   func() time.Time
}

type pendingItem struct {
	req       models.PaymentRequirement
	expiresAt time.Time
}

func NewPendingStore() *PendingStore {
	return &PendingStore{items: make(map[string]pendingItem), now: time.Now}
}

func (s *PendingStore) Put(_ context.Context, nonce string, req models.PaymentRequirement, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	s.items[nonce] = pendingItem{req: req, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *PendingStore) Get(_ context.Context, nonce string) (models.PaymentRequirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	item, ok := s.items[nonce]
	if !ok {
		return models.PaymentRequirement{}, store.ErrNotFound
	}
	return item.req, nil
}

func (s *PendingStore) Remove(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, nonce)
	return nil
}

func (s *PendingStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]pendingItem)
	return nil
}

func (s *PendingStore) cleanupLocked() {
	now := s.now()
	for k, v := range s.items {
		if !now.Before(v.expiresAt) {
			delete(s.items, k)
		}
	}
}

// AuditStore is a fixed-size ring of entries.
type AuditStore struct {
	mu      sync.Mutex
	max     int
	counter int64
	entries []models.AuditLogEntry // oldest first
}

func NewAuditStore(maxEntries int) *AuditStore {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &AuditStore{max: maxEntries}
}

func (s *AuditStore) Append(_ context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	entry.ID = store.LogID(s.counter)
	s.entries = append(s.entries, entry)
	if over := len(s.entries) - s.max; over > 0 {
		s.entries = append([]models.AuditLogEntry(nil), s.entries[over:]...)
	}
	return entry, nil
}

func (s *AuditStore) List(_ context.Context, limit int) ([]models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.AuditLogEntry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *AuditStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.counter = 0
	return nil
}
