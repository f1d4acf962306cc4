// Package storetest is a conformance suite run by every store backend's tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// Harness is one fresh backend instance.
type Harness struct {
	Stores *store.Stores
	// Advance moves the pending store's notion of time forward.
	Advance func(d time.Duration)
}

// Factory builds a fresh, empty backend whose audit log keeps maxEntries.
type Factory func(t *testing.T, maxEntries int) Harness

// Run executes the full suite against factory.
func Run(t *testing.T, factory Factory) {
	t.Run("Policy", func(t *testing.T) { testPolicy(t, factory(t, 10)) })
	t.Run("Budget", func(t *testing.T) { testBudget(t, factory(t, 10)) })
	t.Run("BudgetConcurrentDeduct", func(t *testing.T) { testBudgetConcurrent(t, factory(t, 10)) })
	t.Run("Nonces", func(t *testing.T) { testNonces(t, factory(t, 10)) })
	t.Run("NonceConcurrentClaim", func(t *testing.T) { testNonceConcurrent(t, factory(t, 10)) })
	t.Run("Pending", func(t *testing.T) { testPending(t, factory(t, 10)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, factory(t, 3)) })
}

func testPolicy(t *testing.T, h Harness) {
	ctx := context.Background()
	ps := h.Stores.Policy

	_, err := ps.Get(ctx)
	require.True(t, errors.Is(err, store.ErrNotFound), "empty store should report ErrNotFound, got %v", err)

	full := models.PolicyConfig{
		MaxPricePerCall:  models.MustParseAmount("0.5"),
		AllowedProviders: []string{"email"},
		AllowedActions:   []string{"send"},
		AllowedTasks:     []string{"welcome_flow"},
	}
	got, err := ps.Set(ctx, full.FullUpdate())
	require.NoError(t, err)
	assert.Equal(t, full, got)

	price := models.MustParseAmount("0.1")
	got, err = ps.Set(ctx, models.PolicyUpdate{MaxPricePerCall: &price})
	require.NoError(t, err)
	assert.Equal(t, price, got.MaxPricePerCall)
	assert.Equal(t, []string{"email"}, got.AllowedProviders, "partial update keeps other fields")

	got, err = ps.Set(ctx, models.PolicyUpdate{AllowedProviders: []string{"email", "sms"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "sms"}, got.AllowedProviders)

	read, err := ps.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, read)
}

func testBudget(t *testing.T, h Harness) {
	ctx := context.Background()
	bs := h.Stores.Budget

	_, err := bs.Get(ctx)
	require.True(t, errors.Is(err, store.ErrNotFound), "empty store should report ErrNotFound, got %v", err)

	one := models.MustParseAmount("1")
	require.NoError(t, bs.Set(ctx, models.BudgetState{DailyLimit: one, Remaining: one}))

	st, err := bs.Deduct(ctx, models.MustParseAmount("0.3"))
	require.NoError(t, err)
	assert.Equal(t, models.MustParseAmount("0.7"), st.Remaining)
	assert.Equal(t, one, st.DailyLimit)

	st, err = bs.Deduct(ctx, models.MustParseAmount("5"))
	require.NoError(t, err)
	assert.Equal(t, models.Amount(0), st.Remaining, "deduct floors at zero")

	st, err = bs.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, one, st.Remaining)

	two := models.MustParseAmount("2")
	require.NoError(t, bs.Set(ctx, models.BudgetState{DailyLimit: two, Remaining: two}))
	st, err = bs.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.BudgetState{DailyLimit: two, Remaining: two}, st)
}

func testBudgetConcurrent(t *testing.T, h Harness) {
	ctx := context.Background()
	bs := h.Stores.Budget
	limit := models.MustParseAmount("0.2")
	require.NoError(t, bs.Set(ctx, models.BudgetState{DailyLimit: limit, Remaining: limit}))

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := bs.Deduct(ctx, models.MustParseAmount("0.01"))
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, st.Remaining, models.Amount(0))
		}()
	}
	wg.Wait()

	st, err := bs.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Amount(0), st.Remaining)
}

func testNonces(t *testing.T, h Harness) {
	ctx := context.Background()
	ns := h.Stores.Nonces

	claimed, err := ns.IsClaimed(ctx, "nonce_1")
	require.NoError(t, err)
	assert.False(t, claimed)

	ok, err := ns.Claim(ctx, "nonce_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ns.Claim(ctx, "nonce_1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim must fail")

	claimed, err = ns.IsClaimed(ctx, "nonce_1")
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, ns.Clear(ctx))
	claimed, err = ns.IsClaimed(ctx, "nonce_1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func testNonceConcurrent(t *testing.T, h Harness) {
	ctx := context.Background()
	ns := h.Stores.Nonces

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ns.Claim(ctx, "nonce_race")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load(), "exactly one claim may succeed")
}

func testPending(t *testing.T, h Harness) {
	ctx := context.Background()
	ps := h.Stores.Pending

	req := models.PaymentRequirement{
		Price:       models.MustParseAmount("0.001"),
		Asset:       "USDC",
		Network:     "base-sepolia",
		Nonce:       "nonce_a",
		PayTo:       "0xMockWalletAddress",
		CallbackURL: "/api/provider/email/send",
	}
	require.NoError(t, ps.Put(ctx, "nonce_a", req, time.Hour))

	got, err := ps.Get(ctx, "nonce_a")
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = ps.Get(ctx, "nonce_missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, ps.Remove(ctx, "nonce_a"))
	_, err = ps.Get(ctx, "nonce_a")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Removing twice is not an error.
	require.NoError(t, ps.Remove(ctx, "nonce_a"))

	req.Nonce = "nonce_b"
	require.NoError(t, ps.Put(ctx, "nonce_b", req, 10*time.Second))
	h.Advance(11 * time.Second)
	_, err = ps.Get(ctx, "nonce_b")
	assert.True(t, errors.Is(err, store.ErrNotFound), "expired quote must be gone, got %v", err)

	for i := range 3 {
		n := fmt.Sprintf("nonce_c%d", i)
		req.Nonce = n
		require.NoError(t, ps.Put(ctx, n, req, time.Hour))
	}
	require.NoError(t, ps.Clear(ctx))
	_, err = ps.Get(ctx, "nonce_c0")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testAudit(t *testing.T, h Harness) {
	ctx := context.Background()
	as := h.Stores.Audit
	verified := true

	for i := 1; i <= 5; i++ {
		e, err := as.Append(ctx, models.AuditLogEntry{
			Provider:        "email",
			Action:          "send",
			Task:            "welcome_flow",
			Cost:            models.MustParseAmount("0.001"),
			Decision:        models.DecisionApproved,
			Reason:          string(models.ReasonPaymentVerified),
			Code:            models.ReasonPaymentVerified,
			Timestamp:       time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			Payload:         []byte(`{"to":"a@b.c"}`),
			PaymentNonce:    fmt.Sprintf("nonce_%d", i),
			PaymentVerified: &verified,
		})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("log_%d", i), e.ID)
	}

	all, err := as.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "ring keeps only the most recent entries")
	assert.Equal(t, "log_5", all[0].ID)
	assert.Equal(t, "log_3", all[2].ID)
	assert.Equal(t, "nonce_5", all[0].PaymentNonce)
	assert.Equal(t, models.MustParseAmount("0.001"), all[0].Cost)
	require.NotNil(t, all[0].PaymentVerified)
	assert.True(t, *all[0].PaymentVerified)
	assert.JSONEq(t, `{"to":"a@b.c"}`, string(all[0].Payload))
	assert.True(t, all[0].Timestamp.Equal(time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)))

	two, err := as.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	require.NoError(t, as.Clear(ctx))
	all, err = as.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	e, err := as.Append(ctx, models.AuditLogEntry{Decision: models.DecisionDenied, Timestamp: time.Now().UTC()})
	require.NoError(t, err)
	assert.Equal(t, "log_1", e.ID, "clear restarts the counter")
}
