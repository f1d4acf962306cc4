package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, Postgres, 100), mock
}

func TestPostgresClaimNonce(t *testing.T) {
	s, mock := newMock(t)
	ns := s.Stores().Nonces
	ctx := context.Background()

	query := regexp.QuoteMeta(`INSERT INTO sg_nonces (nonce, claimed_at) VALUES ($1, $2) ON CONFLICT (nonce) DO NOTHING`)
	mock.ExpectExec(query).WithArgs("nonce_1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("nonce_1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := ns.Claim(ctx, "nonce_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ns.Claim(ctx, "nonce_1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeduct(t *testing.T) {
	s, mock := newMock(t)
	bs := s.Stores().Budget

	mock.ExpectQuery(regexp.QuoteMeta(`SET remaining = CASE WHEN remaining > $1 THEN remaining - $2 ELSE 0 END`)).
		WithArgs(int64(1000), int64(1000)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_limit", "remaining"}).AddRow(int64(1000000), int64(999000)))

	st, err := bs.Deduct(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, models.BudgetState{DailyLimit: 1000000, Remaining: 999000}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeductUninitialized(t *testing.T) {
	s, mock := newMock(t)
	bs := s.Stores().Budget

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE sg_budget`)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_limit", "remaining"}))

	_, err := bs.Deduct(context.Background(), 1000)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPolicyUpdateLocksRow(t *testing.T) {
	s, mock := newMock(t)
	ps := s.Stores().Policy

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM sg_policy WHERE id = 1 FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows([]string{"max_price_per_call", "allowed_providers", "allowed_actions", "allowed_tasks"}).
			AddRow(int64(500000), `["email"]`, `["send"]`, `["welcome_flow"]`))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sg_policy`)).
		WithArgs(int64(100000), `["email"]`, `["send"]`, `["welcome_flow"]`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	price := models.MustParseAmount("0.1")
	got, err := ps.Set(context.Background(), models.PolicyUpdate{MaxPricePerCall: &price})
	require.NoError(t, err)
	assert.Equal(t, price, got.MaxPricePerCall)
	assert.Equal(t, []string{"email"}, got.AllowedProviders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditAppendTrims(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, Postgres, 2)
	as := s.Stores().Audit

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO sg_counters (name, value) VALUES ($1, 1)`)).
		WithArgs("audit").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(5)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sg_audit`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sg_audit WHERE seq <= $1`)).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e, err := as.Append(context.Background(), models.AuditLogEntry{Decision: models.DecisionDenied})
	require.NoError(t, err)
	assert.Equal(t, "log_5", e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
