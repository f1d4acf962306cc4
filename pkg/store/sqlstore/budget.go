package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// BudgetStore persists the ledger as a single row. Deduct and Reset are
// single UPDATE ... RETURNING statements, so concurrent callers cannot
// interleave a read and a write.
type BudgetStore struct{ s *Store }

func (bs *BudgetStore) Get(ctx context.Context) (models.BudgetState, error) {
	return bs.scan(bs.s.db.QueryRowContext(ctx,
		`SELECT daily_limit, remaining FROM sg_budget WHERE id = 1`), "get budget")
}

func (bs *BudgetStore) Set(ctx context.Context, state models.BudgetState) error {
	_, err := bs.s.db.ExecContext(ctx, bs.s.q(
		`INSERT INTO sg_budget (id, daily_limit, remaining) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET daily_limit = excluded.daily_limit, remaining = excluded.remaining`),
		int64(state.DailyLimit), int64(state.Remaining),
	)
	if err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	return nil
}

func (bs *BudgetStore) Deduct(ctx context.Context, amount models.Amount) (models.BudgetState, error) {
	return bs.scan(bs.s.db.QueryRowContext(ctx, bs.s.q(
		`UPDATE sg_budget
		 SET remaining = CASE WHEN remaining > ? THEN remaining - ? ELSE 0 END
		 WHERE id = 1
		 RETURNING daily_limit, remaining`),
		int64(amount), int64(amount),
	), "deduct budget")
}

func (bs *BudgetStore) Reset(ctx context.Context) (models.BudgetState, error) {
	return bs.scan(bs.s.db.QueryRowContext(ctx,
		`UPDATE sg_budget SET remaining = daily_limit WHERE id = 1 RETURNING daily_limit, remaining`,
	), "reset budget")
}

func (bs *BudgetStore) scan(row *sql.Row, op string) (models.BudgetState, error) {
	var limit, remaining int64
	err := row.Scan(&limit, &remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BudgetState{}, store.ErrNotFound
	}
	if err != nil {
		return models.BudgetState{}, fmt.Errorf("%s: %w", op, err)
	}
	return models.BudgetState{DailyLimit: models.Amount(limit), Remaining: models.Amount(remaining)}, nil
}
