package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// PolicyStore persists the policy as a single row.
type PolicyStore struct{ s *Store }

const selectPolicy = `SELECT max_price_per_call, allowed_providers, allowed_actions, allowed_tasks
	FROM sg_policy WHERE id = 1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (models.PolicyConfig, error) {
	var (
		price                     int64
		providers, actions, tasks string
	)
	if err := row.Scan(&price, &providers, &actions, &tasks); err != nil {
		return models.PolicyConfig{}, err
	}
	p := models.PolicyConfig{MaxPricePerCall: models.Amount(price)}
	if err := json.Unmarshal([]byte(providers), &p.AllowedProviders); err != nil {
		return models.PolicyConfig{}, fmt.Errorf("decode allowed_providers: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &p.AllowedActions); err != nil {
		return models.PolicyConfig{}, fmt.Errorf("decode allowed_actions: %w", err)
	}
	if err := json.Unmarshal([]byte(tasks), &p.AllowedTasks); err != nil {
		return models.PolicyConfig{}, fmt.Errorf("decode allowed_tasks: %w", err)
	}
	return p.Clone(), nil
}

func (ps *PolicyStore) Get(ctx context.Context) (models.PolicyConfig, error) {
	p, err := scanPolicy(ps.s.db.QueryRowContext(ctx, selectPolicy))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PolicyConfig{}, store.ErrNotFound
	}
	if err != nil {
		return models.PolicyConfig{}, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (ps *PolicyStore) Set(ctx context.Context, update models.PolicyUpdate) (models.PolicyConfig, error) {
	tx, err := ps.s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PolicyConfig{}, fmt.Errorf("begin policy update: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanPolicy(tx.QueryRowContext(ctx, selectPolicy+ps.s.dialect.forUpdate()))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.PolicyConfig{}, fmt.Errorf("read policy: %w", err)
	}
	next := cur.Apply(update)

	providers, _ := json.Marshal(next.AllowedProviders)
	actions, _ := json.Marshal(next.AllowedActions)
	tasks, _ := json.Marshal(next.AllowedTasks)

	_, err = tx.ExecContext(ctx, ps.s.q(
		`INSERT INTO sg_policy (id, max_price_per_call, allowed_providers, allowed_actions, allowed_tasks)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   max_price_per_call = excluded.max_price_per_call,
		   allowed_providers  = excluded.allowed_providers,
		   allowed_actions    = excluded.allowed_actions,
		   allowed_tasks      = excluded.allowed_tasks`),
		int64(next.MaxPricePerCall), string(providers), string(actions), string(tasks),
	)
	if err != nil {
		return models.PolicyConfig{}, fmt.Errorf("write policy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.PolicyConfig{}, fmt.Errorf("commit policy: %w", err)
	}
	return next, nil
}
