package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// PendingStore keeps quotes with an absolute expiry. Expired rows are
// invisible to Get and removed by the janitor.
type PendingStore struct{ s *Store }

func (ps *PendingStore) Put(ctx context.Context, nonce string, req models.PaymentRequirement, ttl time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode pending payment: %w", err)
	}
	_, err = ps.s.db.ExecContext(ctx, ps.s.q(
		`INSERT INTO sg_pending (nonce, requirement, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (nonce) DO UPDATE SET requirement = excluded.requirement, expires_at = excluded.expires_at`),
		nonce, string(data), ps.s.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put pending payment: %w", err)
	}
	return nil
}

func (ps *PendingStore) Get(ctx context.Context, nonce string) (models.PaymentRequirement, error) {
	var (
		data      string
		expiresAt int64
	)
	err := ps.s.db.QueryRowContext(ctx, ps.s.q(
		`SELECT requirement, expires_at FROM sg_pending WHERE nonce = ?`), nonce,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentRequirement{}, store.ErrNotFound
	}
	if err != nil {
		return models.PaymentRequirement{}, fmt.Errorf("get pending payment: %w", err)
	}
	if ps.s.now().UnixNano() >= expiresAt {
		return models.PaymentRequirement{}, store.ErrNotFound
	}

	var req models.PaymentRequirement
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return models.PaymentRequirement{}, fmt.Errorf("decode pending payment: %w", err)
	}
	return req, nil
}

func (ps *PendingStore) Remove(ctx context.Context, nonce string) error {
	if _, err := ps.s.db.ExecContext(ctx, ps.s.q(`DELETE FROM sg_pending WHERE nonce = ?`), nonce); err != nil {
		return fmt.Errorf("remove pending payment: %w", err)
	}
	return nil
}

func (ps *PendingStore) Clear(ctx context.Context) error {
	if _, err := ps.s.db.ExecContext(ctx, `DELETE FROM sg_pending`); err != nil {
		return fmt.Errorf("clear pending payments: %w", err)
	}
	return nil
}
