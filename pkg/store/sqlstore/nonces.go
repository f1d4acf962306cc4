package sqlstore

import (
	"context"
	"fmt"
)

// NonceStore records consumed nonces; the primary key makes Claim atomic.
type NonceStore struct{ s *Store }

func (ns *NonceStore) Claim(ctx context.Context, nonce string) (bool, error) {
	res, err := ns.s.db.ExecContext(ctx, ns.s.q(
		`INSERT INTO sg_nonces (nonce, claimed_at) VALUES (?, ?) ON CONFLICT (nonce) DO NOTHING`),
		nonce, ns.s.now().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("claim nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim nonce: %w", err)
	}
	return n == 1, nil
}

func (ns *NonceStore) IsClaimed(ctx context.Context, nonce string) (bool, error) {
	var n int
	err := ns.s.db.QueryRowContext(ctx, ns.s.q(
		`SELECT COUNT(*) FROM sg_nonces WHERE nonce = ?`), nonce).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return n > 0, nil
}

func (ns *NonceStore) Clear(ctx context.Context) error {
	if _, err := ns.s.db.ExecContext(ctx, `DELETE FROM sg_nonces`); err != nil {
		return fmt.Errorf("clear nonces: %w", err)
	}
	return nil
}
