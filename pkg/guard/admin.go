package guard

import (
	"context"
	"fmt"
)

// ClearNonces forgets every claimed nonce and every outstanding quote.
func (g *Guard) ClearNonces(ctx context.Context) error {
	if err := g.Nonces.Clear(ctx); err != nil {
		return fmt.Errorf("clear nonces: %w", err)
	}
	if err := g.Pending.Clear(ctx); err != nil {
		return fmt.Errorf("clear pending payments: %w", err)
	}
	g.logger.InfoContext(ctx, "nonces and pending payments cleared")
	return nil
}

// ClearAll returns every store to its initial state: empty audit log with
// ids restarting at log_1, default budget and policy, no nonces or quotes.
func (g *Guard) ClearAll(ctx context.Context) error {
	if err := g.Audit.Clear(ctx); err != nil {
		return err
	}
	if _, err := g.Budget.Restore(ctx); err != nil {
		return err
	}
	if _, err := g.Policy.Reset(ctx); err != nil {
		return err
	}
	if err := g.ClearNonces(ctx); err != nil {
		return err
	}
	g.logger.InfoContext(ctx, "all state cleared")
	return nil
}
