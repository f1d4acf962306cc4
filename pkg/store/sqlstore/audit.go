package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// AuditStore keeps the most recent maxEntries decisions. Ids come from a
// counter row so Clear can restart numbering at log_1.
type AuditStore struct{ s *Store }

const auditCounter = "audit"

func (as *AuditStore) Append(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error) {
	tx, err := as.s.db.BeginTx(ctx, nil)
	if err != nil {
		return entry, fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, as.s.q(
		`INSERT INTO sg_counters (name, value) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = sg_counters.value + 1
		 RETURNING value`), auditCounter,
	).Scan(&seq)
	if err != nil {
		return entry, fmt.Errorf("next audit id: %w", err)
	}

	var verified sql.NullInt64
	if entry.PaymentVerified != nil {
		verified.Valid = true
		if *entry.PaymentVerified {
			verified.Int64 = 1
		}
	}

	_, err = tx.ExecContext(ctx, as.s.q(
		`INSERT INTO sg_audit
		(seq, provider, action, task, cost, decision, reason, code, run_id, ts,
		 payload, response, payment_nonce, payment_payer, payment_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		seq, entry.Provider, entry.Action, entry.Task, int64(entry.Cost),
		string(entry.Decision), entry.Reason, string(entry.Code), nullString(entry.RunID),
		entry.Timestamp.UnixNano(),
		nullString(string(entry.Payload)), nullString(string(entry.Response)),
		nullString(entry.PaymentNonce), nullString(entry.PaymentPayer), verified,
	)
	if err != nil {
		return entry, fmt.Errorf("insert audit entry: %w", err)
	}

	if cutoff := seq - int64(as.s.maxEntries); cutoff > 0 {
		if _, err := tx.ExecContext(ctx, as.s.q(`DELETE FROM sg_audit WHERE seq <= ?`), cutoff); err != nil {
			return entry, fmt.Errorf("trim audit log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return entry, fmt.Errorf("commit audit entry: %w", err)
	}
	entry.ID = store.LogID(seq)
	return entry, nil
}

func (as *AuditStore) List(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 || limit > as.s.maxEntries {
		limit = as.s.maxEntries
	}
	rows, err := as.s.db.QueryContext(ctx, as.s.q(
		`SELECT seq, provider, action, task, cost, decision, reason, code, run_id, ts,
		 payload, response, payment_nonce, payment_payer, payment_verified
		 FROM sg_audit ORDER BY seq DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditLogEntry, 0)
	for rows.Next() {
		var (
			e                                    models.AuditLogEntry
			seq, cost, ts                        int64
			decision, code                       string
			runID, payload, response, nonce, pay sql.NullString
			verified                             sql.NullInt64
		)
		if err := rows.Scan(
			&seq, &e.Provider, &e.Action, &e.Task, &cost, &decision, &e.Reason, &code,
			&runID, &ts, &payload, &response, &nonce, &pay, &verified,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.ID = store.LogID(seq)
		e.Cost = models.Amount(cost)
		e.Decision = models.Decision(decision)
		e.Code = models.ReasonCode(code)
		e.RunID = runID.String
		e.Timestamp = time.Unix(0, ts).UTC()
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		if response.Valid {
			e.Response = []byte(response.String)
		}
		e.PaymentNonce = nonce.String
		e.PaymentPayer = pay.String
		if verified.Valid {
			v := verified.Int64 == 1
			e.PaymentVerified = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (as *AuditStore) Clear(ctx context.Context) error {
	tx, err := as.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sg_audit`); err != nil {
		return fmt.Errorf("clear audit log: %w", err)
	}
	if _, err := tx.ExecContext(ctx, as.s.q(`DELETE FROM sg_counters WHERE name = ?`), auditCounter); err != nil {
		return fmt.Errorf("reset audit counter: %w", err)
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
