// Package audit records every terminal guard decision.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// DefaultListLimit is the number of entries Logs returns when limit <= 0.
const DefaultListLimit = 50

// Recorder appends decisions to an AuditStore. A nil *Recorder discards entries.
type Recorder struct {
	store  store.AuditStore
	cfg    models.AuditConfig
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Recorder. logger may be nil.
func New(s store.AuditStore, cfg models.AuditConfig, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, cfg: cfg, logger: logger, now: time.Now}
}

// Record stamps and stores entry, returning it with its assigned id.
func (r *Recorder) Record(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error) {
	if r == nil || r.store == nil {
		return entry, nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	entry.Payload = r.truncate(entry.Payload)
	entry.Response = r.truncate(entry.Response)

	stored, err := r.store.Append(ctx, entry)
	if err != nil {
		return entry, fmt.Errorf("append audit entry: %w", err)
	}

	r.logger.LogAttrs(ctx, slog.LevelInfo, "decision",
		slog.String("log_id", stored.ID),
		slog.String("decision", string(stored.Decision)),
		slog.String("code", string(stored.Code)),
		slog.String("provider", stored.Provider),
		slog.String("action", stored.Action),
		slog.String("task", stored.Task),
		slog.String("cost", stored.Cost.String()),
		slog.String("run_id", stored.RunID),
	)
	return stored, nil
}

// Logs returns up to limit entries, newest first.
func (r *Recorder) Logs(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if r == nil || r.store == nil {
		return []models.AuditLogEntry{}, nil
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	entries, err := r.store.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// Stats counts decisions over every retained entry.
func (r *Recorder) Stats(ctx context.Context) (models.LogStats, error) {
	if r == nil || r.store == nil {
		return models.LogStats{}, nil
	}
	entries, err := r.store.List(ctx, 0)
	if err != nil {
		return models.LogStats{}, fmt.Errorf("audit stats: %w", err)
	}
	return ComputeStats(entries), nil
}

// Clear removes all entries and restarts ids at log_1.
func (r *Recorder) Clear(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	if err := r.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear audit log: %w", err)
	}
	return nil
}

// ComputeStats tallies entries by decision.
func ComputeStats(entries []models.AuditLogEntry) models.LogStats {
	s := models.LogStats{Total: len(entries)}
	for _, e := range entries {
		switch e.Decision {
		case models.DecisionApproved:
			s.Approved++
		case models.DecisionDenied:
			s.Denied++
		case models.DecisionPaymentRequired:
			s.PaymentRequired++
		}
	}
	return s
}

// truncate replaces an oversized body with a JSON string marker so the
// stored value stays valid JSON.
func (r *Recorder) truncate(body json.RawMessage) json.RawMessage {
	if r.cfg.MaxBodySize <= 0 || len(body) <= r.cfg.MaxBodySize {
		return body
	}
	marker, _ := json.Marshal(fmt.Sprintf("[truncated %d bytes]", len(body)))
	return marker
}
