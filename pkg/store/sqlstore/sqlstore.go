// Package sqlstore implements the store contracts on database/sql.
// SQLite (modernc.org/sqlite) serves single-node deployments; Postgres
// (lib/pq) serves shared multi-instance deployments.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/spendguard/pkg/store"
)

// Dialect selects placeholder and locking syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (d Dialect) forUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// Store owns the database handle shared by all five stores.
type Store struct {
	db         *sql.DB
	dialect    Dialect
	maxEntries int
	now        func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New wraps an open database. It neither migrates nor starts the janitor.
func New(db *sql.DB, dialect Dialect, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Store{
		db:         db,
		dialect:    dialect,
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// OpenSQLite opens (creating if needed) a SQLite database at path and migrates it.
func OpenSQLite(path string, maxEntries int) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; keeps claim and deduct free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return open(db, SQLite, maxEntries)
}

// OpenPostgres connects to Postgres and migrates the schema.
func OpenPostgres(dsn string, maxEntries int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return open(db, Postgres, maxEntries)
}

func open(db *sql.DB, dialect Dialect, maxEntries int) (*Store, error) {
	s := New(db, dialect, maxEntries)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sg_policy (
		id                 INTEGER PRIMARY KEY,
		max_price_per_call BIGINT NOT NULL,
		allowed_providers  TEXT NOT NULL,
		allowed_actions    TEXT NOT NULL,
		allowed_tasks      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sg_budget (
		id          INTEGER PRIMARY KEY,
		daily_limit BIGINT NOT NULL,
		remaining   BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sg_nonces (
		nonce      TEXT PRIMARY KEY,
		claimed_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sg_pending (
		nonce       TEXT PRIMARY KEY,
		requirement TEXT NOT NULL,
		expires_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sg_pending_expires ON sg_pending(expires_at)`,
	`CREATE TABLE IF NOT EXISTS sg_counters (
		name  TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sg_audit (
		seq              BIGINT PRIMARY KEY,
		provider         TEXT NOT NULL,
		action           TEXT NOT NULL,
		task             TEXT NOT NULL,
		cost             BIGINT NOT NULL,
		decision         TEXT NOT NULL,
		reason           TEXT NOT NULL,
		code             TEXT NOT NULL,
		run_id           TEXT,
		ts               BIGINT NOT NULL,
		payload          TEXT,
		response         TEXT,
		payment_nonce    TEXT,
		payment_payer    TEXT,
		payment_verified INTEGER
	)`,
}

// Migrate creates the schema if absent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Stores returns the five store views over this database.
func (s *Store) Stores() *store.Stores {
	return store.NewStores(
		&PolicyStore{s: s},
		&BudgetStore{s: s},
		&NonceStore{s: s},
		&PendingStore{s: s},
		&AuditStore{s: s},
		s.Close,
	)
}

// StartJanitor sweeps expired pending quotes every interval until Close.
func (s *Store) StartJanitor(interval time.Duration) {
	s.wg.Add(1)
	go s.janitorLoop(interval)
}

func (s *Store) janitorLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.PurgeExpired(context.Background())
		}
	}
}

// PurgeExpired deletes pending quotes whose TTL has passed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sg_pending WHERE expires_at <= ?`), s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge pending: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the janitor and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}
