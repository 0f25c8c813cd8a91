/*
Package sqlstore provides a relational implementation of admission.TxStore.

PURPOSE:
  Persists persons, hosts, visits and job runs through database/sql.
  SQLite (mattn/go-sqlite3) and PostgreSQL (lib/pq) share every query;
  only placeholders and locking differ.

KEY TABLES:
  persons:  Guests and reciprocating members, with standing
  hosts:    Members who sponsor guests
  visits:   One row per visit, status and sign-in/out times
  job_runs: Idempotency records for scheduled jobs

INDEXES:
  - idx_visits_person_date_live: at most one non-cancelled visit per
    (person, date); a violation surfaces as admission.ErrDuplicateVisit
  - idx_visits_host_date:        host capacity checks (hot path)

CONCURRENCY:
  PostgreSQL: Lock() takes pg_advisory_xact_lock on each key, sorted, so
  the check-then-write sequences for one person or one host day run one
  at a time; the locks release on commit or rollback.
  SQLite: one connection, so transactions are fully serialized and Lock()
  has nothing to add.

MIGRATION:
  Schema lives in migrations/*.sql, embedded and applied with goose on Open.

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/visits.db", log)
  if err != nil {
      log.Fatal().Err(err).Msg("open store")
  }
  defer store.Close()

  engine := admission.NewEngine(store, admission.Options{...})

SEE ALSO:
  - admission/store.go: Interface definitions
  - admission/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/warp/visit-engine/admission"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// Store implements admission.TxStore.
type Store struct {
	*repo
	db  *sql.DB
	log zerolog.Logger
}

// Open connects, migrates and returns a Store.
// For SQLite, dsn is a file path or ":memory:".
func Open(dialect Dialect, dsn string, log zerolog.Logger) (*Store, error) {
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		// One connection: serializes transactions and keeps ":memory:" alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := New(db, dialect, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite opens a SQLite store. Use ":memory:" for an in-memory database.
func NewSQLite(path string) (*Store, error) {
	return Open(DialectSQLite, path, zerolog.Nop())
}

// New wraps an open database and applies pending migrations.
func New(db *sql.DB, dialect Dialect, log zerolog.Logger) (*Store, error) {
	if err := migrate(db, dialect); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{
		repo: &repo{q: db, dialect: dialect},
		db:   db,
		log:  log.With().Str("component", "sqlstore").Str("dialect", string(dialect)).Logger(),
	}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

func migrate(db *sql.DB, dialect Dialect) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() Dialect { return s.dialect }

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(admission.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapDriverError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		s.log.Warn().Err(err).Msg("commit failed")
		return mapDriverError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// QUERIER - *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements admission.Store over a querier.
type repo struct {
	q       querier
	dialect Dialect
	inTx    bool
}

// rebind rewrites ? placeholders to $1, $2... for PostgreSQL.
func (r *repo) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.rebind(query), args...)
}

func (r *repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.rebind(query), args...)
}

func (r *repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.rebind(query), args...)
}

// Lock takes transaction-scoped advisory locks on PostgreSQL.
// Outside a transaction, and on SQLite, it is a no-op.
func (r *repo) Lock(ctx context.Context, keys ...string) error {
	if !r.inTx || r.dialect != DialectPostgres || len(keys) == 0 {
		return nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	prev := ""
	for _, k := range sorted {
		if k == prev {
			continue
		}
		prev = k
		if _, err := r.exec(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", k); err != nil {
			return mapDriverError(fmt.Errorf("failed to lock %s: %w", k, err))
		}
	}
	return nil
}
