/*
Package sqlstore provides a relational implementation of ledger.TxStore.

PURPOSE:
  Implements ledger.Store, ledger.TxStore and ledger.AuditLog on
  database/sql for two dialects:
  - SQLite (mattn/go-sqlite3), the default durable store
  - PostgreSQL (jackc/pgx/v5 stdlib driver)
  Queries are written once with "?" placeholders and rebound to $n for
  PostgreSQL.

KEY TABLES:
  clients, sales, sale_items, invoices, invoice_sales, payments, audit_log

STORAGE FORMATS:
  - Money is TEXT holding the exact decimal string; never REAL
  - Timestamps are fixed-width RFC3339 UTC TEXT so they compare as strings
  - sale_items rows are removed with their sale (ON DELETE CASCADE)

CONCURRENCY:
  SQLite runs with a single connection and WithTx holds a mutex for the
  whole transaction, so transactions are serialized and LockInvoice is a
  no-op. PostgreSQL relies on row locks: LockInvoice issues
  SELECT ... FOR UPDATE on the invoice row before a payment sum is read.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

MIGRATION:
  Schema is migrated on Open() with golang-migrate from embedded SQL files,
  one directory per dialect.

USAGE:
  store, err := sqlstore.New("./invoices.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/invoice-engine/ledger"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Dialect      Dialect
	DSN          string // file path for SQLite, URL or key=value for PostgreSQL
	MaxOpenConns int    // ignored for SQLite
}

// Store implements ledger.TxStore and ledger.AuditLog.
type Store struct {
	*conn
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// New opens a SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), Config{Dialect: SQLite, DSN: dbPath})
}

// Open connects, checks the connection and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Dialect {
	case SQLite, "":
		cfg.Dialect = SQLite
		db, err = sql.Open("sqlite3", sqliteDSN(cfg.DSN))
		if err == nil {
			// One connection: ":memory:" databases are per-connection, and
			// SQLite has a single writer anyway.
			db.SetMaxOpenConns(1)
		}
	case Postgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err == nil && cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxOpenConns)
		}
	default:
		return nil, fmt.Errorf("unknown dialect %q", cfg.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{
		conn:    &conn{q: db, dialect: cfg.Dialect},
		db:      db,
		dialect: cfg.Dialect,
	}
	if err := s.migrate(cfg.DSN); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() Dialect { return s.dialect }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	if s.dialect == SQLite {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Storage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.Storage("commit", err)
	}
	return nil
}

// =============================================================================
// CONN - Shared by the pool and by open transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q       querier
	dialect Dialect
}

func (c *conn) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, ledger.Storage(op, err)
	}
	return res, nil
}

func (c *conn) query(ctx context.Context, op, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, ledger.Storage(op, err)
	}
	return rows, nil
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// execOne runs a write that must touch exactly one row.
func (c *conn) execOne(ctx context.Context, op, entity, id, query string, args ...any) error {
	res, err := c.exec(ctx, op, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Storage(op, err)
	}
	if n == 0 {
		return ledger.NotFound(entity, id)
	}
	return nil
}

// rebind rewrites "?" placeholders to "$1, $2, ..." for PostgreSQL.
func (c *conn) rebind(query string) string {
	if c.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

func formatNullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NotFound(entity, id)
	}
	return ledger.Storage("load "+entity, err)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullID[T ~string](id *T) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func idPtr[T ~string](s sql.NullString) *T {
	if !s.Valid {
		return nil
	}
	id := T(s.String)
	return &id
}

// queryAll reads every row before returning so the connection is free for
// the next statement; SQLite runs on a single connection.
func queryAll[T any](ctx context.Context, c *conn, op, query string, scan func(scanner) (T, error), args ...any) ([]T, error) {
	rows, err := c.query(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, ledger.Storage(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage(op, err)
	}
	return out, nil
}

// Reset deletes every row, children first. Used by the demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		c := st.(*conn)
		for _, table := range []string{"payments", "invoice_sales", "sale_items", "sales", "invoices", "clients", "audit_log"} {
			if _, err := c.exec(ctx, "reset "+table, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}
