// Package sqlite opens and bounds the single SQLite database all store
// components share. One *sql.DB is the pool: transactions serialise writes
// while readers observe committed state through WAL snapshots.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DefaultMaxConnections bounds pools whose config does not set a limit.
const DefaultMaxConnections = 32

// Config parameterises Open.
type Config struct {
	// URL names the database: "sqlite:<path>", "sqlite::memory:" or a bare
	// filesystem path.
	URL string
	// MaxConnections bounds the pool. Requests beyond the bound suspend
	// until a connection frees; they never fail fast.
	MaxConnections int
}

// Pool is a bounded connection pool over one SQLite database.
type Pool struct {
	db     *sql.DB
	logger *zap.Logger
	path   string
}

// Runner abstracts the pool and its transactions so queries read the same
// inside and outside a transaction.
type Runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Runner = (*Pool)(nil)
	_ Runner = (*Tx)(nil)
)

// Open connects to the database, applies session pragmas, bounds the pool
// and brings the schema up to date.
func Open(cfg Config, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := databasePath(cfg.URL)
	if path == "" {
		return nil, errors.New("open database: empty database url")
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}

	dsn := path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	if path == ":memory:" {
		// A plain :memory: DSN gives every pooled connection its own empty
		// database. Shared cache keeps them on one database; a single
		// connection keeps it alive.
		dsn = "file::memory:?cache=shared&_foreign_keys=on&_busy_timeout=5000"
		maxConns = 1
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	db.SetMaxOpenConns(maxConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %q: %w", path, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database %q: %w", path, err)
	}

	logger.Info("database ready",
		zap.String("path", path),
		zap.Int("max_connections", maxConns))
	return &Pool{db: db, logger: logger, path: path}, nil
}

func databasePath(url string) string {
	path := strings.TrimPrefix(url, "sqlite:")
	path = strings.TrimPrefix(path, "//")
	return strings.TrimSpace(path)
}

// Acquire checks a connection out of the pool, suspending while the pool is
// exhausted. Closing the connection returns it.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// ExecContext runs a statement on a pooled connection.
func (p *Pool) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on a pooled connection.
func (p *Pool) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on a pooled connection.
func (p *Pool) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// Begin starts a writable transaction. Cancelling ctx before commit rolls
// the transaction back.
func (p *Pool) Begin(ctx context.Context) (*Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Transact runs fn inside one transaction, committing on nil error and
// rolling back otherwise.
func (p *Pool) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Stats reports pool usage for instrumentation.
func (p *Pool) Stats() sql.DBStats { return p.db.Stats() }

// Close releases every pooled connection.
func (p *Pool) Close() error {
	p.logger.Info("database closed", zap.String("path", p.path))
	return p.db.Close()
}

// Tx is one writable transaction. Rollback after Commit is a no-op so
// callers can defer it unconditionally.
type Tx struct {
	tx *sql.Tx
}

// ExecContext runs a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Commit makes the transaction's writes visible to readers.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback discards the transaction's writes. Calling it after Commit
// returns nil.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
