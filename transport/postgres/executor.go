// Package postgres stores key bindings and dead letters in PostgreSQL and
// carries key notifications over LISTEN/NOTIFY.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	DefaultBindingsTable    = "event_bus_bindings"
	DefaultDeadLettersTable = "event_dead_letters"
)

// Options configures an Executor.
type Options struct {
	// URL is the PostgreSQL connection string.
	URL string
	// BindingsTable and DeadLettersTable name the tables. Defaults apply when empty.
	BindingsTable    string
	DeadLettersTable string
	// MaxOpenConns sets the maximum number of pooled connections.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle pooled connections.
	MaxIdleConns int
}

func (o Options) withDefaults() Options {
	if o.BindingsTable == "" {
		o.BindingsTable = DefaultBindingsTable
	}
	if o.DeadLettersTable == "" {
		o.DeadLettersTable = DefaultDeadLettersTable
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 10
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 5
	}
	return o
}

// Executor owns the pooled connections used for binding and dead-letter
// queries and opens the dedicated connections LISTEN needs.
type Executor struct {
	db   *sqlx.DB
	opts Options
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, opts Options) (*Executor, error) {
	if opts.URL == "" {
		return nil, errors.New("PostgreSQL connection string is required")
	}
	opts = opts.withDefaults()

	db, err := sqlx.ConnectContext(ctx, "postgres", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewExecutor(db, opts), nil
}

// NewExecutor wraps an existing pool.
func NewExecutor(db *sqlx.DB, opts Options) *Executor {
	return &Executor{db: db, opts: opts.withDefaults()}
}

func (e *Executor) DB() *sqlx.DB { return e.db }

func (e *Executor) BindingsTable() string    { return e.opts.BindingsTable }
func (e *Executor) DeadLettersTable() string { return e.opts.DeadLettersTable }

// InTx runs fn in a transaction, committing when it returns nil.
func (e *Executor) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// EnsureSchema creates the bindings and dead letters tables and their indexes.
func (e *Executor) EnsureSchema(ctx context.Context) error {
	bindings := e.opts.BindingsTable
	deadLetters := e.opts.DeadLettersTable

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			routing_key VARCHAR NOT NULL,
			channel     VARCHAR NOT NULL,
			PRIMARY KEY (routing_key, channel)
		)`, pq.QuoteIdentifier(bindings)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (routing_key)`,
			pq.QuoteIdentifier(bindings+"_routing_key_idx"), pq.QuoteIdentifier(bindings)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			group_name   VARCHAR NOT NULL,
			insertion_id UUID NOT NULL,
			event        TEXT NOT NULL,
			PRIMARY KEY (group_name, insertion_id)
		)`, pq.QuoteIdentifier(deadLetters)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (group_name)`,
			pq.QuoteIdentifier(deadLetters+"_group_idx"), pq.QuoteIdentifier(deadLetters)),
	}

	return e.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
		}
		return nil
	})
}

// ListenConnection opens a dedicated connection outside the pool. LISTEN
// state belongs to a session so the pool cannot be used for it.
func (e *Executor) ListenConnection(ctx context.Context) (ListenConn, error) {
	conn, err := pgx.Connect(ctx, e.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open LISTEN connection: %w", err)
	}
	return &pgxListenConn{conn: conn}, nil
}

func (e *Executor) Close() error {
	return e.db.Close()
}

// IsPermanentError reports errors retrying cannot fix: syntax or access rule
// violations (SQLSTATE class 42) and integrity violations other than
// duplicates.
func IsPermanentError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "42":
		return true
	case "23":
		return pqErr.Code != "23505"
	}
	return false
}
