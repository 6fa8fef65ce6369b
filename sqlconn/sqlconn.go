// Package sqlconn provides a pgsupporter connector over database/sql,
// using sqlx for connection and row handling.
//
// The default driver is lib/pq ("postgres"); the pgx stdlib driver is
// registered as "pgx". An existing *sql.DB can be wrapped with New.
//
// A connection whose transaction changed the search path has it reset
// before it returns to the database/sql pool.
package sqlconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pthm/pgsupporter"
	"github.com/pthm/pgsupporter/internal/bind"
)

// DefaultDriver is the lib/pq driver name.
const DefaultDriver = "postgres"

// Config configures Open.
type Config struct {
	Driver string
	DSN    string

	// Pool keeps up to MinConns idle connections and at most MaxConns
	// open. Without Pool every released connection is closed.
	Pool     bool
	MinConns int
	MaxConns int
}

// Connector acquires dedicated connections from a *sql.DB.
type Connector struct {
	db    *sqlx.DB
	owned bool
}

// Open opens a database handle for cfg. Connections are made lazily.
func Open(cfg Config) (*Connector, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DefaultDriver
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s database: %v", pgsupporter.ErrConfiguration, driver, err)
	}

	if cfg.Pool {
		maxConns, minConns := cfg.MaxConns, cfg.MinConns
		if maxConns <= 0 {
			maxConns = 10
		}
		if minConns <= 0 {
			minConns = 5
		}
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(minConns)
	} else {
		db.SetMaxIdleConns(0)
	}

	return &Connector{db: db, owned: true}, nil
}

// New wraps db. Close does not close a wrapped handle.
func New(db *sql.DB) *Connector {
	return &Connector{db: sqlx.NewDb(db, DefaultDriver)}
}

// DB returns the underlying handle.
func (c *Connector) DB() *sql.DB { return c.db.DB }

// Acquire implements pgsupporter.Connector.
func (c *Connector) Acquire(ctx context.Context) (pgsupporter.Connection, error) {
	sc, err := c.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	tx, err := sc.BeginTxx(ctx, nil)
	if err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &conn{conn: sc, tx: tx}, nil
}

// Ping verifies the database is reachable.
func (c *Connector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the handle if Open created it.
func (c *Connector) Close() {
	if c.owned {
		_ = c.db.Close()
	}
}

type conn struct {
	conn       *sqlx.Conn
	tx         *sqlx.Tx
	done       bool
	searchPath bool
}

func (c *conn) Query(ctx context.Context, query string, params []pgsupporter.Value) (pgsupporter.RowSet, error) {
	q, args, err := bind.Statement(query, params)
	if err != nil {
		return nil, err
	}
	rows, err := c.tx.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &rowSet{rows: rows, columns: cols}, nil
}

func (c *conn) Exec(ctx context.Context, query string, params []pgsupporter.Value) error {
	q, args, err := bind.Statement(query, params)
	if err != nil {
		return err
	}
	_, err = c.tx.ExecContext(ctx, q, args...)
	if err == nil && bind.SetsSearchPath(query) {
		c.searchPath = true
	}
	return err
}

func (c *conn) Commit(context.Context) error {
	c.done = true
	return c.tx.Commit()
}

func (c *conn) Rollback(context.Context) error {
	c.done = true
	return c.tx.Rollback()
}

func (c *conn) Close(ctx context.Context) error {
	var rbErr error
	if !c.done {
		c.done = true
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			rbErr = fmt.Errorf("rolling back unfinished transaction: %w", err)
		}
	}
	if c.searchPath && !c.resetSearchPath(ctx) {
		return rbErr
	}
	return errors.Join(rbErr, c.conn.Close())
}

// resetSearchPath runs RESET search_path on the session. If that fails the
// connection is discarded instead of going back to the pool, and false is
// returned.
func (c *conn) resetSearchPath(ctx context.Context) bool {
	if _, err := c.conn.ExecContext(ctx, bind.ResetSearchPath); err == nil {
		return true
	}
	_ = c.conn.Raw(func(any) error { return driver.ErrBadConn })
	return false
}

type rowSet struct {
	rows    *sqlx.Rows
	columns []string
}

func (r *rowSet) Next() bool { return r.rows.Next() }

func (r *rowSet) Record() (pgsupporter.Record, error) {
	values, err := r.rows.SliceScan()
	if err != nil {
		return pgsupporter.Record{}, err
	}
	return pgsupporter.Record{Columns: r.columns, Values: values}, nil
}

func (r *rowSet) Err() error { return r.rows.Err() }

func (r *rowSet) Close() { _ = r.rows.Close() }
