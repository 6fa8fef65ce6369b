// Package pgxconn provides pgsupporter connectors backed by pgx.
//
// Pool hands out connections from a pgxpool.Pool. A connection whose
// transaction changed the search path has it reset before going back to
// the pool. Direct dials a new connection for every Acquire and closes it
// on release, for short-lived processes that do not want idle connections
// held open.
//
// Every acquired connection is already inside a database transaction:
//
//	src, err := pgxconn.Open(ctx, pgxconn.Config{DSN: dsn, Pool: true})
//	if err != nil {
//		return err
//	}
//	defer src.Close()
//
//	err = pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
//		return tx.Save(ctx, "INSERT INTO users (name) VALUES (%s);", "Bob")
//	}, pgsupporter.ReadOnly(false))
package pgxconn

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pthm/pgsupporter"
	"github.com/pthm/pgsupporter/internal/bind"
)

// Default pool bounds.
const (
	DefaultMinConns = 5
	DefaultMaxConns = 10
)

// Config selects and configures a connector.
type Config struct {
	DSN string

	// Pool selects Pool over Direct.
	Pool bool

	// MinConns and MaxConns bound the pool. Zero means the default.
	MinConns int32
	MaxConns int32
}

// Source is a connector that can be health checked and shut down.
type Source interface {
	pgsupporter.Connector
	Ping(ctx context.Context) error
	Close()
}

// Option configures a connector.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger for connection events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open returns a Pool when cfg.Pool is set and a Direct connector otherwise.
func Open(ctx context.Context, cfg Config, opts ...Option) (Source, error) {
	if cfg.Pool {
		return NewPool(ctx, cfg, opts...)
	}
	return NewDirect(cfg.DSN, opts...)
}

// Pool is a pooled connector.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPool creates the pool and verifies connectivity.
func NewPool(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	o := buildOptions(opts)

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing dsn: %v", pgsupporter.ErrConfiguration, err)
	}

	poolCfg.MinConns = DefaultMinConns
	poolCfg.MaxConns = DefaultMaxConns
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if poolCfg.MinConns > poolCfg.MaxConns {
		return nil, fmt.Errorf("%w: min_conns %d exceeds max_conns %d",
			pgsupporter.ErrConfiguration, poolCfg.MinConns, poolCfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	o.logger.Info("connection pool ready",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("min_conns", poolCfg.MinConns),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return &Pool{pool: pool, logger: o.logger}, nil
}

// Acquire implements pgsupporter.Connector.
func (p *Pool) Acquire(ctx context.Context) (pgsupporter.Connection, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring pooled connection: %w", err)
	}
	tx, err := c.Begin(ctx)
	if err != nil {
		c.Release()
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &conn{
		tx: tx,
		reset: func(ctx context.Context) {
			if _, err := c.Exec(ctx, bind.ResetSearchPath); err != nil {
				// A closed connection is destroyed by Release instead of
				// going back to the pool.
				p.logger.Warn("discarding connection after failed search_path reset", zap.Error(err))
				_ = c.Conn().Close(ctx)
			}
		},
		release: func(context.Context) error {
			c.Release()
			return nil
		},
	}, nil
}

// Ping verifies a connection can be established.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Stat returns pool statistics.
func (p *Pool) Stat() *pgxpool.Stat {
	return p.pool.Stat()
}

// Close closes every pooled connection.
func (p *Pool) Close() {
	p.pool.Close()
	p.logger.Debug("connection pool closed")
}

// Direct dials a new connection per Acquire.
type Direct struct {
	cfg    *pgx.ConnConfig
	logger *zap.Logger
}

// NewDirect parses dsn. No connection is made until Acquire.
func NewDirect(dsn string, opts ...Option) (*Direct, error) {
	o := buildOptions(opts)
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing dsn: %v", pgsupporter.ErrConfiguration, err)
	}
	return &Direct{cfg: cfg, logger: o.logger}, nil
}

// Acquire implements pgsupporter.Connector.
func (d *Direct) Acquire(ctx context.Context) (pgsupporter.Connection, error) {
	c, err := pgx.ConnectConfig(ctx, d.cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	tx, err := c.Begin(ctx)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	d.logger.Debug("connection opened", zap.String("host", d.cfg.Host))
	return &conn{tx: tx, release: c.Close}, nil
}

// Ping dials and closes a connection.
func (d *Direct) Ping(ctx context.Context) error {
	c, err := pgx.ConnectConfig(ctx, d.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(ctx) }()
	return c.Ping(ctx)
}

// Close is a no-op; Direct holds no connections between acquires.
func (d *Direct) Close() {}

type conn struct {
	tx      pgx.Tx
	done    bool
	release func(context.Context) error

	// reset is set for pooled connections and runs before release when
	// the search path was changed.
	reset      func(context.Context)
	searchPath bool
}

func (c *conn) Query(ctx context.Context, sql string, params []pgsupporter.Value) (pgsupporter.RowSet, error) {
	query, args, err := bind.Statement(sql, params)
	if err != nil {
		return nil, err
	}
	rows, err := c.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowSet{rows: rows}, nil
}

func (c *conn) Exec(ctx context.Context, sql string, params []pgsupporter.Value) error {
	query, args, err := bind.Statement(sql, params)
	if err != nil {
		return err
	}
	_, err = c.tx.Exec(ctx, query, args...)
	if err == nil && bind.SetsSearchPath(sql) {
		c.searchPath = true
	}
	return err
}

func (c *conn) Commit(ctx context.Context) error {
	c.done = true
	return c.tx.Commit(ctx)
}

func (c *conn) Rollback(ctx context.Context) error {
	c.done = true
	return c.tx.Rollback(ctx)
}

func (c *conn) Close(ctx context.Context) error {
	var rbErr error
	if !c.done {
		c.done = true
		if err := c.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			rbErr = fmt.Errorf("rolling back unfinished transaction: %w", err)
		}
	}
	if c.searchPath && c.reset != nil {
		c.reset(ctx)
	}
	return errors.Join(rbErr, c.release(ctx))
}

type rowSet struct {
	rows    pgx.Rows
	columns []string
}

func (r *rowSet) Next() bool { return r.rows.Next() }

func (r *rowSet) Record() (pgsupporter.Record, error) {
	values, err := r.rows.Values()
	if err != nil {
		return pgsupporter.Record{}, err
	}
	if r.columns == nil {
		fields := r.rows.FieldDescriptions()
		r.columns = make([]string, len(fields))
		for i, f := range fields {
			r.columns[i] = f.Name
		}
	}
	return pgsupporter.Record{Columns: r.columns, Values: values}, nil
}

func (r *rowSet) Err() error { return r.rows.Err() }

func (r *rowSet) Close() { r.rows.Close() }
