package pgsupporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type txState int

const (
	txInert txState = iota
	txOpen
	txClosed
)

// Transaction owns one acquired connection for its lifetime.
//
// A Transaction is single use: Inert until Open, Open until Close, then
// Closed for good. Statements outside the Open state fail with
// ErrTxNotOpen or ErrTxClosed. A Transaction is not safe for concurrent
// use; give each goroutine its own.
//
// Read-only transactions never commit or roll back. Closing one only
// releases the connection, and the connector discards whatever the
// database transaction did.
type Transaction struct {
	id        string
	connector Connector
	readOnly  bool
	schema    string
	logger    *zap.Logger
	observer  Observer

	state txState
	conn  Connection
}

// TxOption configures a Transaction.
type TxOption func(*Transaction)

// ReadOnly sets whether Close commits or rolls back. Transactions are
// read-only unless ReadOnly(false) is given.
func ReadOnly(readOnly bool) TxOption {
	return func(t *Transaction) {
		t.readOnly = readOnly
	}
}

// InSchema sets the schema applied by Do before the scoped function runs.
func InSchema(name string) TxOption {
	return func(t *Transaction) {
		t.schema = name
	}
}

// WithLogger sets the logger for lifecycle and statement events.
func WithLogger(logger *zap.Logger) TxOption {
	return func(t *Transaction) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithObserver sets the observer notified of lifecycle and statement events.
func WithObserver(o Observer) TxOption {
	return func(t *Transaction) {
		if o != nil {
			t.observer = o
		}
	}
}

// NewTransaction creates an inert transaction bound to c.
func NewTransaction(c Connector, opts ...TxOption) *Transaction {
	t := &Transaction{
		id:        uuid.NewString(),
		connector: c,
		readOnly:  true,
		logger:    zap.NewNop(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("tx_id", t.id))
	return t
}

// StartTransaction creates an inert transaction on c, or on the process
// default connector when c is nil. It fails with ErrNoDefaultConnection
// when neither is available.
func StartTransaction(c Connector, opts ...TxOption) (*Transaction, error) {
	c, err := resolveConnector(c)
	if err != nil {
		return nil, err
	}
	return NewTransaction(c, opts...), nil
}

// RunInTransaction starts a transaction with StartTransaction and runs fn
// inside it with Do.
func RunInTransaction(ctx context.Context, c Connector, fn func(*Transaction) error, opts ...TxOption) error {
	tx, err := StartTransaction(c, opts...)
	if err != nil {
		return err
	}
	return tx.Do(ctx, fn)
}

// ID returns the identifier used to correlate log lines for the transaction.
func (t *Transaction) ID() string { return t.id }

// IsReadOnly reports whether Close skips commit and rollback.
func (t *Transaction) IsReadOnly() bool { return t.readOnly }

// Schema returns the schema configured with InSchema.
func (t *Transaction) Schema() string { return t.schema }

// Logger returns the transaction's logger.
func (t *Transaction) Logger() *zap.Logger { return t.logger }

// Open acquires a connection from the connector.
func (t *Transaction) Open(ctx context.Context) error {
	switch t.state {
	case txOpen:
		return ErrTxAlreadyOpen
	case txClosed:
		return ErrTxClosed
	}
	if t.connector == nil {
		return configErrorf("transaction has no connector")
	}

	conn, err := t.connector.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	t.conn = conn
	t.state = txOpen

	t.observer.TransactionOpened(t.readOnly)
	t.logger.Debug("transaction opened", zap.Bool("read_only", t.readOnly))
	return nil
}

// Close ends the transaction. Unless the transaction is read-only it
// commits when success is true and rolls back otherwise. The connection is
// released in every case, including when commit or rollback fails; all
// errors encountered are joined.
func (t *Transaction) Close(ctx context.Context, success bool) error {
	if err := t.requireOpen(); err != nil {
		return err
	}
	conn := t.conn
	t.conn = nil
	t.state = txClosed

	outcome := OutcomeRelease
	var endErr error
	if !t.readOnly {
		if success {
			outcome = OutcomeCommit
			if err := conn.Commit(ctx); err != nil {
				endErr = fmt.Errorf("committing transaction: %w", err)
			}
		} else {
			outcome = OutcomeRollback
			if err := conn.Rollback(ctx); err != nil {
				endErr = fmt.Errorf("rolling back transaction: %w", err)
			}
		}
	}

	var releaseErr error
	if err := conn.Close(ctx); err != nil {
		releaseErr = fmt.Errorf("releasing connection: %w", err)
	}

	err := errors.Join(endErr, releaseErr)
	t.observer.TransactionClosed(outcome, err)
	if err != nil {
		t.logger.Warn("transaction close failed", zap.String("outcome", string(outcome)), zap.Error(err))
	} else {
		t.logger.Debug("transaction closed", zap.String("outcome", string(outcome)))
	}
	return err
}

// Do opens the transaction, applies the configured schema, runs fn and
// closes the transaction with success reflecting fn's result.
//
// The error from fn is returned as is. If closing also fails the result
// is a *TxExitError carrying both. A panic in fn rolls back and re-panics.
func (t *Transaction) Do(ctx context.Context, fn func(*Transaction) error) error {
	if err := t.Open(ctx); err != nil {
		return err
	}

	if t.schema != "" {
		if err := t.ChangeSchema(ctx, t.schema); err != nil {
			return t.exit(ctx, err)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			if t.state == txOpen {
				_ = t.Close(ctx, false)
			}
			panic(p)
		}
	}()

	return t.exit(ctx, fn(t))
}

func (t *Transaction) exit(ctx context.Context, err error) error {
	closeErr := t.Close(ctx, err == nil)
	switch {
	case closeErr == nil:
		return err
	case err == nil:
		return closeErr
	default:
		return &TxExitError{Err: err, CloseErr: closeErr}
	}
}

// ChangeSchema sets the search path to name followed by public.
func (t *Transaction) ChangeSchema(ctx context.Context, name string) error {
	if name == "" {
		return configErrorf("schema name must not be empty")
	}
	return t.exec(ctx, StatementSchema, "SET search_path TO "+name+",public;", nil)
}

// FindAll runs a query and returns every row.
func (t *Transaction) FindAll(ctx context.Context, sql string, params ...any) ([]Record, error) {
	return t.query(ctx, sql, valuesOf(params), 0)
}

// FindOne runs a query and returns its first row, or nil when there is none.
func (t *Transaction) FindOne(ctx context.Context, sql string, params ...any) (*Record, error) {
	recs, err := t.query(ctx, sql, valuesOf(params), 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// Save executes a write statement.
func (t *Transaction) Save(ctx context.Context, sql string, params ...any) error {
	return t.exec(ctx, StatementExec, sql, valuesOf(params))
}

// Delete executes a delete statement.
func (t *Transaction) Delete(ctx context.Context, sql string, params ...any) error {
	return t.exec(ctx, StatementExec, sql, valuesOf(params))
}

// ExecuteDDL executes sql with no parameters bound, so literal percent
// signs need no escaping.
func (t *Transaction) ExecuteDDL(ctx context.Context, sql string) error {
	return t.exec(ctx, StatementDDL, sql, nil)
}

func (t *Transaction) query(ctx context.Context, sql string, params []Value, limit int) ([]Record, error) {
	if err := t.requireOpen(); err != nil {
		return nil, err
	}

	start := time.Now()
	recs, err := t.runQuery(ctx, sql, params, limit)
	t.observe(StatementQuery, sql, start, err)
	return recs, err
}

func (t *Transaction) runQuery(ctx context.Context, sql string, params []Value, limit int) ([]Record, error) {
	rows, err := t.conn.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return collect(rows, limit)
}

func (t *Transaction) exec(ctx context.Context, kind StatementKind, sql string, params []Value) error {
	if err := t.requireOpen(); err != nil {
		return err
	}

	start := time.Now()
	err := t.conn.Exec(ctx, sql, params)
	if err != nil {
		err = fmt.Errorf("executing statement: %w", err)
	}
	t.observe(kind, sql, start, err)
	return err
}

func (t *Transaction) observe(kind StatementKind, sql string, start time.Time, err error) {
	elapsed := time.Since(start)
	t.observer.StatementExecuted(kind, elapsed, err)
	if err != nil {
		t.logger.Debug("statement failed", zap.String("kind", string(kind)), zap.String("sql", sql), zap.Error(err))
		return
	}
	t.logger.Debug("statement executed", zap.String("kind", string(kind)), zap.String("sql", sql), zap.Duration("elapsed", elapsed))
}

func (t *Transaction) requireOpen() error {
	switch t.state {
	case txInert:
		return ErrTxNotOpen
	case txClosed:
		return ErrTxClosed
	}
	return nil
}
