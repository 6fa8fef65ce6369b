package pgsupporter

import (
	"context"
	"fmt"
	"sync"
)

// Connector hands out database connections. Implementations live in the
// pgxconn and sqlconn packages; pgsupportertest provides an in-memory fake.
type Connector interface {
	// Acquire returns a connection that is already inside a database
	// transaction. The caller ends it with Commit or Rollback and must
	// always call Close to return the connection.
	Acquire(ctx context.Context) (Connection, error)
}

// Connection is a single acquired database connection.
//
// Statement text uses %s placeholders; implementations translate them to
// whatever their driver expects and JSON encode structured values.
type Connection interface {
	Query(ctx context.Context, sql string, params []Value) (RowSet, error)
	Exec(ctx context.Context, sql string, params []Value) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Close releases the connection. A database transaction still in
	// progress is rolled back first.
	Close(ctx context.Context) error
}

// RowSet iterates query results.
type RowSet interface {
	Next() bool
	Record() (Record, error)
	Err() error
	Close()
}

// Record is one result row with its column names in select order.
type Record struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Record) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the record keyed by column name.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

func collect(rows RowSet, limit int) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := rows.Record()
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// Process-wide default connector. It is set once at startup with
// InitDefault and used by StartTransaction and RunInTransaction when no
// connector is given.
var (
	defaultMu        sync.RWMutex
	defaultConnector Connector
)

// InitDefault installs c as the process default connector. It fails if c
// is nil or a default is already installed; call ResetDefault first to
// replace it.
func InitDefault(c Connector) error {
	if c == nil {
		return configErrorf("default connector must not be nil")
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultConnector != nil {
		return configErrorf("default connector already initialized")
	}
	defaultConnector = c
	return nil
}

// ResetDefault removes the process default connector. It does not close it.
func ResetDefault() {
	defaultMu.Lock()
	defaultConnector = nil
	defaultMu.Unlock()
}

// Default returns the process default connector, or nil.
func Default() Connector {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultConnector
}

func resolveConnector(c Connector) (Connector, error) {
	if c != nil {
		return c, nil
	}
	if d := Default(); d != nil {
		return d, nil
	}
	return nil, ErrNoDefaultConnection
}
