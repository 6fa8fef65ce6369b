// Package pgsupportertest provides an in-memory Connector for tests.
//
// The fake records every call made through its connections so tests can
// assert on statement text, parameters and commit/rollback/release
// behavior without a database:
//
//	fake := pgsupportertest.New()
//	fake.SetRows([]string{"id"}, []any{1}, []any{2})
//	b, _ := pgsupporter.NewQueryBuilder(fake, nil)
//	recs, _ := b.Table("users").Select(ctx)
//	fake.Count(pgsupportertest.OpCommit) // 0, selects run read-only
package pgsupportertest

import (
	"context"
	"strings"
	"sync"

	"github.com/pthm/pgsupporter"
)

// Op names a recorded connection call.
type Op string

const (
	OpAcquire  Op = "acquire"
	OpQuery    Op = "query"
	OpExec     Op = "exec"
	OpCommit   Op = "commit"
	OpRollback Op = "rollback"
	OpClose    Op = "close"
)

// Call is one recorded call.
type Call struct {
	Op     Op
	Conn   int
	SQL    string
	Params []pgsupporter.Value
}

// Connector is a fake pgsupporter.Connector. Error fields make the
// matching call fail. It is safe for concurrent use.
type Connector struct {
	AcquireErr  error
	QueryErr    error
	ExecErr     error
	CommitErr   error
	RollbackErr error
	CloseErr    error

	mu      sync.Mutex
	columns []string
	rows    [][]any
	rules   []rule
	calls   []Call
	nextID  int
	open    map[int]bool
}

type rule struct {
	contains string
	columns  []string
	rows     [][]any
}

// New returns a fake connector that answers every query with no rows.
func New() *Connector {
	return &Connector{open: make(map[int]bool)}
}

// SetRows sets the result returned by every subsequent query.
func (c *Connector) SetRows(columns []string, rows ...[]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.columns = columns
	c.rows = rows
}

// OnQuery sets the result for queries whose SQL contains substr. Rules
// are checked in the order they were added, before the SetRows result.
func (c *Connector) OnQuery(substr string, columns []string, rows ...[]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule{contains: substr, columns: columns, rows: rows})
}

// Acquire implements pgsupporter.Connector.
func (c *Connector) Acquire(ctx context.Context) (pgsupporter.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.AcquireErr != nil {
		return nil, c.AcquireErr
	}
	c.nextID++
	id := c.nextID
	c.open[id] = true
	c.calls = append(c.calls, Call{Op: OpAcquire, Conn: id})
	return &conn{parent: c, id: id}, nil
}

// Calls returns a copy of every recorded call in order.
func (c *Connector) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Statements returns the SQL of every query and exec call in order.
func (c *Connector) Statements() []string {
	var out []string
	for _, call := range c.Calls() {
		if call.Op == OpQuery || call.Op == OpExec {
			out = append(out, call.SQL)
		}
	}
	return out
}

// Count returns how many calls of op were recorded.
func (c *Connector) Count(op Op) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Op == op {
			n++
		}
	}
	return n
}

// Outstanding returns how many acquired connections were not closed.
func (c *Connector) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, open := range c.open {
		if open {
			n++
		}
	}
	return n
}

func (c *Connector) record(call Call) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

type conn struct {
	parent *Connector
	id     int
}

func (cn *conn) Query(ctx context.Context, sql string, params []pgsupporter.Value) (pgsupporter.RowSet, error) {
	c := cn.parent
	c.record(Call{Op: OpQuery, Conn: cn.id, SQL: sql, Params: params})
	if c.QueryErr != nil {
		return nil, c.QueryErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.rules {
		if strings.Contains(sql, r.contains) {
			return &rowSet{columns: r.columns, rows: r.rows, pos: -1}, nil
		}
	}
	return &rowSet{columns: c.columns, rows: c.rows, pos: -1}, nil
}

func (cn *conn) Exec(ctx context.Context, sql string, params []pgsupporter.Value) error {
	cn.parent.record(Call{Op: OpExec, Conn: cn.id, SQL: sql, Params: params})
	return cn.parent.ExecErr
}

func (cn *conn) Commit(ctx context.Context) error {
	cn.parent.record(Call{Op: OpCommit, Conn: cn.id})
	return cn.parent.CommitErr
}

func (cn *conn) Rollback(ctx context.Context) error {
	cn.parent.record(Call{Op: OpRollback, Conn: cn.id})
	return cn.parent.RollbackErr
}

func (cn *conn) Close(ctx context.Context) error {
	c := cn.parent
	c.record(Call{Op: OpClose, Conn: cn.id})
	c.mu.Lock()
	c.open[cn.id] = false
	c.mu.Unlock()
	return c.CloseErr
}

type rowSet struct {
	columns []string
	rows    [][]any
	pos     int
	closed  bool
}

func (r *rowSet) Next() bool {
	if r.closed || r.pos+1 >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *rowSet) Record() (pgsupporter.Record, error) {
	return pgsupporter.Record{Columns: r.columns, Values: r.rows[r.pos]}, nil
}

func (r *rowSet) Err() error { return nil }

func (r *rowSet) Close() { r.closed = true }
