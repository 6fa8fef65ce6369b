package pgsupporter

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// NoQueryLog is returned by QueryLog before any statement was executed.
const NoQueryLog = "no query executed"

// Field is a column and the value written to it.
type Field struct {
	Name  string
	Value any
}

// Fields is an ordered column list for INSERT and UPDATE. Columns are
// rendered in slice order.
type Fields []Field

// FieldsFromMap converts m to Fields ordered by column name.
func FieldsFromMap(m map[string]any) Fields {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make(Fields, len(keys))
	for i, k := range keys {
		fields[i] = Field{Name: k, Value: m[k]}
	}
	return fields
}

// QueryBuilder renders single-table statements from a table name and a
// condition tree, and executes them.
//
// Exactly one of a Connector or a Transaction backs a builder. With a
// Transaction, statements run inside it and the caller owns commit and
// rollback. With a Connector, each terminal call runs in its own
// transaction: read-only for Select and SelectOne, read-write for writes.
//
// Fluent methods record configuration errors; the next terminal call
// returns them.
type QueryBuilder struct {
	connector  Connector
	tx         *Transaction
	table      string
	schema     string
	conditions *Group
	logger     *zap.Logger
	txOpts     []TxOption
	queryLog   string
	err        error
}

// BuilderOption configures a QueryBuilder.
type BuilderOption func(*QueryBuilder)

// WithQueryLogger sets the logger used to report rendered statements.
func WithQueryLogger(logger *zap.Logger) BuilderOption {
	return func(b *QueryBuilder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTxOptions sets options applied to the per-statement transactions a
// connector-backed builder opens. ReadOnly is always overridden.
func WithTxOptions(opts ...TxOption) BuilderOption {
	return func(b *QueryBuilder) {
		b.txOpts = append(b.txOpts, opts...)
	}
}

// NewQueryBuilder returns a builder backed by exactly one of connector or
// tx. Passing both or neither fails with ErrConfiguration. The process
// default connector is not consulted; pass Default() to use it.
func NewQueryBuilder(connector Connector, tx *Transaction, opts ...BuilderOption) (*QueryBuilder, error) {
	if connector != nil && tx != nil {
		return nil, configErrorf("query builder takes a connector or a transaction, not both")
	}
	if connector == nil && tx == nil {
		return nil, configErrorf("query builder needs a connector or a transaction")
	}

	b := &QueryBuilder{
		connector:  connector,
		tx:         tx,
		conditions: newRootGroup(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Table sets the target table. It replaces any earlier target, including
// a schema set by TableInSchema and the error of a rejected one.
func (b *QueryBuilder) Table(name string) *QueryBuilder {
	return b.TableInSchema(name, "")
}

// TableInSchema sets the target table and switches the search path to
// schema before each statement. It is only valid on a transaction-backed
// builder; otherwise the configuration error is returned by the next
// render or execute call, until the target is set again.
func (b *QueryBuilder) TableInSchema(name, schema string) *QueryBuilder {
	b.table = name
	b.schema = ""
	b.err = nil
	if schema != "" && b.tx == nil {
		b.err = configErrorf("schema %q requires a transaction-backed builder", schema)
		return b
	}
	b.schema = schema
	return b
}

// Where appends an AND-joined comparison to the WHERE clause.
func (b *QueryBuilder) Where(field, operator string, value any) *QueryBuilder {
	b.conditions.Add(NewGroup(And).Add(NewPart(field, operator, value, And)))
	return b
}

// OrWhere appends an OR-joined comparison to the WHERE clause.
func (b *QueryBuilder) OrWhere(field, operator string, value any) *QueryBuilder {
	b.conditions.Add(NewGroup(Or).Add(NewPart(field, operator, value, Or)))
	return b
}

// WhereGroup appends an AND-joined parenthesized group built by fn.
// A group left empty by fn is skipped.
func (b *QueryBuilder) WhereGroup(fn func(g *Group)) *QueryBuilder {
	return b.addGroup(And, fn)
}

// OrWhereGroup appends an OR-joined parenthesized group built by fn.
func (b *QueryBuilder) OrWhereGroup(fn func(g *Group)) *QueryBuilder {
	return b.addGroup(Or, fn)
}

func (b *QueryBuilder) addGroup(c Combinator, fn func(g *Group)) *QueryBuilder {
	g := NewGroup(c)
	fn(g)
	if g.Exists() {
		b.conditions.Add(g)
	}
	return b
}

// QueryLog returns the last executed statement, or NoQueryLog.
func (b *QueryBuilder) QueryLog() string {
	if b.queryLog == "" {
		return NoQueryLog
	}
	return b.queryLog
}

// ToSelectSQL renders a SELECT of columns, or of * when none are given.
func (b *QueryBuilder) ToSelectSQL(columns ...string) (string, []Value, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if b.table == "" {
		return "", nil, ErrMissingTable
	}

	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(columns, ", ")
	}
	return b.withWhere("SELECT "+cols+" FROM "+b.table, nil)
}

// ToInsertSQL renders an INSERT of fields. Conditions are ignored.
func (b *QueryBuilder) ToInsertSQL(fields Fields) (string, []Value, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if b.table == "" {
		return "", nil, ErrMissingTable
	}
	if len(fields) == 0 {
		return "", nil, ErrEmptyInput
	}

	names := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	values := make([]Value, len(fields))
	for i, f := range fields {
		v := ValueOf(f.Value)
		names[i] = f.Name
		placeholders[i] = v.Placeholder()
		values[i] = v
	}

	query := "INSERT INTO " + b.table +
		" (" + strings.Join(names, ", ") + ")" +
		" VALUES (" + strings.Join(placeholders, ", ") + ")"
	return normalize(query), values, nil
}

// ToUpdateSQL renders an UPDATE setting fields. SET values precede WHERE
// values in the returned parameters.
func (b *QueryBuilder) ToUpdateSQL(fields Fields) (string, []Value, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if len(fields) == 0 {
		return "", nil, ErrEmptyInput
	}
	if b.table == "" {
		return "", nil, ErrMissingTable
	}

	pairs := make([]string, len(fields))
	values := make([]Value, len(fields))
	for i, f := range fields {
		v := ValueOf(f.Value)
		pairs[i] = f.Name + " = " + v.Placeholder()
		values[i] = v
	}
	return b.withWhere("UPDATE "+b.table+" SET "+strings.Join(pairs, ", "), values)
}

// ToDeleteSQL renders a DELETE.
func (b *QueryBuilder) ToDeleteSQL() (string, []Value, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if b.table == "" {
		return "", nil, ErrMissingTable
	}
	return b.withWhere("DELETE FROM "+b.table, nil)
}

func (b *QueryBuilder) withWhere(query string, values []Value) (string, []Value, error) {
	if b.conditions.Exists() {
		frag, err := b.conditions.Render()
		if err != nil {
			return "", nil, err
		}
		query += " WHERE " + frag.SQL
		values = append(values, frag.Values...)
	}
	return normalize(query), values, nil
}

// Select executes a SELECT and returns every row.
func (b *QueryBuilder) Select(ctx context.Context, columns ...string) ([]Record, error) {
	query, params, err := b.ToSelectSQL(columns...)
	if err != nil {
		return nil, err
	}

	var recs []Record
	err = b.run(ctx, true, query, func(tx *Transaction) error {
		var err error
		recs, err = tx.query(ctx, query, params, 0)
		return err
	})
	return recs, err
}

// SelectOne executes a SELECT and returns the first row, or nil when no
// row matches.
func (b *QueryBuilder) SelectOne(ctx context.Context, columns ...string) (*Record, error) {
	query, params, err := b.ToSelectSQL(columns...)
	if err != nil {
		return nil, err
	}

	var recs []Record
	err = b.run(ctx, true, query, func(tx *Transaction) error {
		var err error
		recs, err = tx.query(ctx, query, params, 1)
		return err
	})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// Insert executes an INSERT of fields.
func (b *QueryBuilder) Insert(ctx context.Context, fields Fields) error {
	query, params, err := b.ToInsertSQL(fields)
	if err != nil {
		return err
	}
	return b.run(ctx, false, query, func(tx *Transaction) error {
		return tx.exec(ctx, StatementExec, query, params)
	})
}

// Update executes an UPDATE setting fields on rows matching the conditions.
func (b *QueryBuilder) Update(ctx context.Context, fields Fields) error {
	query, params, err := b.ToUpdateSQL(fields)
	if err != nil {
		return err
	}
	return b.run(ctx, false, query, func(tx *Transaction) error {
		return tx.exec(ctx, StatementExec, query, params)
	})
}

// Delete executes a DELETE of rows matching the conditions. Without
// conditions every row is deleted.
func (b *QueryBuilder) Delete(ctx context.Context) error {
	query, params, err := b.ToDeleteSQL()
	if err != nil {
		return err
	}
	return b.run(ctx, false, query, func(tx *Transaction) error {
		return tx.exec(ctx, StatementExec, query, params)
	})
}

func (b *QueryBuilder) run(ctx context.Context, read bool, query string, fn func(*Transaction) error) error {
	b.queryLog = query
	b.logger.Debug("executing statement", zap.String("sql", query), zap.String("table", b.table))

	if b.tx != nil {
		if b.schema != "" {
			if err := b.tx.ChangeSchema(ctx, b.schema); err != nil {
				return err
			}
		}
		return fn(b.tx)
	}

	opts := append(append([]TxOption(nil), b.txOpts...), ReadOnly(read))
	return NewTransaction(b.connector, opts...).Do(ctx, fn)
}

var spaceRun = regexp.MustCompile("[ \u3000]+")

// normalize collapses runs of ASCII and ideographic spaces, drops one
// trailing space and terminates the statement.
func normalize(query string) string {
	query = spaceRun.ReplaceAllString(query, " ")
	query = strings.TrimSuffix(query, " ")
	return query + ";"
}
