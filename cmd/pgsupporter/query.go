package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pthm/pgsupporter"
	"github.com/pthm/pgsupporter/internal/cli"
)

// Flags shared by the statement commands. Each command registers only the
// flags it accepts.
var (
	queryTable   string
	querySchema  string
	queryColumns []string
	queryWhere   []string
	queryOrWhere []string
	querySet     []string
	queryOne     bool
	queryDryRun  bool
	queryOutput  string
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select rows from a table",
	Example: `  # Select every row
  pgsupporter select --table users

  # Select two columns of adults named Bob
  pgsupporter select --table users --column id --column name \
    --where "age >= 18" --where "name = Bob"

  # Select the first match inside a tenant schema
  pgsupporter select --table users --where "id = 7" --one --schema tenant_a`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatement(cmd, statementSelect)
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert a row into a table",
	Example: `  pgsupporter insert --table users --set name=Bob --set age=30 --set 'tags=["a","b"]'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatement(cmd, statementInsert)
	},
}

var updateCmd = &cobra.Command{
	Use:     "update",
	Short:   "Update rows of a table",
	Example: `  pgsupporter update --table users --set name=Robert --where "id = 7"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatement(cmd, statementUpdate)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete rows from a table",
	Long: `Delete rows from a table.

Without --where every row of the table is deleted.`,
	Example: `  pgsupporter delete --table sessions --where "expires_at < 2024-01-01"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatement(cmd, statementDelete)
	},
}

func init() {
	for _, c := range []*cobra.Command{selectCmd, insertCmd, updateCmd, deleteCmd} {
		f := c.Flags()
		f.StringVarP(&queryTable, "table", "t", "", "target table (required)")
		f.StringVar(&querySchema, "schema", "", "schema placed first on the search path (default: config schema)")
		f.BoolVar(&queryDryRun, "dry-run", false, "print the rendered SQL and parameters without executing")
		_ = c.MarkFlagRequired("table")
	}

	for _, c := range []*cobra.Command{selectCmd, updateCmd, deleteCmd} {
		f := c.Flags()
		f.StringArrayVarP(&queryWhere, "where", "w", nil, `AND condition "field op value", e.g. "age>18" (repeatable)`)
		f.StringArrayVar(&queryOrWhere, "or-where", nil, `OR condition "field op value" (repeatable)`)
	}

	for _, c := range []*cobra.Command{insertCmd, updateCmd} {
		c.Flags().StringArrayVarP(&querySet, "set", "s", nil, "column assignment column=value (repeatable)")
		_ = c.MarkFlagRequired("set")
	}

	f := selectCmd.Flags()
	f.StringSliceVarP(&queryColumns, "column", "c", nil, "column to select (repeatable, default *)")
	f.BoolVar(&queryOne, "one", false, "return only the first matching row")
	f.StringVarP(&queryOutput, "output", "o", "", "output format: yaml or json (default: query.output)")
}

type statementKind int

const (
	statementSelect statementKind = iota
	statementInsert
	statementUpdate
	statementDelete
)

func (k statementKind) writes() bool {
	return k != statementSelect
}

// statement is a parsed statement command.
type statement struct {
	kind    statementKind
	table   string
	schema  string
	columns []string
	where   []cli.Condition
	orWhere []cli.Condition
	fields  pgsupporter.Fields
	one     bool
}

// parseStatement validates flag input. Malformed expressions are input errors.
func parseStatement(kind statementKind) (*statement, error) {
	st := &statement{
		kind:    kind,
		table:   queryTable,
		schema:  resolveString(querySchema, cfg.Schema),
		columns: queryColumns,
		one:     queryOne,
	}

	for _, raw := range queryWhere {
		c, err := cli.ParseCondition(raw)
		if err != nil {
			return nil, cli.InputError("parsing --where", err)
		}
		st.where = append(st.where, c)
	}
	for _, raw := range queryOrWhere {
		c, err := cli.ParseCondition(raw)
		if err != nil {
			return nil, cli.InputError("parsing --or-where", err)
		}
		st.orWhere = append(st.orWhere, c)
	}

	if kind == statementInsert || kind == statementUpdate {
		fields, err := cli.ParseAssignments(querySet)
		if err != nil {
			return nil, cli.InputError("parsing --set", err)
		}
		st.fields = fields
	}
	return st, nil
}

// apply sets the table and conditions on b. --where conditions are added
// before --or-where conditions.
func (st *statement) apply(b *pgsupporter.QueryBuilder) *pgsupporter.QueryBuilder {
	if st.schema != "" {
		b.TableInSchema(st.table, st.schema)
	} else {
		b.Table(st.table)
	}
	for _, c := range st.where {
		b.Where(c.Field, c.Operator, c.Value)
	}
	for _, c := range st.orWhere {
		b.OrWhere(c.Field, c.Operator, c.Value)
	}
	return b
}

// render returns the statement SQL and parameters.
func (st *statement) render(b *pgsupporter.QueryBuilder) (string, []pgsupporter.Value, error) {
	switch st.kind {
	case statementInsert:
		return b.ToInsertSQL(st.fields)
	case statementUpdate:
		return b.ToUpdateSQL(st.fields)
	case statementDelete:
		return b.ToDeleteSQL()
	default:
		return b.ToSelectSQL(st.columns...)
	}
}

// execute runs the statement and returns the selected rows.
func (st *statement) execute(ctx context.Context, b *pgsupporter.QueryBuilder) ([]pgsupporter.Record, error) {
	switch st.kind {
	case statementInsert:
		return nil, b.Insert(ctx, st.fields)
	case statementUpdate:
		return nil, b.Update(ctx, st.fields)
	case statementDelete:
		return nil, b.Delete(ctx)
	}

	if !st.one {
		return b.Select(ctx, st.columns...)
	}
	rec, err := b.SelectOne(ctx, st.columns...)
	if err != nil || rec == nil {
		return nil, err
	}
	return []pgsupporter.Record{*rec}, nil
}

func runStatement(cmd *cobra.Command, kind statementKind) error {
	st, err := parseStatement(kind)
	if err != nil {
		return err
	}

	format := resolveString(queryOutput, cfg.Query.Output)
	if format != "yaml" && format != "json" {
		return cli.InputError(fmt.Sprintf("unsupported output format %q", format), nil)
	}

	out := cmd.OutOrStdout()
	if resolveBool(queryDryRun, cfg.Query.DryRun) {
		return dryRun(out, st)
	}

	ctx := cmd.Context()
	src, err := connect(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	var recs []pgsupporter.Record
	run := func(b *pgsupporter.QueryBuilder) error {
		var err error
		recs, err = st.execute(ctx, st.apply(b))
		return err
	}

	if st.schema == "" {
		b, berr := pgsupporter.NewQueryBuilder(src, nil,
			pgsupporter.WithQueryLogger(logger),
			pgsupporter.WithTxOptions(pgsupporter.WithLogger(logger)))
		if berr != nil {
			return cli.ConfigError("creating query builder", berr)
		}
		err = run(b)
	} else {
		err = pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
			b, err := pgsupporter.NewQueryBuilder(nil, tx, pgsupporter.WithQueryLogger(logger))
			if err != nil {
				return err
			}
			return run(b)
		}, pgsupporter.ReadOnly(!kind.writes()), pgsupporter.WithLogger(logger))
	}
	if err != nil {
		return cli.GeneralError("executing statement", err)
	}

	if kind != statementSelect {
		if !quiet {
			fmt.Fprintln(cmd.ErrOrStderr(), "OK")
		}
		return nil
	}
	return writeRecords(out, format, recs)
}

// dryRun renders st against an offline transaction and prints the SQL
// followed by its parameters.
func dryRun(w io.Writer, st *statement) error {
	b, err := pgsupporter.NewQueryBuilder(nil, pgsupporter.NewTransaction(offline{}))
	if err != nil {
		return err
	}

	query, params, err := st.render(st.apply(b))
	if err != nil {
		return cli.InputError("rendering statement", err)
	}

	if st.schema != "" {
		fmt.Fprintf(w, "SET search_path TO %s,public;\n", st.schema)
	}
	fmt.Fprintln(w, query)
	for i, p := range params {
		rendered, err := json.Marshal(p.Any())
		if err != nil {
			return cli.InputError(fmt.Sprintf("encoding parameter %d", i+1), err)
		}
		fmt.Fprintf(w, "-- $%d = %s\n", i+1, rendered)
	}
	return nil
}

// writeRecords prints rows as a list of column maps.
func writeRecords(w io.Writer, format string, recs []pgsupporter.Record) error {
	rows := make([]map[string]any, len(recs))
	for i, r := range recs {
		rows[i] = r.Map()
	}

	var (
		out []byte
		err error
	)
	if format == "json" {
		out, err = json.MarshalIndent(rows, "", "  ")
		out = append(out, '\n')
	} else {
		out, err = yaml.Marshal(rows)
	}
	if err != nil {
		return cli.GeneralError("encoding rows", err)
	}
	_, err = w.Write(out)
	return err
}
