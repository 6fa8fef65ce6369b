// Package doctor provides health checks for a pgsupporter database setup.
//
// The doctor command verifies that the configured database is reachable,
// that transactions can be opened, written to and rolled back, and that the
// configured schema exists and can be placed on the search path.
//
// Example usage:
//
//	d := doctor.New(connector, doctor.WithSchema("tenant_a"))
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/pthm/pgsupporter"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Connectivity", "Schema").
	Category string

	// Name is a short identifier for the check.
	Name string

	Status  Status
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Find returns the first check with the given category and name.
func (r *Report) Find(category, name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Category == category && c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Print writes the report to the given writer, grouped by category in
// the order categories first appeared.
func (r *Report) Print(w io.Writer, verbose bool) {
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

const (
	categoryConnectivity = "Connectivity"
	categoryTransactions = "Transactions"
	categorySchema       = "Schema"
)

// scratchTable is created per run as a temporary table and dropped with the
// write check transaction.
const scratchTable = "pgsupporter_doctor_scratch"

// errWriteCheckRollback aborts the write check so it leaves nothing behind.
var errWriteCheckRollback = errors.New("doctor: write check rollback")

// Doctor performs health checks against a connector.
type Doctor struct {
	connector pgsupporter.Connector
	schema    string
	target    string
	logger    *zap.Logger

	// Populated during Run.
	connected bool
}

// Option configures a Doctor.
type Option func(*Doctor)

// WithSchema sets the schema to verify.
func WithSchema(schema string) Option {
	return func(d *Doctor) { d.schema = schema }
}

// WithTarget sets the redacted connection string shown in the report.
func WithTarget(target string) Option {
	return func(d *Doctor) { d.target = target }
}

// WithLogger sets the logger passed to the transactions the doctor opens.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Doctor) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a new Doctor instance.
func New(c pgsupporter.Connector, opts ...Option) *Doctor {
	d := &Doctor{connector: c, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes all health checks and returns a report. Check failures are
// reported, not returned; the error is reserved for the doctor itself failing.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkConnectivity(ctx, report)
	if !d.connected {
		return report, nil
	}
	d.checkServerVersion(ctx, report)
	d.checkWrite(ctx, report)
	d.checkSchema(ctx, report)

	return report, nil
}

func (d *Doctor) txOptions(extra ...pgsupporter.TxOption) []pgsupporter.TxOption {
	return append([]pgsupporter.TxOption{pgsupporter.WithLogger(d.logger)}, extra...)
}

// checkConnectivity opens and closes a read-only transaction.
func (d *Doctor) checkConnectivity(ctx context.Context, report *Report) {
	tx := pgsupporter.NewTransaction(d.connector, d.txOptions()...)
	err := tx.Open(ctx)
	if err == nil {
		err = tx.Close(ctx, true)
	}

	if err != nil {
		report.AddCheck(CheckResult{
			Category: categoryConnectivity,
			Name:     "connect",
			Status:   StatusFail,
			Message:  "Cannot acquire a database connection",
			Details:  err.Error(),
			FixHint:  "Check database.url (or host/name/user) and that the server accepts connections",
		})
		return
	}

	d.connected = true
	msg := "Database connection acquired and released"
	if d.target != "" {
		msg = fmt.Sprintf("Connected to %s", d.target)
	}
	report.AddCheck(CheckResult{
		Category: categoryConnectivity,
		Name:     "connect",
		Status:   StatusPass,
		Message:  msg,
	})
}

func (d *Doctor) checkServerVersion(ctx context.Context, report *Report) {
	var version string
	err := pgsupporter.RunInTransaction(ctx, d.connector, func(tx *pgsupporter.Transaction) error {
		rec, err := tx.FindOne(ctx, "SELECT version() AS version;")
		if err != nil || rec == nil {
			return err
		}
		if v, ok := rec.Get("version"); ok {
			version = fmt.Sprint(v)
		}
		return nil
	}, d.txOptions()...)

	if err != nil || version == "" {
		details := "no rows returned"
		if err != nil {
			details = err.Error()
		}
		report.AddCheck(CheckResult{
			Category: categoryConnectivity,
			Name:     "version",
			Status:   StatusWarn,
			Message:  "Could not determine server version",
			Details:  details,
		})
		return
	}

	report.AddCheck(CheckResult{
		Category: categoryConnectivity,
		Name:     "version",
		Status:   StatusPass,
		Message:  "Server version detected",
		Details:  version,
	})
}

// checkWrite writes to a temporary table through the query builder
// inside a read-write transaction and then forces a rollback.
func (d *Doctor) checkWrite(ctx context.Context, report *Report) {
	var rows int
	err := pgsupporter.RunInTransaction(ctx, d.connector, func(tx *pgsupporter.Transaction) error {
		if err := tx.ExecuteDDL(ctx, "CREATE TEMPORARY TABLE "+scratchTable+" (id int, payload json) ON COMMIT DROP;"); err != nil {
			return err
		}
		b, err := pgsupporter.NewQueryBuilder(nil, tx)
		if err != nil {
			return err
		}
		b.Table(scratchTable)
		if err := b.Insert(ctx, pgsupporter.Fields{
			{Name: "id", Value: 1},
			{Name: "payload", Value: map[string]any{"check": true}},
		}); err != nil {
			return err
		}
		recs, err := b.Where("id", "=", 1).Select(ctx, "id")
		if err != nil {
			return err
		}
		rows = len(recs)
		return errWriteCheckRollback
	}, d.txOptions(pgsupporter.ReadOnly(false))...)

	if !errors.Is(err, errWriteCheckRollback) {
		report.AddCheck(CheckResult{
			Category: categoryTransactions,
			Name:     "write",
			Status:   StatusFail,
			Message:  "Read-write transaction check failed",
			Details:  fmt.Sprint(err),
			FixHint:  "Ensure the database user may create temporary tables and the server is not a read-only replica",
		})
		return
	}

	var exitErr *pgsupporter.TxExitError
	if errors.As(err, &exitErr) {
		report.AddCheck(CheckResult{
			Category: categoryTransactions,
			Name:     "rollback",
			Status:   StatusFail,
			Message:  "Rollback failed",
			Details:  exitErr.CloseErr.Error(),
		})
		return
	}

	report.AddCheck(CheckResult{
		Category: categoryTransactions,
		Name:     "write",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Write check inserted and read back %d row(s), then rolled back", rows),
	})
}

func (d *Doctor) checkSchema(ctx context.Context, report *Report) {
	if d.schema == "" {
		report.AddCheck(CheckResult{
			Category: categorySchema,
			Name:     "configured",
			Status:   StatusPass,
			Message:  "No schema configured, using the server default search_path",
		})
		return
	}

	b, err := pgsupporter.NewQueryBuilder(d.connector, nil, pgsupporter.WithTxOptions(d.txOptions()...))
	if err != nil {
		report.AddCheck(CheckResult{Category: categorySchema, Name: "exists", Status: StatusFail, Message: "Cannot build schema query", Details: err.Error()})
		return
	}
	rec, err := b.Table("pg_catalog.pg_namespace").Where("nspname", "=", d.schema).SelectOne(ctx, "nspname")
	switch {
	case err != nil:
		report.AddCheck(CheckResult{
			Category: categorySchema,
			Name:     "exists",
			Status:   StatusFail,
			Message:  "Cannot query pg_namespace",
			Details:  err.Error(),
		})
		return
	case rec == nil:
		report.AddCheck(CheckResult{
			Category: categorySchema,
			Name:     "exists",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Schema %q does not exist", d.schema),
			FixHint:  fmt.Sprintf("Run CREATE SCHEMA %s; (for example with pgsupporter ddl)", d.schema),
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: categorySchema,
		Name:     "exists",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Schema %q exists", d.schema),
	})

	var searchPath string
	err = pgsupporter.RunInTransaction(ctx, d.connector, func(tx *pgsupporter.Transaction) error {
		rec, err := tx.FindOne(ctx, "SHOW search_path;")
		if err != nil || rec == nil {
			return err
		}
		if v, ok := rec.Get("search_path"); ok {
			searchPath = fmt.Sprint(v)
		}
		return nil
	}, d.txOptions(pgsupporter.InSchema(d.schema))...)

	if err != nil || !strings.HasPrefix(strings.TrimSpace(searchPath), d.schema) {
		report.AddCheck(CheckResult{
			Category: categorySchema,
			Name:     "search_path",
			Status:   StatusWarn,
			Message:  "search_path did not switch to the configured schema",
			Details:  fmt.Sprintf("search_path=%q err=%v", searchPath, err),
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: categorySchema,
		Name:     "search_path",
		Status:   StatusPass,
		Message:  fmt.Sprintf("search_path switches to %s", searchPath),
	})
}
