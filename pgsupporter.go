// Package pgsupporter provides a small SQL builder and scoped transactions
// for PostgreSQL.
//
// # Module Structure
//
// The core package is driver independent. Connections come from a
// Connector, and two implementations ship alongside it:
//
//   - github.com/pthm/pgsupporter/pgxconn: pgx pool or per-transaction connections.
//   - github.com/pthm/pgsupporter/sqlconn: database/sql with lib/pq or pgx stdlib.
//
// pgsupportertest provides an in-memory Connector for unit tests and
// metrics provides a Prometheus Observer.
//
// # Transactions
//
// A Transaction is opened at most once and closed at most once. It is
// read-only unless ReadOnly(false) is given; closing a read-only
// transaction releases the connection without committing.
//
//	err := pgsupporter.RunInTransaction(ctx, src, func(tx *pgsupporter.Transaction) error {
//		return tx.Save(ctx, "INSERT INTO users (name, meta) VALUES (%s, %s::json);",
//			"Bob", map[string]any{"admin": true})
//	}, pgsupporter.ReadOnly(false), pgsupporter.InSchema("tenant_a"))
//
// Statements use %s placeholders. Structured values (maps, slices and
// arrays) are bound as JSON and should be cast with ::json. A literal
// percent sign is written %% when the statement has parameters.
//
// # Query Builder
//
// QueryBuilder renders single-table statements. Conditions are joined in
// the order they were added:
//
//	b, err := pgsupporter.NewQueryBuilder(src, nil)
//	if err != nil {
//		return err
//	}
//	rows, err := b.Table("users").
//		Where("age", ">", 18).
//		WhereGroup(func(g *pgsupporter.Group) {
//			g.Where("role", "=", "admin").OrWhere("role", "=", "owner")
//		}).
//		Select(ctx, "id", "name")
//	// SELECT id, name FROM users WHERE age > %s AND ( role = %s OR role = %s );
//
// Without a transaction each statement runs in its own: selects read-only,
// writes read-write and committed on success. A builder created with a
// transaction runs every statement inside it and may target a schema with
// TableInSchema.
//
// # Default Connector
//
// InitDefault registers a process-wide Connector that StartTransaction and
// RunInTransaction use when given nil. ResetDefault removes it.
// NewQueryBuilder never falls back to it; pass Default() explicitly.
//
// # Errors
//
// Validation failures wrap sentinel errors (ErrMissingTable, ErrEmptyInput,
// ErrConfiguration and others) and are checked with errors.Is or the Is*Err
// helpers. A failure to close a transaction after fn already failed is
// reported as a *TxExitError carrying both.
package pgsupporter
