// Package main provides the pgsupporter command line tool.
//
// The CLI runs builder-rendered statements against PostgreSQL:
//   - select, insert, update, delete: build and execute a single statement
//   - ddl: execute a DDL script in a read-write transaction
//   - doctor: check connectivity, transactions and schema setup
//
// Every statement command accepts --dry-run, which prints the rendered SQL
// and its parameters without connecting.
//
// Usage:
//
//	pgsupporter [flags] <command>
//
// Connection settings come from pgsupporter.yaml (discovered by walking up
// to the repository root) or PGSUPPORTER_* environment variables.
package main

func main() {
	Execute()
}
