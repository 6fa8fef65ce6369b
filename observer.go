package pgsupporter

import "time"

// Outcome describes how a transaction ended.
type Outcome string

const (
	OutcomeCommit   Outcome = "commit"
	OutcomeRollback Outcome = "rollback"
	// OutcomeRelease is a read-only transaction: the connection was
	// released without commit or rollback.
	OutcomeRelease Outcome = "release"
)

// StatementKind classifies executed statements for observers.
type StatementKind string

const (
	StatementQuery  StatementKind = "query"
	StatementExec   StatementKind = "exec"
	StatementDDL    StatementKind = "ddl"
	StatementSchema StatementKind = "schema"
)

// Observer receives transaction lifecycle events. The metrics package
// provides a Prometheus implementation.
type Observer interface {
	TransactionOpened(readOnly bool)
	TransactionClosed(outcome Outcome, err error)
	StatementExecuted(kind StatementKind, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) TransactionOpened(bool)                                {}
func (nopObserver) TransactionClosed(Outcome, error)                      {}
func (nopObserver) StatementExecuted(StatementKind, time.Duration, error) {}
