package pgsupporter

import (
	"errors"
	"fmt"
)

// Sentinel errors for builder and transaction failures.
// Driver errors are wrapped with context and pass through unchanged
// otherwise; these errors indicate misuse or misconfiguration rather than
// a database-side problem.
//
// Use the Is*Err helper functions to check for specific errors.
var (
	// ErrMissingTable is returned when a statement is rendered before
	// QueryBuilder.Table was called.
	ErrMissingTable = errors.New("pgsupporter: table not specified")

	// ErrEmptyInput is returned by Insert and Update when no fields are given.
	ErrEmptyInput = errors.New("pgsupporter: no fields to write")

	// ErrEmptyCondition is returned when an empty condition group is rendered.
	ErrEmptyCondition = errors.New("pgsupporter: condition group is empty")

	// ErrConfiguration is returned for invalid builder or connector setup,
	// such as passing both a connector and a transaction to NewQueryBuilder.
	ErrConfiguration = errors.New("pgsupporter: invalid configuration")

	// ErrNoDefaultConnection is returned when a transaction is requested
	// without a connector and no process default was initialized.
	ErrNoDefaultConnection = errors.New("pgsupporter: no connector available")

	// ErrTxNotOpen is returned when a statement or Close is issued on a
	// transaction that was never opened.
	ErrTxNotOpen = errors.New("pgsupporter: transaction not open")

	// ErrTxClosed is returned for any use of a transaction after Close.
	// Transactions are single use.
	ErrTxClosed = errors.New("pgsupporter: transaction already closed")

	// ErrTxAlreadyOpen is returned when Open is called twice.
	ErrTxAlreadyOpen = errors.New("pgsupporter: transaction already open")
)

// IsMissingTableErr returns true if err is or wraps ErrMissingTable.
func IsMissingTableErr(err error) bool {
	return errors.Is(err, ErrMissingTable)
}

// IsEmptyInputErr returns true if err is or wraps ErrEmptyInput.
func IsEmptyInputErr(err error) bool {
	return errors.Is(err, ErrEmptyInput)
}

// IsEmptyConditionErr returns true if err is or wraps ErrEmptyCondition.
func IsEmptyConditionErr(err error) bool {
	return errors.Is(err, ErrEmptyCondition)
}

// IsConfigurationErr returns true if err is or wraps ErrConfiguration.
func IsConfigurationErr(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsNoDefaultConnectionErr returns true if err is or wraps ErrNoDefaultConnection.
func IsNoDefaultConnectionErr(err error) bool {
	return errors.Is(err, ErrNoDefaultConnection)
}

// TxExitError is returned when a scoped transaction fails and closing the
// transaction fails as well. Err is the error from the scoped function (or
// from switching schema), CloseErr the error from Close.
//
// Both errors are reachable through errors.Is and errors.As.
type TxExitError struct {
	Err      error
	CloseErr error
}

func (e *TxExitError) Error() string {
	return fmt.Sprintf("%v (closing transaction: %v)", e.Err, e.CloseErr)
}

func (e *TxExitError) Unwrap() []error {
	return []error{e.Err, e.CloseErr}
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
