// Package errs collects the error kinds shared across the consensus core.
//
// Each subsystem package (validation, substate, store, txpool, hotstuff)
// defines its own error types for the specific failures it can
// produce; this package holds the handful of error *shapes* that more
// than one subsystem needs, plus the InvariantError type that every
// package uses to report a bug rather than an expected failure.
package errs

import "fmt"

// InvariantError reports a violated invariant: a condition the code
// assumes can never be false. Invariant errors are bugs, not expected
// failures — the caller is expected to terminate the worker that hit
// one rather than try to recover from it.
type InvariantError struct {
	Function string
	Details  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Function, e.Details)
}

// NewInvariantError constructs an InvariantError.
func NewInvariantError(function, details string) error {
	return &InvariantError{Function: function, Details: details}
}

// NotFoundError is returned by storage lookups that find nothing; it is
// always distinguishable from other storage failures via errors.As.
type NotFoundError struct {
	Item string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Item, e.Key)
}

// NewNotFound constructs a NotFoundError.
func NewNotFound(item, key string) error {
	return &NotFoundError{Item: item, Key: key}
}

// QueryError wraps a storage-layer failure that is not a "not found".
type QueryError struct {
	Reason string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("query error: %s", e.Reason)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError constructs a QueryError.
func NewQueryError(reason string, err error) error {
	return &QueryError{Reason: reason, Err: err}
}

// NotAllTransactionsFoundError is returned when a bulk operation expected
// every named transaction to already exist locally and at least one did
// not.
type NotAllTransactionsFoundError struct {
	Operation string
	Details   string
}

func (e *NotAllTransactionsFoundError) Error() string {
	return fmt.Sprintf("%s: not all transactions found: %s", e.Operation, e.Details)
}

// NewNotAllTransactionsFound constructs a NotAllTransactionsFoundError.
func NewNotAllTransactionsFound(operation, details string) error {
	return &NotAllTransactionsFoundError{Operation: operation, Details: details}
}
