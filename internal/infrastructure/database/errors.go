package database

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Kind classifies a database failure.
type Kind int

// Failure kinds surfaced by this package.
const (
	// KindDatabaseOpen means the store could not be opened or configured.
	KindDatabaseOpen Kind = iota + 1

	// KindSQLExecution means a direct execute or a statement step failed.
	KindSQLExecution

	// KindStatementPrepare means preparing, binding or resetting a statement failed.
	KindStatementPrepare

	// KindTransaction means begin/commit/rollback was misused or failed.
	KindTransaction

	// KindValidation means caller-supplied arguments violated a precondition.
	// No backend call is made when this kind is returned.
	KindValidation
)

// Sentinel errors, one per Kind. Use errors.Is() to check for these errors:
//
//	if errors.Is(err, database.ErrValidation) {
//	    // Caller bug: bad index, empty condition, closed connection...
//	}
var (
	// ErrDatabaseOpen is matched by errors of KindDatabaseOpen.
	ErrDatabaseOpen = errors.New("database: failed to open database")

	// ErrSQLExecution is matched by errors of KindSQLExecution.
	ErrSQLExecution = errors.New("database: sql execution failed")

	// ErrStatementPrepare is matched by errors of KindStatementPrepare.
	ErrStatementPrepare = errors.New("database: statement prepare failed")

	// ErrTransaction is matched by errors of KindTransaction.
	ErrTransaction = errors.New("database: transaction error")

	// ErrValidation is matched by errors of KindValidation.
	ErrValidation = errors.New("database: validation failed")
)

// Conditions that are reported as KindValidation but can be matched precisely.
var (
	// ErrConnectionClosed is returned when operating on a closed or never-opened Connection.
	ErrConnectionClosed = errors.New("database: connection is not valid")

	// ErrStatementClosed is returned when operating on a finalized Statement.
	ErrStatementClosed = errors.New("database: statement is closed")

	// ErrIndexOutOfRange is returned for a parameter or column index outside the statement's range.
	ErrIndexOutOfRange = errors.New("database: index out of range")

	// ErrNoRow is returned when reading a column while no row is available,
	// and by lookups that expect exactly one row.
	ErrNoRow = errors.New("database: no row available")
)

// String returns the kind name used in log output.
func (k Kind) String() string {
	switch k {
	case KindDatabaseOpen:
		return "database_open"
	case KindSQLExecution:
		return "sql_execution"
	case KindStatementPrepare:
		return "statement_prepare"
	case KindTransaction:
		return "transaction"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindDatabaseOpen:
		return ErrDatabaseOpen
	case KindSQLExecution:
		return ErrSQLExecution
	case KindStatementPrepare:
		return ErrStatementPrepare
	case KindTransaction:
		return ErrTransaction
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

// Error is the concrete error returned by this package.
//
// Native carries the backend's own message when the failure came from
// SQLite; it is empty for validation failures.
type Error struct {
	Kind   Kind
	Op     string
	SQL    string
	Native string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "database: " + e.Op
	switch {
	case e.Native != "":
		msg += ": " + e.Native
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	if e.SQL != "" {
		msg += fmt.Sprintf(" (sql: %q)", e.SQL)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Code returns the SQLite primary result code of the underlying cause,
// or 0 when the failure did not come from SQLite.
func (e *Error) Code() sqlite3.ErrNo {
	var se sqlite3.Error
	if errors.As(e.Err, &se) {
		return se.Code
	}
	return 0
}

// newError wraps a backend failure. The native message is taken from the
// sqlite3.Error when available.
func newError(kind Kind, op, sql string, err error) *Error {
	e := &Error{Kind: kind, Op: op, SQL: sql, Err: err}
	if err != nil {
		e.Native = err.Error()
	}
	return e
}

// NewValidationError returns a KindValidation error for op.
// It is exported so packages built on top of Connection report
// precondition failures with the same kind.
func NewValidationError(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: errors.New(msg)}
}

// validationError wraps one of the precise validation sentinels.
func validationError(op string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind: KindValidation,
		Op:   op,
		Err:  fmt.Errorf("%w: %s", cause, fmt.Sprintf(format, args...)),
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
