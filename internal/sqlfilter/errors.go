package sqlfilter

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is returned for operations that have no SQL translation.
	ErrNotImplemented = errors.New("operation is not implemented for SQL")
	// ErrInvalidFieldPath is returned for field names that cannot be embedded in a JSON path.
	ErrInvalidFieldPath = errors.New("invalid field path")
	// ErrUnboundVariable is returned for fields of variables the compiler cannot resolve.
	ErrUnboundVariable = errors.New("unbound variable")
	// ErrUnknownDialect is returned by DialectFor for unsupported database names.
	ErrUnknownDialect = errors.New("unknown sql dialect")
)

// NotImplementedError names the operation type that could not be translated and the filter it occurred in.
type NotImplementedError struct {
	Op     string
	Filter string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s: %s in filter %s", ErrNotImplemented, e.Op, e.Filter)
}

func (e *NotImplementedError) Unwrap() error {
	return ErrNotImplemented
}
