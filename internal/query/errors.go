package query

import (
	"errors"
	"fmt"
)

// Sentinel errors for every failure the filter pipeline can report.
// Use errors.Is to classify an *Error returned by Tokenize, BuildTree, Parse or an Evaluation.
var (
	// Lex errors
	ErrUnexpectedCharacter = errors.New("unexpected character")
	ErrUnterminatedString  = errors.New("unterminated string")
	ErrInvalidFloat        = errors.New("invalid floating point number")

	// Tree-build errors
	ErrMismatchedBracket      = errors.New("mismatched bracket")
	ErrInvalidArrowExpression = errors.New("invalid arrow expression")
	ErrDanglingOperator       = errors.New("operator is missing an operand")
	ErrUnexpectedToken        = errors.New("unexpected token")
	ErrEmptyExpression        = errors.New("empty expression")

	// Parse errors
	ErrVariableNotFound        = errors.New("variable not found")
	ErrVariableAlreadyDeclared = errors.New("variable already declared")
	ErrUnknownFunction         = errors.New("unknown function")
	ErrUnknownMethod           = errors.New("unknown method")
	ErrNonBooleanOperand       = errors.New("operand must be boolean")
	ErrInvalidOperand          = errors.New("invalid operand")
	ErrReservedWord            = errors.New("reserved word")
	ErrInvalidLiteralOperand   = errors.New("literal must not have operands")
	ErrInvalidArgumentCount    = errors.New("invalid argument count")

	// Evaluation errors
	ErrInvalidReuse = errors.New("used operation instance is not applicable for reuse")
	ErrNotBoolean   = errors.New("operation does not evaluate to a boolean")

	// Wire format errors
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingOperand   = errors.New("missing operand")
)

// Error is a positioned error produced while lexing, building or parsing a filter.
// Kind is one of the sentinel errors above.
type Error struct {
	Kind error
	Pos  int
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s at pos %d", e.Kind, e.Pos)
	}
	return fmt.Sprintf("%s: %s at pos %d", e.Kind, e.Msg, e.Pos)
}

// Unwrap returns the sentinel so that errors.Is works.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, pos int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// ReuseError reports an operation instance that was armed twice.
type ReuseError struct {
	Type string
	Op   string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%s. type: %s, op: %s", ErrInvalidReuse, e.Type, e.Op)
}

// Unwrap returns ErrInvalidReuse.
func (e *ReuseError) Unwrap() error {
	return ErrInvalidReuse
}
