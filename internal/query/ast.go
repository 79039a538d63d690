package query

import "fmt"

// OpKind identifies an Operation variant. Its String form is the "op" value of the JSON wire format.
type OpKind int

const (
	KindField OpKind = iota
	KindString
	KindDouble
	KindLong
	KindNull
	KindTrue
	KindFalse
	KindPi
	KindE
	KindTau

	KindAbs
	KindCeiling
	KindFloor
	KindExp
	KindLog
	KindSqrt
	KindNegate

	KindAdd
	KindSubtract
	KindMultiply
	KindDivide
	KindModulo

	KindMin
	KindMax
	KindSum
	KindAverage
	KindCount

	KindEqual
	KindNotEqual
	KindLessThan
	KindLessThanOrEqual
	KindGreaterThan
	KindGreaterThanOrEqual

	KindAnd
	KindOr
	KindNot

	KindLambda
	KindFilter

	KindAny
	KindAll
	KindCountWhere

	KindContains
	KindStartsWith
	KindEndsWith
	KindLength

	kindCount
)

var kindInfos = [kindCount]struct {
	wire     string
	typeName string
}{
	KindField:              {"field", "Field"},
	KindString:             {"string", "StringLiteral"},
	KindDouble:             {"double", "DoubleLiteral"},
	KindLong:               {"int64", "LongLiteral"},
	KindNull:               {"null", "NullLiteral"},
	KindTrue:               {"true", "TrueLiteral"},
	KindFalse:              {"false", "FalseLiteral"},
	KindPi:                 {"PI", "PiLiteral"},
	KindE:                  {"E", "EulerLiteral"},
	KindTau:                {"Tau", "TauLiteral"},
	KindAbs:                {"abs", "Abs"},
	KindCeiling:            {"ceiling", "Ceiling"},
	KindFloor:              {"floor", "Floor"},
	KindExp:                {"exp", "Exp"},
	KindLog:                {"log", "Log"},
	KindSqrt:               {"sqrt", "Sqrt"},
	KindNegate:             {"negate", "Negate"},
	KindAdd:                {"add", "Add"},
	KindSubtract:           {"subtract", "Subtract"},
	KindMultiply:           {"multiply", "Multiply"},
	KindDivide:             {"divide", "Divide"},
	KindModulo:             {"modulo", "Modulo"},
	KindMin:                {"min", "Min"},
	KindMax:                {"max", "Max"},
	KindSum:                {"sum", "Sum"},
	KindAverage:            {"average", "Average"},
	KindCount:              {"count", "Count"},
	KindEqual:              {"equal", "Equal"},
	KindNotEqual:           {"notEqual", "NotEqual"},
	KindLessThan:           {"lessThan", "LessThan"},
	KindLessThanOrEqual:    {"lessThanOrEqual", "LessThanOrEqual"},
	KindGreaterThan:        {"greaterThan", "GreaterThan"},
	KindGreaterThanOrEqual: {"greaterThanOrEqual", "GreaterThanOrEqual"},
	KindAnd:                {"and", "And"},
	KindOr:                 {"or", "Or"},
	KindNot:                {"not", "Not"},
	KindLambda:             {"lambda", "Lambda"},
	KindFilter:             {"filter", "Filter"},
	KindAny:                {"any", "Any"},
	KindAll:                {"all", "All"},
	KindCountWhere:         {"countWhere", "CountWhere"},
	KindContains:           {"contains", "Contains"},
	KindStartsWith:         {"startsWith", "StartsWith"},
	KindEndsWith:           {"endsWith", "EndsWith"},
	KindLength:             {"length", "Length"},
}

var kindsByWire = func() map[string]OpKind {
	m := make(map[string]OpKind, kindCount)
	for k := OpKind(0); k < kindCount; k++ {
		m[kindInfos[k].wire] = k
	}
	return m
}()

// String returns the wire name of the kind.
func (k OpKind) String() string {
	if k >= 0 && k < kindCount {
		return kindInfos[k].wire
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// TypeName returns the operator type name used in diagnostics, e.g. "GreaterThan".
func (k OpKind) TypeName() string {
	if k >= 0 && k < kindCount {
		return kindInfos[k].typeName
	}
	return k.String()
}

// KindFromWire resolves a wire name like "greaterThan".
func KindFromWire(name string) (OpKind, bool) {
	k, ok := kindsByWire[name]
	return k, ok
}

// AllKinds lists every operation kind.
func AllKinds() []OpKind {
	kinds := make([]OpKind, 0, kindCount)
	for k := OpKind(0); k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Operation is a node of the filter expression AST.
// The set of implementations is closed: every type is declared in this file.
type Operation interface {
	Kind() OpKind
	String() string
	operation()
}

// FilterOperation is an Operation that evaluates to a boolean.
type FilterOperation interface {
	Operation
	filterOperation()
}

// Field references a value by path. Paths of the root argument start with '.',
// paths of bound variables start with the variable name.
type Field struct {
	Name string
}

// StringLiteral is a constant string.
type StringLiteral struct {
	Value string
}

// DoubleLiteral is a constant floating point number.
type DoubleLiteral struct {
	Value float64
}

// LongLiteral is a constant integer.
type LongLiteral struct {
	Value int64
}

// BoolLiteral is true or false.
type BoolLiteral struct {
	Value bool
}

// NullLiteral is the JSON null.
type NullLiteral struct{}

// Constant is one of PI, E or Tau.
type Constant struct {
	Op OpKind
}

// UnaryArithmetic applies abs, ceiling, floor, exp, log, sqrt or negate.
type UnaryArithmetic struct {
	Op    OpKind
	Value Operation
}

// BinaryArithmetic applies add, subtract, multiply, divide or modulo.
type BinaryArithmetic struct {
	Op    OpKind
	Left  Operation
	Right Operation
}

// Compare is an equality or relational comparison.
type Compare struct {
	guard
	Op    OpKind
	Left  Operation
	Right Operation
}

// And is true when all operands are true.
type And struct {
	guard
	Operands []FilterOperation
}

// Or is true when any operand is true.
type Or struct {
	guard
	Operands []FilterOperation
}

// Not negates its operand.
type Not struct {
	guard
	Operand FilterOperation
}

// StringPredicate tests contains, startsWith or endsWith.
type StringPredicate struct {
	guard
	Op    OpKind
	Left  Operation
	Right Operation
}

// Length returns the character count of a string.
type Length struct {
	Value Operation
}

// Quantify is Any or All over the array at Field, binding each element to Arg.
type Quantify struct {
	guard
	Op        OpKind
	Field     *Field
	Arg       string
	Predicate FilterOperation
}

// CountWhere counts the elements of the array at Field matching Predicate.
type CountWhere struct {
	guard
	Field     *Field
	Arg       string
	Predicate FilterOperation
}

// Aggregate computes min, max, sum, average or count over the array at Field.
// Value is evaluated per element bound to Arg; it is nil for count.
type Aggregate struct {
	Op    OpKind
	Field *Field
	Arg   string
	Value Operation
}

// Filter binds the root argument name of a boolean expression.
type Filter struct {
	Arg  string
	Body FilterOperation
}

// Lambda binds the root argument name of a scalar expression.
type Lambda struct {
	Arg  string
	Body Operation
}

func (o *Field) Kind() OpKind            { return KindField }
func (o *StringLiteral) Kind() OpKind    { return KindString }
func (o *DoubleLiteral) Kind() OpKind    { return KindDouble }
func (o *LongLiteral) Kind() OpKind      { return KindLong }
func (o *NullLiteral) Kind() OpKind      { return KindNull }
func (o *Constant) Kind() OpKind         { return o.Op }
func (o *UnaryArithmetic) Kind() OpKind  { return o.Op }
func (o *BinaryArithmetic) Kind() OpKind { return o.Op }
func (o *Compare) Kind() OpKind          { return o.Op }
func (o *And) Kind() OpKind              { return KindAnd }
func (o *Or) Kind() OpKind               { return KindOr }
func (o *Not) Kind() OpKind              { return KindNot }
func (o *StringPredicate) Kind() OpKind  { return o.Op }
func (o *Length) Kind() OpKind           { return KindLength }
func (o *Quantify) Kind() OpKind         { return o.Op }
func (o *CountWhere) Kind() OpKind       { return KindCountWhere }
func (o *Aggregate) Kind() OpKind        { return o.Op }
func (o *Filter) Kind() OpKind           { return KindFilter }
func (o *Lambda) Kind() OpKind           { return KindLambda }

func (o *BoolLiteral) Kind() OpKind {
	if o.Value {
		return KindTrue
	}
	return KindFalse
}

func (*Field) operation()            {}
func (*StringLiteral) operation()    {}
func (*DoubleLiteral) operation()    {}
func (*LongLiteral) operation()      {}
func (*BoolLiteral) operation()      {}
func (*NullLiteral) operation()      {}
func (*Constant) operation()         {}
func (*UnaryArithmetic) operation()  {}
func (*BinaryArithmetic) operation() {}
func (*Compare) operation()          {}
func (*And) operation()              {}
func (*Or) operation()               {}
func (*Not) operation()              {}
func (*StringPredicate) operation()  {}
func (*Length) operation()           {}
func (*Quantify) operation()         {}
func (*CountWhere) operation()       {}
func (*Aggregate) operation()        {}
func (*Filter) operation()           {}
func (*Lambda) operation()           {}

func (*BoolLiteral) filterOperation()     {}
func (*Compare) filterOperation()         {}
func (*And) filterOperation()             {}
func (*Or) filterOperation()              {}
func (*Not) filterOperation()             {}
func (*StringPredicate) filterOperation() {}
func (*Quantify) filterOperation()        {}
func (*Filter) filterOperation()          {}

// NewField creates a field reference.
func NewField(name string) *Field { return &Field{Name: name} }

// NewCompare creates a comparison of kind op.
func NewCompare(op OpKind, left, right Operation) *Compare {
	return &Compare{Op: op, Left: left, Right: right}
}

// NewAnd creates a conjunction.
func NewAnd(operands ...FilterOperation) *And { return &And{Operands: operands} }

// NewOr creates a disjunction.
func NewOr(operands ...FilterOperation) *Or { return &Or{Operands: operands} }

// NewNot creates a negation.
func NewNot(operand FilterOperation) *Not { return &Not{Operand: operand} }

// IsCompareKind reports whether k is an equality or relational comparison.
func IsCompareKind(k OpKind) bool { return k >= KindEqual && k <= KindGreaterThanOrEqual }

func isUnaryArithmeticKind(k OpKind) bool { return k >= KindAbs && k <= KindNegate }

func isBinaryArithmeticKind(k OpKind) bool { return k >= KindAdd && k <= KindModulo }

func isAggregateKind(k OpKind) bool { return k >= KindMin && k <= KindCount }

func isStringPredicateKind(k OpKind) bool { return k >= KindContains && k <= KindEndsWith }

// Children returns the direct operands of op in evaluation order.
func Children(op Operation) []Operation {
	switch o := op.(type) {
	case *UnaryArithmetic:
		return []Operation{o.Value}
	case *BinaryArithmetic:
		return []Operation{o.Left, o.Right}
	case *Compare:
		return []Operation{o.Left, o.Right}
	case *And:
		return filterOperations(o.Operands)
	case *Or:
		return filterOperations(o.Operands)
	case *Not:
		return []Operation{o.Operand}
	case *StringPredicate:
		return []Operation{o.Left, o.Right}
	case *Length:
		return []Operation{o.Value}
	case *Quantify:
		return []Operation{o.Field, o.Predicate}
	case *CountWhere:
		return []Operation{o.Field, o.Predicate}
	case *Aggregate:
		if o.Value == nil {
			return []Operation{o.Field}
		}
		return []Operation{o.Field, o.Value}
	case *Filter:
		return []Operation{o.Body}
	case *Lambda:
		return []Operation{o.Body}
	}
	return nil
}

func filterOperations(ops []FilterOperation) []Operation {
	result := make([]Operation, len(ops))
	for i, op := range ops {
		result[i] = op
	}
	return result
}

// Walk visits op and its descendants depth first until fn returns false.
func Walk(op Operation, fn func(Operation) bool) bool {
	if op == nil {
		return true
	}
	if !fn(op) {
		return false
	}
	for _, child := range Children(op) {
		if !Walk(child, fn) {
			return false
		}
	}
	return true
}
