package query

import (
	"strconv"
	"strings"
)

// renderPrecedence mirrors the tree builder precedences; primaries bind tightest.
func renderPrecedence(op Operation) int {
	switch op.Kind() {
	case KindOr:
		return 1
	case KindAnd:
		return 2
	case KindEqual, KindNotEqual:
		return 3
	case KindLessThan, KindLessThanOrEqual, KindGreaterThan, KindGreaterThanOrEqual:
		return 4
	case KindAdd, KindSubtract:
		return 5
	case KindMultiply, KindDivide, KindModulo:
		return 6
	case KindFilter, KindLambda:
		return 0
	}
	return 7
}

var infixOperators = map[OpKind]string{
	KindAdd:                " + ",
	KindSubtract:           " - ",
	KindMultiply:           " * ",
	KindDivide:             " / ",
	KindModulo:             " % ",
	KindEqual:              " == ",
	KindNotEqual:           " != ",
	KindLessThan:           " < ",
	KindLessThanOrEqual:    " <= ",
	KindGreaterThan:        " > ",
	KindGreaterThanOrEqual: " >= ",
}

var methodNames = map[OpKind]string{
	KindAbs:        "Abs",
	KindCeiling:    "Ceiling",
	KindFloor:      "Floor",
	KindExp:        "Exp",
	KindLog:        "Log",
	KindSqrt:       "Sqrt",
	KindMin:        "Min",
	KindMax:        "Max",
	KindSum:        "Sum",
	KindAverage:    "Average",
	KindCount:      "Count",
	KindAny:        "Any",
	KindAll:        "All",
	KindCountWhere: "Count",
	KindContains:   "Contains",
	KindStartsWith: "StartsWith",
	KindEndsWith:   "EndsWith",
	KindLength:     "Length",
}

type renderer struct {
	sb  strings.Builder
	arg string
}

func render(op Operation) string {
	r := &renderer{}
	r.op(op)
	return r.sb.String()
}

func (r *renderer) operand(op Operation, minPrec int) {
	if op == nil {
		r.sb.WriteString("<nil>")
		return
	}
	if renderPrecedence(op) < minPrec {
		r.sb.WriteByte('(')
		r.op(op)
		r.sb.WriteByte(')')
		return
	}
	r.op(op)
}

func (r *renderer) field(name string) {
	if !strings.HasPrefix(name, ".") || r.arg == "" {
		r.sb.WriteString(name)
		return
	}
	r.sb.WriteString(r.arg)
	if name != "." {
		r.sb.WriteString(name)
	}
}

func formatDouble(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

func (r *renderer) op(op Operation) {
	switch o := op.(type) {
	case *Field:
		r.field(o.Name)
	case *StringLiteral:
		r.sb.WriteByte('\'')
		r.sb.WriteString(o.Value)
		r.sb.WriteByte('\'')
	case *DoubleLiteral:
		r.sb.WriteString(formatDouble(o.Value))
	case *LongLiteral:
		r.sb.WriteString(strconv.FormatInt(o.Value, 10))
	case *BoolLiteral:
		r.sb.WriteString(strconv.FormatBool(o.Value))
	case *NullLiteral:
		r.sb.WriteString("null")
	case *Constant:
		r.sb.WriteString(o.Op.String())
	case *UnaryArithmetic:
		if o.Op == KindNegate {
			r.sb.WriteString("-(")
		} else {
			r.sb.WriteString(methodNames[o.Op])
			r.sb.WriteByte('(')
		}
		r.operand(o.Value, 0)
		r.sb.WriteByte(')')
	case *BinaryArithmetic:
		r.infix(o.Op, o.Left, o.Right)
	case *Compare:
		r.infix(o.Op, o.Left, o.Right)
	case *And:
		r.group(" && ", renderPrecedence(o), o.Operands)
	case *Or:
		r.group(" || ", renderPrecedence(o), o.Operands)
	case *Not:
		r.sb.WriteByte('!')
		r.operand(o.Operand, 7)
	case *StringPredicate:
		r.operand(o.Left, 7)
		r.sb.WriteByte('.')
		r.sb.WriteString(methodNames[o.Op])
		r.sb.WriteByte('(')
		r.operand(o.Right, 0)
		r.sb.WriteByte(')')
	case *Length:
		r.operand(o.Value, 7)
		r.sb.WriteString(".Length()")
	case *Quantify:
		r.method(o.Field, o.Op, o.Arg, o.Predicate)
	case *CountWhere:
		r.method(o.Field, KindCountWhere, o.Arg, o.Predicate)
	case *Aggregate:
		r.method(o.Field, o.Op, o.Arg, o.Value)
	case *Filter:
		r.lambda(o.Arg, o.Body)
	case *Lambda:
		r.lambda(o.Arg, o.Body)
	default:
		r.sb.WriteString("<unknown>")
	}
}

func (r *renderer) infix(kind OpKind, left, right Operation) {
	prec := precedenceOfKind(kind)
	r.operand(left, prec)
	r.sb.WriteString(infixOperators[kind])
	r.operand(right, prec+1)
}

func precedenceOfKind(kind OpKind) int {
	switch {
	case kind == KindEqual || kind == KindNotEqual:
		return 3
	case IsCompareKind(kind):
		return 4
	case kind == KindAdd || kind == KindSubtract:
		return 5
	}
	return 6
}

func (r *renderer) group(sep string, prec int, operands []FilterOperation) {
	for i, operand := range operands {
		if i > 0 {
			r.sb.WriteString(sep)
		}
		r.operand(operand, prec+1)
	}
}

func (r *renderer) method(field *Field, kind OpKind, arg string, body Operation) {
	if field != nil {
		r.field(field.Name)
	}
	r.sb.WriteByte('.')
	r.sb.WriteString(methodNames[kind])
	r.sb.WriteByte('(')
	if body != nil {
		r.sb.WriteString(arg)
		r.sb.WriteString(" => ")
		r.operand(body, 0)
	}
	r.sb.WriteByte(')')
}

func (r *renderer) lambda(arg string, body Operation) {
	outer := r.arg
	r.arg = arg
	r.sb.WriteString(arg)
	r.sb.WriteString(" => ")
	r.operand(body, 0)
	r.arg = outer
}

func (o *Field) String() string            { return render(o) }
func (o *StringLiteral) String() string    { return render(o) }
func (o *DoubleLiteral) String() string    { return render(o) }
func (o *LongLiteral) String() string      { return render(o) }
func (o *BoolLiteral) String() string      { return render(o) }
func (o *NullLiteral) String() string      { return render(o) }
func (o *Constant) String() string         { return render(o) }
func (o *UnaryArithmetic) String() string  { return render(o) }
func (o *BinaryArithmetic) String() string { return render(o) }
func (o *Compare) String() string          { return render(o) }
func (o *And) String() string              { return render(o) }
func (o *Or) String() string               { return render(o) }
func (o *Not) String() string              { return render(o) }
func (o *StringPredicate) String() string  { return render(o) }
func (o *Length) String() string           { return render(o) }
func (o *Quantify) String() string         { return render(o) }
func (o *CountWhere) String() string       { return render(o) }
func (o *Aggregate) String() string        { return render(o) }
func (o *Filter) String() string           { return render(o) }
func (o *Lambda) String() string           { return render(o) }
