package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Evaluation holds an armed operation tree. Guarded nodes of the tree cannot
// join a second Evaluation until Close is called.
type Evaluation struct {
	op     Operation
	guards []*guard
	vars   map[string]Scalar
	closed bool
}

// NewEvaluation arms op for evaluation. It fails with a *ReuseError when a guarded
// node occurs twice in the tree or is held by another Evaluation.
func NewEvaluation(op Operation) (*Evaluation, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", ErrMissingOperand)
	}
	guards, err := armTree(op)
	if err != nil {
		return nil, err
	}
	return &Evaluation{op: op, guards: guards, vars: make(map[string]Scalar)}, nil
}

// Bind sets the value of an environment variable declared through Env.Variables.
func (e *Evaluation) Bind(name string, value any) {
	e.vars[name] = ValueOf(value)
}

// Eval evaluates the operation against a decoded JSON document.
func (e *Evaluation) Eval(doc any) (Scalar, error) {
	if e.closed {
		return Undefined, &ReuseError{Type: e.op.Kind().TypeName(), Op: e.op.String()}
	}
	ev := evaluator{root: ValueOf(doc), vars: e.vars}
	return ev.eval(e.op), nil
}

// Match evaluates a boolean operation against doc.
func (e *Evaluation) Match(doc any) (bool, error) {
	v, err := e.Eval(doc)
	if err != nil {
		return false, err
	}
	if v.Type != TypeBool {
		return false, fmt.Errorf("%w: %s evaluated to %s", ErrNotBoolean, e.op, v.Type)
	}
	return v.b, nil
}

// Close releases the guards of the tree.
func (e *Evaluation) Close() {
	if e.closed {
		return
	}
	e.closed = true
	disarmAll(e.guards)
}

// Evaluate evaluates op once against doc.
func Evaluate(op Operation, doc any) (Scalar, error) {
	e, err := NewEvaluation(op)
	if err != nil {
		return Undefined, err
	}
	defer e.Close()
	return e.Eval(doc)
}

// Match evaluates filter once against doc.
func Match(filter FilterOperation, doc any) (bool, error) {
	e, err := NewEvaluation(filter)
	if err != nil {
		return false, err
	}
	defer e.Close()
	return e.Match(doc)
}

// MatchJSON decodes data and evaluates filter against it.
func MatchJSON(filter FilterOperation, data []byte) (bool, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return false, err
	}
	return Match(filter, doc)
}

// DecodeDocument decodes JSON keeping numbers as json.Number so that integers stay exact.
func DecodeDocument(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

type evaluator struct {
	root Scalar
	vars map[string]Scalar
}

func (ev *evaluator) bind(name string, value Scalar) func() {
	old, had := ev.vars[name]
	ev.vars[name] = value
	return func() {
		if had {
			ev.vars[name] = old
		} else {
			delete(ev.vars, name)
		}
	}
}

func (ev *evaluator) eval(op Operation) Scalar {
	switch o := op.(type) {
	case *Field:
		return ev.field(o)
	case *StringLiteral:
		return StringValue(o.Value)
	case *DoubleLiteral:
		return DoubleValue(o.Value)
	case *LongLiteral:
		return LongValue(o.Value)
	case *BoolLiteral:
		return BoolValue(o.Value)
	case *NullLiteral:
		return Null
	case *Constant:
		switch o.Op {
		case KindPi:
			return DoubleValue(math.Pi)
		case KindE:
			return DoubleValue(math.E)
		case KindTau:
			return DoubleValue(2 * math.Pi)
		}
	case *UnaryArithmetic:
		return unaryArithmetic(o.Op, ev.eval(o.Value))
	case *BinaryArithmetic:
		return binaryArithmetic(o.Op, ev.eval(o.Left), ev.eval(o.Right))
	case *Compare:
		return BoolValue(compareScalars(o.Op, ev.eval(o.Left), ev.eval(o.Right)))
	case *And:
		for _, operand := range o.Operands {
			if !ev.eval(operand).Bool() {
				return BoolValue(false)
			}
		}
		return BoolValue(true)
	case *Or:
		for _, operand := range o.Operands {
			if ev.eval(operand).Bool() {
				return BoolValue(true)
			}
		}
		return BoolValue(false)
	case *Not:
		return BoolValue(!ev.eval(o.Operand).Bool())
	case *StringPredicate:
		return BoolValue(stringPredicate(o.Op, ev.eval(o.Left), ev.eval(o.Right)))
	case *Length:
		v := ev.eval(o.Value)
		if v.Type != TypeString {
			return Null
		}
		return LongValue(int64(utf8.RuneCountInString(v.s)))
	case *Quantify:
		return BoolValue(ev.quantify(o))
	case *CountWhere:
		var count int64
		ev.each(o.Field, o.Arg, func() bool {
			if ev.eval(o.Predicate).Bool() {
				count++
			}
			return true
		})
		return LongValue(count)
	case *Aggregate:
		return ev.aggregate(o)
	case *Filter:
		return ev.eval(o.Body)
	case *Lambda:
		return ev.eval(o.Body)
	}
	return Undefined
}

func (ev *evaluator) field(f *Field) Scalar {
	path, err := SplitPath(f.Name)
	if err != nil {
		return Undefined
	}
	start := ev.root
	if !path.IsRoot() {
		v, ok := ev.vars[path.Variable]
		if !ok {
			return Undefined
		}
		start = v
	}
	return resolve(start, path.Segments)
}

// each binds every element of the array at field to arg and calls fn until it returns false.
// Missing and non-array values have no elements.
func (ev *evaluator) each(field *Field, arg string, fn func() bool) {
	items := ev.field(field)
	if items.Type != TypeArray {
		return
	}
	restore := ev.bind(arg, Undefined)
	defer restore()
	for _, item := range items.arr {
		ev.vars[arg] = ValueOf(item)
		if !fn() {
			return
		}
	}
}

func (ev *evaluator) quantify(q *Quantify) bool {
	result := q.Op == KindAll
	ev.each(q.Field, q.Arg, func() bool {
		matched := ev.eval(q.Predicate).Bool()
		if q.Op == KindAny && matched {
			result = true
			return false
		}
		if q.Op == KindAll && !matched {
			result = false
			return false
		}
		return true
	})
	return result
}

func (ev *evaluator) aggregate(a *Aggregate) Scalar {
	if a.Op == KindCount {
		items := ev.field(a.Field)
		if items.Type != TypeArray {
			return LongValue(0)
		}
		return LongValue(int64(len(items.arr)))
	}
	var values []Scalar
	ev.each(a.Field, a.Arg, func() bool {
		v := ev.eval(a.Value)
		if v.IsNumber() {
			values = append(values, v)
		}
		return true
	})
	switch a.Op {
	case KindSum:
		return sum(values)
	case KindAverage:
		if len(values) == 0 {
			return Null
		}
		total := decimal.Zero
		for _, v := range values {
			total = total.Add(toDecimal(v))
		}
		avg, _ := total.Div(decimal.NewFromInt(int64(len(values)))).Float64()
		return DoubleValue(avg)
	case KindMin, KindMax:
		if len(values) == 0 {
			return Null
		}
		best := values[0]
		for _, v := range values[1:] {
			cmp, _ := v.compare(best)
			if a.Op == KindMin && cmp < 0 || a.Op == KindMax && cmp > 0 {
				best = v
			}
		}
		return best
	}
	return Null
}

func toDecimal(v Scalar) decimal.Decimal {
	if v.Type == TypeLong {
		return decimal.NewFromInt(v.l)
	}
	return decimal.NewFromFloat(v.d)
}

// sum adds values exactly. The result is a long when every value is a long.
func sum(values []Scalar) Scalar {
	total := decimal.Zero
	allLong := true
	for _, v := range values {
		total = total.Add(toDecimal(v))
		allLong = allLong && v.Type == TypeLong
	}
	if allLong && total.IsInteger() {
		return LongValue(total.IntPart())
	}
	f, _ := total.Float64()
	return DoubleValue(f)
}

func unaryArithmetic(kind OpKind, v Scalar) Scalar {
	if !v.IsNumber() {
		return Null
	}
	switch kind {
	case KindNegate:
		if v.Type == TypeLong {
			return negateLong(v.l)
		}
		return DoubleValue(-v.d)
	case KindAbs:
		if v.Type == TypeLong {
			if v.l < 0 {
				return negateLong(v.l)
			}
			return v
		}
		return DoubleValue(math.Abs(v.d))
	case KindCeiling:
		if v.Type == TypeLong {
			return v
		}
		return DoubleValue(math.Ceil(v.d))
	case KindFloor:
		if v.Type == TypeLong {
			return v
		}
		return DoubleValue(math.Floor(v.d))
	case KindExp:
		return number(math.Exp(v.Float()))
	case KindLog:
		return number(math.Log(v.Float()))
	case KindSqrt:
		return number(math.Sqrt(v.Float()))
	}
	return Null
}

// negateLong promotes -MinInt64 to a double.
func negateLong(v int64) Scalar {
	if v == math.MinInt64 {
		return DoubleValue(-float64(v))
	}
	return LongValue(-v)
}

// binaryArithmetic computes long operands in int64 while the result fits and
// falls back to double precision otherwise.
func binaryArithmetic(kind OpKind, l, r Scalar) Scalar {
	if !l.IsNumber() || !r.IsNumber() {
		return Null
	}
	if l.Type == TypeLong && r.Type == TypeLong {
		a, b := l.l, r.l
		switch kind {
		case KindAdd:
			if c := a + b; (c > a) == (b > 0) {
				return LongValue(c)
			}
		case KindSubtract:
			if c := a - b; (c < a) == (b > 0) {
				return LongValue(c)
			}
		case KindMultiply:
			if a == 0 || b == 0 {
				return LongValue(0)
			}
			if c := a * b; c/b == a && !(a == -1 && b == math.MinInt64) && !(b == -1 && a == math.MinInt64) {
				return LongValue(c)
			}
		case KindDivide:
			if b == 0 {
				return Null
			}
			if a != math.MinInt64 || b != -1 {
				return LongValue(a / b)
			}
		case KindModulo:
			if b == 0 {
				return Null
			}
			return LongValue(a % b)
		default:
			return Null
		}
		// the long result overflows; continue in double precision
	}
	a, b := l.Float(), r.Float()
	switch kind {
	case KindAdd:
		return number(a + b)
	case KindSubtract:
		return number(a - b)
	case KindMultiply:
		return number(a * b)
	case KindDivide:
		if b == 0 {
			return Null
		}
		return number(a / b)
	case KindModulo:
		if b == 0 {
			return Null
		}
		return number(math.Mod(a, b))
	}
	return Null
}

func compareScalars(kind OpKind, l, r Scalar) bool {
	switch kind {
	case KindEqual:
		return l.Equal(r)
	case KindNotEqual:
		return !l.Equal(r)
	}
	cmp, ok := l.compare(r)
	if !ok {
		return false
	}
	switch kind {
	case KindLessThan:
		return cmp < 0
	case KindLessThanOrEqual:
		return cmp <= 0
	case KindGreaterThan:
		return cmp > 0
	case KindGreaterThanOrEqual:
		return cmp >= 0
	}
	return false
}

func stringPredicate(kind OpKind, l, r Scalar) bool {
	if l.Type != TypeString || r.Type != TypeString {
		return false
	}
	switch kind {
	case KindContains:
		return strings.Contains(l.s, r.s)
	case KindStartsWith:
		return strings.HasPrefix(l.s, r.s)
	case KindEndsWith:
		return strings.HasSuffix(l.s, r.s)
	}
	return false
}
