// Package sqlfilter translates filter operations into SQL WHERE conditions over
// a JSON document column. The generated SQL matches the rows for which the
// in-memory evaluator of package query returns true.
package sqlfilter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nlstn/go-entityhub/internal/query"
)

const (
	sqlTrue  = "1 = 1"
	sqlFalse = "1 = 0"
)

// Compile translates filter into a condition over the JSON column dataColumn.
// Literals are inlined; the result needs no bind arguments.
func Compile(filter query.FilterOperation, dialect Dialect, dataColumn string) (string, error) {
	c := &compiler{
		dialect: dialect,
		root:    filter,
		scope:   make(map[string]jsonRef),
		doc:     jsonRef{doc: dialect.quoteIdent(dataColumn)},
	}
	body := filter
	if f, ok := filter.(*query.Filter); ok {
		body = f.Body
	}
	return c.predicate(body)
}

// CompileOperation is Compile for operations of unknown type, such as decoded wire filters.
func CompileOperation(op query.Operation, dialect Dialect, dataColumn string) (string, error) {
	filter, ok := op.(query.FilterOperation)
	if !ok {
		return "", &NotImplementedError{Op: op.Kind().TypeName(), Filter: op.String()}
	}
	return Compile(filter, dialect, dataColumn)
}

type compiler struct {
	dialect Dialect
	root    query.Operation
	doc     jsonRef
	scope   map[string]jsonRef
	aliases int
}

func (c *compiler) notImplemented(op query.Operation) error {
	return &NotImplementedError{Op: op.Kind().TypeName(), Filter: c.root.String()}
}

func (c *compiler) nextAlias() string {
	c.aliases++
	return "je" + strconv.Itoa(c.aliases)
}

// value is a compiled non-boolean operand. A dynamic value is a JSON field whose
// type is only known at run time; static values have the SQL type of class.
type value struct {
	dynamic  bool
	ref      jsonRef
	class    jsonType
	expr     string
	nullable bool
}

func (v value) canBeNull() bool {
	return v.dynamic || v.class == typeNull || v.nullable
}

func and(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case sqlTrue:
			continue
		case sqlFalse:
			return sqlFalse
		}
		kept = append(kept, p)
	}
	switch len(kept) {
	case 0:
		return sqlTrue
	case 1:
		return kept[0]
	}
	return "(" + strings.Join(kept, " AND ") + ")"
}

func or(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case sqlFalse:
			continue
		case sqlTrue:
			return sqlTrue
		}
		kept = append(kept, p)
	}
	switch len(kept) {
	case 0:
		return sqlFalse
	case 1:
		return kept[0]
	}
	return "(" + strings.Join(kept, " OR ") + ")"
}

func not(p string) string {
	switch p {
	case sqlTrue:
		return sqlFalse
	case sqlFalse:
		return sqlTrue
	}
	return "NOT (" + p + ")"
}

func (c *compiler) predicate(op query.FilterOperation) (string, error) {
	switch o := op.(type) {
	case *query.BoolLiteral:
		if o.Value {
			return sqlTrue, nil
		}
		return sqlFalse, nil
	case *query.And:
		parts, err := c.predicates(o.Operands)
		if err != nil {
			return "", err
		}
		return and(parts...), nil
	case *query.Or:
		parts, err := c.predicates(o.Operands)
		if err != nil {
			return "", err
		}
		return or(parts...), nil
	case *query.Not:
		p, err := c.predicate(o.Operand)
		if err != nil {
			return "", err
		}
		return not(p), nil
	case *query.Compare:
		return c.compare(o)
	case *query.StringPredicate:
		return c.stringPredicate(o)
	case *query.Quantify:
		return c.quantify(o)
	}
	return "", c.notImplemented(op)
}

func (c *compiler) predicates(ops []query.FilterOperation) ([]string, error) {
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		p, err := c.predicate(op)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func (c *compiler) field(f *query.Field) (jsonRef, error) {
	path, err := query.SplitPath(f.Name)
	if err != nil {
		return jsonRef{}, fmt.Errorf("%w: %v", ErrInvalidFieldPath, err)
	}
	if err := validateSegments(f.Name, path.Segments); err != nil {
		return jsonRef{}, err
	}
	if path.IsRoot() {
		return c.doc.child(path.Segments), nil
	}
	ref, ok := c.scope[path.Variable]
	if !ok {
		return jsonRef{}, fmt.Errorf("%w: %s", ErrUnboundVariable, path.Variable)
	}
	return ref.child(path.Segments), nil
}

func (c *compiler) value(op query.Operation) (value, error) {
	d := c.dialect
	switch o := op.(type) {
	case *query.Field:
		ref, err := c.field(o)
		if err != nil {
			return value{}, err
		}
		return value{dynamic: true, ref: ref}, nil
	case *query.StringLiteral:
		return value{class: typeString, expr: d.quoteString(o.Value)}, nil
	case *query.LongLiteral:
		return value{class: typeNumber, expr: formatLong(o.Value)}, nil
	case *query.DoubleLiteral:
		return value{class: typeNumber, expr: formatDouble(o.Value)}, nil
	case *query.NullLiteral:
		return value{class: typeNull, expr: "NULL"}, nil
	case *query.BoolLiteral:
		return value{class: typeBool, expr: d.boolLiteral(o.Value)}, nil
	case *query.Constant:
		switch o.Op {
		case query.KindPi:
			return value{class: typeNumber, expr: formatDouble(math.Pi)}, nil
		case query.KindE:
			return value{class: typeNumber, expr: formatDouble(math.E)}, nil
		}
		return value{}, c.notImplemented(op)
	case *query.UnaryArithmetic:
		x, err := c.number(o.Value)
		if err != nil {
			return value{}, err
		}
		return value{class: typeNumber, expr: d.unary(o.Op, x), nullable: true}, nil
	case *query.BinaryArithmetic:
		return c.arithmetic(o)
	case *query.Length:
		x, err := c.text(o.Value)
		if err != nil {
			return value{}, err
		}
		return value{class: typeNumber, expr: d.length(x), nullable: true}, nil
	case *query.Aggregate:
		return c.aggregate(o)
	case *query.CountWhere:
		return c.countWhere(o)
	case *query.Filter, *query.Lambda:
		return value{}, c.notImplemented(op)
	case query.FilterOperation:
		p, err := c.predicate(o)
		if err != nil {
			return value{}, err
		}
		return value{class: typeBool, expr: d.boolValue(p)}, nil
	}
	return value{}, c.notImplemented(op)
}

// typed returns the guard and the SQL value of v as type t. ok is false when v can never have type t.
func (c *compiler) typed(v value, t jsonType) (guard, expr string, ok bool) {
	if v.dynamic {
		return c.dialect.typeIs(v.ref, t), c.dialect.scalar(v.ref, t), true
	}
	if v.class != t {
		return "", "", false
	}
	if v.nullable {
		return v.expr + " IS NOT NULL", v.expr, true
	}
	return sqlTrue, v.expr, true
}

func (c *compiler) isNull(v value) string {
	switch {
	case v.dynamic:
		return c.dialect.isNull(v.ref)
	case v.class == typeNull:
		return sqlTrue
	case v.nullable:
		return v.expr + " IS NULL"
	}
	return sqlFalse
}

func (c *compiler) notNull(v value) string {
	if v.dynamic {
		return c.dialect.notNull(v.ref)
	}
	return not(c.isNull(v))
}

// scalarOf returns an expression that is the value of v as type t, or NULL for other types.
func (c *compiler) scalarOf(op query.Operation, t jsonType) (string, bool, error) {
	v, err := c.value(op)
	if err != nil {
		return "", false, err
	}
	guard, expr, ok := c.typed(v, t)
	if !ok {
		return "NULL", true, nil
	}
	if guard == sqlTrue {
		return expr, v.nullable, nil
	}
	return "(CASE WHEN " + guard + " THEN " + expr + " END)", true, nil
}

func (c *compiler) number(op query.Operation) (string, error) {
	x, _, err := c.scalarOf(op, typeNumber)
	return x, err
}

func (c *compiler) text(op query.Operation) (string, error) {
	x, _, err := c.scalarOf(op, typeString)
	return x, err
}

func (c *compiler) arithmetic(o *query.BinaryArithmetic) (value, error) {
	l, lnull, err := c.scalarOf(o.Left, typeNumber)
	if err != nil {
		return value{}, err
	}
	r, rnull, err := c.scalarOf(o.Right, typeNumber)
	if err != nil {
		return value{}, err
	}
	v := value{class: typeNumber, nullable: lnull || rnull}
	switch o.Op {
	case query.KindAdd:
		v.expr = "(" + l + " + " + r + ")"
	case query.KindSubtract:
		v.expr = "(" + l + " - " + r + ")"
	case query.KindMultiply:
		v.expr = "(" + l + " * " + r + ")"
	case query.KindDivide:
		v.expr = "(" + l + " / NULLIF(" + r + ", 0))"
		v.nullable = true
	case query.KindModulo:
		v.expr = c.dialect.modulo(l, r)
		v.nullable = true
	default:
		return value{}, c.notImplemented(o)
	}
	return v, nil
}

var comparators = map[query.OpKind]string{
	query.KindEqual:              "=",
	query.KindNotEqual:           "<>",
	query.KindLessThan:           "<",
	query.KindLessThanOrEqual:    "<=",
	query.KindGreaterThan:        ">",
	query.KindGreaterThanOrEqual: ">=",
}

func (c *compiler) compare(o *query.Compare) (string, error) {
	l, err := c.value(o.Left)
	if err != nil {
		return "", err
	}
	r, err := c.value(o.Right)
	if err != nil {
		return "", err
	}
	switch o.Op {
	case query.KindEqual:
		return c.equal(l, r), nil
	case query.KindNotEqual:
		if l.class == typeNull && !l.dynamic {
			return c.notNull(r), nil
		}
		if r.class == typeNull && !r.dynamic {
			return c.notNull(l), nil
		}
		return not(c.equal(l, r)), nil
	}
	op := comparators[o.Op]
	terms := make([]string, 0, 2)
	for _, t := range []jsonType{typeNumber, typeString} {
		lg, lx, lok := c.typed(l, t)
		rg, rx, rok := c.typed(r, t)
		if lok && rok {
			terms = append(terms, and(lg, rg, lx+" "+op+" "+rx))
		}
	}
	return or(terms...), nil
}

// equal is true when both sides are null or both have the same type and value.
func (c *compiler) equal(l, r value) string {
	terms := make([]string, 0, 4)
	if l.canBeNull() && r.canBeNull() {
		terms = append(terms, and(c.isNull(l), c.isNull(r)))
	}
	for _, t := range []jsonType{typeNumber, typeString, typeBool} {
		lg, lx, lok := c.typed(l, t)
		rg, rx, rok := c.typed(r, t)
		if lok && rok {
			terms = append(terms, and(lg, rg, lx+" = "+rx))
		}
	}
	return or(terms...)
}

func (c *compiler) stringPredicate(o *query.StringPredicate) (string, error) {
	d := c.dialect
	l, err := c.value(o.Left)
	if err != nil {
		return "", err
	}
	lg, lx, ok := c.typed(l, typeString)
	if !ok {
		return sqlFalse, nil
	}
	prefix := o.Op == query.KindContains || o.Op == query.KindEndsWith
	suffix := o.Op == query.KindContains || o.Op == query.KindStartsWith

	var pattern string
	guard := sqlTrue
	if lit, isLiteral := o.Right.(*query.StringLiteral); isLiteral {
		pattern = d.quoteString(likePattern(escapeLikePattern(lit.Value, d.likeBrackets()), prefix, suffix))
	} else {
		r, err := c.value(o.Right)
		if err != nil {
			return "", err
		}
		rg, rx, ok := c.typed(r, typeString)
		if !ok {
			return sqlFalse, nil
		}
		guard = rg
		parts := make([]string, 0, 3)
		if prefix {
			parts = append(parts, "'%'")
		}
		parts = append(parts, d.escapeLikeExpr(rx))
		if suffix {
			parts = append(parts, "'%'")
		}
		pattern = d.concat(parts...)
	}
	return and(lg, guard, lx+" LIKE "+pattern+" "+likeEscapeClause), nil
}

// iterate compiles body with arg bound to the elements of the array at field.
func (c *compiler) iterate(field *query.Field, arg string, body func(from string) (string, error)) (guard, sql string, err error) {
	ref, err := c.field(field)
	if err != nil {
		return "", "", err
	}
	from, elem := c.dialect.elements(ref, c.nextAlias())
	if arg != "" {
		old, had := c.scope[arg]
		c.scope[arg] = elem
		defer func() {
			if had {
				c.scope[arg] = old
			} else {
				delete(c.scope, arg)
			}
		}()
	}
	sql, err = body(from)
	if err != nil {
		return "", "", err
	}
	return c.dialect.typeIs(ref, typeArray), sql, nil
}

func (c *compiler) quantify(o *query.Quantify) (string, error) {
	var pred string
	guard, from, err := c.iterate(o.Field, o.Arg, func(from string) (string, error) {
		p, err := c.predicate(o.Predicate)
		pred = p
		return from, err
	})
	if err != nil {
		return "", err
	}
	if o.Op == query.KindAny {
		return and(guard, "EXISTS (SELECT 1 FROM "+from+" WHERE "+pred+")"), nil
	}
	return or(not(guard), "NOT EXISTS (SELECT 1 FROM "+from+" WHERE CASE WHEN "+pred+" THEN 1 ELSE 0 END = 0)"), nil
}

func (c *compiler) countWhere(o *query.CountWhere) (value, error) {
	guard, sub, err := c.iterate(o.Field, o.Arg, func(from string) (string, error) {
		p, err := c.predicate(o.Predicate)
		if err != nil {
			return "", err
		}
		return "(SELECT COUNT(*) FROM " + from + " WHERE " + p + ")", nil
	})
	if err != nil {
		return value{}, err
	}
	return value{class: typeNumber, expr: "(CASE WHEN " + guard + " THEN " + sub + " ELSE 0 END)"}, nil
}

var aggregateFunctions = map[query.OpKind]string{
	query.KindMin:     "MIN",
	query.KindMax:     "MAX",
	query.KindSum:     "SUM",
	query.KindAverage: "AVG",
}

func (c *compiler) aggregate(o *query.Aggregate) (value, error) {
	if o.Op == query.KindCount {
		guard, sub, err := c.iterate(o.Field, "", func(from string) (string, error) {
			return "(SELECT COUNT(*) FROM " + from + ")", nil
		})
		if err != nil {
			return value{}, err
		}
		return value{class: typeNumber, expr: "(CASE WHEN " + guard + " THEN " + sub + " ELSE 0 END)"}, nil
	}
	fn, ok := aggregateFunctions[o.Op]
	if !ok || o.Value == nil {
		return value{}, c.notImplemented(o)
	}
	guard, sub, err := c.iterate(o.Field, o.Arg, func(from string) (string, error) {
		v, err := c.value(o.Value)
		if err != nil {
			return "", err
		}
		vg, vx, ok := c.typed(v, typeNumber)
		if !ok {
			return "(SELECT NULL)", nil
		}
		agg := fn + "(" + vx + ")"
		if o.Op == query.KindSum {
			agg = "COALESCE(" + agg + ", 0)"
		}
		sub := "(SELECT " + agg + " FROM " + from
		if vg != sqlTrue {
			sub += " WHERE " + vg
		}
		return sub + ")", nil
	})
	if err != nil {
		return value{}, err
	}
	if o.Op == query.KindSum {
		if sub == "(SELECT NULL)" {
			return value{class: typeNumber, expr: "0"}, nil
		}
		return value{class: typeNumber, expr: "(CASE WHEN " + guard + " THEN " + sub + " ELSE 0 END)"}, nil
	}
	return value{class: typeNumber, expr: "(CASE WHEN " + guard + " THEN " + sub + " END)", nullable: true}, nil
}
