package query

// Clone returns a copy of op that can be evaluated independently of the original.
// Guarded nodes are copied, unguarded leaves are shared.
func Clone(op Operation) Operation {
	switch o := op.(type) {
	case nil:
		return nil
	case *UnaryArithmetic:
		return &UnaryArithmetic{Op: o.Op, Value: Clone(o.Value)}
	case *BinaryArithmetic:
		return &BinaryArithmetic{Op: o.Op, Left: Clone(o.Left), Right: Clone(o.Right)}
	case *Compare:
		return NewCompare(o.Op, Clone(o.Left), Clone(o.Right))
	case *And:
		return NewAnd(cloneFilters(o.Operands)...)
	case *Or:
		return NewOr(cloneFilters(o.Operands)...)
	case *Not:
		return NewNot(CloneFilter(o.Operand))
	case *StringPredicate:
		return &StringPredicate{Op: o.Op, Left: Clone(o.Left), Right: Clone(o.Right)}
	case *Length:
		return &Length{Value: Clone(o.Value)}
	case *Quantify:
		return &Quantify{Op: o.Op, Field: o.Field, Arg: o.Arg, Predicate: CloneFilter(o.Predicate)}
	case *CountWhere:
		return &CountWhere{Field: o.Field, Arg: o.Arg, Predicate: CloneFilter(o.Predicate)}
	case *Aggregate:
		return &Aggregate{Op: o.Op, Field: o.Field, Arg: o.Arg, Value: Clone(o.Value)}
	case *Filter:
		return &Filter{Arg: o.Arg, Body: CloneFilter(o.Body)}
	case *Lambda:
		return &Lambda{Arg: o.Arg, Body: Clone(o.Body)}
	}
	return op
}

// CloneFilter is Clone for boolean operations.
func CloneFilter(op FilterOperation) FilterOperation {
	if op == nil {
		return nil
	}
	return Clone(op).(FilterOperation)
}

func cloneFilters(ops []FilterOperation) []FilterOperation {
	result := make([]FilterOperation, len(ops))
	for i, op := range ops {
		result[i] = CloneFilter(op)
	}
	return result
}
