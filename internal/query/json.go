package query

import (
	"encoding/json"
	"fmt"
)

// wireOperation is the JSON shape of every operation, discriminated by "op".
type wireOperation struct {
	Op        string           `json:"op"`
	Name      string           `json:"name,omitempty"`
	Value     json.RawMessage  `json:"value,omitempty"`
	Left      *wireOperation   `json:"left,omitempty"`
	Right     *wireOperation   `json:"right,omitempty"`
	Operand   *wireOperation   `json:"operand,omitempty"`
	Operands  []*wireOperation `json:"operands,omitempty"`
	Field     *wireOperation   `json:"field,omitempty"`
	Arg       string           `json:"arg,omitempty"`
	Body      *wireOperation   `json:"body,omitempty"`
	Predicate *wireOperation   `json:"predicate,omitempty"`
}

// MarshalOperation encodes op in the JSON wire format.
func MarshalOperation(op Operation) ([]byte, error) {
	w, err := toWire(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalOperation decodes an operation from the JSON wire format.
func UnmarshalOperation(data []byte) (Operation, error) {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode operation: %w", err)
	}
	return fromWire(&w)
}

// UnmarshalFilter decodes a boolean operation from the JSON wire format.
func UnmarshalFilter(data []byte) (FilterOperation, error) {
	op, err := UnmarshalOperation(data)
	if err != nil {
		return nil, err
	}
	filter, ok := op.(FilterOperation)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a filter", ErrNonBooleanOperand, op.Kind())
	}
	return filter, nil
}

// JSONOperation wraps an Operation for use as a field of JSON encoded structs.
type JSONOperation struct {
	Operation
}

func (j JSONOperation) MarshalJSON() ([]byte, error) {
	if j.Operation == nil {
		return []byte("null"), nil
	}
	return MarshalOperation(j.Operation)
}

func (j *JSONOperation) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		j.Operation = nil
		return nil
	}
	op, err := UnmarshalOperation(data)
	if err != nil {
		return err
	}
	j.Operation = op
	return nil
}

// Filter returns the wrapped operation if it is boolean.
func (j JSONOperation) Filter() (FilterOperation, bool) {
	filter, ok := j.Operation.(FilterOperation)
	return filter, ok
}

func rawValue(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func toWire(op Operation) (*wireOperation, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", ErrMissingOperand)
	}
	w := &wireOperation{Op: op.Kind().String()}
	var err error
	switch o := op.(type) {
	case *Field:
		w.Name = o.Name
	case *StringLiteral:
		w.Value, err = rawValue(o.Value)
	case *DoubleLiteral:
		w.Value, err = rawValue(o.Value)
	case *LongLiteral:
		w.Value, err = rawValue(o.Value)
	case *BoolLiteral, *NullLiteral, *Constant:
	case *UnaryArithmetic:
		err = wireValue(w, o.Value)
	case *Length:
		err = wireValue(w, o.Value)
	case *BinaryArithmetic:
		w.Left, w.Right, err = wirePair(o.Left, o.Right)
	case *Compare:
		w.Left, w.Right, err = wirePair(o.Left, o.Right)
	case *StringPredicate:
		w.Left, w.Right, err = wirePair(o.Left, o.Right)
	case *And:
		w.Operands, err = wireList(o.Operands)
	case *Or:
		w.Operands, err = wireList(o.Operands)
	case *Not:
		w.Operand, err = toWire(o.Operand)
	case *Filter:
		w.Arg = o.Arg
		w.Body, err = toWire(o.Body)
	case *Lambda:
		w.Arg = o.Arg
		w.Body, err = toWire(o.Body)
	case *Quantify:
		err = wireMethod(w, o.Field, o.Arg, o.Predicate, true)
	case *CountWhere:
		err = wireMethod(w, o.Field, o.Arg, o.Predicate, true)
	case *Aggregate:
		err = wireMethod(w, o.Field, o.Arg, o.Value, false)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOperation, op)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func wireValue(w *wireOperation, value Operation) error {
	inner, err := toWire(value)
	if err != nil {
		return err
	}
	w.Value, err = json.Marshal(inner)
	return err
}

func wirePair(left, right Operation) (*wireOperation, *wireOperation, error) {
	l, err := toWire(left)
	if err != nil {
		return nil, nil, err
	}
	r, err := toWire(right)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func wireList(ops []FilterOperation) ([]*wireOperation, error) {
	list := make([]*wireOperation, 0, len(ops))
	for _, op := range ops {
		w, err := toWire(op)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, nil
}

func wireMethod(w *wireOperation, field *Field, arg string, body Operation, predicate bool) error {
	if field == nil {
		return fmt.Errorf("%w: %s without field", ErrMissingOperand, w.Op)
	}
	w.Field = &wireOperation{Op: KindField.String(), Name: field.Name}
	w.Arg = arg
	if body == nil {
		return nil
	}
	b, err := toWire(body)
	if err != nil {
		return err
	}
	if predicate {
		w.Predicate = b
		return nil
	}
	inner, err := json.Marshal(b)
	if err != nil {
		return err
	}
	w.Value = inner
	return nil
}

func fromWire(w *wireOperation) (Operation, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: null operation", ErrMissingOperand)
	}
	kind, ok := KindFromWire(w.Op)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, w.Op)
	}
	switch {
	case kind == KindField:
		if w.Name == "" {
			return nil, fmt.Errorf("%w: field without name", ErrMissingOperand)
		}
		return &Field{Name: w.Name}, nil
	case kind == KindString:
		var v string
		if err := decodeValue(w, &v); err != nil {
			return nil, err
		}
		return &StringLiteral{Value: v}, nil
	case kind == KindDouble:
		var v float64
		if err := decodeValue(w, &v); err != nil {
			return nil, err
		}
		return &DoubleLiteral{Value: v}, nil
	case kind == KindLong:
		var v int64
		if err := decodeValue(w, &v); err != nil {
			return nil, err
		}
		return &LongLiteral{Value: v}, nil
	case kind == KindNull:
		return &NullLiteral{}, nil
	case kind == KindTrue || kind == KindFalse:
		return &BoolLiteral{Value: kind == KindTrue}, nil
	case kind == KindPi || kind == KindE || kind == KindTau:
		return &Constant{Op: kind}, nil
	case isUnaryArithmeticKind(kind) || kind == KindLength:
		value, err := valueOperation(w)
		if err != nil {
			return nil, err
		}
		if kind == KindLength {
			return &Length{Value: value}, nil
		}
		return &UnaryArithmetic{Op: kind, Value: value}, nil
	case isBinaryArithmeticKind(kind) || IsCompareKind(kind) || isStringPredicateKind(kind):
		left, err := fromWire(w.Left)
		if err != nil {
			return nil, err
		}
		right, err := fromWire(w.Right)
		if err != nil {
			return nil, err
		}
		switch {
		case isBinaryArithmeticKind(kind):
			return &BinaryArithmetic{Op: kind, Left: left, Right: right}, nil
		case IsCompareKind(kind):
			return NewCompare(kind, left, right), nil
		}
		return &StringPredicate{Op: kind, Left: left, Right: right}, nil
	case kind == KindAnd || kind == KindOr:
		operands := make([]FilterOperation, 0, len(w.Operands))
		for _, item := range w.Operands {
			filter, err := filterFromWire(item)
			if err != nil {
				return nil, err
			}
			operands = append(operands, filter)
		}
		if kind == KindAnd {
			return NewAnd(operands...), nil
		}
		return NewOr(operands...), nil
	case kind == KindNot:
		operand, err := filterFromWire(w.Operand)
		if err != nil {
			return nil, err
		}
		return NewNot(operand), nil
	case kind == KindFilter:
		body, err := filterFromWire(w.Body)
		if err != nil {
			return nil, err
		}
		return &Filter{Arg: w.Arg, Body: body}, nil
	case kind == KindLambda:
		body, err := fromWire(w.Body)
		if err != nil {
			return nil, err
		}
		return &Lambda{Arg: w.Arg, Body: body}, nil
	case kind == KindAny || kind == KindAll || kind == KindCountWhere:
		field, err := fieldFromWire(w)
		if err != nil {
			return nil, err
		}
		predicate, err := filterFromWire(w.Predicate)
		if err != nil {
			return nil, err
		}
		if kind == KindCountWhere {
			return &CountWhere{Field: field, Arg: w.Arg, Predicate: predicate}, nil
		}
		return &Quantify{Op: kind, Field: field, Arg: w.Arg, Predicate: predicate}, nil
	case isAggregateKind(kind):
		field, err := fieldFromWire(w)
		if err != nil {
			return nil, err
		}
		agg := &Aggregate{Op: kind, Field: field, Arg: w.Arg}
		if kind == KindCount {
			return agg, nil
		}
		agg.Value, err = valueOperation(w)
		if err != nil {
			return nil, err
		}
		return agg, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, w.Op)
}

func decodeValue(w *wireOperation, v any) error {
	if len(w.Value) == 0 {
		return fmt.Errorf("%w: %s without value", ErrMissingOperand, w.Op)
	}
	if err := json.Unmarshal(w.Value, v); err != nil {
		return fmt.Errorf("invalid %s value: %w", w.Op, err)
	}
	return nil
}

func valueOperation(w *wireOperation) (Operation, error) {
	var inner wireOperation
	if err := decodeValue(w, &inner); err != nil {
		return nil, err
	}
	return fromWire(&inner)
}

func filterFromWire(w *wireOperation) (FilterOperation, error) {
	op, err := fromWire(w)
	if err != nil {
		return nil, err
	}
	filter, ok := op.(FilterOperation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNonBooleanOperand, op)
	}
	return filter, nil
}

func fieldFromWire(w *wireOperation) (*Field, error) {
	op, err := fromWire(w.Field)
	if err != nil {
		return nil, err
	}
	field, ok := op.(*Field)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects a field, got %s", ErrInvalidOperand, w.Op, op.Kind())
	}
	return field, nil
}
