package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ScalarType classifies an evaluated value.
type ScalarType int

const (
	TypeUndefined ScalarType = iota
	TypeNull
	TypeBool
	TypeLong
	TypeDouble
	TypeString
	TypeObject
	TypeArray
)

func (t ScalarType) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeLong:
		return "long"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	}
	return "ScalarType(" + strconv.Itoa(int(t)) + ")"
}

// Scalar is the result of evaluating an Operation against a document.
// The zero value is Undefined, the result of a missing field.
type Scalar struct {
	Type ScalarType

	b   bool
	l   int64
	d   float64
	s   string
	obj map[string]any
	arr []any
}

var (
	Undefined = Scalar{}
	Null      = Scalar{Type: TypeNull}
)

func BoolValue(v bool) Scalar             { return Scalar{Type: TypeBool, b: v} }
func LongValue(v int64) Scalar            { return Scalar{Type: TypeLong, l: v} }
func DoubleValue(v float64) Scalar        { return Scalar{Type: TypeDouble, d: v} }
func StringValue(v string) Scalar         { return Scalar{Type: TypeString, s: v} }
func objectValue(v map[string]any) Scalar { return Scalar{Type: TypeObject, obj: v} }
func arrayValue(v []any) Scalar           { return Scalar{Type: TypeArray, arr: v} }

// number returns a double scalar, or Null when v is not finite.
func number(v float64) Scalar {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Null
	}
	return DoubleValue(v)
}

// ValueOf converts a decoded JSON value into a Scalar.
func ValueOf(v any) Scalar {
	switch x := v.(type) {
	case nil:
		return Null
	case Scalar:
		return x
	case bool:
		return BoolValue(x)
	case string:
		return StringValue(x)
	case json.Number:
		if l, err := x.Int64(); err == nil {
			return LongValue(l)
		}
		if d, err := x.Float64(); err == nil {
			return DoubleValue(d)
		}
		return StringValue(x.String())
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return LongValue(int64(x))
		}
		return DoubleValue(x)
	case float32:
		return ValueOf(float64(x))
	case int:
		return LongValue(int64(x))
	case int32:
		return LongValue(int64(x))
	case int64:
		return LongValue(x)
	case uint32:
		return LongValue(int64(x))
	case map[string]any:
		return objectValue(x)
	case []any:
		return arrayValue(x)
	case json.RawMessage:
		doc, err := DecodeDocument(x)
		if err != nil {
			return Undefined
		}
		return ValueOf(doc)
	}
	return Undefined
}

func (s Scalar) IsNull() bool           { return s.Type == TypeNull || s.Type == TypeUndefined }
func (s Scalar) IsNumber() bool         { return s.Type == TypeLong || s.Type == TypeDouble }
func (s Scalar) Bool() bool             { return s.Type == TypeBool && s.b }
func (s Scalar) Long() int64            { return s.l }
func (s Scalar) Str() string            { return s.s }
func (s Scalar) Array() []any           { return s.arr }
func (s Scalar) Object() map[string]any { return s.obj }

// Float returns the numeric value of a Long or Double.
func (s Scalar) Float() float64 {
	if s.Type == TypeLong {
		return float64(s.l)
	}
	return s.d
}

// Interface converts the scalar back to a plain Go value.
func (s Scalar) Interface() any {
	switch s.Type {
	case TypeBool:
		return s.b
	case TypeLong:
		return s.l
	case TypeDouble:
		return s.d
	case TypeString:
		return s.s
	case TypeObject:
		return s.obj
	case TypeArray:
		return s.arr
	}
	return nil
}

func (s Scalar) String() string {
	switch s.Type {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeString:
		return strconv.Quote(s.s)
	case TypeDouble:
		return strconv.FormatFloat(s.d, 'g', -1, 64)
	case TypeObject, TypeArray:
		data, err := json.Marshal(s.Interface())
		if err != nil {
			return fmt.Sprintf("<%s>", s.Type)
		}
		return string(data)
	}
	return fmt.Sprint(s.Interface())
}

// Equal reports equality with JSON semantics. Undefined equals Null, numbers
// compare by value regardless of long or double, other type mixes are unequal.
func (s Scalar) Equal(o Scalar) bool {
	switch {
	case s.IsNull() || o.IsNull():
		return s.IsNull() && o.IsNull()
	case s.IsNumber() && o.IsNumber():
		if s.Type == TypeLong && o.Type == TypeLong {
			return s.l == o.l
		}
		return s.Float() == o.Float()
	case s.Type != o.Type:
		return false
	}
	switch s.Type {
	case TypeBool:
		return s.b == o.b
	case TypeString:
		return s.s == o.s
	}
	return s.String() == o.String()
}

// compare orders two numbers or two strings. ok is false for any other pair.
func (s Scalar) compare(o Scalar) (cmp int, ok bool) {
	switch {
	case s.Type == TypeLong && o.Type == TypeLong:
		switch {
		case s.l < o.l:
			return -1, true
		case s.l > o.l:
			return 1, true
		}
		return 0, true
	case s.IsNumber() && o.IsNumber():
		a, b := s.Float(), o.Float()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		case a == b:
			return 0, true
		}
		return 0, false
	case s.Type == TypeString && o.Type == TypeString:
		return strings.Compare(s.s, o.s), true
	}
	return 0, false
}
