package jsondiff

import (
	"encoding/json"
	"math"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

// Reflectable is implemented by objects that expose their fields by name.
// CompareObjects and patch.ApplyToObject use it instead of runtime reflection.
type Reflectable interface {
	// Fields returns the declared field names in a stable order.
	Fields() []string
	Get(name string) any
	Set(name string, value any) error
}

type missing struct{}

func (missing) String() string { return "(missing)" }

// Missing marks the side of a diff on which a key or field does not exist.
var Missing any = missing{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(missing)
	return ok
}

// member is one key of an object together with its value.
type member struct {
	key   string
	value any
}

// asObject returns the members of maps and Reflectable values.
func asObject(v any) ([]member, bool) {
	switch o := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(o))
		for k := range o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]member, len(keys))
		for i, k := range keys {
			members[i] = member{key: k, value: o[k]}
		}
		return members, true
	case map[string]string:
		keys := make([]string, 0, len(o))
		for k := range o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]member, len(keys))
		for i, k := range keys {
			members[i] = member{key: k, value: o[k]}
		}
		return members, true
	case Reflectable:
		fields := o.Fields()
		members := make([]member, len(fields))
		for i, name := range fields {
			members[i] = member{key: name, value: o.Get(name)}
		}
		return members, true
	}
	return nil, false
}

// Elements returns the items of the array kinds the differ compares.
func Elements(v any) ([]any, bool) {
	return asArray(v)
}

func asArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case []any:
		return a, true
	case []string:
		items := make([]any, len(a))
		for i, s := range a {
			items[i] = s
		}
		return items, true
	case []map[string]any:
		items := make([]any, len(a))
		for i, m := range a {
			items[i] = m
		}
		return items, true
	}
	return nil, false
}

// asNumber converts every numeric representation to a decimal so that 1, 1.0
// and json.Number("1") compare equal.
func asNumber(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(string(n))
		return d, err == nil
	case decimal.Decimal:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), true
	case uint8:
		return decimal.NewFromInt(int64(n)), true
	case uint16:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), true
	}
	return decimal.Decimal{}, false
}

// normalize turns values of other Go types into their decoded JSON form.
// Values that cannot be encoded are returned unchanged.
func normalize(v any) any {
	switch v.(type) {
	case nil, bool, string, missing, Reflectable,
		map[string]any, map[string]string, []any, []string, []map[string]any:
		return v
	case json.RawMessage:
		doc, err := decode(v.(json.RawMessage))
		if err != nil {
			return v
		}
		return doc
	}
	if _, ok := asNumber(v); ok {
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	doc, err := decode(data)
	if err != nil {
		return v
	}
	return doc
}

// scalarEqual compares two values that are neither objects nor arrays.
func scalarEqual(left, right any) bool {
	if ln, ok := asNumber(left); ok {
		rn, ok := asNumber(right)
		return ok && ln.Equal(rn)
	}
	switch l := left.(type) {
	case nil:
		return right == nil
	case missing:
		return IsMissing(right)
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	}
	return false
}
