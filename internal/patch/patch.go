// Package patch generates, encodes and applies JSON patches (RFC 6902).
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Op is the name of a patch operation on the wire.
type Op string

const (
	OpReplace Op = "replace"
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpCopy    Op = "copy"
	OpMove    Op = "move"
	OpTest    Op = "test"
)

// Patch is one of Replace, Add, Remove, Copy, Move or Test.
type Patch interface {
	Operation() Op
	// Target returns the pointer the operation modifies or tests.
	Target() string
	isPatch()
}

// Replace sets the existing value at Path.
type Replace struct {
	Path  string
	Value any
}

// Add inserts Value at Path. Array elements after the index shift.
type Add struct {
	Path  string
	Value any
}

// Remove deletes the value at Path.
type Remove struct {
	Path string
}

// Copy adds a copy of the value at From to Path.
type Copy struct {
	Path string
	From string
}

// Move removes the value at From and adds it to Path.
type Move struct {
	Path string
	From string
}

// Test fails the patch unless the value at Path equals Value.
type Test struct {
	Path  string
	Value any
}

func (Replace) Operation() Op { return OpReplace }
func (Add) Operation() Op     { return OpAdd }
func (Remove) Operation() Op  { return OpRemove }
func (Copy) Operation() Op    { return OpCopy }
func (Move) Operation() Op    { return OpMove }
func (Test) Operation() Op    { return OpTest }

func (p Replace) Target() string { return p.Path }
func (p Add) Target() string     { return p.Path }
func (p Remove) Target() string  { return p.Path }
func (p Copy) Target() string    { return p.Path }
func (p Move) Target() string    { return p.Path }
func (p Test) Target() string    { return p.Path }

func (Replace) isPatch() {}
func (Add) isPatch()     {}
func (Remove) isPatch()  {}
func (Copy) isPatch()    {}
func (Move) isPatch()    {}
func (Test) isPatch()    {}

// List is an ordered patch document. It encodes as a JSON array of operations.
type List []Patch

type wirePatch struct {
	Op    Op              `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
	From  string          `json:"from,omitempty"`
}

func (l List) MarshalJSON() ([]byte, error) {
	items := make([]wirePatch, 0, len(l))
	for _, p := range l {
		w := wirePatch{Op: p.Operation(), Path: p.Target()}
		var value any
		hasValue := true
		switch t := p.(type) {
		case Replace:
			value = t.Value
		case Add:
			value = t.Value
		case Test:
			value = t.Value
		case Copy:
			w.From, hasValue = t.From, false
		case Move:
			w.From, hasValue = t.From, false
		default:
			hasValue = false
		}
		if hasValue {
			data, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("failed to encode value of %s %s: %w", w.Op, w.Path, err)
			}
			w.Value = data
		}
		items = append(items, w)
	}
	return json.Marshal(items)
}

func (l *List) UnmarshalJSON(data []byte) error {
	var items []wirePatch
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	list := make(List, 0, len(items))
	for i, w := range items {
		p, err := fromWire(w)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		list = append(list, p)
	}
	*l = list
	return nil
}

func fromWire(w wirePatch) (Patch, error) {
	if _, err := ParsePointer(w.Path); err != nil {
		return nil, err
	}
	switch w.Op {
	case OpRemove:
		return Remove{Path: w.Path}, nil
	case OpCopy, OpMove:
		if _, err := ParsePointer(w.From); err != nil {
			return nil, err
		}
		if w.Op == OpCopy {
			return Copy{Path: w.Path, From: w.From}, nil
		}
		return Move{Path: w.Path, From: w.From}, nil
	case OpReplace, OpAdd, OpTest:
		if len(w.Value) == 0 {
			return nil, fmt.Errorf("%w: %s %s has no value", ErrInvalidPatch, w.Op, w.Path)
		}
		value, err := decodeValue(w.Value)
		if err != nil {
			return nil, err
		}
		switch w.Op {
		case OpReplace:
			return Replace{Path: w.Path, Value: value}, nil
		case OpAdd:
			return Add{Path: w.Path, Value: value}, nil
		}
		return Test{Path: w.Path, Value: value}, nil
	}
	return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, w.Op)
}

func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return v, nil
}

// Marshal encodes patches as a JSON patch document.
func Marshal(patches []Patch) ([]byte, error) {
	return json.Marshal(List(patches))
}

// Unmarshal decodes a JSON patch document. Numbers decode as json.Number.
func Unmarshal(data []byte) (List, error) {
	var l List
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}
