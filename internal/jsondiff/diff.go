// Package jsondiff computes structural differences between JSON values and
// between objects implementing Reflectable.
//
// Arrays are compared by position: elements are compared index by index up to
// the shorter length, and a length node reports the remainder. Objects are
// compared key by key; a key present on one side only is reported against the
// Missing sentinel.
package jsondiff

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind classifies a diff node.
type Kind int

const (
	// KindValue is a leaf: the values differ and are not both objects or both arrays.
	KindValue Kind = iota
	// KindObject holds the member diffs of two objects.
	KindObject
	// KindArray holds the element diffs of two arrays.
	KindArray
	// KindLength is the child of a KindArray node reporting different lengths.
	KindLength
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindLength:
		return "length"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Diff is one node of a diff tree. Left and Right hold the compared values;
// for KindLength nodes they hold the two array lengths.
type Diff struct {
	Kind Kind
	// Key is the member name of the node in its parent object.
	Key string
	// Index is the element index in the parent array, or -1.
	Index    int
	Left     any
	Right    any
	Children []*Diff

	parent *Diff
}

// Parent returns the enclosing node, or nil for the root.
func (d *Diff) Parent() *Diff {
	return d.parent
}

// IsLeaf reports whether the node has no children.
func (d *Diff) IsLeaf() bool {
	return len(d.Children) == 0
}

// Leaves returns the leaf nodes in depth-first order.
func (d *Diff) Leaves() []*Diff {
	if d == nil {
		return nil
	}
	var leaves []*Diff
	d.walk(func(n *Diff) {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
	})
	return leaves
}

func (d *Diff) walk(fn func(*Diff)) {
	fn(d)
	for _, c := range d.Children {
		c.walk(fn)
	}
}

// Compare returns the diff of left and right, or nil when they are equal.
func Compare(left, right any) *Diff {
	return compare(normalize(left), normalize(right), "", -1)
}

// CompareJSON decodes both documents and compares them.
func CompareJSON(left, right []byte) (*Diff, error) {
	l, err := decode(left)
	if err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	r, err := decode(right)
	if err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}
	return Compare(l, r), nil
}

// CompareObjects compares two objects by their declared fields. Fields only
// the right side declares follow the fields of the left side.
func CompareObjects(left, right Reflectable) *Diff {
	return compare(left, right, "", -1)
}

// Equal reports whether left and right have no differences.
func Equal(left, right any) bool {
	return Compare(left, right) == nil
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}
	return doc, nil
}

func compare(left, right any, key string, index int) *Diff {
	if lm, ok := asObject(left); ok {
		if rm, ok := asObject(right); ok {
			return compareObjects(left, right, lm, rm, key, index)
		}
	}
	if la, ok := asArray(left); ok {
		if ra, ok := asArray(right); ok {
			return compareArrays(left, right, la, ra, key, index)
		}
	}
	_, lc := asObject(left)
	_, rc := asObject(right)
	_, la := asArray(left)
	_, ra := asArray(right)
	if !lc && !rc && !la && !ra && scalarEqual(left, right) {
		return nil
	}
	return &Diff{Kind: KindValue, Key: key, Index: index, Left: left, Right: right}
}

func compareObjects(left, right any, lm, rm []member, key string, index int) *Diff {
	node := &Diff{Kind: KindObject, Key: key, Index: index, Left: left, Right: right}
	rightValues := make(map[string]any, len(rm))
	for _, m := range rm {
		rightValues[m.key] = m.value
	}
	seen := make(map[string]bool, len(lm))
	for _, m := range lm {
		seen[m.key] = true
		r, ok := rightValues[m.key]
		if !ok {
			r = Missing
		}
		node.add(compare(normalize(m.value), normalize(r), m.key, -1))
	}
	for _, m := range rm {
		if !seen[m.key] {
			node.add(compare(Missing, normalize(m.value), m.key, -1))
		}
	}
	if node.IsLeaf() {
		return nil
	}
	return node
}

func compareArrays(left, right any, la, ra []any, key string, index int) *Diff {
	node := &Diff{Kind: KindArray, Key: key, Index: index, Left: left, Right: right}
	n := min(len(la), len(ra))
	for i := 0; i < n; i++ {
		node.add(compare(normalize(la[i]), normalize(ra[i]), "", i))
	}
	if len(la) != len(ra) {
		node.add(&Diff{Kind: KindLength, Index: -1, Left: len(la), Right: len(ra)})
	}
	if node.IsLeaf() {
		return nil
	}
	return node
}

func (d *Diff) add(child *Diff) {
	if child == nil {
		return
	}
	child.parent = d
	d.Children = append(d.Children, child)
}
