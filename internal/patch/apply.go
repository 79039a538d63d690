package patch

import (
	"fmt"
	"slices"
	"strings"

	"github.com/huandu/go-clone"
	"github.com/nlstn/go-entityhub/internal/jsondiff"
)

// Apply applies patches in order to target and returns the result. Objects
// (map[string]any, Reflectable) and arrays ([]any) are modified in place;
// the returned value differs from target when the root is replaced or an
// array root grows or shrinks. The typed containers the differ compares
// ([]string, []map[string]any, map[string]string) are copied on write and
// keep their type while every element still fits it. Inserted values are
// deep copies of the patch values.
func Apply(target any, patches []Patch) (any, error) {
	doc := target
	for i, p := range patches {
		var err error
		doc, err = apply(doc, p)
		if err != nil {
			return nil, fmt.Errorf("patch %d (%s %s): %w", i, p.Operation(), p.Target(), err)
		}
	}
	return doc, nil
}

// ApplyCopy applies patches to a deep copy of target and leaves target unchanged.
func ApplyCopy(target any, patches []Patch) (any, error) {
	return Apply(clone.Clone(target), patches)
}

// ApplyToObject applies patches to the fields of obj. Pointers must name a
// field declared by obj; the object itself cannot be replaced or removed.
func ApplyToObject(obj jsondiff.Reflectable, patches []Patch) error {
	for i, p := range patches {
		if p.Target() == "" {
			return fmt.Errorf("patch %d (%s): %w: cannot replace the object root", i, p.Operation(), ErrPatchTargetNotContainer)
		}
	}
	_, err := Apply(obj, patches)
	return err
}

func apply(doc any, p Patch) (any, error) {
	tokens, err := ParsePointer(p.Target())
	if err != nil {
		return nil, err
	}
	switch t := p.(type) {
	case Replace:
		return replace(doc, tokens, clone.Clone(t.Value))
	case Add:
		return add(doc, tokens, clone.Clone(t.Value))
	case Remove:
		return remove(doc, tokens)
	case Test:
		v, err := get(doc, tokens)
		if err != nil {
			return nil, err
		}
		if !jsondiff.Equal(v, t.Value) {
			return nil, fmt.Errorf("%w: %s != %s", ErrTestFailed, jsondiff.Format(v), jsondiff.Format(t.Value))
		}
		return doc, nil
	case Copy:
		from, err := ParsePointer(t.From)
		if err != nil {
			return nil, err
		}
		v, err := get(doc, from)
		if err != nil {
			return nil, err
		}
		return add(doc, tokens, clone.Clone(v))
	case Move:
		from, err := ParsePointer(t.From)
		if err != nil {
			return nil, err
		}
		if t.From == t.Path {
			return doc, nil
		}
		if strings.HasPrefix(t.Path, t.From+"/") {
			return nil, fmt.Errorf("%w: cannot move %s into its own child %s", ErrInvalidPointer, t.From, t.Path)
		}
		v, err := get(doc, from)
		if err != nil {
			return nil, err
		}
		doc, err = remove(doc, from)
		if err != nil {
			return nil, err
		}
		return add(doc, tokens, v)
	}
	return nil, fmt.Errorf("%w: unsupported operation %T", ErrInvalidPatch, p)
}

func get(doc any, tokens []string) (any, error) {
	node := doc
	for _, token := range tokens {
		var err error
		node, err = child(node, token)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

func add(doc any, tokens []string, value any) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	return update(doc, tokens, func(parent any, token string) (any, error) {
		return insertChild(parent, token, value)
	})
}

func replace(doc any, tokens []string, value any) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	return update(doc, tokens, func(parent any, token string) (any, error) {
		if _, err := child(parent, token); err != nil {
			return nil, err
		}
		return setChild(parent, token, value)
	})
}

func remove(doc any, tokens []string) (any, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: cannot remove the document root", ErrInvalidPointer)
	}
	return update(doc, tokens, removeChild)
}

// update applies fn to the parent of the last token and stores every
// modified container back into its own parent, so that arrays that grow or
// shrink are reattached.
func update(node any, tokens []string, fn func(parent any, token string) (any, error)) (any, error) {
	if len(tokens) == 1 {
		return fn(node, tokens[0])
	}
	next, err := child(node, tokens[0])
	if err != nil {
		return nil, err
	}
	updated, err := update(next, tokens[1:], fn)
	if err != nil {
		return nil, err
	}
	return setChild(node, tokens[0], updated)
}

func notContainer(node any, token string) error {
	return fmt.Errorf("%w: cannot address %q in %s", ErrPatchTargetNotContainer, token, jsondiff.Format(node))
}

func hasField(r jsondiff.Reflectable, name string) error {
	if slices.Contains(r.Fields(), name) {
		return nil
	}
	return fmt.Errorf("%w: field %q", ErrPathNotFound, name)
}

func child(node any, token string) (any, error) {
	if g, ok := generic(node); ok {
		node = g
	}
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[token]
		if !ok {
			return nil, fmt.Errorf("%w: key %q", ErrPathNotFound, token)
		}
		return v, nil
	case []any:
		idx, err := arrayIndex(token, len(n), false)
		if err != nil {
			return nil, err
		}
		return n[idx], nil
	case jsondiff.Reflectable:
		if err := hasField(n, token); err != nil {
			return nil, err
		}
		return n.Get(token), nil
	}
	return nil, notContainer(node, token)
}

func setChild(node any, token string, value any) (any, error) {
	if g, ok := generic(node); ok {
		updated, err := setChild(g, token, value)
		if err != nil {
			return nil, err
		}
		return typed(node, updated), nil
	}
	switch n := node.(type) {
	case map[string]any:
		n[token] = value
		return n, nil
	case []any:
		idx, err := arrayIndex(token, len(n), false)
		if err != nil {
			return nil, err
		}
		n[idx] = value
		return n, nil
	case jsondiff.Reflectable:
		if err := hasField(n, token); err != nil {
			return nil, err
		}
		return n, setField(n, token, value)
	}
	return nil, notContainer(node, token)
}

func insertChild(node any, token string, value any) (any, error) {
	if g, ok := generic(node); ok {
		updated, err := insertChild(g, token, value)
		if err != nil {
			return nil, err
		}
		return typed(node, updated), nil
	}
	switch n := node.(type) {
	case map[string]any:
		n[token] = value
		return n, nil
	case []any:
		idx, err := arrayIndex(token, len(n), true)
		if err != nil {
			return nil, err
		}
		return slices.Insert(n, idx, value), nil
	case jsondiff.Reflectable:
		return setChild(n, token, value)
	}
	return nil, notContainer(node, token)
}

func removeChild(node any, token string) (any, error) {
	if g, ok := generic(node); ok {
		updated, err := removeChild(g, token)
		if err != nil {
			return nil, err
		}
		return typed(node, updated), nil
	}
	switch n := node.(type) {
	case map[string]any:
		if _, ok := n[token]; !ok {
			return nil, fmt.Errorf("%w: key %q", ErrPathNotFound, token)
		}
		delete(n, token)
		return n, nil
	case []any:
		idx, err := arrayIndex(token, len(n), false)
		if err != nil {
			return nil, err
		}
		return slices.Delete(n, idx, idx+1), nil
	case jsondiff.Reflectable:
		return setChild(n, token, nil)
	}
	return nil, notContainer(node, token)
}

func setField(r jsondiff.Reflectable, name string, value any) error {
	if err := r.Set(name, value); err != nil {
		return fmt.Errorf("failed to set field %q: %w", name, err)
	}
	return nil
}

// generic returns a copy of a typed container as []any or map[string]any.
func generic(node any) (any, bool) {
	switch n := node.(type) {
	case []string:
		items := make([]any, len(n))
		for i, v := range n {
			items[i] = v
		}
		return items, true
	case []map[string]any:
		items := make([]any, len(n))
		for i, v := range n {
			items[i] = v
		}
		return items, true
	case map[string]string:
		members := make(map[string]any, len(n))
		for k, v := range n {
			members[k] = v
		}
		return members, true
	}
	return nil, false
}

// typed converts updated back to the type of original. It returns updated
// unchanged when an element no longer fits that type.
func typed(original, updated any) any {
	switch original.(type) {
	case []string:
		items, _ := updated.([]any)
		out := make([]string, len(items))
		for i, v := range items {
			s, ok := v.(string)
			if !ok {
				return updated
			}
			out[i] = s
		}
		return out
	case []map[string]any:
		items, _ := updated.([]any)
		out := make([]map[string]any, len(items))
		for i, v := range items {
			m, ok := v.(map[string]any)
			if !ok {
				return updated
			}
			out[i] = m
		}
		return out
	case map[string]string:
		members, _ := updated.(map[string]any)
		out := make(map[string]string, len(members))
		for k, v := range members {
			s, ok := v.(string)
			if !ok {
				return updated
			}
			out[k] = s
		}
		return out
	}
	return updated
}
