package query

import (
	"strconv"
	"strings"
)

// PathSegment is one step of a field path: an object key, or an array index when IsIndex is set.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}

// FieldPath is a split Field name. Variable is empty for fields of the root argument.
type FieldPath struct {
	Variable string
	Segments []PathSegment
}

// IsRoot reports whether the path starts at the root argument.
func (p FieldPath) IsRoot() bool { return p.Variable == "" }

// Keys returns the object keys of the path, or false when it contains an index.
func (p FieldPath) Keys() ([]string, bool) {
	keys := make([]string, 0, len(p.Segments))
	for _, seg := range p.Segments {
		if seg.IsIndex {
			return nil, false
		}
		keys = append(keys, seg.Key)
	}
	return keys, true
}

// SplitPath splits a Field name like ".items[0].name" or "i.price".
func SplitPath(name string) (FieldPath, error) {
	var path FieldPath
	rest := name
	if strings.HasPrefix(name, ".") {
		rest = name[1:]
	} else {
		end := strings.IndexAny(name, ".[")
		if end < 0 {
			end = len(name)
		}
		path.Variable = name[:end]
		if path.Variable == "" {
			return path, newError(ErrInvalidOperand, 0, "invalid field path '%s'", name)
		}
		rest = strings.TrimPrefix(name[end:], ".")
	}
	if rest == "" {
		return path, nil
	}
	for _, part := range strings.Split(rest, ".") {
		key, indexes, _ := strings.Cut(part, "[")
		if key == "" && indexes == "" {
			return path, newError(ErrInvalidOperand, 0, "empty segment in field path '%s'", name)
		}
		if key != "" {
			path.Segments = append(path.Segments, PathSegment{Key: key})
		}
		if indexes == "" {
			continue
		}
		for _, index := range strings.Split("["+indexes, "[")[1:] {
			digits, ok := strings.CutSuffix(index, "]")
			n, err := strconv.Atoi(digits)
			if !ok || err != nil || n < 0 {
				return path, newError(ErrInvalidOperand, 0, "invalid index in field path '%s'", name)
			}
			path.Segments = append(path.Segments, PathSegment{Index: n, IsIndex: true})
		}
	}
	return path, nil
}

// resolve walks segments starting at value. Missing keys and indexes yield Undefined.
func resolve(value Scalar, segments []PathSegment) Scalar {
	for _, seg := range segments {
		switch {
		case seg.IsIndex && value.Type == TypeArray:
			if seg.Index >= len(value.arr) {
				return Undefined
			}
			value = ValueOf(value.arr[seg.Index])
		case !seg.IsIndex && value.Type == TypeObject:
			v, ok := value.obj[seg.Key]
			if !ok {
				return Undefined
			}
			value = ValueOf(v)
		default:
			return Undefined
		}
	}
	return value
}
