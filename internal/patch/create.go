package patch

import (
	"strconv"

	"github.com/nlstn/go-entityhub/internal/jsondiff"
)

// Create turns a diff tree into the patches that transform its left side
// into its right side. Leaves become Replace, right-only keys and appended
// elements become Add, left-only keys and truncated elements become Remove
// (highest index first). A nil diff yields no patches.
func Create(d *jsondiff.Diff) List {
	if d == nil {
		return nil
	}
	var patches List
	create(d, &patches)
	return patches
}

func create(d *jsondiff.Diff, out *List) {
	switch d.Kind {
	case jsondiff.KindValue:
		path := d.Path()
		switch {
		case jsondiff.IsMissing(d.Right):
			*out = append(*out, Remove{Path: path})
		case jsondiff.IsMissing(d.Left):
			*out = append(*out, Add{Path: path, Value: d.Right})
		default:
			*out = append(*out, Replace{Path: path, Value: d.Right})
		}
	case jsondiff.KindObject:
		for _, c := range d.Children {
			create(c, out)
		}
	case jsondiff.KindArray:
		for _, c := range d.Children {
			if c.Kind == jsondiff.KindLength {
				resize(d, c, out)
				continue
			}
			create(c, out)
		}
	}
}

func resize(array, length *jsondiff.Diff, out *List) {
	from, _ := length.Left.(int)
	to, _ := length.Right.(int)
	path := array.Path()
	if to > from {
		items, _ := jsondiff.Elements(array.Right)
		for i := from; i < to && i < len(items); i++ {
			*out = append(*out, Add{Path: path + "/" + strconv.Itoa(i), Value: items[i]})
		}
		return
	}
	for i := from - 1; i >= to; i-- {
		*out = append(*out, Remove{Path: path + "/" + strconv.Itoa(i)})
	}
}
