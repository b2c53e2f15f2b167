package docstore

import (
	"sort"
	"strings"
)

// Lookup resolves a possibly dotted field path inside a document.
func Lookup(doc Document, path string) (any, bool) {
	cur := any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches reports whether doc satisfies every condition of the filter.
func Matches(doc Document, f Filter) bool {
	for path, want := range f.Eq {
		got, ok := Lookup(doc, path)
		if !ok || !ValueEqual(got, want) {
			return false
		}
	}
	for path, values := range f.In {
		got, ok := Lookup(doc, path)
		if !ok || !containsValue(values, got) {
			return false
		}
	}
	for path, values := range f.NotIn {
		got, ok := Lookup(doc, path)
		if ok && containsValue(values, got) {
			return false
		}
	}
	for path, values := range f.All {
		got, ok := Lookup(doc, path)
		if !ok {
			return false
		}
		arr, ok := got.([]any)
		if !ok {
			return false
		}
		for _, want := range values {
			if !containsValue(arr, want) {
				return false
			}
		}
	}
	return true
}

func containsValue(haystack []any, needle any) bool {
	for _, v := range haystack {
		if ValueEqual(v, needle) {
			return true
		}
	}
	return false
}

// ValueEqual compares two JSON-shaped values structurally. Numbers compare
// across int/float representations.
func ValueEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !ValueEqual(v, bvv) {
				return false
			}
		}
		return true
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compareValues orders two field values: nil < bool < number < string.
// Arrays and objects compare as equal (stable order preserved).
func compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1: // bool
		av, bv := a.(bool), b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case 2: // number
		af, _ := asFloat(a)
		bf, _ := asFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case 3: // string
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := asFloat(v); ok {
		return 2
	}
	return 4
}

// SortDocuments orders docs in place by the given sort fields. The sort is
// stable so insertion order breaks ties.
func SortDocuments(docs []Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range fields {
			av, _ := Lookup(docs[i], sf.Field)
			bv, _ := Lookup(docs[j], sf.Field)
			c := compareValues(av, bv)
			if sf.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// Project reduces a document to the named top-level fields. The document key
// is always kept.
func Project(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return doc
	}
	out := Document{}
	if id, ok := doc[KeyField]; ok {
		out[KeyField] = id
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// DeepCopy clones a document so callers cannot alias backend state.
func DeepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	return copyValue(doc).(map[string]any)
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, vv := range tv {
			out[k] = copyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, vv := range tv {
			out[i] = copyValue(vv)
		}
		return out
	default:
		return tv
	}
}
