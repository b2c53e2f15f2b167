package docstore

import "strings"

// ApplyUpdate applies an update to a copy of doc and returns the result.
func ApplyUpdate(doc Document, u Update) Document {
	out := DeepCopy(doc)
	for path, v := range u.Set {
		setPath(out, path, copyValue(v))
	}
	for _, path := range u.Unset {
		unsetPath(out, path)
	}
	for path, values := range u.AddUnique {
		arr := arrayAt(out, path)
		for _, v := range values {
			if !containsValue(arr, v) {
				arr = append(arr, copyValue(v))
			}
		}
		setPath(out, path, arr)
	}
	for path, values := range u.Pull {
		arr := arrayAt(out, path)
		kept := arr[:0]
		for _, v := range arr {
			if !containsValue(values, v) {
				kept = append(kept, v)
			}
		}
		setPath(out, path, append([]any(nil), kept...))
	}
	return out
}

func arrayAt(doc Document, path string) []any {
	v, ok := Lookup(doc, path)
	if !ok {
		return nil
	}
	arr, _ := v.([]any)
	return append([]any(nil), arr...)
}

func setPath(doc Document, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func unsetPath(doc Document, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}
