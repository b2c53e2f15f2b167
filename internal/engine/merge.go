package engine

// mergeValues deep-merges overlay into base and returns the result. Maps
// merge key-wise, lists concatenate base-first, anything else is replaced
// by overlay. Set union is not a case here: set-typed arrays are deduped by
// uniqueItems validation of the merged result.
func mergeValues(base, overlay any) any {
	switch b := base.(type) {
	case map[string]any:
		o, ok := overlay.(map[string]any)
		if !ok {
			return overlay
		}
		out := make(map[string]any, len(b)+len(o))
		for k, v := range b {
			out[k] = v
		}
		for k, v := range o {
			if existing, ok := out[k]; ok {
				out[k] = mergeValues(existing, v)
			} else {
				out[k] = v
			}
		}
		return out
	case []any:
		o, ok := overlay.([]any)
		if !ok {
			return overlay
		}
		out := make([]any, 0, len(b)+len(o))
		out = append(out, b...)
		out = append(out, o...)
		return out
	default:
		return overlay
	}
}
