package protocol

import "encoding/json"

// MergeJSON deep-merges two raw JSON values. Object fields are merged
// recursively; for everything else (scalars, arrays, type mismatches) the
// patch wins. Used for update coalescing: the merged result is what a burst
// of partial patches would have produced if applied in order.
func MergeJSON(base, patch json.RawMessage) json.RawMessage {
	if len(patch) == 0 {
		return base
	}
	if len(base) == 0 {
		return patch
	}
	var baseObj, patchObj map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseObj); err != nil || baseObj == nil {
		return patch
	}
	if err := json.Unmarshal(patch, &patchObj); err != nil || patchObj == nil {
		return patch
	}
	for key, val := range patchObj {
		if existing, ok := baseObj[key]; ok {
			baseObj[key] = MergeJSON(existing, val)
		} else {
			baseObj[key] = val
		}
	}
	merged, err := json.Marshal(baseObj)
	if err != nil {
		return patch
	}
	return merged
}
