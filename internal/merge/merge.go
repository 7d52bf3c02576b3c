// Package merge implements the commutative merge semantics for collaborative
// list documents: array-by-identity merge with tombstones, and shallow object
// merge. Both functions are pure; callers own (de)serialization.
package merge

import "strings"

// identityFields are checked in order; the first non-empty string wins.
var identityFields = []string{"id", "caseNo", "key"}

// Identity extracts the merge identity of a list item. Items without an
// extractable identity cannot be deduplicated and are excluded from merges.
func Identity(item any) (string, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	for _, field := range identityFields {
		if s, ok := obj[field].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// Arrays merges incoming into existing by item identity. Tombstones in
// removedIDs delete first, so a concurrent re-add in incoming survives.
// Incoming items with a known identity shallow-overwrite the matching
// existing item in place; unknown identities append in incoming order.
func Arrays(existing, incoming []any, removedIDs []string) []any {
	removed := make(map[string]struct{}, len(removedIDs))
	for _, id := range removedIDs {
		removed[id] = struct{}{}
	}

	result := make([]any, 0, len(existing)+len(incoming))
	index := make(map[string]int)
	for _, item := range existing {
		id, ok := Identity(item)
		if !ok {
			continue
		}
		if _, gone := removed[id]; gone {
			continue
		}
		index[id] = len(result)
		result = append(result, item)
	}

	for _, item := range incoming {
		id, ok := Identity(item)
		if !ok {
			continue
		}
		if at, present := index[id]; present {
			result[at] = Objects(result[at].(map[string]any), item.(map[string]any))
			continue
		}
		index[id] = len(result)
		result = append(result, item)
	}

	return result
}

// Objects merges incoming into existing with shallow key overwrite; incoming
// wins. Neither input is mutated.
func Objects(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
