package sheet

import "strings"

// Stores address nested attributes with dot-delimited paths, so a literal
// dot inside a persisted map key would make paths ambiguous. Keys are
// rewritten to a fullwidth full stop before persistence and restored on
// read. The substitution is applied recursively through nested maps and
// slices. Keys that already contain the substitute rune are not expected in
// real documents and would not round-trip.
const dotSubstitute = "．"

// SanitizeValue returns a copy of v with every dot in a map key replaced by
// the substitute rune. Non-container values are returned as-is.
func SanitizeValue(v any) any {
	return mapKeys(v, func(k string) string {
		return strings.ReplaceAll(k, ".", dotSubstitute)
	})
}

// RestoreValue reverses SanitizeValue.
func RestoreValue(v any) any {
	return mapKeys(v, func(k string) string {
		return strings.ReplaceAll(k, dotSubstitute, ".")
	})
}

// SanitizePathKey escapes one path component the same way map keys are
// escaped, so a client path targets the persisted key.
func SanitizePathKey(k string) string {
	return strings.ReplaceAll(k, ".", dotSubstitute)
}

func mapKeys(v any, rewrite func(string) string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[rewrite(k)] = mapKeys(item, rewrite)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = mapKeys(item, rewrite)
		}
		return out
	default:
		return v
	}
}
