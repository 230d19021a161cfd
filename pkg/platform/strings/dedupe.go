// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
func DedupeAndTrim(values []string) []string {
	return DedupeFunc(values, nil)
}

// DedupeAndTrimUpper is like DedupeAndTrim but also uppercases each element,
// which is how routing domain keys ("HR", "FAQ") are normalized.
//
// Example:
//
//	DedupeAndTrimUpper([]string{" hr", "HR", "faq ", ""})
//	// Returns: []string{"HR", "FAQ"}
func DedupeAndTrimUpper(values []string) []string {
	return DedupeFunc(values, strings.ToUpper)
}

// DedupeFunc trims each element, applies normalize (when non-nil), then drops
// empties and duplicates keeping first occurrence order.
func DedupeFunc(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		key := strings.TrimSpace(v)
		if normalize != nil {
			key = normalize(key)
		}
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}

	return result
}
