package note

import "strings"

// NormalizeTags trims each tag, drops empties and removes duplicates while
// keeping first-seen order. Comparison is case-sensitive. The result is never
// nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// ParseTagList splits a comma-separated list into normalized tags.
func ParseTagList(text string) []string {
	return NormalizeTags(strings.Split(text, ","))
}

// HasDuplicateTags reports whether tags repeats an entry.
func HasDuplicateTags(tags []string) bool {
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if seen[tag] {
			return true
		}
		seen[tag] = true
	}
	return false
}
