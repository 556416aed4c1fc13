package domain

import (
	"sort"
	"strings"
)

// FilterAll is the sentinel filter value meaning "no tag filtering".
const FilterAll = "all"

// CleanToolName normalizes an operation identifier into a safe tool name.
// The steps are order-sensitive: strip braces, replace every character
// outside [A-Za-z0-9_] with "_", collapse repeated underscores, trim
// leading/trailing underscores, and lowercase. An empty result means
// nothing meaningful survived; callers should drop such tools.
func CleanToolName(raw string) string {
	name := strings.NewReplacer("{", "", "}", "").Replace(raw)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name = b.String()

	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	name = strings.Trim(name, "_")
	return strings.ToLower(name)
}

// FilterKey normalizes a tag filter into a stable cache-key component so
// that filter order never produces spurious cache misses. Empty filters,
// blank tags, and the "all" sentinel all normalize to "all".
func FilterKey(tags []string) string {
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if t == FilterAll {
			return FilterAll
		}
		cleaned = append(cleaned, t)
	}
	if len(cleaned) == 0 {
		return FilterAll
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, ",")
}
