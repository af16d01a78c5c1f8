package dedup

import (
	"curio/internal/textutil"
)

// normalizedNameSet folds and strips counter decorations from filenames so
// "Widget (2).stl" and "widget.STL" land on the same key.
func normalizedNameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		normalized := textutil.NormalizeFileName(name)
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}

// jaccard returns |a∩b| / |a∪b| for two sets. Two empty sets score zero, not
// one; absence of evidence is not a match.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for key := range a {
		if _, ok := b[key]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// sizeWithinTolerance reports whether two byte totals agree within the given
// relative tolerance.
func sizeWithinTolerance(a, b int64, tolerance float64) bool {
	if a == b {
		return true
	}
	if a <= 0 || b <= 0 {
		return false
	}
	larger := a
	diff := a - b
	if b > a {
		larger = b
		diff = b - a
	}
	return float64(diff)/float64(larger) <= tolerance
}
