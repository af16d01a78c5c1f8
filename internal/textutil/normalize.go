package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	folder = cases.Fold()

	// stripMarks removes combining marks after NFD decomposition so accented
	// titles compare equal to their plain-ASCII duplicates.
	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	collapseSpaces = regexp.MustCompile(`\s+`)

	// counterSuffix matches trailing copy counters like "(1)", "_2", or "- copy".
	counterSuffix = regexp.MustCompile(`(?i)[\s_\-]*(\((\d+)\)|copy(\s*\d+)?|_\d+)$`)
)

// NormalizeTitle produces the canonical comparison form of a title: case
// folded, accent stripped, punctuation collapsed to single spaces.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	if stripped, _, err := transform.String(stripMarks, title); err == nil {
		title = stripped
	}
	title = folder.String(title)
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(collapseSpaces.ReplaceAllString(b.String(), " "))
}

// NormalizeFileName reduces a file name to its comparison form: the base name
// without extension, counter decorations stripped, then title-normalized.
func NormalizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}
	name = counterSuffix.ReplaceAllString(name, "")
	return NormalizeTitle(name)
}
