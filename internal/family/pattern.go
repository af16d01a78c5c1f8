package family

import (
	"regexp"
	"strings"

	"curio/internal/textutil"
)

var versionToken = regexp.MustCompile(`^v\d+$`)

// baseName strips known variant suffix tokens off the end of a normalized
// title so "dragon red" and "dragon blue" collapse to "dragon". Suffix
// matching is greedy from the right and stops at the first non-variant token;
// a title made entirely of variant tokens keeps its last token.
func baseName(title string, variantSuffixes []string) string {
	normalized := textutil.NormalizeTitle(title)
	if normalized == "" {
		return ""
	}

	suffixes := make(map[string]struct{}, len(variantSuffixes))
	for _, s := range variantSuffixes {
		s = textutil.NormalizeTitle(s)
		if s != "" {
			suffixes[s] = struct{}{}
		}
	}

	tokens := strings.Fields(normalized)
	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		if _, ok := suffixes[last]; !ok && !versionToken.MatchString(last) {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}
