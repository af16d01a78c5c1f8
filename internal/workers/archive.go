package workers

import (
	"path/filepath"
	"strings"
)

// IsArchive reports whether a file name looks like an archive the extraction
// worker can unpack.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.gz") {
		return true
	}
	switch filepath.Ext(lower) {
	case ".zip", ".tar", ".tgz":
		return true
	default:
		return false
	}
}

// AnyArchive reports whether any of the names is an archive.
func AnyArchive(names []string) bool {
	for _, name := range names {
		if IsArchive(name) {
			return true
		}
	}
	return false
}
