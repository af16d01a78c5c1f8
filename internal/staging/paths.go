package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const designDirPrefix = "design-"

// Root returns the staging root for a design.
func Root(stagingDir string, designID int64) string {
	return filepath.Join(stagingDir, fmt.Sprintf("%s%d", designDirPrefix, designID))
}

// DownloadDir returns the directory that download jobs write archives into.
func DownloadDir(stagingDir string, designID int64) string {
	return filepath.Join(Root(stagingDir, designID), "download")
}

// ExtractDir returns the directory extraction unpacks into.
func ExtractDir(stagingDir string, designID int64) string {
	return filepath.Join(Root(stagingDir, designID), "extracted")
}

// ScratchDir returns a per-job scratch directory beneath the design root.
// Workers use it for partial output that must never be mistaken for a
// finished stage.
func ScratchDir(stagingDir string, designID, jobID int64) string {
	return filepath.Join(Root(stagingDir, designID), fmt.Sprintf("job-%d", jobID))
}

// EnsureDir creates the directory if needed.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create staging directory %s: %w", path, err)
	}
	return nil
}

// Remove deletes a design's entire staging root. Import calls this after the
// library copy is verified.
func Remove(stagingDir string, designID int64) error {
	root := Root(stagingDir, designID)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove staging root %s: %w", root, err)
	}
	return nil
}

// designIDFromName parses the design identifier out of a staging directory
// name, returning false for names that are not design roots.
func designIDFromName(name string) (int64, bool) {
	if !strings.HasPrefix(name, designDirPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(name, designDirPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
