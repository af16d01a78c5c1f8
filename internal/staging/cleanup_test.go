package staging_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"curio/internal/staging"
)

func makeRoot(t *testing.T, stagingDir string, designID int64, age time.Duration) string {
	t.Helper()
	root := staging.Root(stagingDir, designID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(root, stamp, stamp); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	return root
}

func TestCleanStaleRemovesOldInactiveRoots(t *testing.T) {
	dir := t.TempDir()

	old := makeRoot(t, dir, 1, 48*time.Hour)
	fresh := makeRoot(t, dir, 2, time.Minute)
	activeOld := makeRoot(t, dir, 3, 48*time.Hour)

	active := map[int64]struct{}{3: {}}
	result := staging.CleanStale(context.Background(), dir, 24*time.Hour, active, nil)

	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != old {
		t.Fatalf("Removed = %v, want only %s", result.Removed, old)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("stale root survived: %v", err)
	}
	for _, kept := range []string{fresh, activeOld} {
		if _, err := os.Stat(kept); err != nil {
			t.Fatalf("%s removed: %v", kept, err)
		}
	}
}

func TestCleanStaleIgnoresForeignEntries(t *testing.T) {
	dir := t.TempDir()

	// Non-design directories age out like any other staging leftovers, but
	// loose files are skipped entirely.
	foreign := filepath.Join(dir, "lost+found")
	if err := os.Mkdir(foreign, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	stamp := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(foreign, stamp, stamp); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	file := filepath.Join(dir, "stray.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result := staging.CleanStale(context.Background(), dir, 24*time.Hour, nil, nil)
	if len(result.Removed) != 1 || result.Removed[0] != foreign {
		t.Fatalf("Removed = %v", result.Removed)
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("stray file removed: %v", err)
	}
}

func TestCleanStaleMissingDirIsNoOp(t *testing.T) {
	result := staging.CleanStale(context.Background(), filepath.Join(t.TempDir(), "absent"), time.Hour, nil, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("result = %+v, want empty", result)
	}
}

func TestListDirectoriesReportsSizes(t *testing.T) {
	dir := t.TempDir()
	root := makeRoot(t, dir, 7, 0)
	if err := os.WriteFile(filepath.Join(root, "a.bin"), make([]byte, 100), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "nested", "b.bin"), make([]byte, 50), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dirs, err := staging.ListDirectories(dir)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("dirs = %v, want one entry", dirs)
	}
	if dirs[0].Name != "design-7" || dirs[0].Size != 150 {
		t.Fatalf("entry = %+v", dirs[0])
	}
}

func TestStagePathsShareOneRoot(t *testing.T) {
	root := staging.Root("/stage", 9)
	if root != filepath.Join("/stage", "design-9") {
		t.Fatalf("Root = %q", root)
	}
	if got := staging.DownloadDir("/stage", 9); got != filepath.Join(root, "download") {
		t.Fatalf("DownloadDir = %q", got)
	}
	if got := staging.ExtractDir("/stage", 9); got != filepath.Join(root, "extracted") {
		t.Fatalf("ExtractDir = %q", got)
	}
	if got := staging.ScratchDir("/stage", 9, 4); got != filepath.Join(root, "job-4") {
		t.Fatalf("ScratchDir = %q", got)
	}
}

func TestRemoveDeletesDesignRoot(t *testing.T) {
	dir := t.TempDir()
	root := makeRoot(t, dir, 5, 0)
	if err := os.WriteFile(filepath.Join(root, "a.bin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := staging.Remove(dir, 5); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("root survived: %v", err)
	}
	// Removing an absent root is not an error.
	if err := staging.Remove(dir, 5); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
}
