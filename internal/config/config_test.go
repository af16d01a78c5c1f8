package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"curio/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, loaded, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	defaults := config.Default()
	if cfg.Paths.APIBind != "127.0.0.1:7319" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Retry.MaxAttempts != defaults.Retry.MaxAttempts {
		t.Fatalf("unexpected max attempts: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Downloads.ChunkBytes != 1<<20 {
		t.Fatalf("unexpected chunk bytes: %d", cfg.Downloads.ChunkBytes)
	}
	if cfg.Naming.Template != "{designer}/{title}" {
		t.Fatalf("unexpected naming template: %q", cfg.Naming.Template)
	}
	if !strings.HasPrefix(cfg.Paths.StagingDir, tempHome) {
		t.Fatalf("staging dir %q not expanded under home", cfg.Paths.StagingDir)
	}
	if !filepath.IsAbs(cfg.Paths.LibraryDir) {
		t.Fatalf("library dir %q not absolute", cfg.Paths.LibraryDir)
	}
}

func TestLoadParsesAndNormalizesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
library_dir = "` + filepath.Join(dir, "library") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
api_bind = "  127.0.0.1:9000  "

[import_profile]
model_extensions = ["STL", ".stl", "3mf", ""]

[naming]
template = "{channel}/{title}"

[logging]
format = "Console"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !loaded {
		t.Fatal("expected config file to be read")
	}
	if cfg.Paths.APIBind != "127.0.0.1:9000" {
		t.Fatalf("api bind not trimmed: %q", cfg.Paths.APIBind)
	}
	// Extensions lowercase, dot-prefixed, deduplicated, order preserved.
	want := []string{".stl", ".3mf"}
	if len(cfg.ImportProfile.ModelExtensions) != len(want) {
		t.Fatalf("model extensions = %v, want %v", cfg.ImportProfile.ModelExtensions, want)
	}
	for i, ext := range want {
		if cfg.ImportProfile.ModelExtensions[i] != ext {
			t.Fatalf("model extensions = %v, want %v", cfg.ImportProfile.ModelExtensions, want)
		}
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
	// Untouched sections keep their defaults.
	if cfg.Families.HashOverlapThreshold != config.Default().Families.HashOverlapThreshold {
		t.Fatalf("unexpected hash overlap threshold: %v", cfg.Families.HashOverlapThreshold)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing staging dir", `
[paths]
staging_dir = ""
library_dir = "/tmp/library"
log_dir = "/tmp/logs"
`},
		{"heartbeat timeout below interval", `
[workflow]
heartbeat_interval = 30
heartbeat_timeout = 10
`},
		{"template without title", `
[naming]
template = "{designer}/{channel}"
`},
		{"threshold out of range", `
[dedup]
filename_similarity = 1.5
`},
		{"zero retry attempts", `
[retry]
max_attempts = 0
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			base := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
library_dir = "` + filepath.Join(dir, "library") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
`
			body := tc.body
			if tc.name != "missing staging dir" {
				body = base + tc.body
			}
			path := filepath.Join(dir, "config.toml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, _, err := config.Load(path); err == nil {
				t.Fatal("Load accepted an invalid config")
			}
		})
	}
}

func TestDefaultConfigRoundTripsThroughTOML(t *testing.T) {
	cfg := config.Default()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Paths.APIBind != cfg.Paths.APIBind {
		t.Fatalf("api bind lost in round trip: %q", decoded.Paths.APIBind)
	}
	if decoded.Retry.BackoffCap != cfg.Retry.BackoffCap {
		t.Fatalf("backoff cap lost in round trip: %d", decoded.Retry.BackoffCap)
	}
}

func TestWriteSampleRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[paths]") {
		t.Fatalf("sample config missing paths section")
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("WriteSample overwrote an existing file")
	}
}

func TestMaxConcurrentFallsBackToSerial(t *testing.T) {
	cfg := config.Default()
	cfg.Concurrency.Downloads = 4

	if got := cfg.MaxConcurrent("download_design"); got != 4 {
		t.Fatalf("MaxConcurrent(download_design) = %d, want 4", got)
	}
	if got := cfg.MaxConcurrent("unknown_type"); got != 1 {
		t.Fatalf("MaxConcurrent(unknown_type) = %d, want 1", got)
	}
	cfg.Concurrency.Previews = 0
	if got := cfg.MaxConcurrent("generate_preview"); got != 1 {
		t.Fatalf("MaxConcurrent(generate_preview) = %d, want 1", got)
	}
}

func TestImportProfileClassification(t *testing.T) {
	profile := config.Default().ImportProfile

	if !profile.IsModelFile("dragon.STL") {
		t.Fatal("IsModelFile rejected an stl file")
	}
	if profile.IsModelFile("notes.txt") {
		t.Fatal("IsModelFile accepted a text file")
	}
	if !profile.IsPreviewFile("render.png") {
		t.Fatal("IsPreviewFile rejected a png file")
	}

	for _, path := range []string{
		"__MACOSX/dragon.stl",
		"models/.DS_Store/thumb.png",
		"scratch/build.tmp",
		"Thumbs.db",
	} {
		if !profile.ShouldIgnore(path) {
			t.Fatalf("ShouldIgnore(%q) = false", path)
		}
	}
	if profile.ShouldIgnore("models/dragon.stl") {
		t.Fatal("ShouldIgnore rejected a normal model path")
	}
}
