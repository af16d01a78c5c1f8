package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
	CacheDir   string `toml:"cache_dir"`
	APIBind    string `toml:"api_bind"`
}

// Workflow contains daemon timing and heartbeat settings.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	StagingMaxAgeHours int `toml:"staging_max_age_hours"`
}

// Concurrency caps the number of simultaneously running jobs per type.
type Concurrency struct {
	Downloads   int `toml:"downloads"`
	Extractions int `toml:"extractions"`
	Imports     int `toml:"imports"`
	Previews    int `toml:"previews"`
	Syncs       int `toml:"syncs"`
}

// Retry controls job retry limits and backoff shape.
type Retry struct {
	MaxAttempts    int `toml:"max_attempts"`
	BackoffSeconds int `toml:"backoff_seconds"`
	BackoffCap     int `toml:"backoff_cap_seconds"`
}

// Downloads contains settings for the download worker.
type Downloads struct {
	ChunkBytes int64 `toml:"chunk_bytes"`
}

// ImportProfile is the structural ruleset used to interpret extracted content.
type ImportProfile struct {
	ModelExtensions   []string `toml:"model_extensions"`
	PreviewExtensions []string `toml:"preview_extensions"`
	IgnoreDirs        []string `toml:"ignore_dirs"`
	IgnoreGlobs       []string `toml:"ignore_globs"`
	MaxNestingDepth   int      `toml:"max_nesting_depth"`
	MinModelFiles     int      `toml:"min_model_files"`
}

// Naming controls library folder naming. Template variables: {designer},
// {channel}, {title}, {year}, {month}, {day}.
type Naming struct {
	Template         string            `toml:"template"`
	ChannelOverrides map[string]string `toml:"channel_overrides"`
	UnknownDesigner  string            `toml:"unknown_designer"`
}

// Dedup contains the thresholds separating auto-merge from distinct designs.
// The defaults are deliberate policy knobs, not tuned constants.
type Dedup struct {
	FilenameSimilarity float64 `toml:"filename_similarity"`
	SizeTolerance      float64 `toml:"size_tolerance"`
	MinMergeConfidence float64 `toml:"min_merge_confidence"`
}

// Families contains the thresholds for variant grouping.
type Families struct {
	HashOverlapThreshold float64  `toml:"hash_overlap_threshold"`
	AIMinConfidence      float64  `toml:"ai_min_confidence"`
	VariantSuffixes      []string `toml:"variant_suffixes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for curio.
//
// Configuration sections by subsystem:
//   - Paths: staging/library/log/cache directories and API bind address
//   - Workflow: daemon polling intervals, heartbeats, staging retention
//   - Concurrency: per-job-type worker pool sizes
//   - Retry: attempt limits and backoff shape
//   - Downloads: transfer chunking
//   - ImportProfile: extraction and bundle-detection rules
//   - Naming: library folder naming template and per-channel overrides
//   - Dedup: duplicate-detection thresholds
//   - Families: variant-grouping thresholds
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Concurrency   Concurrency   `toml:"concurrency"`
	Retry         Retry         `toml:"retry"`
	Downloads     Downloads     `toml:"downloads"`
	ImportProfile ImportProfile `toml:"import_profile"`
	Naming        Naming        `toml:"naming"`
	Dedup         Dedup         `toml:"dedup"`
	Families      Families      `toml:"families"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curio/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all paths expanded and defaults applied. A missing file is not
// an error; defaults are used and created=false is reported.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, false, err
		}
		resolved = defaultPath
	} else {
		expanded, err := expandPath(resolved)
		if err != nil {
			return nil, false, err
		}
		resolved = expanded
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Fall through with defaults.
	default:
		return nil, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, err == nil, nil
}

// WriteSample writes the embedded sample configuration to the target path,
// refusing to overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the staging, library, log, and cache directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LibraryDir, c.Paths.LogDir, c.Paths.CacheDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// MaxConcurrent returns the configured worker pool size for a job type key.
// Unknown keys return 1 so a misconfigured type still drains serially.
func (c *Config) MaxConcurrent(jobType string) int {
	var n int
	switch jobType {
	case "download_design":
		n = c.Concurrency.Downloads
	case "extract_archive":
		n = c.Concurrency.Extractions
	case "import_files":
		n = c.Concurrency.Imports
	case "generate_preview":
		n = c.Concurrency.Previews
	case "sync_import_source":
		n = c.Concurrency.Syncs
	}
	if n < 1 {
		return 1
	}
	return n
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, path[2:])
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %s: %w", path, err)
	}
	return abs, nil
}
