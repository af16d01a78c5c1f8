package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeImportProfile()
	c.normalizeNaming()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeImportProfile() {
	c.ImportProfile.ModelExtensions = normalizeExtensions(c.ImportProfile.ModelExtensions)
	c.ImportProfile.PreviewExtensions = normalizeExtensions(c.ImportProfile.PreviewExtensions)
	if c.ImportProfile.MaxNestingDepth <= 0 {
		c.ImportProfile.MaxNestingDepth = defaultMaxNestingDepth
	}
	if c.ImportProfile.MinModelFiles <= 0 {
		c.ImportProfile.MinModelFiles = defaultMinModelFiles
	}
}

func (c *Config) normalizeNaming() {
	if strings.TrimSpace(c.Naming.Template) == "" {
		c.Naming.Template = defaultNamingTemplate
	}
	if strings.TrimSpace(c.Naming.UnknownDesigner) == "" {
		c.Naming.UnknownDesigner = defaultUnknownDesigner
	}
	if c.Naming.ChannelOverrides == nil {
		c.Naming.ChannelOverrides = map[string]string{}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}
