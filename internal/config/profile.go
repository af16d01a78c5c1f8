package config

import (
	"path/filepath"
	"strings"
)

// IsModelFile reports whether a file name carries one of the profile's model
// extensions.
func (p ImportProfile) IsModelFile(name string) bool {
	return hasExtension(name, p.ModelExtensions)
}

// IsPreviewFile reports whether a file name carries one of the profile's
// preview extensions.
func (p ImportProfile) IsPreviewFile(name string) bool {
	return hasExtension(name, p.PreviewExtensions)
}

// ShouldIgnore reports whether an archive entry path matches the profile's
// ignore rules, by directory name or by glob against the base name.
func (p ImportProfile) ShouldIgnore(entryPath string) bool {
	normalized := filepath.ToSlash(entryPath)
	for _, segment := range strings.Split(normalized, "/") {
		for _, dir := range p.IgnoreDirs {
			if strings.EqualFold(segment, dir) {
				return true
			}
		}
	}
	base := filepath.Base(normalized)
	for _, pattern := range p.IgnoreGlobs {
		if ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(base)); err == nil && ok {
			return true
		}
	}
	return false
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, candidate := range extensions {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if !strings.HasPrefix(candidate, ".") {
			candidate = "." + candidate
		}
		if ext == candidate {
			return true
		}
	}
	return false
}
