package importer

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"curio/internal/config"
	"curio/internal/textutil"
)

// Variables are the substitution values available to naming templates.
type Variables struct {
	Designer string
	Channel  string
	Title    string
	Date     time.Time
}

// ResolveTemplate renders the naming template for a channel into a relative
// library path. Per-channel overrides win over the global template, missing
// designers substitute the configured placeholder, and every segment is
// sanitized for the filesystem.
func ResolveTemplate(naming config.Naming, vars Variables) string {
	template := naming.Template
	if override, ok := naming.ChannelOverrides[strings.ToLower(vars.Channel)]; ok && strings.TrimSpace(override) != "" {
		template = override
	}

	designer := strings.TrimSpace(vars.Designer)
	if designer == "" {
		designer = naming.UnknownDesigner
	}
	title := strings.TrimSpace(vars.Title)
	if title == "" {
		title = "Untitled"
	}

	replacer := strings.NewReplacer(
		"{designer}", designer,
		"{channel}", vars.Channel,
		"{title}", title,
		"{year}", fmt.Sprintf("%04d", vars.Date.Year()),
		"{month}", fmt.Sprintf("%02d", int(vars.Date.Month())),
		"{day}", fmt.Sprintf("%02d", vars.Date.Day()),
	)
	rendered := replacer.Replace(template)

	segments := strings.Split(rendered, "/")
	cleaned := segments[:0]
	for _, segment := range segments {
		segment = textutil.SanitizeFileName(segment)
		if segment == "" {
			continue
		}
		cleaned = append(cleaned, segment)
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, textutil.SanitizeFileName(title))
	}
	return filepath.Join(cleaned...)
}
