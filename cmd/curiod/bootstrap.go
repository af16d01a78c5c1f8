package main

import (
	"net/http"
	"time"

	"curio/internal/config"
	"curio/internal/source"
)

// buildChannels wires the fetch channels the daemon can download from.
// Every channel shares one HTTP client so connection reuse works across
// concurrent downloads.
func buildChannels(cfg *config.Config) *source.Registry {
	client := &http.Client{Timeout: 10 * time.Minute}

	registry := source.NewRegistry()
	registry.Register(source.NewHTTPChannel("web", client))
	for name := range cfg.Naming.ChannelOverrides {
		registry.Register(source.NewHTTPChannel(name, client))
	}
	return registry
}
