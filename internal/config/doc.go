// Package config loads, validates, and normalizes the curio configuration
// file. Configuration is read once at startup and injected; no other package
// touches the configuration file directly.
package config
