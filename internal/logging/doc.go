// Package logging provides slog helpers shared across the daemon and CLI:
// attribute constructors, standardized field names, context-derived loggers,
// and a no-op logger for tests.
package logging
