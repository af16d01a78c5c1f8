// Package db opens the shared SQLite database, applies pragmas and schema,
// and provides the busy-retry helpers the catalog and queue stores build on.
package db
