// Package textutil provides text processing utilities for filename
// sanitization and the normalized comparison forms used by the dedup and
// family-grouping engines.
package textutil
