// Package source defines the narrow interface to content-source
// collaborators. Channels hand out opaque fetch handles with byte-range
// reads; the pipeline never learns how a channel produces them.
package source
