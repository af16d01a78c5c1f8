// Package dedup decides whether an incoming source is a duplicate of an
// existing design, a brand new design, or a case needing manual review.
// Content hashes are the primary signal; normalized filename similarity is
// the fallback.
package dedup
