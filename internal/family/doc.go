// Package family groups designs that are variants of one underlying item, a
// looser relationship than dedup merging. Groupings come from name patterns,
// partial file-hash overlap, externally supplied AI signals, or explicit user
// action.
package family
