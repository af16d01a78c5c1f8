// Package staging manages the scratch directory tree used by workers while a
// design moves through the pipeline. Each design owns one staging root with
// per-stage subdirectories; nothing under a staging root is visible to the
// library until import promotes it.
package staging
