// Package catalog persists the content model: designs, their ingested
// sources, variant families, and tags. It owns the design status state
// machine and the merge/split re-parenting transactions that the dedup
// engine and the API act through.
package catalog
