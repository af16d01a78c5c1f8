// Package scheduler drives the job queue: per-type worker pools claim jobs
// atomically, execute registered handlers, report heartbeats, and recover
// work orphaned by a crash or a wedged worker.
package scheduler
