// Package queue persists pipeline jobs and implements the claim, retry,
// cancellation, and crash-recovery semantics the scheduler depends on.
//
// Claims are compare-and-set transitions on the stored status: a job moves
// queued -> running only if its status is still queued, so concurrent
// claimers race safely and the loser simply tries the next candidate. All
// claim decisions run inside a single transaction; job execution never holds
// the claim transaction.
package queue
