// Package daemon wires the stores, scheduler, and HTTP API into a single
// lifecycle with flock-based locking to prevent multiple instances from
// sharing one database.
package daemon
