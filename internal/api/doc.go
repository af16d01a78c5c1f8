// Package api exposes queue and catalog operations as transport-friendly
// services shared by the HTTP server and the CLI.
package api
