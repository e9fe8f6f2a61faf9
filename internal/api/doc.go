// Package api defines the JSON contract between the montage daemon and its
// clients, plus an HTTP client the CLI uses to talk to a running daemon.
package api
