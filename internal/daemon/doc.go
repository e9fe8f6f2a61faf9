// Package daemon wires the store, remote client, dispatch engine, and
// pipeline controller into a long-running background process. It enforces
// single-instance execution with a lock file and exposes the HTTP API the
// montage CLI talks to.
package daemon
