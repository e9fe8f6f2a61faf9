// Package store manages montage persistence backed by SQLite: projects,
// jobs, poll messages, and batches live in one WAL-mode database with
// busy-retry on writes. Project status writes are version checked so that
// concurrent finalizers cannot silently overwrite each other.
package store
