// Package logging builds the slog loggers used across montage and provides
// the shared attribute and context helpers that keep structured fields
// consistent between the daemon, the dispatch workers, and the CLI.
package logging
