// Package preflight provides readiness checks for the external tools,
// filesystem paths, and remote service that montage depends on. The daemon
// runs RunAll at startup and refuses to start on a failed check; the CLI
// status command reuses the individual checks for display.
package preflight
