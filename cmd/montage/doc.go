// Command montage is the CLI for the montage daemon. It manages projects,
// triggers pipeline stages, spawns batches, and reports daemon status over
// the daemon's HTTP API.
package main
