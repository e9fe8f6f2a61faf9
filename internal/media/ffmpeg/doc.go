// Package ffmpeg builds and runs the transcoder invocations used by the
// synthesis engine: lossless concat, b-roll slicing, and the final mux.
// Failures carry ffmpeg's captured stderr so job errors stay diagnosable.
package ffmpeg
