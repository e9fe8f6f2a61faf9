// Package ffprobe inspects media containers for output validation.
package ffprobe
