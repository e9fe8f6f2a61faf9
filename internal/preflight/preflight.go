package preflight

import (
	"context"

	"montage/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// MinimumFreeBytes is the least workspace headroom synthesis needs. Video
// slicing can briefly hold a re-encoded copy of every clip.
const MinimumFreeBytes = 2 << 30

// RunAll executes every applicable check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Workspace directory", cfg.Paths.WorkspaceDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckBinary("FFmpeg", cfg.FFmpeg.FFmpegBinary),
		CheckBinary("FFprobe", cfg.FFmpeg.FFprobeBinary),
		CheckDiskSpace("Workspace free space", cfg.Paths.WorkspaceDir, MinimumFreeBytes),
	}

	if cfg.Remote.BaseURL != "" {
		results = append(results, CheckRemote(ctx, cfg.Remote))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
