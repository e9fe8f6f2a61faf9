package logging

import (
	"log/slog"
	"path/filepath"

	"montage/internal/config"
)

// NewFromConfig builds the daemon logger from the logging section. Output
// goes to stdout and to montaged.log under the configured log directory.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return NewNop(), nil
	}
	return New(Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		OutputPaths: []string{
			"stdout",
			filepath.Join(cfg.Paths.LogDir, "montaged.log"),
		},
	})
}
