package testsupport

import (
	"path/filepath"
	"testing"

	"montage/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Remote.BaseURL = "http://remote.test"
	cfg.Remote.InstanceID = "test-instance"
	cfg.Remote.APIKey = "test-key"
	cfg.Dispatch.PollDelay = 0
	cfg.Dispatch.ClaimInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithAutoPilot toggles workflow auto-pilot on the test config.
func WithAutoPilot(enabled bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.AutoPilot = enabled
	}
}

// WithPollBudgets overrides the dispatch retry bounds.
func WithPollBudgets(maxPolls, maxFailures int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Dispatch.MaxPollAttempts = maxPolls
		cfg.Dispatch.MaxFailureAttempts = maxFailures
	}
}
