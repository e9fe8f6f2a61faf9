package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"montage/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalRemote = `
[remote]
base_url = "https://tasks.example.com"
instance_id = "studio-1"
api_key = "secret"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalRemote)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be reported as existing")
	}
	if resolved != path {
		t.Fatalf("resolved path %q, want %q", resolved, path)
	}
	if cfg.Dispatch.MaxPollAttempts != 120 {
		t.Fatalf("max_poll_attempts default = %d, want 120", cfg.Dispatch.MaxPollAttempts)
	}
	if cfg.Dispatch.MaxFailureAttempts != 50 {
		t.Fatalf("max_failure_attempts default = %d, want 50", cfg.Dispatch.MaxFailureAttempts)
	}
	if cfg.Dispatch.PollDelay != 30 {
		t.Fatalf("poll_delay default = %d, want 30", cfg.Dispatch.PollDelay)
	}
	if cfg.FFmpeg.MuxPreset != "veryfast" || cfg.FFmpeg.MuxCRF != 23 {
		t.Fatalf("unexpected ffmpeg defaults: %+v", cfg.FFmpeg)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if !cfg.Workflow.AutoPilot {
		t.Fatal("auto_pilot should default to true")
	}
}

func TestLoadExpandsPaths(t *testing.T) {
	path := writeConfig(t, minimalRemote+`
[paths]
data_dir = "~/montage-data"
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.HasPrefix(cfg.Paths.DataDir, "~") {
		t.Fatalf("data_dir not expanded: %q", cfg.Paths.DataDir)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("data_dir not absolute: %q", cfg.Paths.DataDir)
	}
	if got := cfg.DatabasePath(); filepath.Dir(got) != cfg.Paths.DataDir {
		t.Fatalf("database path %q not under data dir %q", got, cfg.Paths.DataDir)
	}
}

func TestLoadRequiresRemoteSettings(t *testing.T) {
	path := writeConfig(t, `
[remote]
base_url = "https://tasks.example.com"
`)

	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected missing instance_id to fail validation")
	}
	if !strings.Contains(err.Error(), "remote.instance_id") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsBadBaseURL(t *testing.T) {
	path := writeConfig(t, `
[remote]
base_url = "not a url"
instance_id = "studio-1"
api_key = "secret"
`)

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected invalid base_url to fail validation")
	}
}

func TestRemoteCredentialsFromEnv(t *testing.T) {
	t.Setenv("MONTAGE_INSTANCE_ID", "env-instance")
	t.Setenv("MONTAGE_API_KEY", "env-key")

	path := writeConfig(t, `
[remote]
base_url = "https://tasks.example.com"
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.InstanceID != "env-instance" || cfg.Remote.APIKey != "env-key" {
		t.Fatalf("env fallback not applied: %+v", cfg.Remote)
	}
}

func TestNormalizeTrimsBaseURLSlash(t *testing.T) {
	path := writeConfig(t, `
[remote]
base_url = "https://tasks.example.com/"
instance_id = "studio-1"
api_key = "secret"
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.BaseURL != "https://tasks.example.com" {
		t.Fatalf("base_url = %q, want trailing slash trimmed", cfg.Remote.BaseURL)
	}
}

func TestLoadRejectsNegativeValues(t *testing.T) {
	path := writeConfig(t, minimalRemote+`
[ffmpeg]
mux_crf = 99
`)

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected out-of-range mux_crf to fail validation")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}

	t.Setenv("MONTAGE_INSTANCE_ID", "studio-1")
	t.Setenv("MONTAGE_API_KEY", "secret")

	// The sample leaves base_url empty on purpose; loading it should fail
	// with the guidance message rather than a parse error.
	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected empty base_url in sample to fail validation")
	}
	if !strings.Contains(err.Error(), "remote.base_url") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MONTAGE_INSTANCE_ID", "studio-1")
	t.Setenv("MONTAGE_API_KEY", "secret")

	missing := filepath.Join(t.TempDir(), "absent.toml")
	// Defaults leave base_url empty, so validation must fail.
	if _, _, _, err := config.Load(missing); err == nil {
		t.Fatal("expected validation failure for defaults without base_url")
	}
}
