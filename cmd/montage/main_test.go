package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"montage/internal/testsupport"
)

func TestLoadStageConfig(t *testing.T) {
	if conf, err := loadStageConfig("", ""); err != nil || conf != nil {
		t.Fatalf("empty config = %v, %v", conf, err)
	}
	if _, err := loadStageConfig(`{"style":"humorous"}`, "file.json"); err == nil {
		t.Fatal("both sources accepted")
	}
	if _, err := loadStageConfig("{not json", ""); err == nil {
		t.Fatal("invalid JSON accepted")
	}

	conf, err := loadStageConfig(`{"style":"humorous"}`, "")
	if err != nil {
		t.Fatalf("inline config: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(conf, &decoded); err != nil || decoded["style"] != "humorous" {
		t.Fatalf("decoded = %v, %v", decoded, err)
	}

	path := filepath.Join(t.TempDir(), "conf.json")
	testsupport.WriteFile(t, path, []byte(`{"target_lang":"en"}`))
	if conf, err = loadStageConfig("", path); err != nil || !strings.Contains(string(conf), "target_lang") {
		t.Fatalf("file config = %s, %v", conf, err)
	}
}

func TestTruncateAndShortID(t *testing.T) {
	if got := truncate("short", 60); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate(strings.Repeat("x", 80), 10); got != "xxxxxxx..." {
		t.Fatalf("truncate long = %q", got)
	}
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("short id = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("short id passthrough = %q", got)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "montage ") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	rendered := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	if !strings.Contains(rendered, "only") {
		t.Fatalf("rendered = %q", rendered)
	}
}
