package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "processlens.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
api_base: "http://agent.internal:9000/"
port: 4100
no_open: true
default_query: "Top rework loops"
default_emails: ""
request_timeout: 45s
log_level: DEBUG
`)
	t.Setenv(EnvAPIBase, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.APIBase != "http://agent.internal:9000" {
		t.Fatalf("unexpected APIBase %q", cfg.APIBase)
	}
	if cfg.Port != 4100 || !cfg.NoOpen {
		t.Fatalf("unexpected port/no_open: %d %v", cfg.Port, cfg.NoOpen)
	}
	if cfg.DefaultQuery != "Top rework loops" {
		t.Fatalf("unexpected query %q", cfg.DefaultQuery)
	}
	if cfg.DefaultEmails != "" {
		t.Fatalf("expected explicit empty emails to win, got %q", cfg.DefaultEmails)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.RequestTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level %q", cfg.LogLevel)
	}
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvAPIBase, "")
	t.Setenv(EnvLogDir, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	want := Default()
	if *cfg != want {
		t.Fatalf("expected defaults %+v, got %+v", want, *cfg)
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestLoad_RejectsUnknownKeysAndBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "api_bse: http://x\n",
		"short api name": "api: http://x\n",
		"bad timeout":    "request_timeout: soon\n",
		"bad port":       "port: 70000\n",
		"bad loglevel":   "log_level: loud\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "api_base: http://from-file:8000\n")
	t.Setenv(EnvAPIBase, "http://from-env:8000/")
	t.Setenv(EnvLogDir, "/var/log/processlens")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.APIBase != "http://from-env:8000" {
		t.Fatalf("expected env api base, got %q", cfg.APIBase)
	}
	if cfg.LogDir != "/var/log/processlens" {
		t.Fatalf("expected env log dir, got %q", cfg.LogDir)
	}
}
