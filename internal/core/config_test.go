package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/happytimeshere/kirby/pkg/models"
)

// --- Helper ---

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// --- LoadConfig tests ---

func TestLoadConfig_Defaults_WhenNoFile(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigurationManager(dir)

	cfg, err := cm.LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Locks.Duration != 120 {
		t.Errorf("Locks.Duration = %d, want 120", cfg.Locks.Duration)
	}
	if cfg.Locks.FileName != ".lock" {
		t.Errorf("Locks.FileName = %q, want %q", cfg.Locks.FileName, ".lock")
	}
	if cfg.Locks.AllowSelfBreak {
		t.Error("Locks.AllowSelfBreak = true, want false")
	}
	if cfg.Locks.RequireStale {
		t.Error("Locks.RequireStale = true, want false")
	}
	if cfg.Locks.WriteRetries != 3 {
		t.Errorf("Locks.WriteRetries = %d, want 3", cfg.Locks.WriteRetries)
	}
	if cfg.Content.Root != "content" {
		t.Errorf("Content.Root = %q, want %q", cfg.Content.Root, "content")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.UsersFile != "users.yaml" {
		t.Errorf("UsersFile = %q, want %q", cfg.UsersFile, "users.yaml")
	}
	if cfg.EventsFile != ".klock_events.jsonl" {
		t.Errorf("EventsFile = %q, want %q", cfg.EventsFile, ".klock_events.jsonl")
	}
}

func TestLoadConfig_ReadsKlockrc(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".klockrc.yaml", `
locks:
  duration: 300
  file_name: .locks
  allow_self_break: true
  require_stale: true
  write_retries: 5
content:
  root: site/content
log:
  level: debug
users:
  file: accounts.yaml
events:
  file: audit.jsonl
`)

	cfg, err := NewConfigurationManager(dir).LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := models.Config{
		Locks: models.LockConfig{
			Duration:       300,
			FileName:       ".locks",
			AllowSelfBreak: true,
			RequireStale:   true,
			WriteRetries:   5,
		},
		Content:    models.ContentConfig{Root: "site/content"},
		Log:        models.LogConfig{Level: "debug"},
		UsersFile:  "accounts.yaml",
		EventsFile: "audit.jsonl",
	}
	if *cfg != want {
		t.Errorf("config = %+v, want %+v", *cfg, want)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".klockrc.yaml", "locks:\n  duration: 300\n")
	t.Setenv("KLOCK_LOCKS_DURATION", "45")
	t.Setenv("KLOCK_LOG_LEVEL", "warn")

	cfg, err := NewConfigurationManager(dir).LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Locks.Duration != 45 {
		t.Errorf("Locks.Duration = %d, want 45", cfg.Locks.Duration)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "KLOCK_LOCKS_REQUIRE_STALE=true\n")
	// Registered so the variable godotenv sets is restored after the test.
	t.Setenv("KLOCK_LOCKS_REQUIRE_STALE", "")
	os.Unsetenv("KLOCK_LOCKS_REQUIRE_STALE")

	cfg, err := NewConfigurationManager(dir).LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Locks.RequireStale {
		t.Error("Locks.RequireStale = false, want true from .env")
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".klockrc.yaml", "locks: [unclosed\n")

	if _, err := NewConfigurationManager(dir).LoadConfig(); err == nil {
		t.Fatal("expected error for malformed .klockrc")
	}
}

// --- ValidateConfig tests ---

func TestValidateConfig_Defaults(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())
	if err := cm.ValidateConfig(DefaultConfig()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())
	if err := cm.ValidateConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestValidateConfig_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *models.Config)
		want   string
	}{
		{"zero duration", func(c *models.Config) { c.Locks.Duration = 0 }, "locks.duration"},
		{"empty file name", func(c *models.Config) { c.Locks.FileName = "" }, "locks.file_name"},
		{"file name with separator", func(c *models.Config) { c.Locks.FileName = "dir/.lock" }, "plain file name"},
		{"negative retries", func(c *models.Config) { c.Locks.WriteRetries = -1 }, "locks.write_retries"},
		{"empty content root", func(c *models.Config) { c.Content.Root = "" }, "content.root"},
		{"bad log level", func(c *models.Config) { c.Log.Level = "verbose" }, "log.level"},
		{"empty users file", func(c *models.Config) { c.UsersFile = "" }, "users.file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := NewConfigurationManager(t.TempDir()).ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateConfig_ReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Locks.Duration = -5
	cfg.Log.Level = "loud"

	err := NewConfigurationManager(t.TempDir()).ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "locks.duration") || !strings.Contains(msg, "log.level") {
		t.Errorf("expected both problems in %q", msg)
	}
}
