package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.CDP.Host != "127.0.0.1" {
		t.Errorf("expected Host=127.0.0.1, got %s", cfg.CDP.Host)
	}
	if cfg.CDP.Port != 9222 {
		t.Errorf("expected Port=9222, got %d", cfg.CDP.Port)
	}
	if cfg.Timing.Jitter != 0.25 {
		t.Errorf("expected Jitter=0.25, got %v", cfg.Timing.Jitter)
	}
	if !cfg.CDP.Headless || !cfg.Login.Escalate {
		t.Errorf("expected headless runs with login escalation by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("XHSPILOT_CDP_HOST", "")
	t.Setenv("XHSPILOT_CDP_PORT", "")
	t.Setenv("XHSPILOT_DATA_DIR", "")
	t.Setenv("XHSPILOT_TIMING_JITTER", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.CDP.Port = 9333
	cfg.Timing.TagSettle = "1500ms"
	cfg.Paths.DataDir = tmpDir

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.CDP.Port != 9333 {
		t.Errorf("expected Port=9333, got %d", loaded.CDP.Port)
	}
	if got := loaded.Timing.Durations().TagSettle; got != 1500*time.Millisecond {
		t.Errorf("expected TagSettle=1.5s, got %v", got)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv("XHSPILOT_CDP_PORT", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CDP.Port != 9222 {
		t.Errorf("expected default port, got %d", cfg.CDP.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("cdp: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.Timeout = "not-a-duration"
	cfg.Workflow.Deadline = "-5s"

	if got := cfg.CaptureTimeout(); got != 18*time.Second {
		t.Errorf("CaptureTimeout fallback = %v", got)
	}
	cfg.Capture.Settle = ""
	if got := cfg.CaptureSettle(); got != 1500*time.Millisecond {
		t.Errorf("CaptureSettle fallback = %v", got)
	}
	if got := cfg.WorkflowDeadline(); got != 10*time.Minute {
		t.Errorf("WorkflowDeadline fallback = %v", got)
	}
}

func TestClampJitter(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0, 0},
		{0.25, 0.25},
		{0.7, 0.7},
		{2, MaxTimingJitter},
	}
	for _, tt := range tests {
		if got := ClampJitter(tt.in); got != tt.want {
			t.Errorf("ClampJitter(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"empty host", func(c *Config) { c.CDP.Host = "" }, true},
		{"bad port", func(c *Config) { c.CDP.Port = 70000 }, true},
		{"zero attempts", func(c *Config) { c.Retry.Attempts = 0 }, true},
		{"no data dir", func(c *Config) { c.Paths.DataDir = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{}
	if lc.IsCategoryEnabled("browser") {
		t.Error("categories must be off without debug_mode")
	}
	lc.DebugMode = true
	if !lc.IsCategoryEnabled("browser") {
		t.Error("categories default on in debug_mode")
	}
	lc.Categories = map[string]bool{"capture": false}
	if lc.IsCategoryEnabled("capture") {
		t.Error("explicitly disabled category should be off")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.DataDir = "/data"
	if got := cfg.ProfilesDir(); got != filepath.Join("/data", "profiles") {
		t.Errorf("ProfilesDir = %s", got)
	}
	if got := cfg.JournalPath(); got != filepath.Join("/data", "journal.db") {
		t.Errorf("JournalPath = %s", got)
	}
}
