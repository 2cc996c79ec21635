package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Processor.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.Processor.RetryAttempts)
	}
	if cfg.Processor.DebounceWindow < 10*time.Millisecond || cfg.Processor.DebounceWindow > 200*time.Millisecond {
		t.Errorf("DebounceWindow = %s, want tens of milliseconds", cfg.Processor.DebounceWindow)
	}
	if cfg.Queue.Window <= 0 {
		t.Errorf("Queue.Window = %d, want positive", cfg.Queue.Window)
	}
}

func TestLoadWithEnv_MissingFileUsesDefaults(t *testing.T) {
	getenv := func(string) string { return "" }
	cfg, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), getenv)
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Queue.Window != Default().Queue.Window {
		t.Errorf("expected defaults, got %+v", cfg.Queue)
	}
}

func TestLoadWithEnv_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "queue:\n  window: 42\nprocessor:\n  retry_attempts: 5\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	getenv := func(string) string { return "" }
	cfg, err := LoadWithEnv(path, getenv)
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Queue.Window != 42 {
		t.Errorf("Queue.Window = %d, want 42", cfg.Queue.Window)
	}
	if cfg.Processor.RetryAttempts != 5 {
		t.Errorf("Processor.RetryAttempts = %d, want 5", cfg.Processor.RetryAttempts)
	}
}

func TestLoadWithEnv_ProjectEnvOverride(t *testing.T) {
	getenv := func(k string) string {
		if k == "DOMESYNC_PROJECT" {
			return "/srv/proj"
		}
		return ""
	}
	cfg, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), getenv)
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.ProjectPath != "/srv/proj" {
		t.Errorf("ProjectPath = %q, want /srv/proj", cfg.ProjectPath)
	}
}
