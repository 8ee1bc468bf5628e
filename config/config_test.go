package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir()) // no user config present

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.GracePeriod != 15*time.Second {
		t.Errorf("grace period: got %s, want 15s", c.GracePeriod)
	}
	if c.InconsistencyPolicy != InconsistencyWarnAndRun {
		t.Errorf("inconsistency policy: got %q", c.InconsistencyPolicy)
	}
	if !c.StopWinsOverStart {
		t.Error("stop_wins_over_start should default to true")
	}
	if c.LogLevel != slog.LevelInfo {
		t.Errorf("log level: got %v, want info", c.LogLevel)
	}
	if c.Tools["gzip"] != "gzip" {
		t.Errorf("default tools missing gzip: %v", c.Tools)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipe.yaml")
	content := []byte(`
engine:
  grace_period_sec: 3
logging:
  level: debug
tools:
  bowtie2: /opt/bowtie2/bowtie2
parameters:
  bowtie2: "--very-sensitive"
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.GracePeriod != 3*time.Second {
		t.Errorf("grace period: got %s, want 3s", c.GracePeriod)
	}
	if c.LogLevel != slog.LevelDebug {
		t.Errorf("log level: got %v, want debug", c.LogLevel)
	}
	if c.Tools["bowtie2"] != "/opt/bowtie2/bowtie2" {
		t.Errorf("tools not merged: %v", c.Tools)
	}
	// Defaults survive a partial file.
	if c.Tools["gzip"] != "gzip" {
		t.Errorf("default tool lost in merge: %v", c.Tools)
	}
	if c.Parameters["bowtie2"] != "--very-sensitive" {
		t.Errorf("parameters not merged: %v", c.Parameters)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CONVEYOR_ENGINE_GRACE_PERIOD_SEC", "7")
	t.Setenv("CONVEYOR_LOGGING_LEVEL", "error")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.GracePeriod != 7*time.Second {
		t.Errorf("grace period from env: got %s, want 7s", c.GracePeriod)
	}
	if c.LogLevel != slog.LevelError {
		t.Errorf("log level from env: got %v, want error", c.LogLevel)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad-grace.yaml")
	os.WriteFile(bad, []byte("engine:\n  grace_period_sec: 0\n"), 0644)
	if _, err := Load(bad); err == nil {
		t.Error("expected error for zero grace period")
	}

	bad = filepath.Join(dir, "bad-policy.yaml")
	os.WriteFile(bad, []byte("engine:\n  inconsistency_policy: shrug\n"), 0644)
	if _, err := Load(bad); err == nil {
		t.Error("expected error for unknown inconsistency policy")
	}
}

func TestDefaultPath_XDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	p, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath failed: %v", err)
	}
	if p != filepath.Join(dir, "conveyor") {
		t.Errorf("DefaultPath: got %s", p)
	}
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
