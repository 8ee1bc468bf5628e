package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

func TestManifest_AddPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(dir, "wordseq", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("fresh manifest should be empty, got %d", m.Len())
	}

	if err := m.Add("tmp/*.sam", PolicyAlways, "align"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := m.Add("out/partial.bam", PolicyOnFailure, "align"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	// Duplicate registration is a no-op.
	if err := m.Add("tmp/*.sam", PolicyAlways, "align"); err != nil {
		t.Fatalf("duplicate Add failed: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("entries: got %d, want 2", m.Len())
	}

	// A crashed process must not lose registrations.
	m2, err := Load(dir, "wordseq", nil)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if m2.Len() != 2 {
		t.Fatalf("reloaded entries: got %d, want 2", m2.Len())
	}
}

func TestFlush_SuccessDeletesAlwaysEntries(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "inter1.tmp"))
	touch(t, filepath.Join(dir, "inter2.tmp"))
	touch(t, filepath.Join(dir, "suspect.out"))

	m, _ := Load(dir, "wordseq", nil)
	m.Add("*.tmp", PolicyAlways, "trim")
	m.Add("suspect.out", PolicyOnFailure, "align")

	deleted, err := m.Flush(OutcomeCompleted, false)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted: got %v, want both .tmp files", deleted)
	}
	if _, err := os.Stat(filepath.Join(dir, "inter1.tmp")); !os.IsNotExist(err) {
		t.Error("always-policy artifact should be deleted on success")
	}
	if _, err := os.Stat(filepath.Join(dir, "suspect.out")); err != nil {
		t.Error("on-failure artifact must survive a successful run")
	}

	script, err := os.ReadFile(m.ScriptPath())
	if err != nil {
		t.Fatalf("script not written: %v", err)
	}
	if strings.Contains(string(script), "suspect.out") {
		t.Error("on-failure entry must not appear in the script of a successful run")
	}
}

func TestFlush_FailureSchedulesInsteadOfDeleting(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "inter.tmp"))
	touch(t, filepath.Join(dir, "suspect.out"))

	m, _ := Load(dir, "wordseq", nil)
	m.Add("inter.tmp", PolicyAlways, "trim")
	m.Add("suspect.out", PolicyOnFailure, "align")

	deleted, err := m.Flush(OutcomeFailed, false)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("failed runs must not delete anything, got %v", deleted)
	}

	script, err := os.ReadFile(m.ScriptPath())
	if err != nil {
		t.Fatalf("script not written: %v", err)
	}
	for _, want := range []string{"inter.tmp", "suspect.out"} {
		if !strings.Contains(string(script), want) {
			t.Errorf("script missing %s:\n%s", want, script)
		}
	}

	info, _ := os.Stat(m.ScriptPath())
	if info.Mode().Perm() != 0755 {
		t.Errorf("script should be executable, got %v", info.Mode().Perm())
	}
}

func TestFlush_ScriptResolvesRelativeEntries(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "part.tmp"))

	m, _ := Load(dir, "wordseq", nil)
	m.Add("part.tmp", PolicyAlways, "trim")
	m.Add("/var/tmp/conveyor-abs.out", PolicyManual, "dump")

	if _, err := m.Flush(OutcomeFailed, false); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// The script may be executed from any directory, so a relative entry
	// must come out anchored to the output folder, not the runner's cwd.
	script, err := os.ReadFile(m.ScriptPath())
	if err != nil {
		t.Fatalf("script not written: %v", err)
	}
	want := "rm -rf " + filepath.Join(dir, "part.tmp")
	if !strings.Contains(string(script), want) {
		t.Errorf("script should anchor relative entries to the output folder, want %q in:\n%s", want, script)
	}
	for _, line := range strings.Split(string(script), "\n") {
		if strings.HasPrefix(line, "rm -rf part.tmp") {
			t.Errorf("script still holds an unanchored path:\n%s", line)
		}
	}
	if !strings.Contains(string(script), "rm -rf /var/tmp/conveyor-abs.out") {
		t.Errorf("absolute entries must pass through untouched:\n%s", script)
	}
}

func TestFlush_DirtyNeverDeletes(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "inter.tmp"))

	m, _ := Load(dir, "wordseq", nil)
	m.Add("inter.tmp", PolicyAlways, "trim")

	deleted, err := m.Flush(OutcomeCompleted, true)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("dirty mode must not delete, got %v", deleted)
	}

	script, _ := os.ReadFile(m.ScriptPath())
	if !strings.Contains(string(script), "inter.tmp") {
		t.Error("dirty mode should schedule always-policy entries in the script")
	}
}

func TestFlush_ManualAlwaysScheduled(t *testing.T) {
	dir := t.TempDir()
	m, _ := Load(dir, "wordseq", nil)
	m.Add("keep/raw-dump", PolicyManual, "dump")

	if _, err := m.Flush(OutcomeCompleted, false); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	script, _ := os.ReadFile(m.ScriptPath())
	if !strings.Contains(string(script), "keep/raw-dump") {
		t.Error("manual entries belong in the script regardless of outcome")
	}
}

func TestFlush_PausedKeepsIntermediates(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "inter.tmp"))
	touch(t, filepath.Join(dir, "suspect.out"))

	m, _ := Load(dir, "wordseq", nil)
	m.Add("inter.tmp", PolicyAlways, "trim")
	m.Add("suspect.out", PolicyOnFailure, "align")

	deleted, err := m.Flush(OutcomePaused, false)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("paused runs must not delete, got %v", deleted)
	}

	script, _ := os.ReadFile(m.ScriptPath())
	if !strings.Contains(string(script), "inter.tmp") {
		t.Error("always entry should be scheduled while paused")
	}
	if strings.Contains(string(script), "suspect.out") {
		t.Error("on-failure entry must not be scheduled while paused")
	}
}

func TestReset_RemovesEverything(t *testing.T) {
	dir := t.TempDir()
	m, _ := Load(dir, "wordseq", nil)
	m.Add("a.tmp", PolicyAlways, "s")
	if _, err := m.Flush(OutcomeFailed, false); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if m.Len() != 0 {
		t.Error("entries should be gone after Reset")
	}

	m2, err := Load(dir, "wordseq", nil)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if m2.Len() != 0 {
		t.Error("persisted doc should be gone after Reset")
	}
	if _, err := os.Stat(m.ScriptPath()); !os.IsNotExist(err) {
		t.Error("script should be gone after Reset")
	}
}

func TestFlush_EmptyManifestWritesHeaderOnlyScript(t *testing.T) {
	dir := t.TempDir()
	m, _ := Load(dir, "wordseq", nil)

	if _, err := m.Flush(OutcomeCompleted, false); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	script, err := os.ReadFile(m.ScriptPath())
	if err != nil {
		t.Fatalf("script not written: %v", err)
	}
	if !strings.HasPrefix(string(script), "#!/bin/sh") {
		t.Errorf("script missing shebang:\n%s", script)
	}
	if !strings.Contains(string(script), "Nothing to clean") {
		t.Errorf("empty manifest note missing:\n%s", script)
	}
}
