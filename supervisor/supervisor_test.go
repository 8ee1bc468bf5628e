package supervisor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestRun_Echo(t *testing.T) {
	var out bytes.Buffer
	s := New()

	outcome, err := s.Run(context.Background(), Streams{Stdout: &out}, Exec("echo", "hello"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !outcome.Success() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if got := strings.TrimSpace(out.String()); got != "hello" {
		t.Errorf("stdout: got %q, want %q", got, "hello")
	}
	if outcome.Pid <= 0 {
		t.Errorf("expected a real pid, got %d", outcome.Pid)
	}
}

func TestRun_ExitCode(t *testing.T) {
	s := New()

	outcome, err := s.Run(context.Background(), Streams{}, Shell("exit 3"))
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}

	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %T: %v", err, err)
	}
	if ee.Code != 3 || ee.Signaled {
		t.Errorf("ExitError: got %+v", ee)
	}
	if outcome.ExitCode != 3 {
		t.Errorf("outcome exit code: got %d, want 3", outcome.ExitCode)
	}
}

func TestRun_PipeChain(t *testing.T) {
	var out bytes.Buffer
	s := New()

	_, err := s.Run(context.Background(), Streams{Stdout: &out},
		Exec("echo", "hello"),
		Exec("tr", "a-z", "A-Z"),
	)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "HELLO" {
		t.Errorf("chain output: got %q, want %q", got, "HELLO")
	}
}

func TestRun_PipeChainMidFailure(t *testing.T) {
	s := New()

	outcome, err := s.Run(context.Background(), Streams{},
		Shell("exit 3"),
		Exec("cat"),
	)
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if ee.Code != 3 {
		t.Errorf("earliest failing segment should win: got code %d, want 3", ee.Code)
	}
	if outcome.ExitCode != 3 {
		t.Errorf("outcome exit code: got %d, want 3", outcome.ExitCode)
	}
}

func TestRun_StdoutRedirect(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	s := New()

	cmd := Exec("echo", "redirected")
	cmd.StdoutPath = target
	if _, err := s.Run(context.Background(), Streams{}, cmd); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := strings.TrimSpace(string(content)); got != "redirected" {
		t.Errorf("redirect content: got %q", got)
	}

	// Append mode keeps the first write.
	cmd.AppendOut = true
	if _, err := s.Run(context.Background(), Streams{}, cmd); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	content, _ = os.ReadFile(target)
	if got := strings.Count(string(content), "redirected"); got != 2 {
		t.Errorf("append: got %d lines, want 2", got)
	}
}

func TestRun_ExtraEnv(t *testing.T) {
	var out bytes.Buffer
	s := New()

	cmd := Shell(`printf "%s" "$GREETING"`)
	cmd.Env = []string{"GREETING=hi there"}
	if _, err := s.Run(context.Background(), Streams{Stdout: &out}, cmd); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "hi there" {
		t.Errorf("env: got %q, want %q", out.String(), "hi there")
	}
}

func TestStart_OwnProcessGroup(t *testing.T) {
	s := New()

	h, err := s.Start(context.Background(), Streams{}, Exec("sleep", "30"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pgid, err := syscall.Getpgid(h.Pid())
	if err != nil {
		t.Fatalf("Getpgid failed: %v", err)
	}
	if pgid != h.Pid() {
		t.Errorf("child should lead its own group: pgid=%d pid=%d", pgid, h.Pid())
	}
	if pgid == syscall.Getpgrp() {
		t.Error("child must not share the test process group")
	}

	h.Terminate()
	if _, err := h.Wait(); err == nil {
		t.Error("expected signal outcome error")
	}
}

func TestTerminate_Graceful(t *testing.T) {
	s := New()

	h, err := s.Start(context.Background(), Streams{}, Exec("sleep", "30"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	h.Terminate()
	outcome, err := h.Wait()

	var ee *ExitError
	if !errors.As(err, &ee) || !ee.Signaled {
		t.Fatalf("expected signaled ExitError, got %v", err)
	}
	if outcome.Signal != syscall.SIGTERM {
		t.Errorf("signal: got %s, want SIGTERM", outcome.Signal)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("graceful termination took %s", elapsed)
	}
	if !h.Terminated() {
		t.Error("Terminated() should be true")
	}
}

func TestTerminate_ForcesKillAfterGrace(t *testing.T) {
	s := New(WithGrace(200 * time.Millisecond))

	h, err := s.Start(context.Background(), Streams{},
		Shell(`trap "" TERM; while true; do sleep 0.1; done`))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the shell a moment to install its trap.
	time.Sleep(150 * time.Millisecond)

	h.Terminate()
	outcome, err := h.Wait()

	var ee *ExitError
	if !errors.As(err, &ee) || !ee.Signaled {
		t.Fatalf("expected signaled ExitError, got %v", err)
	}
	if outcome.Signal != syscall.SIGKILL {
		t.Errorf("signal: got %s, want SIGKILL", outcome.Signal)
	}
}

func TestTerminate_Coalesced(t *testing.T) {
	s := New()

	h, err := s.Start(context.Background(), Streams{}, Exec("sleep", "30"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Repeated requests must collapse into the first and never block.
	h.Terminate()
	h.Terminate()
	h.Terminate()

	first, err1 := h.Wait()
	second, err2 := h.Wait()
	if first != second {
		t.Errorf("Wait not idempotent: %+v vs %+v", first, second)
	}
	if (err1 == nil) != (err2 == nil) {
		t.Errorf("Wait errors differ: %v vs %v", err1, err2)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	outcome, err := s.Run(ctx, Streams{}, Exec("sleep", "30"))
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if !outcome.Signaled {
		t.Errorf("expected signaled outcome, got %+v", outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %s", elapsed)
	}
}

func TestStart_UnknownProgram(t *testing.T) {
	s := New()
	_, err := s.Start(context.Background(), Streams{}, Exec("no-such-binary-armadillo"))
	if err == nil {
		t.Fatal("expected start error")
	}
}

func TestStart_EmptyChain(t *testing.T) {
	s := New()
	if _, err := s.Start(context.Background(), Streams{}); err == nil {
		t.Fatal("expected error for empty chain")
	}
}
