// Package supervisor spawns and reaps child processes for pipeline steps.
// Every spawn gets its own process group so that termination reaches the
// whole tree, termination is graceful first and forced after a bounded
// grace period, and every child is reaped exactly once.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultGrace is how long a process group gets between SIGTERM and
// SIGKILL when the caller does not configure a grace period.
const DefaultGrace = 15 * time.Second

// ExitError reports a chain that finished without full success. For pipe
// chains the earliest failing segment wins.
type ExitError struct {
	Cmd      string
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

func (e *ExitError) Error() string {
	if e.Signaled {
		return fmt.Sprintf("command %q terminated by signal %s", e.Cmd, e.Signal)
	}
	return fmt.Sprintf("command %q exited with code %d", e.Cmd, e.Code)
}

// Outcome summarizes one finished spawn.
type Outcome struct {
	Pid      int
	ExitCode int
	Signaled bool
	Signal   syscall.Signal
	Start    time.Time
	Duration time.Duration
}

func (o Outcome) Success() bool {
	return !o.Signaled && o.ExitCode == 0
}

// Streams carries the I/O the children inherit. Nil writers fall back to
// the supervisor process's own stdout/stderr.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Supervisor spawns commands. Construct with New.
type Supervisor struct {
	grace     time.Duration
	container string
	logger    *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGrace sets the SIGTERM→SIGKILL grace period.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithContainer makes every command execute inside the named running
// container via docker exec.
func WithContainer(name string) Option {
	return func(s *Supervisor) { s.container = name }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		grace:  DefaultGrace,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Grace() time.Duration { return s.grace }

// Handle tracks one live spawn: a single command or a pipe chain sharing a
// process group.
type Handle struct {
	name  string
	pgid  int
	cmds  []*exec.Cmd
	grace time.Duration

	logger *slog.Logger

	closers []io.Closer

	termOnce   sync.Once
	terminated atomic.Bool

	done chan struct{}

	waitOnce sync.Once
	outcome  Outcome
	waitErr  error
	start    time.Time
}

// Pid returns the group leader's PID.
func (h *Handle) Pid() int { return h.pgid }

// Terminated reports whether termination was requested for this handle.
func (h *Handle) Terminated() bool { return h.terminated.Load() }

// Start spawns a single command or a pipe chain. All segments join the
// first segment's process group. The returned handle must be Wait()ed.
func (s *Supervisor) Start(ctx context.Context, streams Streams, chain ...Command) (*Handle, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty command chain")
	}
	if s.container != "" {
		wrapped := make([]Command, len(chain))
		for i, c := range chain {
			wrapped[i] = c.wrapContainer(s.container)
		}
		chain = wrapped
	}

	h := &Handle{
		name:   chain[0].Name(),
		grace:  s.grace,
		logger: s.logger,
		done:   make(chan struct{}),
	}

	if streams.Stdout == nil {
		streams.Stdout = os.Stdout
	}
	if streams.Stderr == nil {
		streams.Stderr = os.Stderr
	}

	cmds := make([]*exec.Cmd, len(chain))
	for i, c := range chain {
		if len(c.Argv) == 0 {
			return nil, fmt.Errorf("chain segment %d has no argv", i)
		}
		cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
		cmd.Dir = c.Dir
		cmd.Env = append(os.Environ(), c.Env...)
		cmd.Stderr = streams.Stderr
		cmds[i] = cmd
	}

	// Wire the chain: stdout of segment i feeds stdin of segment i+1.
	cmds[0].Stdin = streams.Stdin
	for i := 0; i < len(cmds)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			h.closeAll()
			return nil, fmt.Errorf("create pipe: %w", err)
		}
		cmds[i].Stdout = pw
		cmds[i+1].Stdin = pr
		h.closers = append(h.closers, pr, pw)
	}

	last := chain[len(chain)-1]
	if last.StdoutPath != "" {
		flags := os.O_CREATE | os.O_WRONLY
		if last.AppendOut {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		out, err := os.OpenFile(last.StdoutPath, flags, 0644)
		if err != nil {
			h.closeAll()
			return nil, fmt.Errorf("open stdout redirect: %w", err)
		}
		cmds[len(cmds)-1].Stdout = out
		h.closers = append(h.closers, out)
	} else {
		cmds[len(cmds)-1].Stdout = streams.Stdout
	}

	// Spawn in order. The first segment leads a fresh process group; the
	// rest join it so one group signal reaches every segment.
	h.start = time.Now()
	for i, cmd := range cmds {
		attr := &syscall.SysProcAttr{Setpgid: true}
		if i > 0 {
			attr.Pgid = h.pgid
		}
		cmd.SysProcAttr = attr

		if err := cmd.Start(); err != nil {
			h.abortStarted(cmds[:i])
			h.closeAll()
			return nil, fmt.Errorf("start %q: %w", chain[i].Name(), err)
		}
		if i == 0 {
			h.pgid = cmd.Process.Pid
		}
	}
	h.cmds = cmds

	// Children hold their own copies of every wired fd; the parent's must
	// close now or pipe readers never see EOF.
	h.closeAll()

	s.logger.Debug("spawned", "cmd", h.name, "pid", h.pgid, "segments", len(cmds))

	// Cancellation terminates the group but never skips the reap.
	go func() {
		select {
		case <-ctx.Done():
			h.Terminate()
		case <-h.done:
		}
	}()

	return h, nil
}

// Run is Start followed by Wait.
func (s *Supervisor) Run(ctx context.Context, streams Streams, chain ...Command) (Outcome, error) {
	h, err := s.Start(ctx, streams, chain...)
	if err != nil {
		return Outcome{}, err
	}
	return h.Wait()
}

// Terminate requests graceful shutdown of the process group: SIGTERM now,
// SIGKILL after the grace period unless the group exits first. Repeated
// calls coalesce into the first; none of them block.
func (h *Handle) Terminate() {
	h.termOnce.Do(func() {
		h.terminated.Store(true)
		go func() {
			h.logger.Debug("terminating", "cmd", h.name, "pgid", h.pgid)
			h.signalGroup(syscall.SIGTERM)
			select {
			case <-h.done:
			case <-time.After(h.grace):
				h.logger.Warn("grace period expired, killing", "cmd", h.name, "pgid", h.pgid)
				h.signalGroup(syscall.SIGKILL)
			}
		}()
	})
}

func (h *Handle) signalGroup(sig syscall.Signal) {
	if err := syscall.Kill(-h.pgid, sig); err != nil && err != syscall.ESRCH {
		h.logger.Warn("signal group failed", "pgid", h.pgid, "sig", sig, "err", err)
	}
}

// Wait reaps every segment exactly once and classifies the result. It is
// safe to call from multiple goroutines; all callers see the same outcome.
func (h *Handle) Wait() (Outcome, error) {
	h.waitOnce.Do(func() {
		h.outcome, h.waitErr = h.wait()
	})
	return h.outcome, h.waitErr
}

func (h *Handle) wait() (Outcome, error) {
	g := new(errgroup.Group)
	for _, cmd := range h.cmds {
		cmd := cmd
		g.Go(func() error {
			// Non-zero exits are expected here and classified from
			// ProcessState below; only plumbing failures propagate.
			err := cmd.Wait()
			var ee *exec.ExitError
			if err != nil && !errors.As(err, &ee) {
				return fmt.Errorf("wait %s: %w", cmd.Path, err)
			}
			return nil
		})
	}
	werr := g.Wait()
	close(h.done)

	out := Outcome{
		Pid:      h.pgid,
		Start:    h.start,
		Duration: time.Since(h.start),
	}
	if werr != nil {
		return out, werr
	}

	// Earliest failing segment decides the outcome.
	for i, cmd := range h.cmds {
		state := cmd.ProcessState
		if state == nil {
			return out, fmt.Errorf("segment %d has no process state", i)
		}
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			out.Signaled = true
			out.Signal = ws.Signal()
			out.ExitCode = 128 + int(ws.Signal())
			return out, &ExitError{Cmd: h.name, Signaled: true, Signal: ws.Signal()}
		}
		if code := state.ExitCode(); code != 0 {
			out.ExitCode = code
			return out, &ExitError{Cmd: h.name, Code: code}
		}
	}
	return out, nil
}

func (h *Handle) abortStarted(started []*exec.Cmd) {
	if h.pgid > 0 {
		_ = syscall.Kill(-h.pgid, syscall.SIGKILL)
	}
	for _, cmd := range started {
		_ = cmd.Wait()
	}
}

func (h *Handle) closeAll() {
	for _, c := range h.closers {
		_ = c.Close()
	}
	h.closers = nil
}
