package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/cleanup"
	"github.com/msageha/conveyor/config"
	"github.com/msageha/conveyor/internal/lock"
	"github.com/msageha/conveyor/recovery"
	"github.com/msageha/conveyor/report"
	"github.com/msageha/conveyor/supervisor"
)

// Manager drives one pipeline run: it owns the checkpoint store, the
// cleanup manifest, the child supervisor, and the signal handling. Create
// one per invocation; after Run returns a terminal state the manager is
// spent.
type Manager struct {
	name string
	dir  string
	cfg  *config.Config

	logger   *slog.Logger
	out      io.Writer // console + {pipe}_log.txt tee, shared with children
	logClose io.Closer

	store    *checkpoint.Store
	manifest *cleanup.Manifest
	stats    *report.Stats
	profile  *report.Profile
	reporter report.Multi
	sup      *supervisor.Supervisor
	runLock  *lock.FileLock

	// invocation options
	recoverFlag bool
	newStart    bool
	dirty       bool
	follow      bool
	startAt     string
	stopBefore  string
	stopAfter   string
	container   string
	noSignals   bool
	userLogger  *slog.Logger

	// run state; mutated on the main path only
	state      RunState
	mode       recovery.Mode
	runID      string
	startedAt  time.Time
	activeStep string
	// interruptedStep is the step whose marker was mid-flight when a
	// termination request ended the run; it decides dynamic-recovery arming.
	interruptedStep string

	stepsRun     int
	stepsSkipped int
	failedSteps  []string

	// signal path state: atomics plus child termination only
	haltFlag  atomic.Bool
	pauseFlag atomic.Bool
	sigVal    atomic.Int32

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig injects resolved configuration instead of loading defaults.
func WithConfig(cfg *config.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithRecover forces manual recovery mode for this invocation.
func WithRecover() Option {
	return func(m *Manager) { m.recoverFlag = true }
}

// WithNewStart wipes all markers and cleanup state before running.
func WithNewStart() Option {
	return func(m *Manager) { m.newStart = true }
}

// WithDirty keeps every intermediate file; deletions only ever land in the
// generated cleanup script.
func WithDirty() Option {
	return func(m *Manager) { m.dirty = true }
}

// WithFollow runs step Follow functions even when the step is skipped.
func WithFollow() Option {
	return func(m *Manager) { m.follow = true }
}

// WithStartAt skips every stage before the named one without consulting
// markers.
func WithStartAt(stage string) Option {
	return func(m *Manager) { m.startAt = stage }
}

// WithStopBefore pauses the run at the boundary before the named stage.
func WithStopBefore(stage string) Option {
	return func(m *Manager) { m.stopBefore = stage }
}

// WithStopAfter pauses the run once the named stage's boundary is written.
func WithStopAfter(stage string) Option {
	return func(m *Manager) { m.stopAfter = stage }
}

// WithContainer runs every child inside the named container.
func WithContainer(name string) Option {
	return func(m *Manager) { m.container = name }
}

// WithReporter adds a reporting sink alongside the built-in ones.
func WithReporter(r report.Reporter) Option {
	return func(m *Manager) {
		if r != nil {
			m.reporter = append(m.reporter, r)
		}
	}
}

// WithLogger replaces the default tee logger. Child process output still
// goes to the pipeline log.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.userLogger = l }
}

// WithoutSignals leaves signal handling to the embedding program, which
// should call Interrupt itself.
func WithoutSignals() Option {
	return func(m *Manager) { m.noSignals = true }
}

// New prepares a manager for one run of the named pipeline, with all its
// on-disk state under outfolder.
func New(name, outfolder string, opts ...Option) (*Manager, error) {
	if name == "" {
		return nil, fmt.Errorf("pipeline name must not be empty")
	}

	m := &Manager{
		name:  name,
		dir:   outfolder,
		state: StateInitializing,
		mode:  recovery.ModeNone,
		runID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		m.cfg = cfg
	}

	store, err := checkpoint.NewStore(outfolder)
	if err != nil {
		return nil, err
	}
	m.store = store

	logPath := filepath.Join(outfolder, checkpoint.Sanitize(name)+"_log.txt")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open pipeline log: %w", err)
	}
	m.logClose = logFile
	m.out = io.MultiWriter(os.Stdout, logFile)

	if m.userLogger != nil {
		m.logger = m.userLogger
	} else {
		m.logger = slog.New(slog.NewTextHandler(m.out, &slog.HandlerOptions{
			Level: m.cfg.LogLevel,
		}))
	}

	manifest, err := cleanup.Load(outfolder, name, m.logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	m.manifest = manifest

	stats, err := report.OpenStats(outfolder, name)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	m.stats = stats

	profile, err := report.OpenProfile(outfolder, name)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	m.profile = profile

	m.reporter = append(report.Multi{&report.LogReporter{Logger: m.logger}, profile}, m.reporter...)

	supOpts := []supervisor.Option{
		supervisor.WithGrace(m.cfg.GracePeriod),
		supervisor.WithLogger(m.logger),
	}
	if m.container != "" {
		supOpts = append(supOpts, supervisor.WithContainer(m.container))
	}
	m.sup = supervisor.New(supOpts...)

	m.runLock = lock.NewFileLock(filepath.Join(outfolder, checkpoint.Sanitize(name)+".lock"))

	return m, nil
}

// Close releases the pipeline log. Call after Run.
func (m *Manager) Close() error {
	if m.logClose != nil {
		err := m.logClose.Close()
		m.logClose = nil
		return err
	}
	return nil
}

func (m *Manager) Name() string         { return m.name }
func (m *Manager) Dir() string          { return m.dir }
func (m *Manager) State() RunState      { return m.state }
func (m *Manager) Mode() recovery.Mode  { return m.mode }
func (m *Manager) RunID() string        { return m.runID }
func (m *Manager) Logger() *slog.Logger { return m.logger }
func (m *Manager) Stats() *report.Stats { return m.stats }

// StepsRun and StepsSkipped count executed versus marker- or target-skipped
// steps for the finished run.
func (m *Manager) StepsRun() int     { return m.stepsRun }
func (m *Manager) StepsSkipped() int { return m.stepsSkipped }

// FailedSteps lists every step recorded as failed, nofail ones included.
func (m *Manager) FailedSteps() []string {
	return append([]string(nil), m.failedSteps...)
}

// ReportResult records a key/value result in the pipeline's stats file.
func (m *Manager) ReportResult(key string, value any) error {
	return m.stats.Report(key, value)
}

// CleanAdd registers an artifact in the cleanup manifest from author code.
func (m *Manager) CleanAdd(path string, policy cleanup.Policy) error {
	return m.manifest.Add(path, policy, m.activeStep)
}

// Interrupt is the programmatic equivalent of a termination signal, for
// embedders that manage their own signals.
func (m *Manager) Interrupt() {
	m.sigVal.CompareAndSwap(0, int32(syscall.SIGTERM))
	m.haltFlag.Store(true)
	m.mu.Lock()
	cancel := m.cancelRun
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Halt asks the run to pause at the next step boundary, as if a stop-at
// request had been reached. The current step finishes first.
func (m *Manager) Halt() {
	m.pauseFlag.Store(true)
}

func (m *Manager) halted() bool { return m.haltFlag.Load() }

// installSignals wires SIGINT/SIGTERM into the halt flag and child
// termination. Repeated deliveries coalesce into the first: they re-confirm
// the termination request but never restart it, so the child is signalled
// once and reaped exactly once.
func (m *Manager) installSignals() func() {
	if m.noSignals {
		return func() {}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})

	go func() {
		first := true
		for {
			select {
			case sig := <-sigCh:
				if s, ok := sig.(syscall.Signal); ok {
					m.sigVal.CompareAndSwap(0, int32(s))
				}
				if !first {
					m.logger.Warn("termination already in progress", "signal", sig.String())
				}
				first = false
				m.haltFlag.Store(true)
				m.mu.Lock()
				cancel := m.cancelRun
				m.mu.Unlock()
				if cancel != nil {
					cancel()
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func (m *Manager) transition(to RunState) {
	if err := ValidateRunTransition(m.state, to); err != nil {
		m.logger.Error("run state machine violation", "err", err)
		return
	}
	m.state = to
}

func (m *Manager) signal() syscall.Signal {
	return syscall.Signal(m.sigVal.Load())
}
