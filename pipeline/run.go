package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/cleanup"
	"github.com/msageha/conveyor/recovery"
)

// Run executes stages in declaration order and blocks until the run reaches
// a terminal state. The returned state is one of Completed, Paused, Halted,
// or Failed; the error is non-nil for Failed and Halted. Cancelling ctx is
// equivalent to delivering a termination signal.
func (m *Manager) Run(ctx context.Context, stages ...Stage) (RunState, error) {
	if err := validate(m.name, stages); err != nil {
		m.transition(StateFailed)
		return StateFailed, err
	}

	// One run per output folder at a time. Nothing on disk is touched
	// until the lock is held.
	if err := m.runLock.TryLock(); err != nil {
		m.transition(StateFailed)
		return StateFailed, fmt.Errorf("pipeline %s: %w", m.name, err)
	}
	defer m.runLock.Unlock()

	m.startedAt = time.Now()

	restore := m.installSignals()
	defer restore()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancelRun = cancel
	m.mu.Unlock()

	if m.newStart {
		m.logger.Info("new start requested, clearing prior run state", "pipeline", m.name)
		if err := m.store.ClearAll(m.name); err != nil {
			return m.failRun(err)
		}
		if err := m.manifest.Reset(); err != nil {
			return m.failRun(err)
		}
		if err := recovery.Disarm(m.dir, m.name); err != nil {
			return m.failRun(fmt.Errorf("disarm recovery: %w", err))
		}
	}

	// A pending dynamic arm is consumed here, whether or not the manual
	// flag was also given. An interrupted run re-arms it on the way out.
	mode, err := recovery.EffectiveMode(m.dir, m.name, m.recoverFlag)
	if err != nil {
		return m.failRun(fmt.Errorf("resolve recovery mode: %w", err))
	}
	m.mode = mode

	if err := m.store.SetPipelineStatus(m.name, checkpoint.StatusInitializing); err != nil {
		return m.failRun(err)
	}

	statuses, err := m.store.List(m.name)
	if err != nil {
		return m.failRun(err)
	}
	plan := recovery.Compute(orderedKeys(m.name, stages), mode, statuses)
	if plan.Boundary != nil {
		m.logger.Info("resuming interrupted work",
			"mode", mode, "boundary", plan.Boundary.String(), "skips", plan.Skips())
	} else if n := plan.Skips(); n > 0 {
		m.logger.Info("honoring completed markers", "mode", mode, "skips", n)
	}

	bounds, err := m.resolveBoundaries(stages)
	if err != nil {
		return m.failRun(err)
	}

	m.transition(StateRunning)
	if err := m.store.SetPipelineStatus(m.name, checkpoint.StatusRunning); err != nil {
		return m.failRun(err)
	}
	m.writeRunDoc()
	m.logger.Info("pipeline started",
		"pipeline", m.name, "run_id", m.runID, "mode", mode, "stages", len(stages))

	if bounds.emptyWindow {
		m.logger.Info("stop boundary precedes start point, nothing to execute")
		return m.pauseRun("")
	}

	for i, stage := range stages {
		if m.interrupted(runCtx) {
			return m.haltRun()
		}
		if m.pauseFlag.Load() {
			return m.pauseRun(stage.Name)
		}
		if bounds.stopBefore == i {
			m.logger.Info("stopping before stage as requested", "stage", stage.Name)
			return m.pauseRun(stage.Name)
		}
		if i < bounds.start {
			m.logger.Info("skipping stage before start point", "stage", stage.Name)
			continue
		}

		stageStart := time.Now()
		outcome, err := m.runStage(runCtx, stage, plan)
		switch outcome {
		case stageFailed:
			return m.failRun(err)
		case stageHalted:
			return m.haltRun()
		case stagePaused:
			return m.pauseRun(stage.Name)
		}

		if stage.Checkpoint {
			if err := m.writeStageBoundary(stage, plan); err != nil {
				return m.failRun(err)
			}
		}
		m.reporter.StageDone(stage.Name, time.Since(stageStart))

		if bounds.stopAfter == i {
			m.logger.Info("stopping after stage as requested", "stage", stage.Name)
			return m.pauseRun(stage.Name)
		}
	}

	return m.completeRun()
}

// boundaries is the resolved start/stop window over the stage list.
type boundaries struct {
	start      int
	stopBefore int
	stopAfter  int

	// emptyWindow means the stop boundary precedes the start point and the
	// configured precedence says the stop wins: nothing executes.
	emptyWindow bool
}

func (m *Manager) resolveBoundaries(stages []Stage) (boundaries, error) {
	b := boundaries{start: 0, stopBefore: -1, stopAfter: -1}

	if m.startAt != "" {
		i := stageIndex(stages, m.startAt)
		if i < 0 {
			return b, fmt.Errorf("unknown start-at stage %q", m.startAt)
		}
		b.start = i
	}
	if m.stopBefore != "" && m.stopAfter != "" {
		return b, errors.New("stop-before and stop-after are mutually exclusive")
	}
	if m.stopBefore != "" {
		i := stageIndex(stages, m.stopBefore)
		if i < 0 {
			return b, fmt.Errorf("unknown stop-before stage %q", m.stopBefore)
		}
		b.stopBefore = i
	}
	if m.stopAfter != "" {
		i := stageIndex(stages, m.stopAfter)
		if i < 0 {
			return b, fmt.Errorf("unknown stop-after stage %q", m.stopAfter)
		}
		b.stopAfter = i
	}

	stopPrecedesStart := (b.stopBefore >= 0 && b.stopBefore <= b.start) ||
		(b.stopAfter >= 0 && b.stopAfter < b.start)
	if stopPrecedesStart {
		if m.startAt == "" || m.cfg.StopWinsOverStart {
			b.emptyWindow = true
		} else {
			m.logger.Warn("ignoring stop request that precedes the start point",
				"start_at", m.startAt, "stop_before", m.stopBefore, "stop_after", m.stopAfter)
			b.stopBefore, b.stopAfter = -1, -1
		}
	}
	return b, nil
}

// writeStageBoundary records the stage-level completion marker. A boundary
// already marked completed by a prior run is left alone.
func (m *Manager) writeStageBoundary(stage Stage, plan *recovery.Plan) error {
	key := checkpoint.NewKey(m.name, stage.Name)
	if plan.Decision(key) == recovery.DecisionSkip {
		return nil
	}
	if err := m.store.Clear(key); err != nil {
		return err
	}
	if err := m.store.MarkInitializing(key); err != nil {
		return err
	}
	return m.store.MarkCompleted(key)
}

// completeRun is the normal exit: completed flag, recovery disarmed,
// intermediates cleaned per policy.
func (m *Manager) completeRun() (RunState, error) {
	if err := m.store.SetPipelineStatus(m.name, checkpoint.StatusCompleted); err != nil {
		return m.failRun(err)
	}
	if err := recovery.Disarm(m.dir, m.name); err != nil {
		return m.failRun(fmt.Errorf("disarm recovery: %w", err))
	}
	deleted, err := m.manifest.Flush(cleanup.OutcomeCompleted, m.dirty)
	if err != nil {
		return m.failRun(err)
	}
	m.transition(StateCompleted)
	m.writeRunDoc()
	m.logger.Info("pipeline completed",
		"pipeline", m.name, "steps_run", m.stepsRun, "steps_skipped", m.stepsSkipped,
		"cleaned", len(deleted))
	return StateCompleted, nil
}

// pauseRun stops at a boundary, leaving the run resumable. Not an error:
// the paused flag plus intact markers are the resume contract.
func (m *Manager) pauseRun(at string) (RunState, error) {
	if err := m.store.SetPipelineStatus(m.name, checkpoint.StatusPaused); err != nil {
		return m.failRun(err)
	}
	if _, err := m.manifest.Flush(cleanup.OutcomePaused, m.dirty); err != nil {
		return m.failRun(err)
	}
	m.transition(StatePaused)
	m.writeRunDoc()
	m.logger.Info("pipeline paused", "pipeline", m.name, "at", at)
	return StatePaused, nil
}

// haltRun is the signal exit path. It runs on the main path after the
// interrupt flag is observed; the signal handler itself only set flags and
// terminated the active child.
func (m *Manager) haltRun() (RunState, error) {
	sig := "context canceled"
	if s := m.signal(); s != 0 {
		sig = s.String()
	}

	interruptedStep := m.interruptedStep
	if interruptedStep != "" {
		if err := recovery.Arm(m.dir, m.name, interruptedStep); err != nil {
			m.logger.Error("cannot arm dynamic recovery", "err", err)
		} else {
			m.logger.Info("dynamic recovery armed", "interrupted_step", interruptedStep)
		}
	}

	if err := m.store.SetPipelineStatus(m.name, checkpoint.StatusFailed); err != nil {
		m.logger.Error("cannot write halted flag", "err", err)
	}
	if _, err := m.manifest.Flush(cleanup.OutcomeFailed, m.dirty); err != nil {
		m.logger.Error("cannot flush cleanup manifest", "err", err)
	}

	m.transition(StateHalted)
	m.writeRunDoc()
	m.logger.Warn("pipeline halted", "pipeline", m.name, "signal", sig, "step", interruptedStep)
	return StateHalted, &HaltedError{Pipeline: m.name, Step: interruptedStep, Signal: sig}
}

// failRun is the single fatal exit: one consolidated error, failed flag,
// cleanup script for the leftovers.
func (m *Manager) failRun(cause error) (RunState, error) {
	if err := m.store.SetPipelineStatus(m.name, checkpoint.StatusFailed); err != nil {
		m.logger.Error("cannot write failed flag", "err", err)
	}
	if _, err := m.manifest.Flush(cleanup.OutcomeFailed, m.dirty); err != nil {
		m.logger.Error("cannot flush cleanup manifest", "err", err)
	}
	m.transition(StateFailed)
	m.writeRunDoc()
	m.logger.Error("pipeline failed", "pipeline", m.name, "err", cause)
	return StateFailed, cause
}
