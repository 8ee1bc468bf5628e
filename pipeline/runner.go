package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/cleanup"
	"github.com/msageha/conveyor/config"
	"github.com/msageha/conveyor/internal/lock"
	"github.com/msageha/conveyor/recovery"
	"github.com/msageha/conveyor/report"
	"github.com/msageha/conveyor/supervisor"
)

type stageOutcome int

const (
	stageCompleted stageOutcome = iota
	stagePaused
	stageHalted
	stageFailed
)

type stepStatus int

const (
	stepOK stepStatus = iota
	stepHalted
	stepFatal
)

// runStage executes the stage's steps in order against the recovery plan.
// The returned error is the consolidated failure for stageFailed; the other
// outcomes carry no error.
func (m *Manager) runStage(ctx context.Context, stage Stage, plan *recovery.Plan) (stageOutcome, error) {
	m.logger.Info("stage start", "stage", stage.Name, "steps", len(stage.Steps))

	for _, step := range stage.Steps {
		if m.interrupted(ctx) {
			return stageHalted, nil
		}
		if m.pauseFlag.Load() {
			return stagePaused, nil
		}

		key := checkpoint.NewKey(m.name, step.Name)
		decision := plan.Decision(key)

		if decision == recovery.DecisionSkip {
			rerun, st, err := m.skipStep(ctx, step, key)
			if st == stepHalted {
				return stageHalted, nil
			}
			if err != nil {
				return stageFailed, m.consolidate(step.Name, err)
			}
			if !rerun {
				continue
			}
			// Stale marker: policy ordered a re-run despite the skip.
			decision = recovery.DecisionForceRerun
		}

		st, err := m.runStep(ctx, step, key, decision)
		switch st {
		case stepHalted:
			// The step's initializing/running marker is still live, which
			// is exactly what arms dynamic recovery.
			m.interruptedStep = step.Name
			return stageHalted, nil
		case stepFatal:
			return stageFailed, m.consolidate(step.Name, err)
		}
	}
	return stageCompleted, nil
}

// consolidate wraps the earliest fatal cause into the single error the run
// surfaces, with every recorded failure listed alongside.
func (m *Manager) consolidate(step string, cause error) error {
	var sfe *StepFailureError
	if errors.As(cause, &sfe) {
		return cause
	}
	return &StepFailureError{
		Pipeline: m.name,
		Step:     step,
		Cause:    cause,
		Failed:   append([]string(nil), m.failedSteps...),
	}
}

// skipStep honors a completed marker. Expected outputs are validated where
// the step declares targets; a missing one is a recovery inconsistency that
// either forces a re-run or is loudly tolerated, per configuration.
func (m *Manager) skipStep(ctx context.Context, step Step, key checkpoint.Key) (rerun bool, st stepStatus, err error) {
	if missing := m.missingTargets(step); len(missing) > 0 {
		inc := &recovery.Inconsistency{Key: key, Missing: missing}
		if m.cfg.InconsistencyPolicy == config.InconsistencyWarnAndRun {
			m.logger.Warn("recovery inconsistency, re-running step", "step", step.Name, "detail", inc.Error())
			return true, stepOK, nil
		}
		m.logger.Warn("recovery inconsistency, trusting marker", "step", step.Name, "detail", inc.Error())
	}

	m.logger.Info("step already completed, skipping", "step", step.Name)
	m.stepsSkipped++

	if m.follow && step.Follow != nil {
		if ferr := step.Follow(ctx); ferr != nil {
			if m.interrupted(ctx) {
				return false, stepHalted, nil
			}
			if step.NoFail {
				m.logger.Warn("follow failed on skipped step (nofail)", "step", step.Name, "err", ferr)
				m.reporter.StepDone(key.String(), report.ResultNoFailFailed, 0)
				return false, stepOK, nil
			}
			m.reporter.StepDone(key.String(), report.ResultFailed, 0)
			return false, stepFatal, ferr
		}
	}

	m.reporter.StepDone(key.String(), report.ResultSkipped, 0)
	return false, stepOK, nil
}

// runStep drives one step through its marker lifecycle: clear leftovers,
// initializing before any spawn, running across the spawns, then completed
// or failed. Interruption leaves the running marker in place for recovery.
func (m *Manager) runStep(ctx context.Context, step Step, key checkpoint.Key, decision recovery.Decision) (stepStatus, error) {
	if decision == recovery.DecisionForceRerun {
		m.logger.Info("re-running step despite completed marker", "step", step.Name)
	}

	// Whatever an earlier attempt left behind is void once we re-run.
	if err := m.store.Clear(key); err != nil {
		return stepFatal, err
	}
	if err := m.store.MarkInitializing(key); err != nil {
		return stepFatal, err
	}

	m.activeStep = step.Name
	defer func() { m.activeStep = "" }()

	lk := lock.NewStepLock(m.dir, key.String())
	if st, err := m.acquireStepLock(ctx, lk); st != stepOK || err != nil {
		return st, err
	}
	defer lk.Release()

	// Declared intermediates are registered before anything executes, so
	// the manifest can never miss artifacts of a crashed step.
	for _, spec := range step.Cleanup {
		if err := m.manifest.Add(spec.Path, spec.Policy, step.Name); err != nil {
			return stepFatal, err
		}
	}

	start := time.Now()

	// Pre-existing targets satisfy the step without running anything.
	if len(step.Targets) > 0 && len(m.missingTargets(step)) == 0 {
		m.logger.Info("targets exist, skipping commands", "step", step.Name, "targets", step.Targets)
		if err := m.store.MarkCompleted(key); err != nil {
			return stepFatal, err
		}
		m.stepsSkipped++
		if m.follow && step.Follow != nil {
			if ferr := step.Follow(ctx); ferr != nil {
				if m.interrupted(ctx) {
					return stepHalted, nil
				}
				return m.stepFailed(step, key, start, ferr)
			}
		}
		m.reporter.StepDone(key.String(), report.ResultSkipped, time.Since(start))
		return stepOK, nil
	}

	if err := m.store.MarkRunning(key); err != nil {
		return stepFatal, err
	}

	streams := supervisor.Streams{Stdout: m.out, Stderr: m.out}
	for _, task := range step.Tasks {
		m.logger.Info("running", "step", step.Name, "cmd", task[0].String(), "segments", len(task))
		outcome, err := m.sup.Run(ctx, streams, task...)
		if err != nil {
			if m.interrupted(ctx) {
				m.logger.Warn("step interrupted", "step", step.Name, "pid", outcome.Pid)
				return stepHalted, nil
			}
			return m.stepFailed(step, key, start, err)
		}
		m.logger.Debug("command done", "step", step.Name, "pid", outcome.Pid,
			"elapsed", outcome.Duration.Round(time.Millisecond))
	}

	if step.Func != nil {
		if err := step.Func(ctx); err != nil {
			if m.interrupted(ctx) {
				return stepHalted, nil
			}
			return m.stepFailed(step, key, start, err)
		}
	}
	if step.Follow != nil {
		if err := step.Follow(ctx); err != nil {
			if m.interrupted(ctx) {
				return stepHalted, nil
			}
			return m.stepFailed(step, key, start, err)
		}
	}

	if err := m.store.MarkCompleted(key); err != nil {
		return stepFatal, err
	}
	m.stepsRun++
	m.reporter.StepDone(key.String(), report.ResultCompleted, time.Since(start))
	return stepOK, nil
}

// stepFailed records the failure and decides whether it aborts the stage.
// Declared targets are scheduled for on-failure cleanup: a failed step's
// outputs are partial at best.
func (m *Manager) stepFailed(step Step, key checkpoint.Key, start time.Time, cause error) (stepStatus, error) {
	if err := m.store.MarkFailed(key); err != nil {
		// Without the marker the store no longer reflects reality, which
		// recovery cannot tolerate. Fatal even for nofail steps.
		return stepFatal, errors.Join(cause, err)
	}
	m.failedSteps = append(m.failedSteps, step.Name)

	for _, target := range step.Targets {
		if err := m.manifest.Add(target, cleanup.PolicyOnFailure, step.Name); err != nil {
			return stepFatal, errors.Join(cause, err)
		}
	}

	if step.NoFail {
		m.logger.Warn("step failed (nofail), run continues", "step", step.Name, "err", cause)
		m.reporter.StepDone(key.String(), report.ResultNoFailFailed, time.Since(start))
		return stepOK, nil
	}
	m.reporter.StepDone(key.String(), report.ResultFailed, time.Since(start))
	return stepFatal, cause
}

// acquireStepLock takes the step's lock file. A foreign lock means another
// process is, or died while, producing the same outputs: recovery modes
// break it, a normal run waits for its release.
func (m *Manager) acquireStepLock(ctx context.Context, lk *lock.StepLock) (stepStatus, error) {
	for {
		ok, err := lk.Acquire()
		if err != nil {
			return stepFatal, err
		}
		if ok {
			return stepOK, nil
		}

		if m.mode != recovery.ModeNone {
			m.logger.Warn("breaking stale step lock", "lock", lk.Path(), "mode", m.mode)
			if err := lk.Break(); err != nil {
				return stepFatal, err
			}
			continue
		}

		m.logger.Info("foreign lock present, waiting for release", "lock", lk.Path())
		if err := lock.WaitRemoved(ctx, lk.Path()); err != nil {
			if m.interrupted(ctx) {
				return stepHalted, nil
			}
			return stepFatal, err
		}
		if m.interrupted(ctx) {
			return stepHalted, nil
		}
	}
}

func (m *Manager) interrupted(ctx context.Context) bool {
	return m.halted() || ctx.Err() != nil
}

// missingTargets lists declared outputs that do not exist. Relative paths
// resolve against the output folder.
func (m *Manager) missingTargets(step Step) []string {
	var missing []string
	for _, target := range step.Targets {
		if _, err := os.Stat(m.resolvePath(target)); err != nil {
			missing = append(missing, target)
		}
	}
	return missing
}

func (m *Manager) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}
