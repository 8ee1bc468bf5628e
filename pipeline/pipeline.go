// Package pipeline runs ordered stages of checkpointed steps under a
// signal-safe controller. Authors declare stages and steps, hand them to a
// Manager, and get restartable execution: completed work is skipped on
// resume, children die with the run, and an interrupted run arms itself to
// recover on the next invocation.
package pipeline

import (
	"context"
	"fmt"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/cleanup"
	"github.com/msageha/conveyor/supervisor"
)

// Task is one spawn: a single command, or several connected into a pipe
// chain sharing one process group.
type Task []supervisor.Command

// Cmd wraps a single command as a Task.
func Cmd(c supervisor.Command) Task { return Task{c} }

// Pipe connects commands stdout-to-stdin as one Task.
func Pipe(cs ...supervisor.Command) Task { return Task(cs) }

// CleanupSpec registers an intermediate artifact while the owning step
// runs.
type CleanupSpec struct {
	Path   string
	Policy cleanup.Policy
}

// Step is a named unit of work: external process spawns and/or an
// in-process function.
type Step struct {
	// Name forms the step's marker key; unique across the pipeline.
	Name string

	// Tasks run in order, each as its own supervised spawn.
	Tasks []Task

	// Func is in-process work, run after Tasks. The context is cancelled
	// when the run is interrupted.
	Func func(ctx context.Context) error

	// NoFail records a failure without aborting the run.
	NoFail bool

	// Targets are output files. If all exist before the step runs, the
	// step's commands are skipped; after a skip-by-marker they are the
	// evidence the prior run really finished.
	Targets []string

	// Cleanup entries are registered when the step starts.
	Cleanup []CleanupSpec

	// Follow runs after the step's tasks succeed. With the follow option
	// set on the manager it runs even when the step is skipped.
	Follow func(ctx context.Context) error
}

// Stage is an ordered group of steps. Stage names are the boundaries that
// start-at and stop-at requests refer to.
type Stage struct {
	Name  string
	Steps []Step

	// Checkpoint writes a stage-level completed marker once every step in
	// the stage has finished. Steps still resume from their own markers;
	// the stage marker records the boundary for status output.
	Checkpoint bool
}

// validate rejects stage lists the engine cannot run deterministically.
func validate(pipeline string, stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("pipeline %s has no stages", pipeline)
	}
	seen := make(map[checkpoint.Key]string)
	for _, stage := range stages {
		if stage.Name == "" {
			return fmt.Errorf("pipeline %s has a nameless stage", pipeline)
		}
		key := checkpoint.NewKey(pipeline, stage.Name)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("stage %q collides with %s", stage.Name, prev)
		}
		seen[key] = fmt.Sprintf("stage %q", stage.Name)

		for _, step := range stage.Steps {
			if step.Name == "" {
				return fmt.Errorf("stage %q has a nameless step", stage.Name)
			}
			key := checkpoint.NewKey(pipeline, step.Name)
			if prev, dup := seen[key]; dup {
				return fmt.Errorf("step %q in stage %q collides with %s", step.Name, stage.Name, prev)
			}
			seen[key] = fmt.Sprintf("step %q", step.Name)

			if len(step.Tasks) == 0 && step.Func == nil && len(step.Targets) == 0 {
				return fmt.Errorf("step %q does nothing", step.Name)
			}
			for i, task := range step.Tasks {
				if len(task) == 0 {
					return fmt.Errorf("step %q task %d is empty", step.Name, i)
				}
			}
		}
	}
	return nil
}

// orderedKeys flattens stages into the marker keys recovery planning walks:
// each step in order, then the stage boundary key for checkpointed stages.
func orderedKeys(pipeline string, stages []Stage) []checkpoint.Key {
	var keys []checkpoint.Key
	for _, stage := range stages {
		for _, step := range stage.Steps {
			keys = append(keys, checkpoint.NewKey(pipeline, step.Name))
		}
		if stage.Checkpoint {
			keys = append(keys, checkpoint.NewKey(pipeline, stage.Name))
		}
	}
	return keys
}

func stageIndex(stages []Stage, name string) int {
	for i, s := range stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}
