// Package recovery decides, per step, whether a resumed pipeline may skip
// work recorded as complete or must run it again. It also owns the one-shot
// dynamic arm that makes the invocation after an interrupt recover without
// an explicit flag.
package recovery

import (
	"fmt"
	"strings"

	"github.com/msageha/conveyor/checkpoint"
)

// Mode selects how prior markers are honored on start.
type Mode string

const (
	// ModeNone trusts completed markers unconditionally.
	ModeNone Mode = "none"
	// ModeManual was requested by the user: completed markers at or past
	// the first interrupted step are re-run.
	ModeManual Mode = "manual"
	// ModeDynamic behaves like manual and was armed automatically by a
	// signal-interrupted previous run.
	ModeDynamic Mode = "dynamic"
)

// Decision is the per-step verdict.
type Decision string

const (
	DecisionRun        Decision = "run"
	DecisionSkip       Decision = "skip"
	DecisionForceRerun Decision = "force-rerun"
)

// Plan carries one verdict per key, in the caller's key order.
type Plan struct {
	Mode      Mode
	Decisions map[checkpoint.Key]Decision

	// Boundary is the first key whose marker showed interrupted or failed
	// work. Nil when every marker was completed or absent.
	Boundary *checkpoint.Key
}

// Skips counts keys the plan decided to skip.
func (p *Plan) Skips() int {
	n := 0
	for _, d := range p.Decisions {
		if d == DecisionSkip {
			n++
		}
	}
	return n
}

// Decision returns the verdict for key, defaulting to run for keys the
// plan never saw.
func (p *Plan) Decision(key checkpoint.Key) Decision {
	if d, ok := p.Decisions[key]; ok {
		return d
	}
	return DecisionRun
}

func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "recovery plan (mode=%s):", p.Mode)
	for key, d := range p.Decisions {
		fmt.Fprintf(&b, " %s=%s", key, d)
	}
	return b.String()
}

// Compute walks keys in declaration order against their recorded statuses.
//
// With mode none, a completed marker means skip and anything else means
// run. With manual or dynamic mode, completed markers are honored only up
// to the first key recorded as initializing, running, or failed; from that
// key on, even completed markers are re-run (forceRerun). A key with no
// marker at all always runs, in every mode.
func Compute(keys []checkpoint.Key, mode Mode, statuses map[checkpoint.Key]checkpoint.Status) *Plan {
	plan := &Plan{
		Mode:      mode,
		Decisions: make(map[checkpoint.Key]Decision, len(keys)),
	}

	pastBoundary := false
	for _, key := range keys {
		st, ok := statuses[key]
		if !ok {
			st = checkpoint.StatusAbsent
		}

		if mode != ModeNone && !pastBoundary && interrupted(st) {
			pastBoundary = true
			k := key
			plan.Boundary = &k
		}

		switch {
		case st == checkpoint.StatusCompleted && (mode == ModeNone || !pastBoundary):
			plan.Decisions[key] = DecisionSkip
		case st == checkpoint.StatusCompleted:
			plan.Decisions[key] = DecisionForceRerun
		default:
			plan.Decisions[key] = DecisionRun
		}
	}
	return plan
}

func interrupted(st checkpoint.Status) bool {
	switch st {
	case checkpoint.StatusInitializing, checkpoint.StatusRunning, checkpoint.StatusFailed:
		return true
	}
	return false
}

// Inconsistency reports a skipped step whose expected outputs are missing.
// It is a warning-level condition: never fatal by itself, never silent.
type Inconsistency struct {
	Key     checkpoint.Key
	Missing []string
}

func (e *Inconsistency) Error() string {
	return fmt.Sprintf("step %s is marked completed but expected outputs are missing: %s",
		e.Key, strings.Join(e.Missing, ", "))
}
