package recovery

import (
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/internal/fsatomic"
)

// State is the small persisted document behind dynamic recovery. It lives
// next to the markers so it survives the process that armed it.
type State struct {
	Dynamic         bool      `yaml:"dynamic"`
	ArmedAt         time.Time `yaml:"armed_at,omitempty"`
	InterruptedStep string    `yaml:"interrupted_step,omitempty"`
}

func statePath(dir, pipeline string) string {
	return filepath.Join(dir, checkpoint.Sanitize(pipeline)+"_recover.yaml")
}

// Arm records that the run for pipeline was interrupted at step, making
// the next invocation recover dynamically.
func Arm(dir, pipeline, step string) error {
	return fsatomic.WriteYAML(statePath(dir, pipeline), State{
		Dynamic:         true,
		ArmedAt:         time.Now(),
		InterruptedStep: step,
	})
}

// Disarm clears the dynamic arm. Missing state is not an error.
func Disarm(dir, pipeline string) error {
	err := os.Remove(statePath(dir, pipeline))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	// The atomic writer leaves a .bak behind; stale arms must not revive.
	err = os.Remove(statePath(dir, pipeline) + ".bak")
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Armed reports whether a dynamic arm is pending for pipeline.
func Armed(dir, pipeline string) (bool, error) {
	var st State
	err := fsatomic.ReadYAML(statePath(dir, pipeline), &st)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Dynamic, nil
}

// EffectiveMode resolves the mode for a new invocation. An explicit manual
// request wins; otherwise a pending dynamic arm yields ModeDynamic. The
// arm is one-shot: this call consumes it either way.
func EffectiveMode(dir, pipeline string, manual bool) (Mode, error) {
	armed, err := Armed(dir, pipeline)
	if err != nil {
		return ModeNone, err
	}
	if armed {
		if err := Disarm(dir, pipeline); err != nil {
			return ModeNone, err
		}
	}
	if manual {
		return ModeManual, nil
	}
	if armed {
		return ModeDynamic, nil
	}
	return ModeNone, nil
}
