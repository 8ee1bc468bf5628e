// Package cli binds the engine-behavior flags a pipeline binary exposes and
// maps finished runs onto process exit codes. Authors embed these flags in
// their own flag set; everything else on their command line is theirs.
package cli

import (
	"github.com/spf13/pflag"

	"github.com/msageha/conveyor/config"
	"github.com/msageha/conveyor/pipeline"
)

// Exit codes distinguish how a run ended. Halted and paused runs are
// resumable; the distinct codes let wrappers tell them from real failures.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
	// ExitPaused reports a deliberate stop at a requested boundary.
	ExitPaused = 75
	// ExitHalted reports termination by signal.
	ExitHalted = 100
)

// Flags is the engine-relevant command line surface.
type Flags struct {
	Recover    bool
	NewStart   bool
	Dirty      bool
	Follow     bool
	StartAt    string
	StopBefore string
	StopAfter  string
	Container  string
	ConfigFile string
}

// Bind registers the engine flags on fs and returns the struct their
// parsed values land in.
func Bind(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.BoolVarP(&f.Recover, "recover", "R", false,
		"recover an interrupted run: re-run from the first incomplete step")
	fs.BoolVarP(&f.NewStart, "new-start", "N", false,
		"discard all prior markers and start over")
	fs.BoolVarP(&f.Dirty, "dirty", "D", false,
		"never delete intermediates; deletions only land in the cleanup script")
	fs.BoolVarP(&f.Follow, "follow", "F", false,
		"run follow functions even for skipped steps")
	fs.StringVar(&f.StartAt, "start-at", "",
		"skip all stages before the named one")
	fs.StringVar(&f.StopBefore, "stop-before", "",
		"pause the run before the named stage")
	fs.StringVar(&f.StopAfter, "stop-after", "",
		"pause the run after the named stage's boundary is written")
	fs.StringVar(&f.Container, "container", "",
		"execute child processes inside this running container")
	fs.StringVarP(&f.ConfigFile, "config", "C", "",
		"engine and tool configuration file")
	return f
}

// Options resolves configuration and converts the parsed flags into manager
// options.
func (f *Flags) Options(extra ...pipeline.Option) ([]pipeline.Option, error) {
	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{pipeline.WithConfig(cfg)}
	if f.Recover {
		opts = append(opts, pipeline.WithRecover())
	}
	if f.NewStart {
		opts = append(opts, pipeline.WithNewStart())
	}
	if f.Dirty {
		opts = append(opts, pipeline.WithDirty())
	}
	if f.Follow {
		opts = append(opts, pipeline.WithFollow())
	}
	if f.StartAt != "" {
		opts = append(opts, pipeline.WithStartAt(f.StartAt))
	}
	if f.StopBefore != "" {
		opts = append(opts, pipeline.WithStopBefore(f.StopBefore))
	}
	if f.StopAfter != "" {
		opts = append(opts, pipeline.WithStopAfter(f.StopAfter))
	}
	if f.Container != "" {
		opts = append(opts, pipeline.WithContainer(f.Container))
	}
	return append(opts, extra...), nil
}

// ExitCode maps a finished run onto the process exit status.
func ExitCode(state pipeline.RunState) int {
	switch state {
	case pipeline.StateCompleted:
		return ExitSuccess
	case pipeline.StatePaused:
		return ExitPaused
	case pipeline.StateHalted:
		return ExitHalted
	default:
		return ExitFailure
	}
}
