package pipeline

import "fmt"

// RunState is the controller's top-level state.
type RunState string

const (
	StateInitializing RunState = "initializing"
	StateRunning      RunState = "running"
	// StatePaused means the run stopped at a requested boundary; a new
	// invocation resumes it.
	StatePaused    RunState = "paused"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	// StateHalted means a termination signal ended the run. Terminal for
	// this process, resumable by the next invocation.
	StateHalted RunState = "halted"
)

// terminalRunStates end the current process's run.
var terminalRunStates = map[RunState]bool{
	StatePaused:    true,
	StateCompleted: true,
	StateFailed:    true,
	StateHalted:    true,
}

// resumableRunStates can be picked up by a later invocation.
var resumableRunStates = map[RunState]bool{
	StatePaused: true,
	StateHalted: true,
}

var validRunTransitions = map[RunState]map[RunState]bool{
	StateInitializing: {
		StateRunning: true,
		StateFailed:  true, // setup failure before the first step
		StateHalted:  true, // signal during initialization
	},
	StateRunning: {
		StatePaused:    true,
		StateCompleted: true,
		StateFailed:    true,
		StateHalted:    true,
	},
}

func IsRunTerminal(s RunState) bool {
	return terminalRunStates[s]
}

func IsRunResumable(s RunState) bool {
	return resumableRunStates[s]
}

func ValidateRunTransition(from, to RunState) error {
	if IsRunTerminal(from) {
		return fmt.Errorf("cannot transition from terminal run state %q", from)
	}
	allowed, ok := validRunTransitions[from]
	if !ok {
		return fmt.Errorf("unknown run state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid run transition: %q → %q", from, to)
	}
	return nil
}
