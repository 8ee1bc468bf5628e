package checkpoint

import "fmt"

// Status is the lifecycle tag carried in a marker's filename. A key with no
// marker file on disk is StatusAbsent; that value never appears on disk.
type Status string

const (
	StatusAbsent       Status = "absent"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"

	// StatusPaused is valid for the pipeline-level flag only: the run
	// stopped at a requested boundary and is waiting to be resumed.
	StatusPaused Status = "paused"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
}

// markerStatuses are the step-level statuses in resolution precedence
// order. When a crash between write-new and remove-old leaves two marker
// files for one key, the earliest entry here wins.
var markerStatuses = []Status{
	StatusFailed,
	StatusCompleted,
	StatusRunning,
	StatusInitializing,
}

var flagStatuses = []Status{
	StatusFailed,
	StatusCompleted,
	StatusPaused,
	StatusRunning,
	StatusInitializing,
}

var validMarkerTransitions = map[Status]map[Status]bool{
	StatusAbsent: {
		StatusInitializing: true,
	},
	StatusInitializing: {
		StatusRunning:   true,
		StatusCompleted: true, // step skipped by existing targets
		StatusFailed:    true, // spawn failure
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// ValidateMarkerTransition rejects transitions the step lifecycle does not
// allow. Terminal markers can only be reset through Clear.
func ValidateMarkerTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal marker status %q", from)
	}
	allowed, ok := validMarkerTransitions[from]
	if !ok {
		return fmt.Errorf("unknown marker status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid marker transition: %q → %q", from, to)
	}
	return nil
}
