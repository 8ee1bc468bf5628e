package pipeline

import "testing"

func TestIsRunTerminal(t *testing.T) {
	tests := []struct {
		state    RunState
		terminal bool
	}{
		{StateInitializing, false},
		{StateRunning, false},
		{StatePaused, true},
		{StateCompleted, true},
		{StateFailed, true},
		{StateHalted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsRunTerminal(tt.state); got != tt.terminal {
				t.Errorf("IsRunTerminal(%q) = %v, want %v", tt.state, got, tt.terminal)
			}
		})
	}
}

func TestIsRunResumable(t *testing.T) {
	tests := []struct {
		state     RunState
		resumable bool
	}{
		{StateInitializing, false},
		{StateRunning, false},
		{StatePaused, true},
		{StateHalted, true},
		{StateCompleted, false},
		{StateFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsRunResumable(tt.state); got != tt.resumable {
				t.Errorf("IsRunResumable(%q) = %v, want %v", tt.state, got, tt.resumable)
			}
		})
	}
}

func TestValidateRunTransition(t *testing.T) {
	valid := []struct{ from, to RunState }{
		{StateInitializing, StateRunning},
		{StateInitializing, StateFailed},
		{StateInitializing, StateHalted},
		{StateRunning, StatePaused},
		{StateRunning, StateCompleted},
		{StateRunning, StateFailed},
		{StateRunning, StateHalted},
	}
	for _, tt := range valid {
		if err := ValidateRunTransition(tt.from, tt.to); err != nil {
			t.Errorf("transition %s → %s rejected: %v", tt.from, tt.to, err)
		}
	}

	invalid := []struct{ from, to RunState }{
		{StateInitializing, StateCompleted},
		{StateInitializing, StatePaused},
		{StateCompleted, StateRunning},
		{StateFailed, StateRunning},
		{StateHalted, StateRunning},
		{StatePaused, StateRunning},
		{StateRunning, StateInitializing},
	}
	for _, tt := range invalid {
		if err := ValidateRunTransition(tt.from, tt.to); err == nil {
			t.Errorf("transition %s → %s accepted, want rejection", tt.from, tt.to)
		}
	}
}
