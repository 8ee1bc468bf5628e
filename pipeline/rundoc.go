package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/internal/fsatomic"
)

// RunInfo is the persisted run document ({pipe}_run.yaml): identity and
// outcome of the latest invocation, for operator tooling. The markers and
// flags stay authoritative; this document is informational.
type RunInfo struct {
	Pipeline     string    `yaml:"pipeline"`
	RunID        string    `yaml:"run_id"`
	Pid          int       `yaml:"pid"`
	Mode         string    `yaml:"mode"`
	State        string    `yaml:"state"`
	StartedAt    time.Time `yaml:"started_at"`
	EndedAt      time.Time `yaml:"ended_at,omitempty"`
	StepsRun     int       `yaml:"steps_run"`
	StepsSkipped int       `yaml:"steps_skipped"`
	FailedSteps  []string  `yaml:"failed_steps,omitempty"`
}

func runDocPath(dir, pipeline string) string {
	return filepath.Join(dir, checkpoint.Sanitize(pipeline)+"_run.yaml")
}

// ReadRunInfo loads the run document for pipeline in dir. The error reports
// os.IsNotExist when no run has been recorded.
func ReadRunInfo(dir, pipeline string) (*RunInfo, error) {
	var info RunInfo
	if err := fsatomic.ReadYAML(runDocPath(dir, pipeline), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RemoveRunInfo deletes the run document and its backup. Missing files are
// not an error.
func RemoveRunInfo(dir, pipeline string) error {
	for _, p := range []string{runDocPath(dir, pipeline), runDocPath(dir, pipeline) + ".bak"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// writeRunDoc persists the manager's current run document. Write failures
// are logged and swallowed.
func (m *Manager) writeRunDoc() {
	info := RunInfo{
		Pipeline:     checkpoint.Sanitize(m.name),
		RunID:        m.runID,
		Pid:          os.Getpid(),
		Mode:         string(m.mode),
		State:        string(m.state),
		StartedAt:    m.startedAt,
		StepsRun:     m.stepsRun,
		StepsSkipped: m.stepsSkipped,
		FailedSteps:  m.failedSteps,
	}
	if m.state != StateRunning {
		info.EndedAt = time.Now()
	}
	if err := fsatomic.WriteYAML(runDocPath(m.dir, m.name), info); err != nil {
		m.logger.Warn("cannot persist run document", "err", err)
	}
}
