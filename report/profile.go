package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/internal/fsatomic"
)

// ProfileRow is one timed step in the run's wall-clock profile.
type ProfileRow struct {
	Step    string     `yaml:"step"`
	Result  StepResult `yaml:"result"`
	Seconds float64    `yaml:"seconds"`
	At      time.Time  `yaml:"at"`
}

// Profile records per-step wall times to a YAML document. It implements
// Reporter so it can be wired straight into the engine's hook.
type Profile struct {
	path string
	rows []ProfileRow
}

// OpenProfile loads or creates the timing profile for pipeline in dir.
func OpenProfile(dir, pipeline string) (*Profile, error) {
	p := &Profile{
		path: filepath.Join(dir, checkpoint.Sanitize(pipeline)+"_profile.yaml"),
	}
	err := fsatomic.ReadYAML(p.path, &p.rows)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return p, nil
}

func (p *Profile) Path() string { return p.path }

func (p *Profile) Rows() []ProfileRow {
	out := make([]ProfileRow, len(p.rows))
	copy(out, p.rows)
	return out
}

// StepDone appends a row and persists. Write failures are swallowed: the
// profile is advisory and must never abort a run.
func (p *Profile) StepDone(key string, result StepResult, d time.Duration) {
	p.rows = append(p.rows, ProfileRow{
		Step:    key,
		Result:  result,
		Seconds: d.Seconds(),
		At:      time.Now(),
	})
	_ = fsatomic.WriteYAML(p.path, p.rows)
}

func (p *Profile) StageDone(string, time.Duration) {}
