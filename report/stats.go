package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/internal/fsatomic"
)

// Stats is the persisted key/value result file for a pipeline. Authors
// report domain numbers (read counts, rates) as the run progresses; each
// report is durable immediately.
type Stats struct {
	path   string
	values map[string]any
}

// OpenStats loads or creates the stats document for pipeline in dir.
func OpenStats(dir, pipeline string) (*Stats, error) {
	s := &Stats{
		path:   filepath.Join(dir, checkpoint.Sanitize(pipeline)+"_stats.yaml"),
		values: make(map[string]any),
	}
	err := fsatomic.ReadYAML(s.path, &s.values)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("open stats: %w", err)
	}
	if s.values == nil {
		s.values = make(map[string]any)
	}
	return s, nil
}

func (s *Stats) Path() string { return s.path }

// Report stores value under key, overwriting any previous report.
func (s *Stats) Report(key string, value any) error {
	s.values[key] = value
	if err := fsatomic.WriteYAML(s.path, s.values); err != nil {
		return fmt.Errorf("report %q: %w", key, err)
	}
	return nil
}

// Get returns a previously reported value.
func (s *Stats) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Values returns a copy of every reported key/value pair.
func (s *Stats) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Stats) Len() int { return len(s.values) }
