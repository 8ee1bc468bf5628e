// Package inspect summarizes the on-disk state of a pipeline output folder
// for operator tooling: flags, step markers, locks, recovery arms, and the
// latest run document.
package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/pipeline"
	"github.com/msageha/conveyor/recovery"
	"github.com/msageha/conveyor/report"
)

type Snapshot struct {
	Dir       string         `json:"dir"`
	Pipelines []PipelineInfo `json:"pipelines,omitempty"`
}

type PipelineInfo struct {
	Name          string            `json:"name"`
	Flag          string            `json:"flag"`
	Run           *pipeline.RunInfo `json:"run,omitempty"`
	Steps         []StepInfo        `json:"steps,omitempty"`
	Locks         []string          `json:"locks,omitempty"`
	RecoveryArmed bool              `json:"recovery_armed"`
	Stats         map[string]any    `json:"stats,omitempty"`
}

type StepInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Scan reads every pipeline's state under dir. It never mutates anything.
func Scan(dir string) (*Snapshot, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("output folder %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output folder %s: not a directory", dir)
	}

	store, err := checkpoint.NewStore(dir)
	if err != nil {
		return nil, err
	}
	names, err := store.Pipelines()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Dir: dir}
	for _, name := range names {
		pi, err := scanPipeline(dir, store, name)
		if err != nil {
			return nil, err
		}
		snap.Pipelines = append(snap.Pipelines, *pi)
	}
	return snap, nil
}

func scanPipeline(dir string, store *checkpoint.Store, name string) (*PipelineInfo, error) {
	pi := &PipelineInfo{Name: name}

	flag, err := store.PipelineStatus(name)
	if err != nil {
		return nil, err
	}
	pi.Flag = string(flag)

	markers, err := store.List(name)
	if err != nil {
		return nil, err
	}
	keys := make([]checkpoint.Key, 0, len(markers))
	for k := range markers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Step < keys[j].Step })
	for _, k := range keys {
		pi.Steps = append(pi.Steps, StepInfo{Name: k.Step, Status: string(markers[k])})
	}

	run, err := pipeline.ReadRunInfo(dir, name)
	if err == nil {
		pi.Run = run
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	armed, err := recovery.Armed(dir, name)
	if err != nil {
		return nil, err
	}
	pi.RecoveryArmed = armed

	locks, err := findLocks(dir, name)
	if err != nil {
		return nil, err
	}
	pi.Locks = locks

	stats, err := report.OpenStats(dir, name)
	if err != nil {
		return nil, err
	}
	if stats.Len() > 0 {
		pi.Stats = stats.Values()
	}
	return pi, nil
}

// findLocks lists the run lock and step locks belonging to pipe.
func findLocks(dir, pipe string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output folder: %w", err)
	}
	var locks []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == pipe+".lock" || strings.HasPrefix(name, "lock."+pipe+"__") {
			locks = append(locks, name)
		}
	}
	sort.Strings(locks)
	return locks, nil
}

// RenderJSON writes the snapshot as indented JSON.
func (s *Snapshot) RenderJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Render writes a human-readable summary.
func (s *Snapshot) Render(w io.Writer) {
	fmt.Fprintf(w, "Output folder: %s\n", s.Dir)
	if len(s.Pipelines) == 0 {
		fmt.Fprintln(w, "No pipeline state found.")
		return
	}

	for _, pi := range s.Pipelines {
		fmt.Fprintf(w, "\nPipeline: %s  [%s]\n", pi.Name, pi.Flag)

		if pi.Run != nil {
			fmt.Fprintf(w, "  last run: id=%s pid=%d mode=%s state=%s\n",
				shortID(pi.Run.RunID), pi.Run.Pid, pi.Run.Mode, pi.Run.State)
			if !pi.Run.StartedAt.IsZero() {
				fmt.Fprintf(w, "  started:  %s\n", pi.Run.StartedAt.Format("2006-01-02 15:04:05"))
			}
			if !pi.Run.EndedAt.IsZero() {
				fmt.Fprintf(w, "  ended:    %s\n", pi.Run.EndedAt.Format("2006-01-02 15:04:05"))
			}
		}
		if pi.RecoveryArmed {
			fmt.Fprintln(w, "  recovery: armed (next run recovers dynamically)")
		}

		if len(pi.Steps) > 0 {
			fmt.Fprintf(w, "  %-24s  %s\n", "STEP", "STATUS")
			for _, step := range pi.Steps {
				fmt.Fprintf(w, "  %-24s  %s\n", step.Name, step.Status)
			}
		} else {
			fmt.Fprintln(w, "  steps: none recorded")
		}

		if len(pi.Locks) > 0 {
			fmt.Fprintln(w, "  locks:")
			for _, lk := range pi.Locks {
				fmt.Fprintf(w, "    %s\n", lk)
			}
		}

		if len(pi.Stats) > 0 {
			fmt.Fprintln(w, "  stats:")
			statKeys := make([]string, 0, len(pi.Stats))
			for k := range pi.Stats {
				statKeys = append(statKeys, k)
			}
			sort.Strings(statKeys)
			for _, k := range statKeys {
				fmt.Fprintf(w, "    %-22s  %v\n", k, pi.Stats[k])
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
