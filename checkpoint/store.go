// Package checkpoint persists step and pipeline lifecycle markers as files
// in the output folder. Marker state survives crashes: every transition
// writes the new marker before removing the old one, so a key is never
// silently absent mid-transition.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// keySep joins the pipeline and step parts of a marker filename. Two
// underscores cannot appear in a sanitized name.
const keySep = "__"

const flagExt = ".flag"

// StoreError wraps a filesystem failure inside the store. Callers treat it
// as fatal: execution must not continue on unverifiable marker state.
type StoreError struct {
	Op  string
	Key Key
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == (Key{}) {
		return fmt.Sprintf("checkpoint store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint store: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Key identifies one marker: a step of a named pipeline. Step may be empty
// for pipeline-level flags.
type Key struct {
	Pipeline string
	Step     string
}

// NewKey sanitizes both parts the way marker filenames require.
func NewKey(pipeline, step string) Key {
	return Key{Pipeline: Sanitize(pipeline), Step: Sanitize(step)}
}

func (k Key) String() string {
	if k.Step == "" {
		return k.Pipeline
	}
	return k.Pipeline + keySep + k.Step
}

// Sanitize maps a human-readable name onto its marker form: lowercased,
// spaces and underscores collapsed to dashes.
func Sanitize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return s
}

// Store reads and writes markers under a single output folder.
type Store struct {
	dir string
}

// NewStore ensures dir exists and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StoreError{Op: "create output folder", Err: err}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) markerPath(key Key, status Status) string {
	return filepath.Join(s.dir, key.String()+"."+string(status))
}

func (s *Store) flagPath(pipeline string, status Status) string {
	return filepath.Join(s.dir, Sanitize(pipeline)+"_"+string(status)+flagExt)
}

// MarkInitializing records that a step is about to start. The marker is
// durable before the caller spawns any child process.
func (s *Store) MarkInitializing(key Key) error {
	return s.transition(key, StatusInitializing)
}

// MarkRunning records that the step's child process has been spawned.
func (s *Store) MarkRunning(key Key) error {
	return s.transition(key, StatusRunning)
}

// MarkCompleted records durable successful completion of a step.
func (s *Store) MarkCompleted(key Key) error {
	return s.transition(key, StatusCompleted)
}

// MarkFailed records a step failure.
func (s *Store) MarkFailed(key Key) error {
	return s.transition(key, StatusFailed)
}

func (s *Store) transition(key Key, to Status) error {
	from, err := s.Status(key)
	if err != nil {
		return err
	}
	if err := ValidateMarkerTransition(from, to); err != nil {
		return &StoreError{Op: "transition", Key: key, Err: err}
	}

	// Write new, then remove old. A crash in between leaves both; Status
	// resolves by precedence and the next transition removes stragglers.
	if err := s.writeMarker(s.markerPath(key, to)); err != nil {
		return &StoreError{Op: "write marker", Key: key, Err: err}
	}
	for _, st := range markerStatuses {
		if st == to {
			continue
		}
		if err := os.Remove(s.markerPath(key, st)); err != nil && !os.IsNotExist(err) {
			return &StoreError{Op: "remove stale marker", Key: key, Err: err}
		}
	}
	return nil
}

// Status resolves the current marker for key. With several marker files
// present the one furthest along the lifecycle wins, failure first.
func (s *Store) Status(key Key) (Status, error) {
	for _, st := range markerStatuses {
		if _, err := os.Stat(s.markerPath(key, st)); err == nil {
			return st, nil
		} else if !os.IsNotExist(err) {
			return StatusAbsent, &StoreError{Op: "stat marker", Key: key, Err: err}
		}
	}
	return StatusAbsent, nil
}

// Clear removes every marker for key, resetting it to absent. Used when a
// recovery decision orders a completed or failed step to run again.
func (s *Store) Clear(key Key) error {
	for _, st := range markerStatuses {
		if err := os.Remove(s.markerPath(key, st)); err != nil && !os.IsNotExist(err) {
			return &StoreError{Op: "clear marker", Key: key, Err: err}
		}
	}
	return nil
}

// ClearAll removes every marker and flag belonging to pipeline, giving a
// fresh run a clean slate.
func (s *Store) ClearAll(pipeline string) error {
	keys, err := s.List(pipeline)
	if err != nil {
		return err
	}
	for key := range keys {
		if err := s.Clear(key); err != nil {
			return err
		}
	}
	for _, st := range flagStatuses {
		if err := os.Remove(s.flagPath(pipeline, st)); err != nil && !os.IsNotExist(err) {
			return &StoreError{Op: "clear flag", Err: err}
		}
	}
	return nil
}

// List returns the resolved status of every step marker for pipeline.
func (s *Store) List(pipeline string) (map[Key]Status, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &StoreError{Op: "read output folder", Err: err}
	}

	prefix := Sanitize(pipeline) + keySep
	found := make(map[Key][]Status)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		key, status, ok := parseMarkerName(entry.Name())
		if !ok {
			continue
		}
		found[key] = append(found[key], status)
	}

	resolved := make(map[Key]Status, len(found))
	for key, statuses := range found {
		resolved[key] = resolve(statuses)
	}
	return resolved, nil
}

// Pipelines discovers every pipeline with marker or flag state in the
// folder. Sanitized names contain no underscores, so the single underscore
// before a flag's status is unambiguous.
func (s *Store) Pipelines() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &StoreError{Op: "read output folder", Err: err}
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pipe, _, ok := ParseFlag(entry.Name()); ok {
			seen[pipe] = true
			continue
		}
		if key, _, ok := ParseMarker(entry.Name()); ok {
			seen[key.Pipeline] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SetPipelineStatus swaps the pipeline-level flag file: the new flag is
// written first, then every other flag for the pipeline is removed.
func (s *Store) SetPipelineStatus(pipeline string, status Status) error {
	if err := s.writeMarker(s.flagPath(pipeline, status)); err != nil {
		return &StoreError{Op: "write flag", Err: err}
	}
	for _, st := range flagStatuses {
		if st == status {
			continue
		}
		if err := os.Remove(s.flagPath(pipeline, st)); err != nil && !os.IsNotExist(err) {
			return &StoreError{Op: "remove stale flag", Err: err}
		}
	}
	return nil
}

// PipelineStatus resolves the pipeline-level flag, failure first.
func (s *Store) PipelineStatus(pipeline string) (Status, error) {
	for _, st := range flagStatuses {
		if _, err := os.Stat(s.flagPath(pipeline, st)); err == nil {
			return st, nil
		} else if !os.IsNotExist(err) {
			return StatusAbsent, &StoreError{Op: "stat flag", Err: err}
		}
	}
	return StatusAbsent, nil
}

func (s *Store) writeMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "%s pid=%d\n", time.Now().Format(time.RFC3339), os.Getpid())
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ParseMarker decodes a step marker filename into its key and status.
// Tooling that watches output folders uses it to classify file events.
func ParseMarker(name string) (Key, Status, bool) {
	return parseMarkerName(name)
}

// ParseFlag decodes a pipeline-level flag filename.
func ParseFlag(name string) (string, Status, bool) {
	if !strings.HasSuffix(name, flagExt) {
		return "", StatusAbsent, false
	}
	base := strings.TrimSuffix(name, flagExt)
	i := strings.LastIndex(base, "_")
	if i <= 0 {
		return "", StatusAbsent, false
	}
	status := Status(base[i+1:])
	for _, st := range flagStatuses {
		if st == status {
			return base[:i], status, true
		}
	}
	return "", StatusAbsent, false
}

func parseMarkerName(name string) (Key, Status, bool) {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return Key{}, StatusAbsent, false
	}
	status := Status(name[dot+1:])
	valid := false
	for _, st := range markerStatuses {
		if st == status {
			valid = true
			break
		}
	}
	if !valid {
		return Key{}, StatusAbsent, false
	}
	parts := strings.SplitN(name[:dot], keySep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Key{}, StatusAbsent, false
	}
	return Key{Pipeline: parts[0], Step: parts[1]}, status, true
}

func resolve(statuses []Status) Status {
	for _, st := range markerStatuses {
		for _, have := range statuses {
			if have == st {
				return st
			}
		}
	}
	return StatusAbsent
}
