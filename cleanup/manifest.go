// Package cleanup tracks intermediate artifacts registered while a
// pipeline runs and turns them into deletions or a generated shell script
// at shutdown, depending on the run's outcome.
package cleanup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/internal/fsatomic"
	"github.com/msageha/conveyor/templates"
)

// Policy decides what happens to an entry at shutdown.
type Policy string

const (
	// PolicyAlways deletes the artifact when the run succeeds; on failure
	// or in dirty mode it is scheduled in the script instead.
	PolicyAlways Policy = "always"
	// PolicyOnFailure schedules the artifact only when the run did not
	// succeed. Successful runs drop these entries entirely.
	PolicyOnFailure Policy = "on-failure"
	// PolicyManual never deletes; the entry always lands in the script.
	PolicyManual Policy = "manual"
)

// Entry is one registered artifact. Path may be a shell glob.
type Entry struct {
	Path   string `yaml:"path"`
	Policy Policy `yaml:"policy"`
	Step   string `yaml:"step,omitempty"`
}

// Outcome tells Flush how the run ended.
type Outcome string

const (
	// OutcomeCompleted deletes always-policy artifacts (dirty mode
	// schedules them instead) and drops on-failure entries.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed deletes nothing and schedules everything, so failed
	// and interrupted runs stay inspectable.
	OutcomeFailed Outcome = "failed"
	// OutcomePaused keeps intermediates for the resumed run: always and
	// manual entries are scheduled, on-failure entries dropped.
	OutcomePaused Outcome = "paused"
)

type manifestDoc struct {
	Pipeline string  `yaml:"pipeline"`
	Entries  []Entry `yaml:"entries"`
}

// Manifest is the append-only artifact list for one pipeline run. Every
// append is persisted so a crash cannot lose registrations.
type Manifest struct {
	dir      string
	pipeline string
	entries  []Entry
	logger   *slog.Logger
}

// Load restores the persisted manifest for pipeline, or returns an empty
// one when none exists yet.
func Load(dir, pipeline string, logger *slog.Logger) (*Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manifest{dir: dir, pipeline: checkpoint.Sanitize(pipeline), logger: logger}

	var doc manifestDoc
	err := fsatomic.ReadYAML(m.docPath(), &doc)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cleanup manifest: %w", err)
	}
	m.entries = doc.Entries
	return m, nil
}

func (m *Manifest) docPath() string {
	return filepath.Join(m.dir, m.pipeline+"_cleanup.yaml")
}

// ScriptPath is where Flush writes the generated script.
func (m *Manifest) ScriptPath() string {
	return filepath.Join(m.dir, m.pipeline+"_cleanup.sh")
}

// Add registers an artifact. Re-registering an identical path/policy pair
// is a no-op, so resumed runs may register the same step artifacts again.
func (m *Manifest) Add(path string, policy Policy, step string) error {
	for _, e := range m.entries {
		if e.Path == path && e.Policy == policy {
			return nil
		}
	}
	m.entries = append(m.entries, Entry{Path: path, Policy: policy, Step: step})
	return m.persist()
}

func (m *Manifest) persist() error {
	doc := manifestDoc{Pipeline: m.pipeline, Entries: m.entries}
	if err := fsatomic.WriteYAML(m.docPath(), doc); err != nil {
		return fmt.Errorf("persist cleanup manifest: %w", err)
	}
	return nil
}

// Entries returns a copy of the registered entries.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Manifest) Len() int { return len(m.entries) }

// Reset drops all entries and removes the persisted documents. Fresh runs
// call this alongside marker clearing.
func (m *Manifest) Reset() error {
	m.entries = nil
	for _, p := range []string{m.docPath(), m.docPath() + ".bak", m.ScriptPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reset cleanup manifest: %w", err)
		}
	}
	return nil
}

type scriptData struct {
	Pipeline    string
	GeneratedAt string
	Outcome     string
	Entries     []Entry
}

// Flush writes the cleanup script for the run's outcome and, on completed
// runs without dirty mode, deletes always-policy artifacts directly. It
// returns the paths it deleted.
func (m *Manifest) Flush(outcome Outcome, dirty bool) ([]string, error) {
	var scheduled []Entry
	var deletable []Entry
	for _, e := range m.entries {
		switch e.Policy {
		case PolicyManual:
			scheduled = append(scheduled, e)
		case PolicyAlways:
			if outcome == OutcomeCompleted && !dirty {
				deletable = append(deletable, e)
			} else {
				scheduled = append(scheduled, e)
			}
		case PolicyOnFailure:
			if outcome == OutcomeFailed {
				scheduled = append(scheduled, e)
			}
		}
	}

	// The script lands before any deletion so a crash mid-flush still
	// leaves a usable record.
	if err := m.writeScript(scheduled, string(outcome)); err != nil {
		return nil, err
	}

	var deleted []string
	for _, e := range deletable {
		paths, err := expand(m.dir, e.Path)
		if err != nil {
			m.logger.Warn("cleanup glob failed", "path", e.Path, "err", err)
			continue
		}
		for _, p := range paths {
			if err := os.RemoveAll(p); err != nil {
				m.logger.Warn("cleanup delete failed", "path", p, "err", err)
				continue
			}
			m.logger.Debug("cleaned", "path", p, "step", e.Step)
			deleted = append(deleted, p)
		}
	}
	return deleted, nil
}

func (m *Manifest) writeScript(entries []Entry, outcome string) error {
	tmpl, err := template.ParseFS(templates.FS, "cleanup.sh.tmpl")
	if err != nil {
		return fmt.Errorf("parse cleanup template: %w", err)
	}

	// The script can be run from any directory, so relative entries must
	// resolve against the output folder, the same base expand uses for
	// direct deletion.
	base := m.dir
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	resolved := make([]Entry, len(entries))
	for i, e := range entries {
		if !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(base, e.Path)
		}
		resolved[i] = e
	}

	var b strings.Builder
	data := scriptData{
		Pipeline:    m.pipeline,
		GeneratedAt: time.Now().Format(time.RFC3339),
		Outcome:     outcome,
		Entries:     resolved,
	}
	if err := tmpl.Execute(&b, data); err != nil {
		return fmt.Errorf("render cleanup script: %w", err)
	}
	if err := fsatomic.WriteFile(m.ScriptPath(), []byte(b.String()), 0755); err != nil {
		return fmt.Errorf("write cleanup script: %w", err)
	}
	return nil
}

// expand resolves a manifest path against the output folder and globs it.
// A pattern with no matches still schedules nothing rather than erroring.
func expand(dir, pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(dir, pattern)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
