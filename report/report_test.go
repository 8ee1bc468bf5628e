package report

import (
	"testing"
	"time"
)

type captureReporter struct {
	steps  []string
	stages []string
}

func (c *captureReporter) StepDone(key string, result StepResult, d time.Duration) {
	c.steps = append(c.steps, key+":"+string(result))
}

func (c *captureReporter) StageDone(stage string, d time.Duration) {
	c.stages = append(c.stages, stage)
}

func TestMulti_FansOutInOrder(t *testing.T) {
	a := &captureReporter{}
	b := &captureReporter{}
	m := Multi{a, b, Nop{}}

	m.StepDone("trim", ResultCompleted, time.Second)
	m.StageDone("preprocess", 2*time.Second)

	for _, c := range []*captureReporter{a, b} {
		if len(c.steps) != 1 || c.steps[0] != "trim:completed" {
			t.Errorf("steps: got %v", c.steps)
		}
		if len(c.stages) != 1 || c.stages[0] != "preprocess" {
			t.Errorf("stages: got %v", c.stages)
		}
	}
}

func TestStats_ReportAndReload(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStats(dir, "Word Seq")
	if err != nil {
		t.Fatalf("OpenStats failed: %v", err)
	}
	if err := s.Report("reads", 1000); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if err := s.Report("rate", 0.93); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	// Re-reporting a key overwrites.
	if err := s.Report("reads", 1250); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	s2, err := OpenStats(dir, "Word Seq")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if s2.Len() != 2 {
		t.Fatalf("stats len: got %d, want 2", s2.Len())
	}
	v, ok := s2.Get("reads")
	if !ok {
		t.Fatal("reads missing after reload")
	}
	if n, ok := v.(int); !ok || n != 1250 {
		t.Errorf("reads: got %v (%T), want 1250", v, v)
	}
}

func TestProfile_RecordsSteps(t *testing.T) {
	dir := t.TempDir()

	p, err := OpenProfile(dir, "wordseq")
	if err != nil {
		t.Fatalf("OpenProfile failed: %v", err)
	}

	p.StepDone("trim", ResultCompleted, 1500*time.Millisecond)
	p.StepDone("align", ResultFailed, 200*time.Millisecond)
	p.StageDone("preprocess", time.Second) // ignored by profile

	p2, err := OpenProfile(dir, "wordseq")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	rows := p2.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if rows[0].Step != "trim" || rows[0].Result != ResultCompleted || rows[0].Seconds != 1.5 {
		t.Errorf("row0: got %+v", rows[0])
	}
	if rows[1].Step != "align" || rows[1].Result != ResultFailed {
		t.Errorf("row1: got %+v", rows[1])
	}
}
