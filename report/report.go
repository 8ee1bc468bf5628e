// Package report delivers step and stage outcomes to pluggable sinks. The
// engine only calls the Reporter interface; formatting stays out here.
package report

import (
	"log/slog"
	"time"
)

// StepResult classifies how a step ended for reporting purposes.
type StepResult string

const (
	ResultCompleted    StepResult = "completed"
	ResultSkipped      StepResult = "skipped"
	ResultFailed       StepResult = "failed"
	ResultNoFailFailed StepResult = "nofail-failed"
	ResultHalted       StepResult = "halted"
)

// Reporter receives a callback after every step and stage.
type Reporter interface {
	StepDone(key string, result StepResult, d time.Duration)
	StageDone(stage string, d time.Duration)
}

// Multi fans callbacks out to several reporters in order.
type Multi []Reporter

func (m Multi) StepDone(key string, result StepResult, d time.Duration) {
	for _, r := range m {
		r.StepDone(key, result, d)
	}
}

func (m Multi) StageDone(stage string, d time.Duration) {
	for _, r := range m {
		r.StageDone(stage, d)
	}
}

// LogReporter writes outcomes to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (l *LogReporter) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *LogReporter) StepDone(key string, result StepResult, d time.Duration) {
	l.logger().Info("step done", "step", key, "result", result, "elapsed", d.Round(time.Millisecond))
}

func (l *LogReporter) StageDone(stage string, d time.Duration) {
	l.logger().Info("stage done", "stage", stage, "elapsed", d.Round(time.Millisecond))
}

// Nop discards everything.
type Nop struct{}

func (Nop) StepDone(string, StepResult, time.Duration) {}
func (Nop) StageDone(string, time.Duration)            {}
