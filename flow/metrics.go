package flow

import (
	"time"

	dispute "github.com/goliatone/go-dispute"
)

// MetricsRecorder receives per-step measurements. Names are step names.
type MetricsRecorder interface {
	RecordDuration(name string, duration time.Duration)
	RecordError(name string)
	RecordSuccess(name string)
}

// RunMetricsRecorder is optionally implemented by recorders that also track
// run lifecycle events.
type RunMetricsRecorder interface {
	RecordRunStarted()
	RecordRunFinished(status dispute.Status)
	RecordSecurityViolation()
}

type nopRecorder struct{}

func (nopRecorder) RecordDuration(string, time.Duration) {}
func (nopRecorder) RecordError(string)                   {}
func (nopRecorder) RecordSuccess(string)                 {}

func (e *Engine) recordStep(step dispute.Step, start time.Time, err error) {
	name := string(step)
	e.metrics.RecordDuration(name, e.now().Sub(start))
	if err != nil {
		e.metrics.RecordError(name)
		return
	}
	e.metrics.RecordSuccess(name)
}

func (e *Engine) recordRunStarted() {
	if rr, ok := e.metrics.(RunMetricsRecorder); ok {
		rr.RecordRunStarted()
	}
}

func (e *Engine) recordRunFinished(status dispute.Status) {
	if rr, ok := e.metrics.(RunMetricsRecorder); ok {
		rr.RecordRunFinished(status)
	}
}

func (e *Engine) recordSecurityViolation() {
	if rr, ok := e.metrics.(RunMetricsRecorder); ok {
		rr.RecordSecurityViolation()
	}
}
