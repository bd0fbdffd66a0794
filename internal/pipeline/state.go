package pipeline

import (
	"motion-extractor/internal/media"
	"motion-extractor/internal/sink"
)

// Phase is the lifecycle position of a run.
type Phase string

// Run phases. Completed, Failed and Canceled are terminal.
const (
	PhaseIdle       Phase = "idle"
	PhaseInspecting Phase = "inspecting"
	PhaseEncoding   Phase = "encoding"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCanceled   Phase = "canceled"
)

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCanceled
}

// Active reports whether a run is in flight.
func (p Phase) Active() bool {
	return p == PhaseInspecting || p == PhaseEncoding
}

// RunState is a snapshot of an orchestrator's current or last run.
type RunState struct {
	Phase Phase

	// Info is set once inspection has finished.
	Info media.TrackInfo

	// Progress is the last value passed to the progress callback, or 1 once
	// the run completed.
	Progress float64

	// Composed and Skipped count output frames pushed and skipped so far.
	Composed int
	Skipped  int

	// Err is the terminal error of a failed or canceled run.
	Err error

	// Output is set only in PhaseCompleted.
	Output *sink.Output
}
