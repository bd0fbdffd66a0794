/*
Package pipeline runs one motion extraction: inspect the source, sample a
current and an offset cursor for every output frame, composite the pair and
feed the result to an encoding sink.

An Orchestrator owns the state of its runs. It accepts one run at a time;
a second Run while one is active fails with media.ErrAlreadyRunning and
leaves the active run alone. Once a run reaches a terminal phase the same
Orchestrator can start a new one.

	orch := pipeline.New(runtime, pipeline.Options{})
	out, err := orch.Run(ctx, src, pipeline.Config{FrameOffset: 10}, func(p float64) {
		fmt.Printf("\r%3.0f%%", p*100)
	})

Frames the decoder cannot produce are skipped, logged at debug level and
counted; they never fail a run. Cancellation, either through ctx or
Orchestrator.Cancel, is honoured between frames: the sink is aborted,
nothing is finalized and the run ends in PhaseCanceled with
media.ErrCanceled.
*/
package pipeline
