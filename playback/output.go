package playback

import "time"

// Output is an audio sink with its own monotonic clock.
//
// Schedule must not invoke onEnded synchronously; it fires once, from the
// output's own goroutine, when the samples have been fully rendered. A voice
// halted with Stop never fires onEnded.
type Output interface {
	Now() float64
	Schedule(samples []float32, at float64, onEnded func()) Voice
	RampGain(from, to float64, d time.Duration)
	Close() error
}

// Voice is a handle to one scheduled buffer.
type Voice interface {
	Stop()
}

// OutputFactory creates the output on first use.
type OutputFactory func() (Output, error)
