package tickproducer

import "github.com/retrovue/air/internal/rational"

// Gate is the result of resolving one decoded source frame against the
// output tick grid (§4.4's FPS-resample gate).
type Gate int

const (
	// Hold: the decoded frame is absorbed with no emit (source is ahead of
	// the output grid; wait for the next output tick).
	Hold Gate = iota
	// Emit: stamp the frame (or its most recent predecessor) to the tick.
	Emit
	// Pass: resampler is inactive — source and output rates agree within
	// tolerance, so frames are emitted 1:1 without cadence resolution.
	Pass
)

// CadenceResolver tracks the output tick grid in media-time and resolves
// each incoming decoded frame's PTS against it, returning how many times
// (0, 1, or k) the most recently decoded frame should be emitted.
type CadenceResolver struct {
	sourceFPS rational.FPS
	outputFPS rational.FPS
	pass      bool

	nextTickBoundaryUs int64
	tickDeltaUs        int64
	lastPtsUs          int64
	haveLast           bool

	consecutiveRepeats int
}

// NewCadenceResolver builds a resolver for source -> output FPS. If the
// rates agree within 1% tolerance, the resolver always reports Pass.
func NewCadenceResolver(sourceFPS, outputFPS rational.FPS) *CadenceResolver {
	r := &CadenceResolver{sourceFPS: sourceFPS, outputFPS: outputFPS}
	r.pass = sourceFPS.WithinTolerance(outputFPS, 0.01)
	whole, rem, num := outputFPS.FrameDurationNs()
	r.tickDeltaUs = (whole + rem/num) / 1000
	if r.tickDeltaUs <= 0 {
		r.tickDeltaUs = 1
	}
	return r
}

// IsPassthrough reports whether this resolver is in PASS mode (no cadence
// resolution needed — same rate within tolerance).
func (r *CadenceResolver) IsPassthrough() bool { return r.pass }

// Resolve classifies one decoded frame's PTS (in microseconds, media-time
// relative to the current block) against the output tick grid, returning
// the repeat count: select the most recent decoded frame with
// pts <= tick_boundary and stamp it to the tick. Every Emit stamps PTS to
// the tick grid so output PTS is strictly monotonic at the house rate
// regardless of source jitter.
func (r *CadenceResolver) Resolve(ptsUs int64) (repeats int) {
	if r.pass {
		return 1
	}
	r.lastPtsUs = ptsUs
	r.haveLast = true

	count := 0
	for ptsUs >= r.nextTickBoundaryUs {
		count++
		r.nextTickBoundaryUs += r.tickDeltaUs
	}
	if count == 0 {
		r.consecutiveRepeats = 0
		return 0 // HOLD: absorbed, source still ahead of next tick
	}
	if count > 1 {
		r.consecutiveRepeats += count - 1
	} else {
		r.consecutiveRepeats = 0
	}
	return count
}

// ConsecutiveRepeats reports the running count of repeat-emits (ticks where
// the same decoded frame was stamped more than once in a row), logged once
// if it exceeds 30 per the cadence scenario in spec.md.
func (r *CadenceResolver) ConsecutiveRepeats() int {
	return r.consecutiveRepeats
}
