// Package rational implements exact-integer frame-rate arithmetic.
//
// Every pacing decision in the playout engine — deadlines, PTS, sample
// counts, channel-time — is derived from a rational FPS (num/den) using
// integer-only arithmetic. Floating point is permitted for diagnostics only
// (e.g. a human-readable "29.97 fps" log line), never for control flow.
package rational

import (
	"fmt"
)

// FPS is a frame rate expressed as an exact fraction num/den, num,den > 0.
// Frame duration is exactly den/num seconds.
type FPS struct {
	Num int64
	Den int64
}

// canonical holds the broadcast-standard rates spec.md calls out by name.
// Detected near-matches are snapped to these so that e.g. a decoder-reported
// 23.976 comes out as the exact 24000/1001 used throughout the engine.
var canonical = []FPS{
	{24000, 1001},
	{24, 1},
	{25, 1},
	{30000, 1001},
	{30, 1},
	{50, 1},
	{60000, 1001},
	{60, 1},
}

// New constructs an FPS, reducing it to lowest terms. Panics on non-positive
// inputs — callers must validate decoder-reported rates before constructing.
func New(num, den int64) FPS {
	if num <= 0 || den <= 0 {
		panic(fmt.Sprintf("rational: invalid fps %d/%d", num, den))
	}
	g := gcd(num, den)
	return FPS{Num: num / g, Den: den / g}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// Snap returns the canonical rational nearest to f within 0.1%, or f itself
// unchanged if no canonical rate is that close. Used when a decoder reports
// an FPS derived from float timebase math (e.g. 23.976023...) that should be
// treated as the exact broadcast standard it approximates.
func Snap(f FPS) FPS {
	const toleranceNum, toleranceDen = 1, 1000 // 0.1%
	for _, c := range canonical {
		// |f - c| / c <= tolerance  <=>  |f.Num*c.Den - c.Num*f.Den| * toleranceDen <= c.Num*f.Den*toleranceNum
		diff := f.Num*c.Den - c.Num*f.Den
		if diff < 0 {
			diff = -diff
		}
		lhs := diff * toleranceDen
		rhs := c.Num * f.Den * toleranceNum
		if lhs <= rhs {
			return c
		}
	}
	return f
}

// FrameDurationNs decomposes den/num seconds into nanoseconds as whole and
// rem such that one frame period is whole ns plus rem/num ns. This mirrors
// the exact form spec.md's deadline formula requires:
// whole = floor(den*1e9/num), rem = (den*1e9) mod num.
func (f FPS) FrameDurationNs() (whole, rem, num int64) {
	total := f.Den * 1_000_000_000
	whole = total / f.Num
	rem = total % f.Num
	return whole, rem, f.Num
}

// DeadlineNs returns the offset, in nanoseconds from session start, of frame
// index n: n*whole + floor(n*rem/num). Computed without intermediate
// rounding so that accounting stays exact over millions of frames.
func (f FPS) DeadlineNs(n int64) int64 {
	whole, rem, num := f.FrameDurationNs()
	return n*whole + (n*rem)/num
}

// PTS90kPerFrame returns the 90kHz-clock ticks per frame: round(90000*den/num).
func (f FPS) PTS90kPerFrame() int64 {
	// round(90000*den/num) using integer rounding (add num/2 before dividing).
	num90 := 90000 * f.Den
	return (num90 + f.Num/2) / f.Num
}

// PTS90k returns the 90kHz PTS of frame index n.
func (f FPS) PTS90k(n int64) int64 {
	return n * f.PTS90kPerFrame()
}

// ChannelTimeMs returns exact channel-time in milliseconds for frame index n:
// (n*den*1000)/num, truncated per spec.md §4.5 step 1.
func (f FPS) ChannelTimeMs(n int64) int64 {
	return (n * f.Den * 1000) / f.Num
}

// SamplesPerTick returns round(sampleRate*den/num) samples, the exact number
// of audio samples that must be popped from the lookahead buffer each tick.
func (f FPS) SamplesPerTick(sampleRate int64) int64 {
	num := sampleRate * f.Den
	return (num + f.Num/2) / f.Num
}

// Float returns the rate as a float64 for diagnostics/logging only.
func (f FPS) Float() float64 {
	return float64(f.Num) / float64(f.Den)
}

// Equal reports whether f and g denote the same rate (both already reduced
// by New, or compared cross-multiplied if not).
func (f FPS) Equal(g FPS) bool {
	return f.Num*g.Den == g.Num*f.Den
}

// WithinTolerance reports whether f and g differ by no more than the given
// fractional tolerance (e.g. 0.01 for the spec's "±1%" same-rate test used
// by the cadence gate's PASS classification).
func (f FPS) WithinTolerance(g FPS, tolerance float64) bool {
	diff := f.Float() - g.Float()
	if diff < 0 {
		diff = -diff
	}
	return diff <= g.Float()*tolerance
}

func (f FPS) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}
