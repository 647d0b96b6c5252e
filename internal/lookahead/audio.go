// Package lookahead implements the audio and video lookahead FIFOs: bounded
// in-memory buffers, fed by a background fill worker, that the tick loop
// pops from once per frame. Both are generation-fenced so late pushes from a
// torn-down fill worker are dropped rather than corrupting the live stream.
package lookahead

import (
	"sync"

	"github.com/retrovue/air/internal/decoder"
)

// audioChunk is one pushed frame plus a consumed-offset cursor, so a pop
// that only partially drains the head frame can retain the remainder.
type audioChunk struct {
	samples []int16 // interleaved
	offset  int      // samples already consumed, in interleaved-sample units
}

func (c audioChunk) remainingFrames(channels int) int {
	return (len(c.samples) - c.offset) / channels
}

// AudioBuffer is a generation-fenced bounded FIFO of house-format audio
// samples (interleaved int16). Depth is tracked in samples-per-channel and
// reported in milliseconds.
type AudioBuffer struct {
	targetDepthMs int
	sampleRate    int
	channels      int
	lowWaterMs    int
	highWaterMs   int

	mu         sync.Mutex
	chunks     []audioChunk
	totalInBuf int // frames (samples per channel) currently buffered
	totalPushed int64
	totalPopped int64
	underflows  int64
	primed      bool
	generation  uint64
}

// NewAudioBuffer constructs an audio lookahead buffer. Defaults mirror the
// original implementation: 1000ms target depth, 48kHz stereo, 333/800ms
// low/high water marks.
func NewAudioBuffer(targetDepthMs, sampleRate, channels, lowWaterMs, highWaterMs int) *AudioBuffer {
	if targetDepthMs <= 0 {
		targetDepthMs = 1000
	}
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels <= 0 {
		channels = 2
	}
	if lowWaterMs <= 0 {
		lowWaterMs = 333
	}
	if highWaterMs <= 0 {
		highWaterMs = 800
	}
	return &AudioBuffer{
		targetDepthMs: targetDepthMs,
		sampleRate:    sampleRate,
		channels:      channels,
		lowWaterMs:    lowWaterMs,
		highWaterMs:   highWaterMs,
	}
}

// Push appends a decoded audio frame. If expectedGeneration is non-zero and
// does not match the buffer's current generation, the push is silently
// dropped — this is how the pipeline fences stale late pushes from a
// torn-down fill worker.
func (b *AudioBuffer) Push(frame decoder.AudioFrame, expectedGeneration uint64) {
	frames := len(frame.Samples) / b.channels
	if frames <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if expectedGeneration != 0 && expectedGeneration != b.generation {
		return
	}
	b.chunks = append(b.chunks, audioChunk{samples: frame.Samples})
	b.totalInBuf += frames
	b.totalPushed += int64(frames)
	b.primed = true
}

// TryPopSamples attempts to pop exactly framesNeeded samples-per-channel
// (interleaved across Channels()) into out. If fewer than framesNeeded are
// currently buffered, it returns false, increments the underflow counter,
// and makes no state change whatsoever — the caller must treat this as a
// hard fault; the buffer never zero-fills.
func (b *AudioBuffer) TryPopSamples(framesNeeded int) (out []int16, ok bool) {
	if framesNeeded <= 0 {
		return nil, true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.totalInBuf < framesNeeded {
		b.underflows++
		return nil, false
	}

	out = make([]int16, 0, framesNeeded*b.channels)
	remaining := framesNeeded
	i := 0
	for remaining > 0 && i < len(b.chunks) {
		c := &b.chunks[i]
		avail := c.remainingFrames(b.channels)
		take := avail
		if take > remaining {
			take = remaining
		}
		start := c.offset
		end := start + take*b.channels
		out = append(out, c.samples[start:end]...)
		c.offset = end
		remaining -= take
		if c.remainingFrames(b.channels) == 0 {
			i++
		}
	}
	// Drop fully-consumed chunks from the front; keep the partial cursor
	// chunk (if any) at index 0 for the next pop.
	b.chunks = b.chunks[i:]

	b.totalInBuf -= framesNeeded
	b.totalPopped += int64(framesNeeded)
	return out, true
}

// DepthMs returns the currently buffered depth in milliseconds.
func (b *AudioBuffer) DepthMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalInBuf * 1000 / b.sampleRate
}

func (b *AudioBuffer) DepthSamples() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalInBuf
}

func (b *AudioBuffer) TotalPushed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalPushed
}

func (b *AudioBuffer) TotalPopped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalPopped
}

func (b *AudioBuffer) UnderflowCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.underflows
}

func (b *AudioBuffer) IsPrimed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primed
}

func (b *AudioBuffer) TargetDepthMs() int { return b.targetDepthMs }
func (b *AudioBuffer) LowWaterMs() int    { return b.lowWaterMs }
func (b *AudioBuffer) HighWaterMs() int   { return b.highWaterMs }
func (b *AudioBuffer) Channels() int      { return b.channels }
func (b *AudioBuffer) SampleRate() int    { return b.sampleRate }

// IsBelowLowWater reports whether the buffer is primed and its depth has
// fallen below the low-water mark.
func (b *AudioBuffer) IsBelowLowWater() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.primed {
		return false
	}
	return (b.totalInBuf*1000)/b.sampleRate < b.lowWaterMs
}

// IsAboveHighWater reports whether the buffer's depth exceeds the high-water
// mark.
func (b *AudioBuffer) IsAboveHighWater() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (b.totalInBuf*1000)/b.sampleRate > b.highWaterMs
}

// CurrentGeneration returns the buffer's current generation counter, for
// fill workers to capture before starting an async push sequence.
func (b *AudioBuffer) CurrentGeneration() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Reset bumps the generation (fencing any in-flight pushes from the old
// generation), clears all buffered samples, and clears primed.
func (b *AudioBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	b.chunks = nil
	b.totalInBuf = 0
	b.primed = false
}
