package tickproducer

import (
	"testing"

	"github.com/retrovue/air/internal/decoder"
	"github.com/retrovue/air/internal/rational"
)

func TestAssignBlockPrimesAudioAndGoesReady(t *testing.T) {
	dec := &decoder.FakeDecoder{
		FPS: rational.New(30, 1), FrameCount: 1000,
		HasAudio: true, SampleRate: 48000, Channels: 2, SamplesPerPkt: 1602,
	}
	p := New(dec, rational.New(30, 1))
	block := FedBlock{BlockID: "b1", AssetURI: "asset://x", DurationMs: 10000}
	if err := p.AssignBlock(block, 100); err != nil {
		t.Fatalf("AssignBlock: %v", err)
	}
	if p.State() != Ready {
		t.Fatalf("state = %v, want Ready", p.State())
	}
	if p.AudioPrimeDepthMs() < 100 {
		t.Fatalf("AudioPrimeDepthMs = %d, want >= 100", p.AudioPrimeDepthMs())
	}
	if p.FramesPerBlock() != 300 {
		t.Fatalf("FramesPerBlock = %d, want 300", p.FramesPerBlock())
	}
	if f := p.TakePrimedVideoFrame(); f == nil {
		t.Fatalf("expected a retained primed video frame")
	}
}

func TestAssignBlockFailsOnOpenError(t *testing.T) {
	dec := &decoder.FakeDecoder{FPS: rational.New(30, 1), FailOpen: true}
	p := New(dec, rational.New(30, 1))
	err := p.AssignBlock(FedBlock{AssetURI: "asset://x", DurationMs: 1000}, 100)
	if err == nil {
		t.Fatalf("expected error on open failure")
	}
	if p.State() != Empty {
		t.Fatalf("state = %v, want Empty after failed assign", p.State())
	}
}

func TestAssignBlockFailsOnSeekError(t *testing.T) {
	dec := &decoder.FakeDecoder{FPS: rational.New(30, 1), FailSeek: true}
	p := New(dec, rational.New(30, 1))
	err := p.AssignBlock(FedBlock{AssetURI: "asset://x", DurationMs: 1000}, 100)
	if err == nil {
		t.Fatalf("expected error on seek failure")
	}
}

func TestResetReturnsToEmpty(t *testing.T) {
	dec := &decoder.FakeDecoder{FPS: rational.New(30, 1), FrameCount: 10}
	p := New(dec, rational.New(30, 1))
	_ = p.AssignBlock(FedBlock{AssetURI: "asset://x", DurationMs: 1000}, 0)
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if p.State() != Empty {
		t.Fatalf("state = %v, want Empty", p.State())
	}
}

func TestCadenceResolverPassthroughWhenRatesMatch(t *testing.T) {
	r := NewCadenceResolver(rational.New(30, 1), rational.New(30000, 1001))
	if !r.IsPassthrough() {
		t.Fatalf("expected passthrough for near-equal rates")
	}
	if got := r.Resolve(12345); got != 1 {
		t.Fatalf("Resolve in passthrough = %d, want 1", got)
	}
}

func TestCadenceResolverDownsample60to30(t *testing.T) {
	r := NewCadenceResolver(rational.New(60, 1), rational.New(30, 1))
	if r.IsPassthrough() {
		t.Fatalf("60->30 should not be passthrough")
	}
	// 600 source frames at 60fps over 300 output ticks at 30fps: every other
	// frame should HOLD (repeats=0), the rest EMIT(1).
	emits, holds := 0, 0
	for i := int64(0); i < 600; i++ {
		ptsUs := i * 1_000_000 / 60
		repeats := r.Resolve(ptsUs)
		if repeats == 0 {
			holds++
		} else {
			emits += repeats
		}
	}
	if emits != 300 {
		t.Fatalf("emits = %d, want 300", emits)
	}
	if holds != 300 {
		t.Fatalf("holds = %d, want 300", holds)
	}
}

// TestCadenceResolverUpsample24000over1001To30000over1001 drives the
// 23.976fps -> 29.97fps upsample (repeat every ~4 ticks). PTS is generated
// with sourceFPS.DeadlineNs (exact whole-plus-remainder nanoseconds,
// truncated to µs), while the resolver's output grid advances by a fixed
// step of the output frame period truncated to whole µs (33366 µs here);
// the test drives the real Resolve, so the boundary arithmetic is
// production's own. The resolver's running tick count crosses 1001 the
// instant the 801st source frame is resolved, via a double-emit (the frame
// lands past two tick boundaries at once) rather than landing on 1001 exactly
// one frame earlier — the source period is slightly longer than 5/4 of a
// tick once both rates' /1001 remainders are carried through truncation.
func TestCadenceResolverUpsample24000over1001To30000over1001(t *testing.T) {
	sourceFPS := rational.New(24000, 1001)
	outputFPS := rational.New(30000, 1001)
	r := NewCadenceResolver(sourceFPS, outputFPS)
	if r.IsPassthrough() {
		t.Fatalf("24000/1001->30000/1001 should not be passthrough")
	}

	var total int64
	var framesConsumed int64
	var lastRepeats int
	var sawRepeat bool
	for total < 1001 {
		ptsUs := sourceFPS.DeadlineNs(framesConsumed) / 1000
		lastRepeats = r.Resolve(ptsUs)
		framesConsumed++
		total += int64(lastRepeats)
		if lastRepeats > 1 {
			sawRepeat = true
		}
	}

	if framesConsumed != 801 {
		t.Fatalf("source frames consumed to reach 1001 output ticks = %d, want 801", framesConsumed)
	}
	if total != 1001 {
		t.Fatalf("cumulative output ticks = %d, want exactly 1001 (no overshoot)", total)
	}
	if lastRepeats != 2 {
		t.Fatalf("final frame's repeat count = %d, want 2 (the catch-up double-emit)", lastRepeats)
	}
	if !sawRepeat {
		t.Fatalf("expected at least one repeat-emit tick for a 24fps->30fps upsample")
	}
}

// TestCadenceResolverConsecutiveRepeatsCrossesLogThreshold exercises
// ConsecutiveRepeats past the 30-repeat point a real caller (the pipeline
// manager) watches for. A clean rational ratio like 24000/1001->30000/1001
// never accumulates more than a couple of repeats in a single Resolve call,
// so this simulates the scenario that actually produces a run that long: a
// decoded frame's PTS jumping far ahead of the tick grid in one step, as a
// source stall or discontinuity would.
func TestCadenceResolverConsecutiveRepeatsCrossesLogThreshold(t *testing.T) {
	r := NewCadenceResolver(rational.New(24000, 1001), rational.New(30000, 1001))

	if got := r.Resolve(0); got != 1 {
		t.Fatalf("first Resolve = %d, want 1", got)
	}
	if got := r.ConsecutiveRepeats(); got != 0 {
		t.Fatalf("ConsecutiveRepeats after a plain emit = %d, want 0", got)
	}

	// A single frame landing 40 ticks ahead of the grid: count=40, so
	// consecutiveRepeats accumulates count-1 = 39 in one call.
	jumped := r.Resolve(40 * r.tickDeltaUs)
	if jumped <= 31 {
		t.Fatalf("jumped Resolve returned %d, want > 31 ticks crossed", jumped)
	}
	if got := r.ConsecutiveRepeats(); got <= 30 {
		t.Fatalf("ConsecutiveRepeats after the jump = %d, want > 30", got)
	}

	// The next frame lands on the very next tick: a plain single emit, which
	// resets the run back to 0.
	if got := r.Resolve(41 * r.tickDeltaUs); got != 1 {
		t.Fatalf("Resolve after the jump = %d, want 1", got)
	}
	if got := r.ConsecutiveRepeats(); got != 0 {
		t.Fatalf("ConsecutiveRepeats after the run ends = %d, want 0", got)
	}
}
