package lookahead

import (
	"testing"

	"github.com/retrovue/air/internal/decoder"
)

func frame(n int) decoder.AudioFrame {
	samples := make([]int16, n*2)
	for i := range samples {
		samples[i] = int16(i)
	}
	return decoder.AudioFrame{SampleRate: 48000, Channels: 2, Samples: samples}
}

func TestAudioBufferPushAndPop(t *testing.T) {
	b := NewAudioBuffer(1000, 48000, 2, 333, 800)
	b.Push(frame(1000), 0)
	if got := b.DepthSamples(); got != 1000 {
		t.Fatalf("DepthSamples = %d, want 1000", got)
	}
	out, ok := b.TryPopSamples(400)
	if !ok || len(out) != 800 {
		t.Fatalf("TryPopSamples(400): ok=%v len=%d", ok, len(out))
	}
	if got := b.DepthSamples(); got != 600 {
		t.Fatalf("DepthSamples after pop = %d, want 600", got)
	}
}

func TestAudioBufferUnderflowIsHardFaultNoStateChange(t *testing.T) {
	b := NewAudioBuffer(1000, 48000, 2, 333, 800)
	b.Push(frame(100), 0)
	before := b.DepthSamples()
	_, ok := b.TryPopSamples(200)
	if ok {
		t.Fatalf("expected underflow (false)")
	}
	if b.UnderflowCount() != 1 {
		t.Fatalf("UnderflowCount = %d, want 1", b.UnderflowCount())
	}
	if after := b.DepthSamples(); after != before {
		t.Fatalf("state changed on underflow: before=%d after=%d", before, after)
	}
}

func TestAudioBufferPartialFrameConsumption(t *testing.T) {
	b := NewAudioBuffer(1000, 48000, 2, 333, 800)
	b.Push(frame(1000), 0)
	b.Push(frame(1000), 0)
	// Pop less than one frame's worth, then pop across the remaining partial
	// boundary plus into the second pushed frame.
	_, ok := b.TryPopSamples(300)
	if !ok {
		t.Fatalf("first pop failed")
	}
	out, ok := b.TryPopSamples(1000)
	if !ok || len(out) != 2000 {
		t.Fatalf("second pop: ok=%v len=%d", ok, len(out))
	}
	if got := b.DepthSamples(); got != 700 {
		t.Fatalf("DepthSamples = %d, want 700", got)
	}
}

func TestAudioBufferGenerationFencingDropsStalePush(t *testing.T) {
	b := NewAudioBuffer(1000, 48000, 2, 333, 800)
	staleGen := b.CurrentGeneration() + 1
	b.Push(frame(100), staleGen)
	if got := b.DepthSamples(); got != 0 {
		t.Fatalf("stale push was not dropped: depth=%d", got)
	}
}

func TestAudioBufferResetBumpsGenerationAndClears(t *testing.T) {
	b := NewAudioBuffer(1000, 48000, 2, 333, 800)
	b.Push(frame(100), 0)
	genBefore := b.CurrentGeneration()
	b.Reset()
	if b.CurrentGeneration() == genBefore {
		t.Fatalf("Reset did not bump generation")
	}
	if b.DepthSamples() != 0 || b.IsPrimed() {
		t.Fatalf("Reset did not clear state")
	}
}

func TestAudioBufferWaterMarks(t *testing.T) {
	b := NewAudioBuffer(1000, 48000, 2, 100, 500)
	if b.IsBelowLowWater() {
		t.Fatalf("unprimed buffer should not report below-low-water")
	}
	b.Push(frame(1000), 0) // 1000 samples = ~20.8ms, well below 100ms low-water
	if !b.IsBelowLowWater() {
		t.Fatalf("expected below low-water after small primed push")
	}
	b.Push(frame(30000), 0) // plenty, should cross high-water (500ms = 24000 samples)
	if !b.IsAboveHighWater() {
		t.Fatalf("expected above high-water")
	}
}

func TestAudioBufferZeroFramesNeededSucceedsEmpty(t *testing.T) {
	b := NewAudioBuffer(1000, 48000, 2, 333, 800)
	out, ok := b.TryPopSamples(0)
	if !ok || len(out) != 0 {
		t.Fatalf("TryPopSamples(0) = %v,%v, want true,[]", out, ok)
	}
}
