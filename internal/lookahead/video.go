package lookahead

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/retrovue/air/internal/decoder"
	"github.com/retrovue/air/internal/metrics"
)

// VideoFrame is one cadence-resolved frame ready for emission: either a
// freshly decoded frame (WasDecoded true) or a repeat of the most recent one
// (WasDecoded false). A repeat carries the same BlockCtMs as the frame it
// repeats.
type VideoFrame struct {
	Video      decoder.VideoFrame
	AssetURI   string
	BlockCtMs  int64 // decoded frame's PTS in ms; 0 for the primed head frame
	WasDecoded bool
}

const latencyRingSize = 128

// CadenceFn resolves source FPS vs output FPS into the number of times the
// most recently decoded frame should be emitted (§4.4's HOLD/EMIT/PASS gate,
// collapsed to a repeat count: the gate is invoked once per decoded source
// frame and returns how many ticks it covers; 0 is HOLD, and the frame is
// then absorbed without a push).
type CadenceFn func(decodedPtsUs int64) (repeats int)

// VideoBuffer is a generation-fenced bounded FIFO of cadence-resolved video
// frames, fed by a background fill worker.
type VideoBuffer struct {
	targetDepthFrames int
	lowWaterFrames    int
	audioBurstMs      int

	mu         sync.Mutex
	cond       *sync.Cond
	frames     []VideoFrame
	primed     bool
	audioBoost bool
	generation uint64
	filling    bool

	totalPushed int64
	totalPopped int64
	underflows  int64
	fillStart   time.Time

	latencies    []time.Duration
	latencyNext  int

	stopFlag bool
}

// NewVideoBuffer constructs a video lookahead buffer. Defaults: 15 frame
// target depth, 5 frame low-water.
func NewVideoBuffer(targetDepthFrames, lowWaterFrames int) *VideoBuffer {
	if targetDepthFrames <= 0 {
		targetDepthFrames = 15
	}
	if lowWaterFrames <= 0 {
		lowWaterFrames = 5
	}
	b := &VideoBuffer{
		targetDepthFrames: targetDepthFrames,
		lowWaterFrames:    lowWaterFrames,
		audioBurstMs:      200,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// SetAudioBoost doubles the effective target depth while on, used when the
// audio buffer needs extra headroom rebuilt alongside video.
func (b *VideoBuffer) SetAudioBoost(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioBoost = on
	b.cond.Broadcast()
}

func (b *VideoBuffer) effectiveTarget() int {
	if b.audioBoost {
		return b.targetDepthFrames * 2
	}
	return b.targetDepthFrames
}

// DetachedFill is returned by StopFillingAsync for opportunistic joining.
type DetachedFill struct {
	done chan struct{}
}

// Join blocks until the detached fill worker has fully exited.
func (d DetachedFill) Join() {
	<-d.done
}

// StartFilling consumes an already-primed frame synchronously (if primedFrame
// is non-nil), then spawns the background fill worker that decodes frames,
// resolves cadence, and pushes into this buffer and audio into audioBuf.
func (b *VideoBuffer) StartFilling(ctx context.Context, dec decoder.Decoder, audioBuf *AudioBuffer, cadence CadenceFn, primedFrame *decoder.VideoFrame) {
	b.mu.Lock()
	b.generation++
	gen := b.generation
	b.filling = true
	b.stopFlag = false
	b.fillStart = time.Now()
	b.mu.Unlock()

	if primedFrame != nil {
		b.push(VideoFrame{Video: *primedFrame, AssetURI: primedFrame.AssetURI, BlockCtMs: 0, WasDecoded: true}, gen)
	}

	stop := false
	dec.SetInterruptFlags(decoder.InterruptFlags{FillStop: &stop})

	audioGen := audioBuf.CurrentGeneration()
	go b.fillLoop(ctx, dec, audioBuf, cadence, gen, audioGen, &stop)
}

func (b *VideoBuffer) fillLoop(ctx context.Context, dec decoder.Decoder, audioBuf *AudioBuffer, cadence CadenceFn, gen, audioGen uint64, stopFlag *bool) {
	for {
		b.mu.Lock()
		for !b.shouldStopLocked(gen) && b.depthLocked() >= b.effectiveTargetWithBurst(audioBuf) {
			b.cond.Wait()
		}
		stop := b.shouldStopLocked(gen)
		b.mu.Unlock()
		if stop {
			*stopFlag = true
			b.mu.Lock()
			b.filling = false
			b.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			*stopFlag = true
			b.mu.Lock()
			b.filling = false
			b.mu.Unlock()
			return
		default:
		}

		start := time.Now()
		var vf decoder.VideoFrame
		ok, err := dec.DecodeFrameToBuffer(&vf)
		if err != nil {
			log.Printf("lookahead: decode error: %v", err)
			continue
		}
		if !ok {
			// EOF or interrupted; nothing more to push this generation.
			b.mu.Lock()
			b.filling = false
			b.mu.Unlock()
			return
		}
		b.recordLatency(time.Since(start))

		repeats := 1
		if cadence != nil {
			repeats = cadence(vf.PtsUs)
		}
		for i := 0; i < repeats; i++ {
			b.push(VideoFrame{Video: vf, AssetURI: vf.AssetURI, BlockCtMs: vf.PtsUs / 1000, WasDecoded: i == 0}, gen)
			if i > 0 {
				metrics.FallbackFramesTotal.Inc()
			}
		}

		var af decoder.AudioFrame
		for {
			has, err := dec.GetPendingAudioFrame(&af)
			if err != nil || !has {
				break
			}
			audioBuf.Push(af, audioGen)
		}
	}
}

// effectiveTargetWithBurst allows the fill loop to proceed past the normal
// target (up to 4x) when audio depth has fallen below the burst threshold,
// so video fill doesn't stall while audio rebuilds headroom.
func (b *VideoBuffer) effectiveTargetWithBurst(audioBuf *AudioBuffer) int {
	target := b.effectiveTarget()
	if audioBuf != nil && audioBuf.DepthMs() < b.audioBurstMs {
		burstCap := target * 4
		return burstCap
	}
	return target
}

func (b *VideoBuffer) shouldStopLocked(gen uint64) bool {
	return b.stopFlag || b.generation != gen
}

func (b *VideoBuffer) depthLocked() int {
	return len(b.frames)
}

func (b *VideoBuffer) push(f VideoFrame, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return // generation-fenced: stale push from a torn-down fill worker
	}
	b.frames = append(b.frames, f)
	b.totalPushed++
	b.primed = true
	b.cond.Broadcast()
}

// TryPopFrame returns the oldest buffered frame, or false if empty. Failure
// after the buffer has been primed is a fatal underflow for the caller.
func (b *VideoBuffer) TryPopFrame() (VideoFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		b.underflows++
		return VideoFrame{}, false
	}
	f := b.frames[0]
	b.frames = b.frames[1:]
	b.totalPopped++
	b.cond.Broadcast()
	return f, true
}

// StopFilling signals the fill worker and blocks until it exits.
func (b *VideoBuffer) StopFilling(flush bool) {
	b.mu.Lock()
	b.stopFlag = true
	b.cond.Broadcast()
	b.mu.Unlock()

	for {
		b.mu.Lock()
		filling := b.filling
		b.mu.Unlock()
		if !filling {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if flush {
		b.mu.Lock()
		b.frames = nil
		b.mu.Unlock()
	}
}

// StopFillingAsync bumps the generation (invalidating the running worker
// without waiting for it) and returns a detach handle for opportunistic
// later joining. The tick loop never blocks on this call.
func (b *VideoBuffer) StopFillingAsync(flush bool) DetachedFill {
	b.mu.Lock()
	b.generation++
	b.stopFlag = true
	b.cond.Broadcast()
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			b.mu.Lock()
			filling := b.filling
			b.mu.Unlock()
			if !filling {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if flush {
			b.mu.Lock()
			b.frames = nil
			b.mu.Unlock()
		}
		close(done)
	}()
	return DetachedFill{done: done}
}

// IsFilling reports whether a fill worker is currently running for this
// buffer's current generation.
func (b *VideoBuffer) IsFilling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filling
}

func (b *VideoBuffer) recordLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.latencies) < latencyRingSize {
		b.latencies = append(b.latencies, d)
	} else {
		b.latencies[b.latencyNext] = d
		b.latencyNext = (b.latencyNext + 1) % latencyRingSize
	}
}

// DecodeLatencyP95Us returns the p95 decode latency, in microseconds, over
// the ring of the last <=128 decode durations.
func (b *VideoBuffer) DecodeLatencyP95Us() int64 {
	return b.decodeLatencyPercentileUs(95)
}

// DecodeLatencyP50Us returns the median decode latency, in microseconds,
// over the same ring.
func (b *VideoBuffer) DecodeLatencyP50Us() int64 {
	return b.decodeLatencyPercentileUs(50)
}

func (b *VideoBuffer) decodeLatencyPercentileUs(pct int) int64 {
	b.mu.Lock()
	samples := append([]time.Duration(nil), b.latencies...)
	b.mu.Unlock()
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := (len(samples) * pct) / 100
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx].Microseconds()
}

// DecodeLatencyMeanUs returns the mean decode latency in microseconds.
func (b *VideoBuffer) DecodeLatencyMeanUs() int64 {
	b.mu.Lock()
	samples := append([]time.Duration(nil), b.latencies...)
	b.mu.Unlock()
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return (sum / time.Duration(len(samples))).Microseconds()
}

// RefillRateFps returns total frames pushed divided by elapsed time since
// the fill worker started.
func (b *VideoBuffer) RefillRateFps() float64 {
	b.mu.Lock()
	pushed := b.totalPushed
	start := b.fillStart
	b.mu.Unlock()
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(pushed) / elapsed
}

func (b *VideoBuffer) DepthFrames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *VideoBuffer) IsPrimed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primed
}

func (b *VideoBuffer) UnderflowCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.underflows
}

func (b *VideoBuffer) TargetDepthFrames() int { return b.targetDepthFrames }
func (b *VideoBuffer) LowWaterFrames() int    { return b.lowWaterFrames }

func (b *VideoBuffer) IsBelowLowWater() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.primed {
		return false
	}
	return len(b.frames) < b.lowWaterFrames
}
