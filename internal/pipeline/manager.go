// Package pipeline implements the Pipeline Manager: the per-session tick
// loop that reads committed block plans, pulls frames from the lookahead
// buffers on a rational-FPS cadence, and hands audio/video to the network
// sink, emitting evidence at every block and segment seam.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/air/internal/blockplan"
	"github.com/retrovue/air/internal/clock"
	"github.com/retrovue/air/internal/evidence"
	"github.com/retrovue/air/internal/lookahead"
	"github.com/retrovue/air/internal/logger"
	"github.com/retrovue/air/internal/metrics"
	"github.com/retrovue/air/internal/prepare"
	"github.com/retrovue/air/internal/sink"
	"github.com/retrovue/air/internal/tickproducer"
)

// bootstrapPreloadTimeout bounds how long Run waits for the session's very
// first block to finish preloading before giving up as PreparationFailed.
const bootstrapPreloadTimeout = 10 * time.Second

// Manager owns the tick loop for one playout session. All of its mutable
// state below cadence/segment tracking is touched only by the goroutine
// running Run; collaborators (buffers, sink, emitter, preparer) are safe for
// concurrent use by their own background workers.
type Manager struct {
	cfg          Config
	clock        *clock.Clock
	queue        *blockplan.Queue
	seamPreparer *prepare.SeamPreparer
	preloader    *prepare.ProducerPreloader
	video        *lookahead.VideoBuffer
	audio        *lookahead.AudioBuffer
	sink         *sink.Sink
	emitter      *evidence.Emitter
	log          *logger.Logger

	ctx context.Context

	frameIndex      int64
	blockFrameIndex int64

	currentPlan     *blockplan.Plan
	currentProducer *tickproducer.TickProducer
	cadence         *tickproducer.CadenceResolver

	prevSegmentIndex          int
	segmentStartFrame         int64
	segmentStartUTCMs         int64
	segmentEventID            string
	submittedSegmentSeamIndex int
	submittedBlockSeam        bool
	cadenceWarned             bool

	stopMu        sync.Mutex
	stopRequested bool
}

// New constructs a Manager. queue must already have its first plan enqueued
// and committed-to-preload via preloader.StartPreload before Run is called;
// every subsequent block is prepared through seamPreparer instead.
func New(cfg Config, clk *clock.Clock, queue *blockplan.Queue, seamPreparer *prepare.SeamPreparer, preloader *prepare.ProducerPreloader, video *lookahead.VideoBuffer, audio *lookahead.AudioBuffer, snk *sink.Sink, emitter *evidence.Emitter) *Manager {
	m := &Manager{
		cfg:          cfg,
		clock:        clk,
		queue:        queue,
		seamPreparer: seamPreparer,
		preloader:    preloader,
		video:        video,
		audio:        audio,
		sink:         snk,
		emitter:      emitter,
		log:          logger.For(fmt.Sprintf("pipeline[%s]", cfg.ChannelID)),
	}
	snk.SetCallbacks(
		func() { metrics.SinkThrottling.Set(1) },
		func() { metrics.SinkThrottling.Set(0) },
		func(reason string) {
			metrics.SinkDetachedTotal.Inc()
			m.log.Printf("sink detached: %s", reason)
		},
	)
	return m
}

// RequestStop asks the tick loop to exit cleanly at its next tick boundary.
func (m *Manager) RequestStop() {
	m.stopMu.Lock()
	m.stopRequested = true
	m.stopMu.Unlock()
}

func (m *Manager) stopFlagSet() bool {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()
	return m.stopRequested
}

// Run drives the tick loop until termination: a fatal condition, a canceled
// context, or an explicit RequestStop. It always returns a Termination and
// always emits a CHANNEL_TERMINATED evidence event before returning.
func (m *Manager) Run(ctx context.Context) Termination {
	m.ctx = ctx

	plan, _, ok := m.queue.Commit()
	if !ok {
		return m.terminate(ReasonUnderrunNoNextBlock, "no initial block plan enqueued")
	}
	m.currentPlan = plan

	producer, err := m.takeBootstrapProducer(ctx, plan)
	if err != nil {
		return m.terminate(ReasonPreparationFailed, err.Error())
	}
	m.installProducer(producer, 0)

	if err := m.clock.Start(); err != nil {
		return m.terminate(ReasonInvariantViolation, err.Error())
	}

	m.emitter.BlockStart(evidence.BlockStartPayload{
		BlockID:          plan.BlockID,
		SwapTick:         0,
		FenceTick:        0,
		ActualStartUTCMs: m.nowUTCMs(),
		PrimedSuccess:    true,
	})

	for {
		select {
		case <-ctx.Done():
			return m.terminate(ReasonStopRequested, "context canceled")
		default:
		}
		if m.stopFlagSet() {
			return m.terminate(ReasonStopRequested, "stop requested")
		}
		if term, done := m.tick(); done {
			return term
		}
	}
}

// takeBootstrapProducer busy-polls the preloader (reserved for the session's
// very first block only — every subsequent block comes from seamPreparer's
// TakeBlockResult) for a ready producer, matching SeamPreparer.Cancel's own
// busy-poll idiom for waiting on a background worker.
func (m *Manager) takeBootstrapProducer(ctx context.Context, plan *blockplan.Plan) (*tickproducer.TickProducer, error) {
	deadline := time.Now().Add(bootstrapPreloadTimeout)
	for {
		if tp, err := m.preloader.TakeSource(); err == nil {
			return tp, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("pipeline: bootstrap producer for block %s never became ready", plan.BlockID)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("pipeline: bootstrap canceled: %w", ctx.Err())
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// installProducer takes ownership of a freshly prepared producer: it resets
// the audio buffer's generation, re-seeds it with the audio accumulated
// during priming, starts the video fill worker from the primed head frame,
// and resets segment-seam bookkeeping for the new block/segment.
func (m *Manager) installProducer(tp *tickproducer.TickProducer, startBlockFrameIndex int64) {
	m.currentProducer = tp
	m.cadence = tickproducer.NewCadenceResolver(tp.GetInputFPS(), m.cfg.OutputFPS)
	m.cadenceWarned = false

	m.audio.Reset()
	gen := m.audio.CurrentGeneration()
	for _, af := range tp.TakePrimedAudioFrames() {
		m.audio.Push(af, gen)
	}

	primedVideo := tp.TakePrimedVideoFrame()
	m.video.StartFilling(m.ctx, tp.Decoder(), m.audio, m.resolveCadence, primedVideo)

	m.blockFrameIndex = startBlockFrameIndex
	m.prevSegmentIndex = -1
	m.submittedSegmentSeamIndex = -1
	m.submittedBlockSeam = false
}

// resolveCadence wraps cadence.Resolve to log once, not on every tick, when
// an upsampled source (e.g. 24000/1001 into a 30000/1001 house rate) crosses
// 30 consecutive repeat-emits — an early signal of a source whose rate is
// badly mismatched from the output grid. The warning clears itself once the
// resolver reports a run of repeats has ended.
func (m *Manager) resolveCadence(ptsUs int64) int {
	repeats := m.cadence.Resolve(ptsUs)
	consecutive := m.cadence.ConsecutiveRepeats()
	if consecutive > 30 {
		if !m.cadenceWarned {
			m.cadenceWarned = true
			inputFPS := m.currentProducer.GetInputFPS()
			m.log.Printf("cadence: %d consecutive repeat-emits resampling %d/%d -> %d/%d",
				consecutive, inputFPS.Num, inputFPS.Den, m.cfg.OutputFPS.Num, m.cfg.OutputFPS.Den)
		}
	} else if consecutive == 0 {
		m.cadenceWarned = false
	}
	return repeats
}

// tick runs one iteration of the 8-step per-tick algorithm. done is true iff
// the session must terminate; in that case term is the reason.
func (m *Manager) tick() (term Termination, done bool) {
	// Step 1: exact-integer, block-relative channel time.
	ctMs := m.cfg.OutputFPS.ChannelTimeMs(m.blockFrameIndex)

	// Step 2: fence check and commit.
	if ctMs >= m.currentPlan.DurationMs() {
		if t, d := m.commitFence(); d {
			return t, true
		}
		ctMs = m.cfg.OutputFPS.ChannelTimeMs(m.blockFrameIndex)
	}

	// Step 3: segment-seam detection, possibly swapping the video fill.
	if t, d := m.handleSegmentSeam(ctMs); d {
		return t, true
	}

	m.maybeSubmitSeams(ctMs)

	// Step 4: wait for this frame's deadline on the session clock.
	if err := m.clock.WaitForFrame(m.frameIndex); err != nil {
		return m.terminate(ReasonInvariantViolation, err.Error()), true
	}

	// Step 5: pop one video frame.
	vf, ok := m.video.TryPopFrame()
	if !ok {
		recordUnderflow("video")
		return m.terminate(ReasonVideoUnderflow, fmt.Sprintf("video buffer empty at frame %d", m.frameIndex)), true
	}

	// Step 6: pop exactly samples_per_tick audio samples.
	samplesPerTick := int(m.cfg.samplesPerTick())
	audioSamples, ok := m.audio.TryPopSamples(samplesPerTick)
	if !ok {
		recordUnderflow("audio")
		return m.terminate(ReasonAudioUnderflow, fmt.Sprintf("audio buffer underflow at frame %d (need %d frames)", m.frameIndex, samplesPerTick)), true
	}

	// Step 7: hand off to the network sink, blocking with a bounded timeout.
	packet := muxTick(m.frameIndex, vf.Video, audioSamples)
	if err := m.sink.WaitAndConsumeBytes(packet, m.cfg.SinkWriteTimeout); err != nil {
		return m.terminate(ReasonSinkDetached, err.Error()), true
	}

	recordTickMetrics(m.frameIndex, m.video, m.audio, m.seamPreparer, m.emitter)

	// Step 8: advance.
	m.frameIndex++
	m.blockFrameIndex++
	return Termination{}, false
}

// commitFence performs TAKE-at-commit: swap the plan queue's next into
// current, take the matching prepared producer from the seam preparer, and
// asynchronously retire the outgoing producer's fill worker.
func (m *Manager) commitFence() (Termination, bool) {
	if !m.queue.HasNext() {
		return m.terminate(ReasonUnderrunNoNextBlock, fmt.Sprintf("block %s exhausted with no next block queued", m.currentPlan.BlockID)), true
	}
	newPlan, oldPlan, ok := m.queue.Commit()
	if !ok {
		return m.terminate(ReasonUnderrunNoNextBlock, "commit raced with an emptied next slot"), true
	}

	fenceCtMs := m.cfg.OutputFPS.ChannelTimeMs(m.blockFrameIndex)
	m.emitSegmentEnd(fenceCtMs, evidence.SegmentAired)
	m.emitter.BlockFence(evidence.BlockFencePayload{
		BlockID:            oldPlan.BlockID,
		SwapTick:           m.frameIndex,
		FenceTick:          m.frameIndex,
		ActualEndUTCMs:     m.nowUTCMs(),
		CtAtFenceMs:        fenceCtMs,
		TotalFramesEmitted: m.blockFrameIndex,
		TruncatedByFence:   fenceCtMs > oldPlan.DurationMs(),
		PrimedSuccess:      true,
	})

	result := m.seamPreparer.TakeBlockResult()
	if result == nil || result.BlockID != newPlan.BlockID {
		recordSeamDecision("block", "missed")
		m.seamPreparer.Cancel()
		return m.terminate(ReasonSeamMiss, fmt.Sprintf("no prepared producer for block %s at fence", newPlan.BlockID)), true
	}
	recordSeamDecision("block", "taken")

	m.retireCurrentProducerAsync()

	m.currentPlan = newPlan
	m.installProducer(result.Producer, 0)

	m.emitter.BlockStart(evidence.BlockStartPayload{
		BlockID:          newPlan.BlockID,
		SwapTick:         m.frameIndex,
		FenceTick:        m.frameIndex,
		ActualStartUTCMs: m.nowUTCMs(),
		PrimedSuccess:    true,
	})

	return Termination{}, false
}

// handleSegmentSeam detects a segment-boundary crossing within the current
// block and, if the new segment's asset differs from what's already
// playing, swaps in a seam-prepared producer for it.
func (m *Manager) handleSegmentSeam(ctMs int64) (Termination, bool) {
	seg, ok := m.currentPlan.SegmentAt(ctMs)
	if !ok {
		return m.terminate(ReasonInvariantViolation, fmt.Sprintf("ct_ms %d has no owning segment in block %s", ctMs, m.currentPlan.BlockID)), true
	}
	if seg.SegmentIndex == m.prevSegmentIndex {
		return Termination{}, false
	}

	m.emitSegmentEnd(ctMs, evidence.SegmentAired)

	m.prevSegmentIndex = seg.SegmentIndex
	m.segmentStartFrame = m.frameIndex
	m.segmentStartUTCMs = m.nowUTCMs()
	m.segmentEventID = uuid.NewString()
	m.emitter.SegmentStart(evidence.SegmentStartPayload{
		BlockID:             m.currentPlan.BlockID,
		EventID:             m.segmentEventID,
		SegmentIndex:        seg.SegmentIndex,
		ActualStartUTCMs:    m.segmentStartUTCMs,
		ActualStartFrame:    m.segmentStartFrame,
		ScheduledDurationMs: seg.DurationMs,
	})

	if m.currentProducer == nil || seg.AssetURI != m.currentProducer.Block().AssetURI {
		result := m.seamPreparer.TakeSegmentResult()
		if result == nil || result.SegmentIndex != seg.SegmentIndex {
			recordSeamDecision("segment", "missed")
			return m.terminate(ReasonSeamMiss, fmt.Sprintf("no prepared producer for segment %d of block %s", seg.SegmentIndex, m.currentPlan.BlockID)), true
		}
		recordSeamDecision("segment", "taken")
		m.retireCurrentProducerAsync()
		m.installProducer(result.Producer, m.blockFrameIndex)
	}

	return Termination{}, false
}

// retireCurrentProducerAsync detaches the outgoing producer's video fill
// worker without blocking the tick thread; the old decoder is closed once
// the detach actually completes.
func (m *Manager) retireCurrentProducerAsync() {
	if m.currentProducer == nil {
		return
	}
	detach := m.video.StopFillingAsync(true)
	old := m.currentProducer
	go func() {
		detach.Join()
		_ = old.Reset()
	}()
}

// maybeSubmitSeams proactively submits SeamPreparer requests ahead of an
// upcoming segment or block boundary, guarded so each boundary is submitted
// at most once.
func (m *Manager) maybeSubmitSeams(ctMs int64) {
	boundary, ok := m.currentPlan.BoundaryAt(ctMs)
	if !ok {
		return
	}
	leadMs := m.cfg.OutputFPS.ChannelTimeMs(m.cfg.SegmentSeamLeadFrames)
	nextIndex := boundary.SegmentIndex + 1

	if nextIndex < len(m.currentPlan.Segments) {
		if ctMs+leadMs < boundary.EndCtMs || m.submittedSegmentSeamIndex == nextIndex {
			return
		}
		nextSeg := m.currentPlan.Segments[nextIndex]
		if nextSeg.AssetURI == m.currentPlan.Segments[boundary.SegmentIndex].AssetURI {
			return // same decoder continues across this boundary, nothing to prepare
		}
		m.seamPreparer.Submit(prepare.Request{
			Type: prepare.SegmentSeam,
			Block: tickproducer.FedBlock{
				BlockID:            m.currentPlan.BlockID,
				AssetURI:           nextSeg.AssetURI,
				AssetStartOffsetMs: nextSeg.AssetStartOffsetMs,
				DurationMs:         nextSeg.DurationMs,
			},
			SeamFrame:       m.frameSeamFor(boundary.EndCtMs),
			OutputFPS:       m.cfg.OutputFPS,
			MinAudioPrimeMs: m.cfg.MinAudioPrimeMs,
			ParentBlockID:   m.currentPlan.BlockID,
			SegmentIndex:    nextIndex,
		})
		m.submittedSegmentSeamIndex = nextIndex
		return
	}

	// Last segment of the block: the next boundary is the block fence.
	blockLeadMs := m.cfg.OutputFPS.ChannelTimeMs(m.cfg.BlockSeamLeadFrames)
	if m.submittedBlockSeam || ctMs+blockLeadMs < m.currentPlan.DurationMs() {
		return
	}
	next := m.queue.PeekNext()
	if next == nil || len(next.Segments) == 0 {
		return // Core hasn't enqueued the following block yet; retry next tick
	}
	first := next.Segments[0]
	m.seamPreparer.Submit(prepare.Request{
		Type: prepare.BlockSeam,
		Block: tickproducer.FedBlock{
			BlockID:            next.BlockID,
			AssetURI:           first.AssetURI,
			AssetStartOffsetMs: first.AssetStartOffsetMs,
			DurationMs:         next.DurationMs(),
		},
		SeamFrame:       m.frameSeamFor(m.currentPlan.DurationMs()),
		OutputFPS:       m.cfg.OutputFPS,
		MinAudioPrimeMs: m.cfg.MinAudioPrimeMs,
		ParentBlockID:   next.BlockID,
		SegmentIndex:    -1,
	})
	m.submittedBlockSeam = true
}

// frameSeamFor converts a target block-relative channel-time into an
// approximate global frame index, used only as the SeamPreparer heap's
// ordering key — not for pacing, which the tick loop derives independently
// from frame indices.
func (m *Manager) frameSeamFor(targetCtMs int64) int64 {
	targetBlockFrame := (targetCtMs * m.cfg.OutputFPS.Num) / (m.cfg.OutputFPS.Den * 1000)
	return m.frameIndex + (targetBlockFrame - m.blockFrameIndex)
}

// emitSegmentEnd closes out the currently tracked segment (if any) at ctMs,
// shared by both a normal segment-seam crossing and a block fence, which
// implicitly ends whatever segment was airing when the block ran out.
func (m *Manager) emitSegmentEnd(ctMs int64, status evidence.SegmentStatus) {
	if m.prevSegmentIndex < 0 {
		return
	}
	prevBoundary := m.currentPlan.Boundaries[m.prevSegmentIndex]
	m.emitter.SegmentEnd(evidence.SegmentEndPayload{
		BlockID:                m.currentPlan.BlockID,
		EventIDRef:             m.segmentEventID,
		ActualStartUTCMs:       m.segmentStartUTCMs,
		ActualEndUTCMs:         m.nowUTCMs(),
		ActualStartFrame:       m.segmentStartFrame,
		ActualEndFrame:         m.frameIndex,
		ComputedDurationMs:     ctMs - prevBoundary.StartCtMs,
		ComputedDurationFrames: m.frameIndex - m.segmentStartFrame,
		Status:                 status,
	})
}

func (m *Manager) nowUTCMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// terminate emits the CHANNEL_TERMINATED evidence event, retires any
// in-flight fill worker, and returns the Termination for Run to propagate.
func (m *Manager) terminate(reason Reason, detail string) Termination {
	t := Termination{Reason: reason, Detail: detail}
	m.emitter.ChannelTerminated(evidence.ChannelTerminatedPayload{
		TerminationUTCMs: m.nowUTCMs(),
		Reason:           string(reason),
		Detail:           detail,
	})
	metrics.SessionTerminationsTotal.WithLabelValues(string(reason)).Inc()
	m.log.Printf("terminating: %s", t)
	m.retireCurrentProducerAsync()
	return t
}
