package pipeline

import (
	"github.com/retrovue/air/internal/evidence"
	"github.com/retrovue/air/internal/lookahead"
	"github.com/retrovue/air/internal/metrics"
	"github.com/retrovue/air/internal/prepare"
)

// recordTickMetrics feeds the Prometheus side channel from the tick thread.
// Every call here is an in-memory atomic store (Set/Inc on a
// prometheus.Gauge/Counter/Vec) — none of it blocks on I/O, so the tick
// loop's pacing is never affected by metrics scraping.
func recordTickMetrics(frameIndex int64, video *lookahead.VideoBuffer, audio *lookahead.AudioBuffer, preparer *prepare.SeamPreparer, emitter *evidence.Emitter) {
	metrics.FramesEmittedTotal.Inc()
	metrics.CurrentFrameIndex.Set(float64(frameIndex))
	metrics.VideoBufferDepthFrames.Set(float64(video.DepthFrames()))
	metrics.AudioBufferDepthMs.Set(float64(audio.DepthMs()))
	metrics.VideoRefillRateFps.Set(video.RefillRateFps())
	metrics.DecodeLatencyP50Microseconds.Set(float64(video.DecodeLatencyP50Us()))
	metrics.DecodeLatencyP95Microseconds.Set(float64(video.DecodeLatencyP95Us()))
	metrics.DecodeLatencyMeanMicroseconds.Set(float64(video.DecodeLatencyMeanUs()))
	if preparer.HasPending() {
		metrics.PreparerQueueDepth.Set(1)
	} else {
		metrics.PreparerQueueDepth.Set(0)
	}
	if emitter.IsDegraded() {
		metrics.EvidenceDegraded.Set(1)
	} else {
		metrics.EvidenceDegraded.Set(0)
	}
}

func recordSeamDecision(seamType, outcome string) {
	metrics.SeamDecisionsTotal.WithLabelValues(seamType, outcome).Inc()
}

func recordUnderflow(buffer string) {
	metrics.UnderflowTotal.WithLabelValues(buffer).Inc()
}
