// Package metrics registers the Session/Pipeline Prometheus collectors and
// exposes them for the CLI's HTTP listener to serve over /metrics. The tick
// loop never blocks on any of these calls — see internal/pipeline's metrics
// bridge, which feeds this package from the tick thread as a pure side
// channel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FramesEmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "air",
		Name:      "frames_emitted_total",
		Help:      "Total output frames emitted by the tick loop.",
	})

	CurrentFrameIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "current_frame_index",
		Help:      "Frame index N of the most recently emitted tick.",
	})

	SeamDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "air",
		Name:      "seam_decisions_total",
		Help:      "Seam boundary decisions by type (segment, block) and outcome (taken, missed).",
	}, []string{"type", "outcome"})

	PreparerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "preparer_queue_depth",
		Help:      "1 while any seam-preparation request is queued or in flight, else 0; the number of requests is not reported.",
	})

	UnderflowTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "air",
		Name:      "underflow_total",
		Help:      "Lookahead buffer underflow events by buffer (audio, video).",
	}, []string{"buffer"})

	DecodeLatencyP50Microseconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "decode_latency_p50_microseconds",
		Help:      "p50 video decode latency over the most recent decode-latency ring.",
	})

	DecodeLatencyP95Microseconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "decode_latency_p95_microseconds",
		Help:      "p95 video decode latency over the most recent decode-latency ring.",
	})

	DecodeLatencyMeanMicroseconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "decode_latency_mean_microseconds",
		Help:      "Mean video decode latency over the most recent decode-latency ring.",
	})

	VideoRefillRateFps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "video_refill_rate_fps",
		Help:      "Video lookahead fill worker's push rate, frames per second.",
	})

	VideoBufferDepthFrames = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "video_buffer_depth_frames",
		Help:      "Current video lookahead buffer depth in frames.",
	})

	AudioBufferDepthMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "audio_buffer_depth_ms",
		Help:      "Current audio lookahead buffer depth in milliseconds.",
	})

	FallbackFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "air",
		Name:      "fallback_frames_total",
		Help:      "Total cadence-gate repeat frames pushed into the video lookahead buffer.",
	})

	SinkThrottling = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "sink_throttling",
		Help:      "1 if the network sink is currently in throttled (high-water) state, else 0.",
	})

	SinkDetachedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "air",
		Name:      "sink_detached_total",
		Help:      "Total number of slow-consumer sink detaches.",
	})

	EvidenceDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "air",
		Name:      "evidence_degraded",
		Help:      "1 if the evidence emitter is currently in degraded (dropping) mode, else 0.",
	})

	SessionTerminationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "air",
		Name:      "session_terminations_total",
		Help:      "Total session terminations by reason.",
	}, []string{"reason"})
)

// Register attaches every collector in this package to reg. Called once at
// startup with prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		FramesEmittedTotal,
		CurrentFrameIndex,
		SeamDecisionsTotal,
		PreparerQueueDepth,
		UnderflowTotal,
		DecodeLatencyP50Microseconds,
		DecodeLatencyP95Microseconds,
		DecodeLatencyMeanMicroseconds,
		VideoRefillRateFps,
		VideoBufferDepthFrames,
		AudioBufferDepthMs,
		FallbackFramesTotal,
		SinkThrottling,
		SinkDetachedTotal,
		EvidenceDegraded,
		SessionTerminationsTotal,
	)
}
