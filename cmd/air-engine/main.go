// Command air-engine runs the frame-accurate continuous playout engine for
// one broadcast-style channel: it waits for Core to submit the session's
// first block plan, then drives the tick loop until an unrecoverable
// condition forces termination.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retrovue/air/internal/blockplan"
	"github.com/retrovue/air/internal/clock"
	"github.com/retrovue/air/internal/config"
	"github.com/retrovue/air/internal/decoder"
	"github.com/retrovue/air/internal/evidence"
	"github.com/retrovue/air/internal/health"
	"github.com/retrovue/air/internal/lookahead"
	"github.com/retrovue/air/internal/metrics"
	"github.com/retrovue/air/internal/pipeline"
	"github.com/retrovue/air/internal/prepare"
	"github.com/retrovue/air/internal/probe"
	"github.com/retrovue/air/internal/rational"
	"github.com/retrovue/air/internal/sink"
	"github.com/retrovue/air/internal/tickproducer"
)

func main() {
	configFile := flag.String("config", "", "Optional JSON config file overlaying AIR_* environment variables")
	addr := flag.String("addr", ":8090", "HTTP listen address (block plan ingestion + /metrics)")
	flag.Parse()

	cfg := config.Load()
	if *configFile != "" {
		if err := config.LoadFile(cfg, *configFile); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if cfg.ChannelID == "" || cfg.PlayoutSessionID == "" {
		log.Fatalf("config: AIR_CHANNEL_ID and AIR_SESSION_ID are required")
	}

	outputFPS := rational.New(cfg.OutputFPSNum, cfg.OutputFPSDen)

	metrics.Register(prometheus.DefaultRegisterer)

	queue := blockplan.NewQueue()

	probeCache, err := probe.OpenCache(cfg.ProbeCachePath, cfg.ProbeCacheTTL)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	defer probeCache.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/blockplan", blockplan.IngestHandler(queue))
	mux.Handle("/probe", probe.GeometryHandler(probeCache))
	mux.Handle("/readyz", health.ReadinessHandler(cfg.SinkAddr, cfg.EvidenceStreamAddr))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	log.Printf("air-engine[%s]: listening on %s", cfg.ChannelID, *addr)
	go func() {
		if err := http.ListenAndServe(*addr, mux); err != nil {
			log.Fatalf("http: %v", err)
		}
	}()

	newDecoder := func() decoder.Decoder { return decoder.NewAstiavDecoder() }

	video := lookahead.NewVideoBuffer(cfg.VideoTargetDepthFrames, cfg.VideoLowWaterFrames)
	audio := lookahead.NewAudioBuffer(cfg.AudioTargetDepthMs, cfg.SampleRate, cfg.Channels, cfg.AudioLowWaterMs, cfg.AudioHighWaterMs)

	seamPreparer := prepare.New(newDecoder)
	defer seamPreparer.Stop()
	preloader := prepare.NewPreloader(newDecoder)

	spool, err := evidence.Open(cfg.EvidenceSpoolDir, cfg.ChannelID, cfg.PlayoutSessionID, cfg.EvidenceMaxSpoolBytes)
	if err != nil {
		log.Fatalf("evidence: %v", err)
	}
	defer spool.Close()

	indexPath := filepath.Join(cfg.EvidenceSpoolDir, cfg.ChannelID, cfg.PlayoutSessionID+".index.sqlite")
	if ix, err := evidence.OpenIndex(indexPath); err != nil {
		log.Printf("evidence: index unavailable, ReplayFrom falls back to a full scan: %v", err)
	} else {
		spool.WithIndex(ix)
	}

	emitter := evidence.NewEmitter(cfg.ChannelID, cfg.PlayoutSessionID, spool)

	streamStop := make(chan struct{})
	if cfg.EvidenceStreamAddr != "" {
		streamer := evidence.NewStreamer(cfg.EvidenceStreamAddr, spool, cfg.ChannelID, cfg.PlayoutSessionID, cfg.EvidenceHelloAckTimeout)
		go streamer.Run(streamStop)
	}

	conn, err := net.Dial("tcp", cfg.SinkAddr)
	if err != nil {
		log.Fatalf("sink: dial %s: %v", cfg.SinkAddr, err)
	}
	snk := sink.New(conn, sink.Config{
		QueueCapacityBytes: cfg.SinkQueueCapacityBytes,
		HighWaterFrac:      cfg.SinkHighWaterFrac,
		LowWaterFrac:       cfg.SinkLowWaterFrac,
		DetachOnOverflow:   cfg.SinkDetachOnOverflow,
		ThrottleRateBps:    cfg.SinkThrottleRateBps,
	})
	defer snk.Stop()

	clk := clock.New(outputFPS, clock.RealWaitStrategy{})

	pcfg := pipeline.Config{
		ChannelID:             cfg.ChannelID,
		SessionID:             cfg.PlayoutSessionID,
		OutputFPS:             outputFPS,
		SampleRate:            cfg.SampleRate,
		Channels:              cfg.Channels,
		MinAudioPrimeMs:       cfg.MinAudioPrimeMs,
		SinkWriteTimeout:      5 * time.Second,
		SegmentSeamLeadFrames: int64(outputFPS.Num / outputFPS.Den), // ~1s lead at house rate
		BlockSeamLeadFrames:   int64(outputFPS.Num / outputFPS.Den) * 3,
	}

	manager := pipeline.New(pcfg, clk, queue, seamPreparer, preloader, video, audio, snk, emitter)

	log.Printf("air-engine[%s]: waiting for Core's first block plan", cfg.ChannelID)
	firstBlock := awaitFirstBlock(queue)
	preloader.StartPreload(tickproducer.FedBlock{
		BlockID:            firstBlock.BlockID,
		AssetURI:           firstBlock.Segments[0].AssetURI,
		AssetStartOffsetMs: firstBlock.Segments[0].AssetStartOffsetMs,
		DurationMs:         firstBlock.DurationMs(),
	}, outputFPS, cfg.MinAudioPrimeMs)

	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("air-engine[%s]: shutting down", cfg.ChannelID)
		manager.RequestStop()
		cancel()
	}()

	term := manager.Run(ctx)
	close(streamStop)
	log.Printf("air-engine[%s]: terminated: %s", cfg.ChannelID, term)
}

// awaitFirstBlock busy-polls the queue's next slot until Core has submitted
// the session's bootstrap block plan over /blockplan.
func awaitFirstBlock(q *blockplan.Queue) *blockplan.Plan {
	for {
		if p := q.PeekNext(); p != nil {
			return p
		}
		time.Sleep(20 * time.Millisecond)
	}
}
