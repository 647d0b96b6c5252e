// Package tickproducer implements the block-scoped decode lifecycle: open a
// decoder for a fed block, seek precisely to its first segment, prime audio
// to a minimum depth, and retain the first video frame for synchronous
// hand-off to the video lookahead buffer's fill worker.
package tickproducer

import (
	"fmt"

	"github.com/retrovue/air/internal/decoder"
	"github.com/retrovue/air/internal/rational"
)

// State is the TickProducer lifecycle: Empty until AssignBlock succeeds,
// Ready once primed.
type State int

const (
	Empty State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "Ready"
	}
	return "Empty"
}

// FedBlock is the minimal geometry a TickProducer needs to prime a decoder:
// the asset to open and the offset to seek to, plus the block's total
// duration (to derive frames_per_block) and output FPS.
type FedBlock struct {
	BlockID            string
	AssetURI           string
	AssetStartOffsetMs int64
	DurationMs         int64
}

// TickProducer is the block-scoped decode lifecycle described in §4.3.
type TickProducer struct {
	state    State
	dec      decoder.Decoder
	block    FedBlock
	outputFPS rational.FPS

	framesPerBlock    int64
	primedVideoFrame  *decoder.VideoFrame
	primedAudioFrames []decoder.AudioFrame
	primedAudioMs     int
	inputFPS          rational.FPS
}

// New constructs an unassigned TickProducer over the given decoder
// implementation (production or fake).
func New(dec decoder.Decoder, outputFPS rational.FPS) *TickProducer {
	return &TickProducer{state: Empty, dec: dec, outputFPS: outputFPS}
}

// AssignBlock synchronously opens the decoder, computes frames_per_block,
// seeks precisely to the first segment's offset, and accumulates at least
// minAudioPrimeMs of audio into the head frame's audio accumulator. Fails
// if the asset fails to open, seek-precise fails, or the prime depth cannot
// be reached before EOF.
func (p *TickProducer) AssignBlock(block FedBlock, minAudioPrimeMs int) error {
	if err := p.dec.Open(block.AssetURI); err != nil {
		return fmt.Errorf("tickproducer: open %s: %w", block.AssetURI, err)
	}

	p.inputFPS = p.dec.GetVideoRationalFPS()
	p.framesPerBlock = (block.DurationMs * p.outputFPS.Num) / (p.outputFPS.Den * 1000)

	seekRes, err := p.dec.SeekPreciseToMs(block.AssetStartOffsetMs)
	if err != nil {
		return fmt.Errorf("tickproducer: seek to %dms in %s: %w", block.AssetStartOffsetMs, block.AssetURI, err)
	}
	if seekRes < 0 {
		return fmt.Errorf("tickproducer: seek-precise not possible at %dms in %s", block.AssetStartOffsetMs, block.AssetURI)
	}

	var vf decoder.VideoFrame
	ok, err := p.dec.DecodeFrameToBuffer(&vf)
	if err != nil {
		return fmt.Errorf("tickproducer: decode head frame of %s: %w", block.AssetURI, err)
	}
	if !ok {
		return fmt.Errorf("tickproducer: %s exhausted before head frame decoded", block.AssetURI)
	}
	p.primedVideoFrame = &vf

	primedMs := 0
	if p.dec.HasAudioStream() {
		for primedMs < minAudioPrimeMs {
			var af decoder.AudioFrame
			has, err := p.dec.GetPendingAudioFrame(&af)
			if err != nil {
				return fmt.Errorf("tickproducer: prime audio for %s: %w", block.AssetURI, err)
			}
			if has {
				primedMs += (len(af.Samples) / af.Channels) * 1000 / af.SampleRate
				p.primedAudioFrames = append(p.primedAudioFrames, af)
				continue
			}
			if p.dec.IsEOF() {
				return fmt.Errorf("tickproducer: %s reached EOF before prime depth %dms (got %dms)", block.AssetURI, minAudioPrimeMs, primedMs)
			}
			if err := p.dec.Pump(); err != nil {
				return fmt.Errorf("tickproducer: pump while priming %s: %w", block.AssetURI, err)
			}
		}
	}
	p.primedAudioMs = primedMs
	p.block = block
	p.state = Ready
	return nil
}

// State reports Empty or Ready.
func (p *TickProducer) State() State { return p.state }

// FramesPerBlock returns the block's duration expressed in output-rate
// frames (duration_ms * output_fps, exact integer).
func (p *TickProducer) FramesPerBlock() int64 { return p.framesPerBlock }

// AudioPrimeDepthMs reports how much audio was accumulated during priming.
func (p *TickProducer) AudioPrimeDepthMs() int { return p.primedAudioMs }

// GetInputFPS returns the rational FPS the decoder detected for the source
// asset, used by the cadence resolver.
func (p *TickProducer) GetInputFPS() rational.FPS { return p.inputFPS }

// TakePrimedVideoFrame returns (and clears) the retained head frame so the
// video lookahead buffer can consume it synchronously when its fill worker
// starts, without re-decoding it.
func (p *TickProducer) TakePrimedVideoFrame() *decoder.VideoFrame {
	f := p.primedVideoFrame
	p.primedVideoFrame = nil
	return f
}

// Decoder exposes the underlying decoder for the video lookahead buffer's
// fill worker to drive directly once ownership has transferred.
func (p *TickProducer) Decoder() decoder.Decoder { return p.dec }

// TakePrimedAudioFrames returns (and clears) the audio frames accumulated
// during priming, so the pipeline can push them into the audio lookahead
// buffer before the fill worker starts producing further frames. Without
// this hand-off the samples measured during priming would simply be
// discarded by the decoder's internal queue.
func (p *TickProducer) TakePrimedAudioFrames() []decoder.AudioFrame {
	f := p.primedAudioFrames
	p.primedAudioFrames = nil
	return f
}

// Block returns the fed block this producer was assigned.
func (p *TickProducer) Block() FedBlock { return p.block }

// Reset tears the producer back down to Empty, closing its decoder. Safe to
// call on an already-Empty producer.
func (p *TickProducer) Reset() error {
	p.state = Empty
	p.primedVideoFrame = nil
	p.primedAudioFrames = nil
	p.primedAudioMs = 0
	p.framesPerBlock = 0
	if p.dec != nil {
		return p.dec.Close()
	}
	return nil
}
