// Package decoder defines the narrow capability interface the engine
// consumes from the physical media decoder. The decoder itself
// (libavformat/libavcodec) is out of scope — only its abstract interface is
// specified — but two implementations live here: a production adapter over
// go-astiav's FFmpeg bindings, and a deterministic fake for pipeline tests.
package decoder

import (
	"github.com/retrovue/air/internal/rational"
)

// VideoFrame is a decoded, not-yet-cadence-resolved video frame.
type VideoFrame struct {
	Width       int
	Height      int
	PixelFormat string
	Data        []byte
	PtsUs       int64
	DtsUs       int64
	DurationUs  int64
	AssetURI    string
}

// AudioFrame is house-format audio (48kHz, 2ch, S16 interleaved) — the
// decoder is responsible for resampling into this format.
type AudioFrame struct {
	SampleRate int
	Channels   int
	Samples    []int16 // interleaved
	PtsUs      int64
}

// InterruptFlags lets the pipeline signal a decoder to abandon blocking I/O
// promptly: FillStop retires just this decoder's fill worker; SessionStop
// tears down the whole session.
type InterruptFlags struct {
	FillStop    *bool
	SessionStop *bool
}

// SeekResult is returned by SeekPreciseToMs: a non-negative preroll frame
// count on success (0 is a valid success, not a failure — the decoder had
// to decode zero frames to land precisely on the target), or a negative
// value meaning "not possible."
type SeekResult int

const SeekNotPossible SeekResult = -1

// Decoder is the capability set the engine consumes from a physical media
// decoder. Implementations must be safe to call the interrupt-sensitive
// methods from a different goroutine than the one driving Pump/Decode.
type Decoder interface {
	// Open prepares the decoder to read assetURI. Must be called before any
	// other method.
	Open(assetURI string) error

	// SeekPreciseToMs seeks to offsetMs exactly, decoding forward as needed
	// to land on the precise target. Returns the number of prerolled
	// (discarded) frames on success, or SeekNotPossible.
	SeekPreciseToMs(offsetMs int64) (SeekResult, error)

	// GetVideoRationalFPS returns the source's detected frame rate.
	GetVideoRationalFPS() rational.FPS

	// DecodeFrameToBuffer decodes the next video frame into out. Returns
	// false at EOF (see IsEOF) rather than an error.
	DecodeFrameToBuffer(out *VideoFrame) (bool, error)

	// GetPendingAudioFrame drains one queued audio frame produced as a
	// side effect of video decoding, if any is available.
	GetPendingAudioFrame(out *AudioFrame) (bool, error)

	// IsEOF reports whether the source is exhausted.
	IsEOF() bool

	// HasAudioStream reports whether the opened asset carries an audio
	// stream at all.
	HasAudioStream() bool

	// SetInterruptFlags wires cooperative-stop pointers that blocking I/O
	// inside Pump/DecodeFrameToBuffer must observe promptly.
	SetInterruptFlags(flags InterruptFlags)

	// Pump processes one packet-dispatch cycle, decoding at most one frame
	// and queuing any incidental audio for GetPendingAudioFrame. Used by
	// the fill worker to interleave decode with interrupt checks.
	Pump() error

	// Close releases all resources. Safe to call multiple times.
	Close() error
}
