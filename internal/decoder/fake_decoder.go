package decoder

import (
	"fmt"

	"github.com/retrovue/air/internal/rational"
)

// FakeDecoder is a deterministic in-memory Decoder for pipeline and
// lookahead-buffer tests: it never touches a real codec, generating frames
// at a configured FPS and an optional synthetic audio stream.
type FakeDecoder struct {
	FPS           rational.FPS
	FrameCount    int // total source frames this asset has, <=0 means unlimited
	HasAudio      bool
	SampleRate    int
	Channels      int
	SamplesPerPkt int // audio samples produced per Pump alongside video

	assetURI    string
	opened      bool
	cursor      int
	pendingAudio []AudioFrame
	eof         bool

	fillStop    *bool
	sessionStop *bool

	// FailOpen, FailSeek let tests force PreparationFailed paths.
	FailOpen bool
	FailSeek bool
}

func (d *FakeDecoder) Open(assetURI string) error {
	if d.FailOpen {
		return fmt.Errorf("fake decoder: forced open failure for %s", assetURI)
	}
	d.assetURI = assetURI
	d.opened = true
	d.cursor = 0
	d.eof = false
	return nil
}

func (d *FakeDecoder) SeekPreciseToMs(offsetMs int64) (SeekResult, error) {
	if d.FailSeek {
		return SeekNotPossible, fmt.Errorf("fake decoder: forced seek failure at %dms", offsetMs)
	}
	if offsetMs < 0 {
		return SeekNotPossible, fmt.Errorf("fake decoder: negative seek offset %dms", offsetMs)
	}
	perFrameMs := d.FPS.Den * 1000 / d.FPS.Num
	if perFrameMs == 0 {
		perFrameMs = 1
	}
	d.cursor = int(offsetMs / perFrameMs)
	return 0, nil
}

func (d *FakeDecoder) GetVideoRationalFPS() rational.FPS { return d.FPS }

func (d *FakeDecoder) DecodeFrameToBuffer(out *VideoFrame) (bool, error) {
	if d.interruptRequested() {
		return false, nil
	}
	if d.FrameCount > 0 && d.cursor >= d.FrameCount {
		d.eof = true
		return false, nil
	}
	ptsUs := d.FPS.DeadlineNs(int64(d.cursor)) / 1000
	out.Width = 1920
	out.Height = 1080
	out.PixelFormat = "bgra"
	out.Data = nil
	out.PtsUs = ptsUs
	out.AssetURI = d.assetURI
	d.cursor++

	if d.HasAudio && d.SamplesPerPkt > 0 {
		d.pendingAudio = append(d.pendingAudio, AudioFrame{
			SampleRate: d.SampleRate,
			Channels:   d.Channels,
			Samples:    make([]int16, d.SamplesPerPkt*d.Channels),
			PtsUs:      ptsUs,
		})
	}
	return true, nil
}

func (d *FakeDecoder) GetPendingAudioFrame(out *AudioFrame) (bool, error) {
	if len(d.pendingAudio) == 0 {
		return false, nil
	}
	*out = d.pendingAudio[0]
	d.pendingAudio = d.pendingAudio[1:]
	return true, nil
}

func (d *FakeDecoder) IsEOF() bool { return d.eof }

func (d *FakeDecoder) HasAudioStream() bool { return d.HasAudio }

func (d *FakeDecoder) SetInterruptFlags(flags InterruptFlags) {
	d.fillStop = flags.FillStop
	d.sessionStop = flags.SessionStop
}

func (d *FakeDecoder) interruptRequested() bool {
	return (d.fillStop != nil && *d.fillStop) || (d.sessionStop != nil && *d.sessionStop)
}

func (d *FakeDecoder) Pump() error {
	var vf VideoFrame
	_, err := d.DecodeFrameToBuffer(&vf)
	return err
}

func (d *FakeDecoder) Close() error {
	d.opened = false
	return nil
}

var _ Decoder = (*FakeDecoder)(nil)
