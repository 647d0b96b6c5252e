package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"

	"github.com/retrovue/air/internal/rational"
)

// AstiavDecoder is the production Decoder backed by go-astiav's FFmpeg
// bindings: software decode, BGRA video output, S16 stereo 48kHz audio
// output via an internal resample context.
type AstiavDecoder struct {
	assetURI string

	fmtCtx   *astiav.FormatContext
	videoIdx int
	audioIdx int

	videoCtx *astiav.CodecContext
	audioCtx *astiav.CodecContext

	scaler *astiav.SoftwareScaleContext
	resampler *astiav.SoftwareResampleContext

	pkt      *astiav.Packet
	videoFrm *astiav.Frame
	audioFrm *astiav.Frame
	scaledFrm *astiav.Frame
	resampledFrm *astiav.Frame

	pendingAudio []AudioFrame
	eof          bool

	fillStop    *bool
	sessionStop *bool
}

// NewAstiavDecoder returns an unopened decoder ready for Open.
func NewAstiavDecoder() *AstiavDecoder {
	return &AstiavDecoder{videoIdx: -1, audioIdx: -1}
}

func (d *AstiavDecoder) Open(assetURI string) error {
	d.assetURI = assetURI

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return errors.New("decoder: AllocFormatContext failed")
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("fflags", "+genpts", 0)

	if err := fc.OpenInput(assetURI, nil, opts); err != nil {
		fc.Free()
		return fmt.Errorf("decoder: OpenInput %s: %w", assetURI, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return fmt.Errorf("decoder: FindStreamInfo %s: %w", assetURI, err)
	}
	d.fmtCtx = fc

	for i, s := range fc.Streams() {
		switch s.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if d.videoIdx < 0 {
				d.videoIdx = i
			}
		case astiav.MediaTypeAudio:
			if d.audioIdx < 0 {
				d.audioIdx = i
			}
		}
	}
	if d.videoIdx < 0 {
		return fmt.Errorf("decoder: %s has no video stream", assetURI)
	}

	vst := fc.Streams()[d.videoIdx]
	vpar := vst.CodecParameters()
	vdec := astiav.FindDecoder(vpar.CodecID())
	if vdec == nil {
		return fmt.Errorf("decoder: no video decoder for %s", assetURI)
	}
	vctx := astiav.AllocCodecContext(vdec)
	if vctx == nil {
		return errors.New("decoder: AllocCodecContext(video) failed")
	}
	if err := vpar.ToCodecContext(vctx); err != nil {
		return fmt.Errorf("decoder: ToCodecContext(video): %w", err)
	}
	if err := vctx.Open(vdec, nil); err != nil {
		return fmt.Errorf("decoder: open video codec: %w", err)
	}
	d.videoCtx = vctx

	if d.audioIdx >= 0 {
		ast := fc.Streams()[d.audioIdx]
		apar := ast.CodecParameters()
		adec := astiav.FindDecoder(apar.CodecID())
		if adec != nil {
			actx := astiav.AllocCodecContext(adec)
			if actx != nil {
				if err := apar.ToCodecContext(actx); err == nil {
					if err := actx.Open(adec, nil); err == nil {
						d.audioCtx = actx
					}
				}
			}
		}
	}

	d.pkt = astiav.AllocPacket()
	d.videoFrm = astiav.AllocFrame()
	d.scaledFrm = astiav.AllocFrame()
	if d.audioCtx != nil {
		d.audioFrm = astiav.AllocFrame()
		d.resampledFrm = astiav.AllocFrame()
	}
	return nil
}

// SeekPreciseToMs seeks to offsetMs and decodes forward, discarding frames
// whose PTS falls short of the target, until a frame at or past offsetMs is
// reached. Returns the number of discarded (prerolled) frames — zero is a
// valid success, meaning the seek landed exactly.
func (d *AstiavDecoder) SeekPreciseToMs(offsetMs int64) (SeekResult, error) {
	if d.fmtCtx == nil {
		return SeekNotPossible, errors.New("decoder: not open")
	}
	vst := d.fmtCtx.Streams()[d.videoIdx]
	tb := vst.TimeBase()
	targetPts := offsetMs * int64(tb.Den()) / (1000 * int64(tb.Num()))

	if err := d.fmtCtx.SeekFrame(d.videoIdx, targetPts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return SeekNotPossible, fmt.Errorf("decoder: seek to %dms: %w", offsetMs, err)
	}
	d.videoCtx.FlushBuffers()
	if d.audioCtx != nil {
		d.audioCtx.FlushBuffers()
	}
	d.eof = false

	preroll := 0
	var vf VideoFrame
	for {
		ok, err := d.DecodeFrameToBuffer(&vf)
		if err != nil {
			return SeekNotPossible, err
		}
		if !ok {
			return SeekNotPossible, fmt.Errorf("decoder: EOF while seeking to %dms", offsetMs)
		}
		if vf.PtsUs >= offsetMs*1000 {
			return SeekResult(preroll), nil
		}
		preroll++
	}
}

func (d *AstiavDecoder) GetVideoRationalFPS() rational.FPS {
	vst := d.fmtCtx.Streams()[d.videoIdx]
	r := vst.AvgFrameRate()
	if r.Num() <= 0 || r.Den() <= 0 {
		r = d.videoCtx.Framerate()
	}
	if r.Num() <= 0 || r.Den() <= 0 {
		return rational.New(30, 1)
	}
	return rational.Snap(rational.New(int64(r.Num()), int64(r.Den())))
}

// DecodeFrameToBuffer pumps packets until one decoded video frame is
// available, scales it to the house pixel format, and fills out.
func (d *AstiavDecoder) DecodeFrameToBuffer(out *VideoFrame) (bool, error) {
	for {
		if d.interruptRequested() {
			return false, nil
		}
		err := d.videoCtx.ReceiveFrame(d.videoFrm)
		if err == nil {
			return d.fillVideoOut(out)
		}
		if !errors.Is(err, astiav.ErrEagain) {
			return false, fmt.Errorf("decoder: ReceiveFrame(video): %w", err)
		}
		if more, err := d.readAndDispatch(); err != nil {
			return false, err
		} else if !more {
			return false, nil
		}
	}
}

func (d *AstiavDecoder) fillVideoOut(out *VideoFrame) (bool, error) {
	if d.scaler == nil {
		flags := astiav.NewSoftwareScaleContextFlags()
		ssc, err := astiav.CreateSoftwareScaleContext(
			d.videoFrm.Width(), d.videoFrm.Height(), d.videoFrm.PixelFormat(),
			d.videoFrm.Width(), d.videoFrm.Height(), astiav.PixelFormatBgra,
			flags,
		)
		if err != nil {
			return false, fmt.Errorf("decoder: CreateSoftwareScaleContext: %w", err)
		}
		d.scaler = ssc
	}
	d.scaledFrm.SetWidth(d.videoFrm.Width())
	d.scaledFrm.SetHeight(d.videoFrm.Height())
	d.scaledFrm.SetPixelFormat(astiav.PixelFormatBgra)
	if err := d.scaledFrm.AllocBuffer(1); err != nil {
		return false, fmt.Errorf("decoder: AllocBuffer: %w", err)
	}
	if err := d.scaler.ScaleFrame(d.videoFrm, d.scaledFrm); err != nil {
		return false, fmt.Errorf("decoder: ScaleFrame: %w", err)
	}

	tb := d.fmtCtx.Streams()[d.videoIdx].TimeBase()
	ptsUs := ptsToUs(d.videoFrm.Pts(), tb)

	out.Width = d.scaledFrm.Width()
	out.Height = d.scaledFrm.Height()
	out.PixelFormat = "bgra"
	out.Data = append(out.Data[:0], d.scaledFrm.Data().Bytes(0)...)
	out.PtsUs = ptsUs
	out.AssetURI = d.assetURI

	d.videoFrm.Unref()
	d.scaledFrm.Unref()
	return true, nil
}

// GetPendingAudioFrame drains one queued audio frame produced as a side
// effect of reading video packets.
func (d *AstiavDecoder) GetPendingAudioFrame(out *AudioFrame) (bool, error) {
	if len(d.pendingAudio) == 0 {
		return false, nil
	}
	*out = d.pendingAudio[0]
	d.pendingAudio = d.pendingAudio[1:]
	return true, nil
}

func (d *AstiavDecoder) IsEOF() bool { return d.eof }

func (d *AstiavDecoder) HasAudioStream() bool { return d.audioCtx != nil }

func (d *AstiavDecoder) SetInterruptFlags(flags InterruptFlags) {
	d.fillStop = flags.FillStop
	d.sessionStop = flags.SessionStop
}

func (d *AstiavDecoder) interruptRequested() bool {
	return (d.fillStop != nil && *d.fillStop) || (d.sessionStop != nil && *d.sessionStop)
}

// Pump processes one packet-dispatch cycle: read a packet, send it to the
// relevant codec, and stash any decoded audio for GetPendingAudioFrame.
// Video frames are left in the codec's internal queue for DecodeFrameToBuffer.
func (d *AstiavDecoder) Pump() error {
	if d.interruptRequested() {
		return nil
	}
	_, err := d.readAndDispatch()
	return err
}

// readAndDispatch reads one packet and sends it to the matching codec
// context. Returns false (no error) at clean EOF.
func (d *AstiavDecoder) readAndDispatch() (bool, error) {
	if err := d.fmtCtx.ReadFrame(d.pkt); err != nil {
		if errors.Is(err, io.EOF) {
			d.eof = true
			_ = d.videoCtx.SendPacket(nil) // flush
			return false, nil
		}
		return false, fmt.Errorf("decoder: ReadFrame: %w", err)
	}
	defer d.pkt.Unref()

	switch d.pkt.StreamIndex() {
	case d.videoIdx:
		if err := d.videoCtx.SendPacket(d.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
			return false, fmt.Errorf("decoder: SendPacket(video): %w", err)
		}
	case d.audioIdx:
		if d.audioCtx == nil {
			break
		}
		if err := d.audioCtx.SendPacket(d.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
			return false, fmt.Errorf("decoder: SendPacket(audio): %w", err)
		}
		d.drainAudio()
	}
	return true, nil
}

const (
	houseSampleRate = 48000
	houseChannels   = 2
)

// drainAudio pulls all currently-available decoded audio frames, resamples
// them into house format (48kHz/2ch/S16 interleaved) via libswresample, and
// appends the result to pendingAudio.
func (d *AstiavDecoder) drainAudio() {
	for {
		if err := d.audioCtx.ReceiveFrame(d.audioFrm); err != nil {
			return
		}
		if d.resampler == nil {
			d.resampler = astiav.AllocSoftwareResampleContext()
		}
		tb := d.fmtCtx.Streams()[d.audioIdx].TimeBase()
		ptsUs := ptsToUs(d.audioFrm.Pts(), tb)

		d.resampledFrm.Unref()
		d.resampledFrm.SetSampleFormat(astiav.SampleFormatS16)
		d.resampledFrm.SetChannelLayout(astiav.ChannelLayoutStereo)
		d.resampledFrm.SetSampleRate(houseSampleRate)
		// libswresample writes however many output samples the rate
		// conversion actually produces; give it comfortable headroom over
		// the 1:1 sample count and trust NbSamples() after ConvertFrame for
		// the real count.
		outCap := d.audioFrm.NbSamples()*houseSampleRate/d.audioFrm.SampleRate() + 256
		d.resampledFrm.SetNbSamples(outCap)
		if err := d.resampledFrm.AllocBuffer(0); err != nil {
			d.audioFrm.Unref()
			continue
		}

		if err := d.resampler.ConvertFrame(d.audioFrm, d.resampledFrm); err != nil {
			d.audioFrm.Unref()
			continue
		}

		n := d.resampledFrm.NbSamples()
		pcm, err := d.resampledFrm.Data().Bytes(0)
		if err != nil || n <= 0 {
			d.audioFrm.Unref()
			continue
		}
		need := n * houseChannels * 2 // bytes per S16 sample
		if need > len(pcm) {
			need = len(pcm)
		}
		samples := make([]int16, need/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		}

		d.pendingAudio = append(d.pendingAudio, AudioFrame{
			SampleRate: houseSampleRate,
			Channels:   houseChannels,
			Samples:    samples,
			PtsUs:      ptsUs,
		})
		d.audioFrm.Unref()
	}
}

func ptsToUs(pts int64, tb astiav.Rational) int64 {
	if tb.Den() == 0 {
		return 0
	}
	return pts * 1_000_000 * int64(tb.Num()) / int64(tb.Den())
}

func (d *AstiavDecoder) Close() error {
	if d.scaler != nil {
		d.scaler.Free()
		d.scaler = nil
	}
	if d.resampler != nil {
		d.resampler.Free()
		d.resampler = nil
	}
	if d.videoFrm != nil {
		d.videoFrm.Free()
		d.videoFrm = nil
	}
	if d.scaledFrm != nil {
		d.scaledFrm.Free()
		d.scaledFrm = nil
	}
	if d.audioFrm != nil {
		d.audioFrm.Free()
		d.audioFrm = nil
	}
	if d.resampledFrm != nil {
		d.resampledFrm.Free()
		d.resampledFrm = nil
	}
	if d.pkt != nil {
		d.pkt.Free()
		d.pkt = nil
	}
	if d.videoCtx != nil {
		d.videoCtx.Free()
		d.videoCtx = nil
	}
	if d.audioCtx != nil {
		d.audioCtx.Free()
		d.audioCtx = nil
	}
	if d.fmtCtx != nil {
		d.fmtCtx.CloseInput()
		d.fmtCtx.Free()
		d.fmtCtx = nil
	}
	return nil
}
