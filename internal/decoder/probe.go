package decoder

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/retrovue/air/internal/rational"
)

// Geometry is the container-level metadata the Asset Prober needs: enough
// to validate a block plan's segment against its asset before a
// TickProducer ever opens it for real decode.
type Geometry struct {
	Width      int
	Height     int
	DurationMs int64
	HasAudio   bool
	VideoFPS   rational.FPS
}

// ProbeGeometry opens assetURI just long enough to read stream-level
// metadata via FindStreamInfo, without opening a codec context or decoding
// any frames — cheaper than constructing a full AstiavDecoder for a probe
// that never needs to produce pixels.
func ProbeGeometry(assetURI string) (Geometry, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return Geometry{}, errors.New("decoder: AllocFormatContext failed")
	}
	defer fc.Free()

	if err := fc.OpenInput(assetURI, nil, nil); err != nil {
		return Geometry{}, fmt.Errorf("decoder: probe OpenInput %s: %w", assetURI, err)
	}
	defer fc.CloseInput()

	if err := fc.FindStreamInfo(nil); err != nil {
		return Geometry{}, fmt.Errorf("decoder: probe FindStreamInfo %s: %w", assetURI, err)
	}

	videoIdx, audioIdx := -1, -1
	for i, s := range fc.Streams() {
		switch s.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if videoIdx < 0 {
				videoIdx = i
			}
		case astiav.MediaTypeAudio:
			if audioIdx < 0 {
				audioIdx = i
			}
		}
	}
	if videoIdx < 0 {
		return Geometry{}, fmt.Errorf("decoder: %s has no video stream", assetURI)
	}

	vst := fc.Streams()[videoIdx]
	vpar := vst.CodecParameters()
	frameRate := vst.AvgFrameRate()
	fps := rational.New(30, 1)
	if frameRate.Num() > 0 && frameRate.Den() > 0 {
		fps = rational.Snap(rational.New(int64(frameRate.Num()), int64(frameRate.Den())))
	}

	return Geometry{
		Width:      vpar.Width(),
		Height:     vpar.Height(),
		DurationMs: fc.Duration() / 1000, // AV_TIME_BASE is microseconds
		HasAudio:   audioIdx >= 0,
		VideoFPS:   fps,
	}, nil
}
