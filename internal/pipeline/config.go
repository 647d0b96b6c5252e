package pipeline

import (
	"time"

	"github.com/retrovue/air/internal/rational"
)

// Config is the set of parameters the Manager needs to run one channel's
// playout session; the CLI fills this in from config.Config plus the
// already-constructed collaborators (clock, buffers, sink, evidence, ...).
type Config struct {
	ChannelID string
	SessionID string

	OutputFPS  rational.FPS
	SampleRate int
	Channels   int

	MinAudioPrimeMs int

	// SinkWriteTimeout bounds step 7's blocking hand-off to the network
	// sink; exceeding it is a SinkDetached termination, not a retry.
	SinkWriteTimeout time.Duration

	// SegmentSeamLeadFrames/BlockSeamLeadFrames are how many output frames
	// ahead of a seam the Manager proactively submits a SeamPreparer
	// request, so the prepared producer is ready by the time the tick loop
	// actually reaches the boundary.
	SegmentSeamLeadFrames int64
	BlockSeamLeadFrames   int64
}

func (c Config) samplesPerTick() int64 {
	return c.OutputFPS.SamplesPerTick(int64(c.SampleRate))
}
