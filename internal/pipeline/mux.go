package pipeline

import (
	"encoding/binary"

	"github.com/retrovue/air/internal/decoder"
)

// muxTick serializes one tick's emitted video frame and audio samples into a
// small length-prefixed wire record for the network sink. The on-wire
// container format itself is out of scope; this is only enough framing to
// give the sink something concrete to transmit in tests and in the absence
// of a real downstream muxer.
//
// Layout: frameIndex(int64) ptsUs(int64) videoLen(uint32) video audioLen(uint32) audio
func muxTick(frameIndex int64, vf decoder.VideoFrame, audio []int16) []byte {
	audioBytes := make([]byte, len(audio)*2)
	for i, s := range audio {
		binary.BigEndian.PutUint16(audioBytes[i*2:], uint16(s))
	}

	buf := make([]byte, 0, 8+8+4+len(vf.Data)+4+len(audioBytes))
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], uint64(frameIndex))
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint64(tmp8[:], uint64(vf.PtsUs))
	buf = append(buf, tmp8[:]...)

	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(vf.Data)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, vf.Data...)

	binary.BigEndian.PutUint32(tmp4[:], uint32(len(audioBytes)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, audioBytes...)

	return buf
}
