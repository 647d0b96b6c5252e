// Package evidence implements the durable, append-only record of observable
// execution events emitted by a playout session: the Emitter assigns
// sequence/UUID/timestamp, the Spool persists JSONL with an atomic ack file,
// and the Streamer delivers events to Core with at-least-once semantics.
package evidence

import (
	"encoding/json"
	"fmt"
)

// PayloadType enumerates the evidence payload kinds.
type PayloadType string

const (
	BlockStart        PayloadType = "BLOCK_START"
	SegmentStart      PayloadType = "SEGMENT_START"
	SegmentEnd        PayloadType = "SEGMENT_END"
	BlockFence        PayloadType = "BLOCK_FENCE"
	ChannelTerminated PayloadType = "CHANNEL_TERMINATED"
)

const SchemaVersion = 1

// Envelope is the wire/spool representation of one evidence event.
type Envelope struct {
	SchemaVersion    int             `json:"schema_version"`
	ChannelID        string          `json:"channel_id"`
	PlayoutSessionID string          `json:"playout_session_id"`
	Sequence         int64           `json:"sequence"`
	EventUUID        string          `json:"event_uuid"`
	EmittedUTC       int64           `json:"emitted_utc"`
	PayloadType      PayloadType     `json:"payload_type"`
	Payload          json.RawMessage `json:"payload"`
}

// BlockStartPayload is the payload for PayloadType BlockStart.
type BlockStartPayload struct {
	BlockID          string `json:"block_id"`
	SwapTick         int64  `json:"swap_tick"`
	FenceTick        int64  `json:"fence_tick"`
	ActualStartUTCMs int64  `json:"actual_start_utc_ms"`
	PrimedSuccess    bool   `json:"primed_success"`
}

// SegmentStartPayload is the payload for PayloadType SegmentStart.
type SegmentStartPayload struct {
	BlockID            string `json:"block_id"`
	EventID            string `json:"event_id"`
	SegmentIndex       int    `json:"segment_index"`
	ActualStartUTCMs   int64  `json:"actual_start_utc_ms"`
	ActualStartFrame   int64  `json:"actual_start_frame"`
	ScheduledDurationMs int64 `json:"scheduled_duration_ms"`
}

// SegmentStatus enumerates terminal segment outcomes.
type SegmentStatus string

const (
	SegmentAired     SegmentStatus = "AIRED"
	SegmentSkipped   SegmentStatus = "SKIPPED"
	SegmentTruncated SegmentStatus = "TRUNCATED"
)

// SegmentEndPayload is the payload for PayloadType SegmentEnd.
type SegmentEndPayload struct {
	BlockID               string        `json:"block_id"`
	EventIDRef            string        `json:"event_id_ref"`
	ActualStartUTCMs      int64         `json:"actual_start_utc_ms"`
	ActualEndUTCMs        int64         `json:"actual_end_utc_ms"`
	ActualStartFrame      int64         `json:"actual_start_frame"`
	ActualEndFrame        int64         `json:"actual_end_frame"`
	ComputedDurationMs    int64         `json:"computed_duration_ms"`
	ComputedDurationFrames int64        `json:"computed_duration_frames"`
	Status                SegmentStatus `json:"status"`
	Reason                string        `json:"reason,omitempty"`
	FallbackFramesUsed    int64         `json:"fallback_frames_used"`
}

// BlockFencePayload is the payload for PayloadType BlockFence.
type BlockFencePayload struct {
	BlockID            string `json:"block_id"`
	SwapTick           int64  `json:"swap_tick"`
	FenceTick          int64  `json:"fence_tick"`
	ActualEndUTCMs     int64  `json:"actual_end_utc_ms"`
	CtAtFenceMs        int64  `json:"ct_at_fence_ms"`
	TotalFramesEmitted int64  `json:"total_frames_emitted"`
	TruncatedByFence   bool   `json:"truncated_by_fence"`
	EarlyExhaustion    bool   `json:"early_exhaustion"`
	PrimedSuccess      bool   `json:"primed_success"`
}

// ChannelTerminatedPayload is the payload for PayloadType ChannelTerminated.
type ChannelTerminatedPayload struct {
	TerminationUTCMs int64  `json:"termination_utc_ms"`
	Reason           string `json:"reason"`
	Detail           string `json:"detail"`
}

// ToJSONLine marshals the envelope to a single JSONL line (no trailing
// newline).
func (e Envelope) ToJSONLine() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("evidence: marshal envelope: %w", err)
	}
	return b, nil
}

// FromJSONLine parses a single JSONL line into an Envelope.
func FromJSONLine(line []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return Envelope{}, fmt.Errorf("evidence: unmarshal envelope: %w", err)
	}
	return e, nil
}

func marshalPayload(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Payload types here are all plain structs of marshalable fields;
		// a failure here is a programming error, not a runtime condition.
		panic(fmt.Sprintf("evidence: marshal payload: %v", err))
	}
	return b
}
