package blockplan

import "fmt"

// ValidationError names a rejected block plan's specific violated rule, the
// same "rejected with a named error" contract spec.md requires for block
// plan ingestion.
type ValidationError struct {
	Rule string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("blockplan: %s: %s", e.Rule, e.Detail)
}

// Validate checks a raw ingested plan against the ingestion invariants and,
// on success, returns a Plan with Boundaries precomputed. Rules, in order:
// non-empty block id; end > start; at least one segment; then, per segment,
// segment_index monotonic from 0, asset_uri non-empty,
// asset_start_offset_ms >= 0 and duration_ms > 0; finally segment durations
// sum exactly to end-start (hard fence equality).
func Validate(blockID string, startUtcMs, endUtcMs int64, segments []Segment) (*Plan, error) {
	if blockID == "" {
		return nil, &ValidationError{Rule: "empty_block_id", Detail: "block_id must be non-empty"}
	}
	if endUtcMs <= startUtcMs {
		return nil, &ValidationError{Rule: "bad_span", Detail: fmt.Sprintf("end_utc_ms %d must be > start_utc_ms %d", endUtcMs, startUtcMs)}
	}
	if len(segments) == 0 {
		return nil, &ValidationError{Rule: "empty_segments", Detail: "block must contain at least one segment"}
	}

	var sum int64
	for i, s := range segments {
		if s.SegmentIndex != i {
			return nil, &ValidationError{Rule: "non_monotonic_index", Detail: fmt.Sprintf("segment %d has segment_index %d, want %d", i, s.SegmentIndex, i)}
		}
		if s.AssetURI == "" {
			return nil, &ValidationError{Rule: "empty_asset_uri", Detail: fmt.Sprintf("segment %d has empty asset_uri", i)}
		}
		if s.AssetStartOffsetMs < 0 {
			return nil, &ValidationError{Rule: "negative_offset", Detail: fmt.Sprintf("segment %d has asset_start_offset_ms %d", i, s.AssetStartOffsetMs)}
		}
		if s.DurationMs <= 0 {
			return nil, &ValidationError{Rule: "non_positive_duration", Detail: fmt.Sprintf("segment %d has duration_ms %d", i, s.DurationMs)}
		}
		sum += s.DurationMs
	}

	want := endUtcMs - startUtcMs
	if sum != want {
		return nil, &ValidationError{Rule: "fence_mismatch", Detail: fmt.Sprintf("segment durations sum to %d, block span is %d", sum, want)}
	}

	boundaries := make([]Boundary, len(segments))
	var ct int64
	for i, s := range segments {
		boundaries[i] = Boundary{SegmentIndex: i, StartCtMs: ct, EndCtMs: ct + s.DurationMs}
		ct += s.DurationMs
	}

	return &Plan{
		BlockID:    blockID,
		StartUtcMs: startUtcMs,
		EndUtcMs:   endUtcMs,
		Segments:   append([]Segment(nil), segments...),
		Boundaries: boundaries,
	}, nil
}
