// Package blockplan defines the block/segment domain types ingested from
// Core, their validation rules, and the two-slot current/next queue the
// Pipeline Manager reads from.
package blockplan

// SegmentType classifies a segment as playable content or filler pad time.
// The engine never chooses pad content itself (Non-goal: no scheduling) —
// it only plays what Core already classified.
type SegmentType string

const (
	SegmentContent SegmentType = "content"
	SegmentPad     SegmentType = "pad"
)

// Segment is one playback unit inside a block: an asset played from a start
// offset for a fixed duration.
type Segment struct {
	SegmentIndex       int
	AssetURI           string
	AssetStartOffsetMs int64
	DurationMs         int64
	SegmentType        SegmentType
	Loop               bool
}

// Boundary is the derived channel-time span a segment occupies within its
// block: start_ct_ms <= ct_ms < end_ct_ms. The last segment's end_ct_ms is
// the block fence — its exclusive upper bound.
type Boundary struct {
	SegmentIndex int
	StartCtMs    int64
	EndCtMs      int64
}

// Plan is a validated block as ingested from Core: ordered segments with
// precomputed boundaries spanning [0, DurationMs) in channel-time.
type Plan struct {
	BlockID    string
	StartUtcMs int64
	EndUtcMs   int64
	Segments   []Segment
	Boundaries []Boundary
}

// DurationMs is the block's wall-clock span, equal (by the fence-equality
// invariant) to the sum of its segment durations.
func (p *Plan) DurationMs() int64 {
	return p.EndUtcMs - p.StartUtcMs
}

// BoundaryAt returns the boundary containing channel-time ctMs, using the
// half-open [start, end) lookup rule (the last segment owns the fence as
// its exclusive upper bound). ok is false if ctMs falls outside the block
// (i.e. at or past the fence).
func (p *Plan) BoundaryAt(ctMs int64) (Boundary, bool) {
	for _, b := range p.Boundaries {
		if ctMs >= b.StartCtMs && ctMs < b.EndCtMs {
			return b, true
		}
	}
	return Boundary{}, false
}

// SegmentAt returns the segment whose boundary contains ctMs.
func (p *Plan) SegmentAt(ctMs int64) (Segment, bool) {
	b, ok := p.BoundaryAt(ctMs)
	if !ok {
		return Segment{}, false
	}
	return p.Segments[b.SegmentIndex], true
}
