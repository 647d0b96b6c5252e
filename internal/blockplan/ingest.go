package blockplan

import (
	"encoding/json"
	"net/http"
)

// ingestSegment is the wire shape of one segment in a Core-submitted plan.
type ingestSegment struct {
	SegmentIndex       int         `json:"segment_index"`
	AssetURI           string      `json:"asset_uri"`
	AssetStartOffsetMs int64       `json:"asset_start_offset_ms"`
	DurationMs         int64       `json:"duration_ms"`
	SegmentType        SegmentType `json:"segment_type"`
	Loop               bool        `json:"loop"`
}

// ingestRequest is the wire shape Core POSTs to submit a block plan.
type ingestRequest struct {
	BlockID    string          `json:"block_id"`
	StartUtcMs int64           `json:"start_utc_ms"`
	EndUtcMs   int64           `json:"end_utc_ms"`
	Segments   []ingestSegment `json:"segments"`
}

// IngestHandler returns an http.Handler that accepts a JSON-encoded block
// plan from Core, validates it (Validate), and enqueues it into the next
// slot. Rejections carry the named ValidationError rule in the response
// body; a full next slot is a 409, matching ErrNextOccupied's contract that
// Core must wait for a fence commit before submitting another.
func IngestHandler(q *Queue) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ingestRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}

		segments := make([]Segment, len(req.Segments))
		for i, s := range req.Segments {
			segments[i] = Segment{
				SegmentIndex:       s.SegmentIndex,
				AssetURI:           s.AssetURI,
				AssetStartOffsetMs: s.AssetStartOffsetMs,
				DurationMs:         s.DurationMs,
				SegmentType:        s.SegmentType,
				Loop:               s.Loop,
			}
		}

		plan, err := Validate(req.BlockID, req.StartUtcMs, req.EndUtcMs, segments)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		if err := q.Enqueue(plan); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	})
}
