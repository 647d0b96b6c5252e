package probe

import (
	"encoding/json"
	"net/http"
)

type geometryResponse struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	DurationMs int64  `json:"duration_ms"`
	HasAudio   bool   `json:"has_audio"`
	FPSNum     int64  `json:"fps_num"`
	FPSDen     int64  `json:"fps_den"`
	AssetURI   string `json:"asset_uri"`
}

// GeometryHandler returns an http.Handler exposing Cache.ProbeAndCache over
// GET /probe?asset_uri=... — an operational aid for Core to sanity-check an
// asset before committing a block plan that references it, mirroring the
// teacher's own probe-backed HTTP handlers (LineupHandler, DiscoveryHandler).
func GeometryHandler(cache *Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		assetURI := r.URL.Query().Get("asset_uri")
		if assetURI == "" {
			http.Error(w, "missing asset_uri", http.StatusBadRequest)
			return
		}
		g, err := cache.ProbeAndCache(assetURI)
		if err != nil {
			http.Error(w, "probe: "+err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(geometryResponse{
			Width: g.Width, Height: g.Height, DurationMs: g.DurationMs,
			HasAudio: g.HasAudio, FPSNum: g.VideoFPS.Num, FPSDen: g.VideoFPS.Den,
			AssetURI: assetURI,
		})
	})
}
