package probe

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/retrovue/air/internal/decoder"
	"github.com/retrovue/air/internal/httpclient"
	"github.com/retrovue/air/internal/rational"
	"github.com/retrovue/air/internal/safeurl"
)

// Cache is a sqlite-backed store of asset geometry probes, keyed by asset
// URI, replacing the teacher's JSON SmoketestCache with a durable embedded
// database that survives process restarts — same TTL-freshness concept,
// upgraded storage.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenCache opens (creating if necessary) the sqlite cache database at
// path. ttl governs Lookup's freshness check.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("probe: open cache %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS geometry (
		asset_uri TEXT PRIMARY KEY,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		has_audio INTEGER NOT NULL,
		fps_num INTEGER NOT NULL,
		fps_den INTEGER NOT NULL,
		probed_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("probe: create cache schema: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns a cached geometry for assetURI if present and within ttl.
func (c *Cache) Lookup(assetURI string) (decoder.Geometry, bool) {
	row := c.db.QueryRow(`SELECT width, height, duration_ms, has_audio, fps_num, fps_den, probed_at
		FROM geometry WHERE asset_uri = ?`, assetURI)

	var g decoder.Geometry
	var hasAudio int
	var fpsNum, fpsDen int64
	var probedAtUnix int64
	if err := row.Scan(&g.Width, &g.Height, &g.DurationMs, &hasAudio, &fpsNum, &fpsDen, &probedAtUnix); err != nil {
		return decoder.Geometry{}, false
	}
	if time.Since(time.Unix(probedAtUnix, 0)) > c.ttl {
		return decoder.Geometry{}, false
	}
	g.HasAudio = hasAudio != 0
	g.VideoFPS = rational.New(fpsNum, fpsDen)
	return g, true
}

// Store records a fresh geometry probe for assetURI, overwriting any
// existing entry.
func (c *Cache) Store(assetURI string, g decoder.Geometry) error {
	hasAudio := 0
	if g.HasAudio {
		hasAudio = 1
	}
	_, err := c.db.Exec(`INSERT INTO geometry
		(asset_uri, width, height, duration_ms, has_audio, fps_num, fps_den, probed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_uri) DO UPDATE SET
			width=excluded.width, height=excluded.height, duration_ms=excluded.duration_ms,
			has_audio=excluded.has_audio, fps_num=excluded.fps_num, fps_den=excluded.fps_den,
			probed_at=excluded.probed_at`,
		assetURI, g.Width, g.Height, g.DurationMs, hasAudio, g.VideoFPS.Num, g.VideoFPS.Den, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("probe: store geometry for %s: %w", assetURI, err)
	}
	return nil
}

// ProbeAndCache returns assetURI's geometry, serving from cache if fresh
// and probing (then caching the result) otherwise. For http(s) assets, a
// cheap HEAD/content-sniff (Probe) runs first as an advisory fast-path —
// its result is logged, not fatal, since the decoder probe below is the
// authoritative check and some HLS/TS sources reject HEAD outright.
func (c *Cache) ProbeAndCache(assetURI string) (decoder.Geometry, error) {
	if g, ok := c.Lookup(assetURI); ok {
		return g, nil
	}
	if safeurl.IsHTTPOrHTTPS(assetURI) {
		if _, err := Probe(assetURI, httpclient.Default()); err != nil {
			log.Printf("probe: advisory HEAD/sniff failed for %s: %v", assetURI, err)
		}
	}
	g, err := decoder.ProbeGeometry(assetURI)
	if err != nil {
		return decoder.Geometry{}, err
	}
	if err := c.Store(assetURI, g); err != nil {
		return g, err
	}
	return g, nil
}
