package evidence

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"
)

// Rotate closes the active spool file, compresses it with brotli into a
// rotated segment file, and opens a fresh active file for continued
// appends. Only valid when the active file holds no unacked tail
// (ackedSequence == lastSequence) and the in-memory queue is flushed — the
// active unacked tail is never rotated or compressed, so ReplayFrom and the
// at-least-once guarantee are unaffected by rotation.
func (s *Spool) Rotate() (rotatedPath string, err error) {
	s.mu.Lock()
	if s.ackedSequence != s.lastSequence {
		s.mu.Unlock()
		return "", fmt.Errorf("evidence: rotate requires a fully-acked spool (acked=%d last=%d)", s.ackedSequence, s.lastSequence)
	}
	if len(s.queue) > 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("evidence: rotate requires a flushed spool (queue not empty)")
	}
	oldPath := s.path()
	s.mu.Unlock()

	if err := s.f.Close(); err != nil {
		return "", fmt.Errorf("evidence: close active spool for rotation: %w", err)
	}

	segName := fmt.Sprintf("%s.segment-%d.jsonl", s.sessionID, time.Now().UTC().UnixNano())
	segPath := filepath.Join(s.dir, segName)
	if err := os.Rename(oldPath, segPath); err != nil {
		return "", fmt.Errorf("evidence: rename for rotation: %w", err)
	}

	brPath := segPath + ".br"
	if err := compressFileBrotli(segPath, brPath); err != nil {
		return "", fmt.Errorf("evidence: compress rotated segment: %w", err)
	}
	if err := os.Remove(segPath); err != nil {
		return "", fmt.Errorf("evidence: remove uncompressed rotated segment: %w", err)
	}

	f, err := os.OpenFile(oldPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("evidence: reopen active spool after rotation: %w", err)
	}
	s.mu.Lock()
	s.f = f
	s.writeOffset = 0
	s.mu.Unlock()

	return brPath, nil
}

func compressFileBrotli(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	w := brotli.NewWriterLevel(dst, brotli.DefaultCompression)
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
