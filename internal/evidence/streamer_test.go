package evidence

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, "chan1", "sess1", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendBlockStart(t *testing.T, s *Spool, seq int64) {
	t.Helper()
	env := Envelope{
		SchemaVersion:    SchemaVersion,
		ChannelID:        "chan1",
		PlayoutSessionID: "sess1",
		Sequence:         seq,
		EventUUID:        "00000000-0000-0000-0000-000000000000",
		EmittedUTC:       1,
		PayloadType:      BlockStart,
		Payload:          marshalPayload(BlockStartPayload{BlockID: "b1"}),
	}
	if err := s.Append(env); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func startH2CServer(t *testing.T, h http.Handler) string {
	t.Helper()
	h2s := &http2.Server{}
	srv := httptest.NewServer(h2c.NewHandler(h, h2s))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestStreamerReplaysAndAdvancesAck(t *testing.T) {
	spool := newTestSpool(t)
	appendBlockStart(t, spool, 1)
	appendBlockStart(t, spool, 2)
	time.Sleep(300 * time.Millisecond) // allow the writer goroutine's flush tick

	var mu sync.Mutex
	var received []int64
	addr := startH2CServer(t, HandlerFunc(func(env Envelope) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, env.Sequence)
	}))

	st := NewStreamer(addr, spool, "chan1", "sess1", 2*time.Second)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		st.Run(stop)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	close(stop)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(received) < 2 {
		t.Fatalf("expected at least 2 replayed envelopes, got %v", received)
	}
	if received[0] != 1 || received[1] != 2 {
		t.Fatalf("expected sequences [1 2], got %v", received)
	}
}

func TestStreamerPersistsAckAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	spool, err := Open(dir, "chan1", "sess1", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	appendBlockStart(t, spool, 1)
	time.Sleep(300 * time.Millisecond)

	addr := startH2CServer(t, HandlerFunc(nil))

	st := NewStreamer(addr, spool, "chan1", "sess1", 2*time.Second)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		st.Run(stop)
		close(done)
	}()
	time.Sleep(500 * time.Millisecond)
	close(stop)
	<-done
	spool.Close()

	acked, err := ReadAck(dir, "chan1", "sess1")
	if err != nil {
		t.Fatalf("ReadAck: %v", err)
	}
	if acked != 1 {
		t.Fatalf("expected acked sequence 1 after stream, got %d", acked)
	}
}

// TestRestartRecoversSequenceAndReplayWindow covers a process dying mid-session
// with a durable spool already holding more than a couple of events, and a
// fresh Spool/Streamer recovering from that file rather than starting over at
// sequence zero: the reopened spool must report the durable LastSequence and
// continue numbering from it, and HELLO must report the durable
// LastSequenceEmitted and a FirstSequenceAvailable just past the prior
// process's ack (10 events acked through 6, to keep it fast).
func TestRestartRecoversSequenceAndReplayWindow(t *testing.T) {
	dir := t.TempDir()

	spool, err := Open(dir, "chan1", "sess1", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for seq := int64(1); seq <= 10; seq++ {
		appendBlockStart(t, spool, seq)
	}
	time.Sleep(300 * time.Millisecond)
	if err := spool.UpdateAck(6); err != nil {
		t.Fatalf("UpdateAck: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate the process restarting: a brand new Spool value reopening the
	// same durable files, and a brand new Streamer/Emitter over it.
	reopened, err := Open(dir, "chan1", "sess1", 0)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer reopened.Close()

	if got := reopened.LastSequence(); got != 10 {
		t.Fatalf("LastSequence after reopen = %d, want 10", got)
	}

	emitter := NewEmitter("chan1", "sess1", reopened)
	emitter.BlockStart(BlockStartPayload{BlockID: "b-after-restart"})
	time.Sleep(300 * time.Millisecond)
	if got := reopened.LastSequence(); got != 11 {
		t.Fatalf("LastSequence after post-restart emit = %d, want 11 (emitter must resume past the recovered tail)", got)
	}

	var mu sync.Mutex
	var helloSeen *Hello
	addr := startH2CServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		f, err := readFrame(r.Body)
		if err != nil || f.Type != "hello" {
			http.Error(w, "expected hello", http.StatusBadRequest)
			return
		}
		mu.Lock()
		h := *f.Hello
		helloSeen = &h
		mu.Unlock()
		_ = writeFrame(w, streamFrame{Type: "ack", Ack: &Ack{AckedSequence: f.Hello.LastSequenceEmitted}})
		flusher.Flush()
		for {
			if _, err := readFrame(r.Body); err != nil {
				return
			}
		}
	}))

	st := NewStreamer(addr, reopened, "chan1", "sess1", 2*time.Second)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		st.Run(stop)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		seen := helloSeen != nil
		mu.Unlock()
		if seen {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	close(stop)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if helloSeen == nil {
		t.Fatalf("expected a HELLO frame to be sent")
	}
	if helloSeen.LastSequenceEmitted != 11 {
		t.Fatalf("HELLO.LastSequenceEmitted = %d, want 11 (recovered from the durable spool, not 0)", helloSeen.LastSequenceEmitted)
	}
	if helloSeen.FirstSequenceAvailable != 7 {
		t.Fatalf("HELLO.FirstSequenceAvailable = %d, want 7 (replay window starts right after the prior process's ack of 6)", helloSeen.FirstSequenceAvailable)
	}
}
