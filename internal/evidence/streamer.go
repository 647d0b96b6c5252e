package evidence

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

const streamPath = "/evidence/stream"

// Streamer opens a bidirectional h2c (cleartext HTTP/2) stream to Core,
// sends HELLO, waits for Core's initial ack, replays unacked spool records,
// then streams live. Disconnects are retried with exponential backoff
// (100ms -> 5s cap). Delivery is at-least-once.
type Streamer struct {
	addr             string
	spool            *Spool
	channelID        string
	sessionID        string
	helloAckTimeout  time.Duration

	client *http.Client

	sentSequence  int64
	ackedSequence int64

	logger *log.Logger
}

// NewStreamer constructs a Streamer that will dial addr (host:port, plain
// TCP, cleartext HTTP/2) when Run is called.
func NewStreamer(addr string, spool *Spool, channelID, sessionID string, helloAckTimeout time.Duration) *Streamer {
	if helloAckTimeout <= 0 {
		helloAckTimeout = 5 * time.Second
	}
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	return &Streamer{
		addr:            addr,
		spool:           spool,
		channelID:       channelID,
		sessionID:       sessionID,
		helloAckTimeout: helloAckTimeout,
		client:          &http.Client{Transport: transport},
		logger:          log.New(log.Writer(), "", log.LstdFlags),
	}
}

// Run connects and streams until stop is closed, reconnecting with
// exponential backoff on any disconnect.
func (st *Streamer) Run(stop <-chan struct{}) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for {
		select {
		case <-stop:
			return
		default:
		}

		err := st.connectAndStream(stop)
		if err == nil {
			return // stop was closed cleanly mid-stream
		}
		st.logger.Printf("evidence[streamer]: disconnected: %v (retrying in %s)", err, backoff)

		select {
		case <-stop:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (st *Streamer) connectAndStream(stop <-chan struct{}) error {
	pr, pw := io.Pipe()
	req, err := http.NewRequest(http.MethodPost, "http://"+st.addr+streamPath, pr)
	if err != nil {
		return fmt.Errorf("evidence: build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.retrovue.evidence+framed")

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := st.client.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	// The durable spool, not this process's in-memory sentSequence, is the
	// source of truth for what's been emitted — after a restart sentSequence
	// resets to zero even though the spool file already holds everything up
	// to LastSequence, so HELLO must report that instead.
	lastSeq := st.spool.LastSequence()
	atomic.StoreInt64(&st.sentSequence, lastSeq)
	acked, err := ReadAck(filepath.Dir(st.spool.dir), st.channelID, st.sessionID)
	if err != nil {
		acked = 0
	}

	hello := streamFrame{Type: "hello", Hello: &Hello{
		ChannelID:              st.channelID,
		PlayoutSessionID:       st.sessionID,
		FirstSequenceAvailable: acked + 1,
		LastSequenceEmitted:    lastSeq,
	}}
	if err := writeFrame(pw, hello); err != nil {
		pw.CloseWithError(err)
		return fmt.Errorf("evidence: write hello: %w", err)
	}

	var resp *http.Response
	select {
	case resp = <-respCh:
	case err := <-errCh:
		return fmt.Errorf("evidence: connect: %w", err)
	case <-time.After(st.helloAckTimeout):
		pw.CloseWithError(errors.New("hello timeout"))
		return fmt.Errorf("evidence: hello ack timeout after %s", st.helloAckTimeout)
	}
	defer resp.Body.Close()

	ackCh := make(chan int64, 8)
	readErrCh := make(chan error, 1)
	go st.ackReader(resp.Body, ackCh, readErrCh)

	select {
	case acked := <-ackCh:
		atomic.StoreInt64(&st.ackedSequence, acked)
		if err := st.spool.UpdateAck(acked); err != nil {
			st.logger.Printf("evidence[streamer]: update ack: %v", err)
		}
	case err := <-readErrCh:
		pw.CloseWithError(err)
		return fmt.Errorf("evidence: initial ack: %w", err)
	case <-time.After(st.helloAckTimeout):
		pw.CloseWithError(errors.New("initial ack timeout"))
		return fmt.Errorf("evidence: initial ack timeout after %s", st.helloAckTimeout)
	}

	acked = atomic.LoadInt64(&st.ackedSequence)
	replay, err := st.spool.ReplayFrom(acked)
	if err != nil {
		pw.CloseWithError(err)
		return fmt.Errorf("evidence: replay from %d: %w", acked, err)
	}
	for _, env := range replay {
		env := env
		if err := writeFrame(pw, streamFrame{Type: "evidence", Evidence: &env}); err != nil {
			pw.CloseWithError(err)
			return fmt.Errorf("evidence: write replay frame: %w", err)
		}
		atomic.StoreInt64(&st.sentSequence, env.Sequence)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			pw.Close()
			return nil
		case acked := <-ackCh:
			atomic.StoreInt64(&st.ackedSequence, acked)
			if err := st.spool.UpdateAck(acked); err != nil {
				st.logger.Printf("evidence[streamer]: update ack: %v", err)
			}
		case err := <-readErrCh:
			pw.CloseWithError(err)
			return fmt.Errorf("evidence: ack stream: %w", err)
		case <-ticker.C:
			sent := atomic.LoadInt64(&st.sentSequence)
			fresh, err := st.spool.ReplayFrom(sent)
			if err != nil {
				pw.CloseWithError(err)
				return fmt.Errorf("evidence: live replay: %w", err)
			}
			for _, env := range fresh {
				env := env
				if err := writeFrame(pw, streamFrame{Type: "evidence", Evidence: &env}); err != nil {
					pw.CloseWithError(err)
					return fmt.Errorf("evidence: write live frame: %w", err)
				}
				atomic.StoreInt64(&st.sentSequence, env.Sequence)
			}
		}
	}
}

func (st *Streamer) ackReader(r io.Reader, ackCh chan<- int64, errCh chan<- error) {
	for {
		f, err := readFrame(r)
		if err != nil {
			errCh <- err
			return
		}
		if f.Type == "ack" && f.Ack != nil {
			ackCh <- f.Ack.AckedSequence
		}
	}
}

// HandlerFunc returns an http.HandlerFunc implementing Core's side of the
// stream for local/integration testing: reads HELLO, acks immediately at
// first_sequence_available-1 (the last sequence already acknowledged, so the
// streamer replays everything still unacked), then echoes an ack for every
// evidence frame it receives. Production Core implementations replace this with real
// reconciliation logic; this is the test double the teacher-style harness
// wires up in-process.
func HandlerFunc(onEvidence func(Envelope)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		hello, err := readFrame(r.Body)
		if err != nil || hello.Type != "hello" || hello.Hello == nil {
			http.Error(w, "expected hello frame", http.StatusBadRequest)
			return
		}
		if err := writeFrame(w, streamFrame{Type: "ack", Ack: &Ack{AckedSequence: hello.Hello.FirstSequenceAvailable - 1}}); err != nil {
			return
		}
		flusher.Flush()

		for {
			f, err := readFrame(r.Body)
			if err != nil {
				return
			}
			if f.Type == "evidence" && f.Evidence != nil {
				if onEvidence != nil {
					onEvidence(*f.Evidence)
				}
				if err := writeFrame(w, streamFrame{Type: "ack", Ack: &Ack{AckedSequence: f.Evidence.Sequence}}); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
