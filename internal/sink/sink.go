// Package sink implements the Network Sink: a non-blocking byte consumer
// backed by a bounded internal queue and a dedicated writer worker, with
// high/low-water throttle callbacks and slow-consumer detach.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrSinkClosed is returned once the sink has detached or been stopped.
var ErrSinkClosed = errors.New("sink: closed")

// ErrSinkFull is returned by TryConsumeBytes when the queue has no room.
var ErrSinkFull = errors.New("sink: queue full")

type packet struct {
	data []byte
}

// DetachFunc is invoked exactly once, at most, when the sink detaches a slow
// consumer.
type DetachFunc func(reason string)

// Config configures queue capacity and water-mark fractions.
type Config struct {
	QueueCapacityBytes int
	HighWaterFrac      float64 // e.g. 0.8
	LowWaterFrac       float64 // e.g. 0.5
	DetachOnOverflow   bool
	ThrottleRateBps    int
}

// Sink is the bounded non-blocking network sink described in §4.6. The
// caller owns the connection's lifecycle; Sink only ever writes to it and
// closes it on detach.
type Sink struct {
	cfg    Config
	conn   net.Conn
	logger *slog.Logger

	onThrottleOn  func()
	onThrottleOff func()
	onDetach      DetachFunc

	mu             sync.Mutex
	queue          [][]byte
	queuedBytes    int
	closed         bool
	detached       bool
	throttling     bool
	lastAcceptedAt time.Time

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	limiter *rate.Limiter
}

// New constructs a Sink around an already-connected, non-blocking-capable
// net.Conn and starts its writer worker.
func New(conn net.Conn, cfg Config) *Sink {
	if cfg.HighWaterFrac <= 0 {
		cfg.HighWaterFrac = 0.8
	}
	if cfg.LowWaterFrac <= 0 {
		cfg.LowWaterFrac = 0.5
	}
	if cfg.QueueCapacityBytes <= 0 {
		cfg.QueueCapacityBytes = 4 * 1024 * 1024
	}
	if cfg.ThrottleRateBps <= 0 {
		cfg.ThrottleRateBps = 8 * 1024 * 1024
	}

	s := &Sink{
		cfg:     cfg,
		conn:    conn,
		logger:  slog.Default().With("component", "sink"),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.ThrottleRateBps), cfg.ThrottleRateBps),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// SetCallbacks installs the throttle-on/throttle-off/detach hooks. Must be
// called before the sink sees its first packet to avoid races with the
// writer worker, matching the teacher-adjacent pacer's SetWriteCallbacks
// discipline.
func (s *Sink) SetCallbacks(onThrottleOn, onThrottleOff func(), onDetach DetachFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onThrottleOn = onThrottleOn
	s.onThrottleOff = onThrottleOff
	s.onDetach = onDetach
}

// TryConsumeBytes never blocks: it either enqueues data or rejects.
func (s *Sink) TryConsumeBytes(data []byte) error {
	s.mu.Lock()
	if s.closed || s.detached {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	if s.queuedBytes+len(data) > s.cfg.QueueCapacityBytes {
		if s.cfg.DetachOnOverflow {
			s.detachLocked("buffer overflow: queue capacity exceeded")
			s.mu.Unlock()
			return ErrSinkClosed
		}
		s.mu.Unlock()
		return ErrSinkFull
	}
	buf := append([]byte(nil), data...)
	s.queue = append(s.queue, buf)
	s.queuedBytes += len(buf)
	s.checkWaterMarksLocked()
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// WaitAndConsumeBytes blocks on space up to timeout before enqueueing — used
// by the muxer's pacing path when the caller prefers to wait rather than
// drop.
func (s *Sink) WaitAndConsumeBytes(data []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := s.TryConsumeBytes(data)
		if err == nil || err == ErrSinkClosed {
			return err
		}
		if time.Now().After(deadline) {
			return ErrSinkFull
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *Sink) checkWaterMarksLocked() {
	high := int(float64(s.cfg.QueueCapacityBytes) * s.cfg.HighWaterFrac)
	low := int(float64(s.cfg.QueueCapacityBytes) * s.cfg.LowWaterFrac)
	if !s.throttling && s.queuedBytes >= high {
		s.throttling = true
		if s.onThrottleOn != nil {
			go s.onThrottleOn()
		}
	} else if s.throttling && s.queuedBytes <= low {
		s.throttling = false
		if s.onThrottleOff != nil {
			go s.onThrottleOff()
		}
	}
}

func (s *Sink) detachLocked(reason string) {
	if s.detached {
		return
	}
	s.detached = true
	s.logger.Warn("slow consumer detach", "reason", reason)
	cb := s.onDetach
	go func() {
		if cb != nil {
			cb(reason)
		}
		_ = s.conn.Close()
	}()
}

// IsDetached reports whether the sink has detached its consumer.
func (s *Sink) IsDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// LastAcceptedTime reports the last time the kernel actually accepted
// bytes — honest liveness, never set on mere enqueue.
func (s *Sink) LastAcceptedTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcceptedAt
}

func (s *Sink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 || s.closed || s.detached {
				s.mu.Unlock()
				break
			}
			buf := s.queue[0]
			s.queue = s.queue[1:]
			s.queuedBytes -= len(buf)
			s.checkWaterMarksLocked()
			s.mu.Unlock()

			if err := s.limiter.WaitN(context.Background(), len(buf)); err != nil {
				continue
			}
			if err := writeFull(s.conn, buf); err != nil {
				if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				s.mu.Lock()
				s.detachLocked(fmt.Sprintf("write error: %v", err))
				s.mu.Unlock()
				return
			}
			s.mu.Lock()
			s.lastAcceptedAt = time.Now()
			s.mu.Unlock()
		}
	}
}

func writeFull(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// Stop closes the fd and stops the writer worker promptly. Bytes still
// queued when Stop is called are not drained to the connection; they are
// discarded.
func (s *Sink) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	_ = s.conn.Close()
	s.wg.Wait()
}
