// Package clock implements the session clock: rational-FPS frame timing
// anchored to a monotonic instant and a UTC epoch, captured once at Start.
package clock

import (
	"errors"
	"sync"
	"time"

	"github.com/retrovue/air/internal/rational"
)

// ErrInvariantViolation is returned when the clock is used outside its
// documented lifecycle (double Start, or a frame query before Start).
var ErrInvariantViolation = errors.New("clock: invariant violation")

// WaitStrategy determines how WaitForFrame blocks until a deadline.
type WaitStrategy interface {
	// WaitUntil blocks until the monotonic clock reaches deadline, or
	// returns immediately in deterministic/test implementations.
	WaitUntil(deadline time.Time)
}

// RealWaitStrategy sleeps in short increments until the deadline, matching
// the original implementation's two-phase sleep: coarse sleep while far from
// the deadline, fine-grained spin-sleep as it approaches, to avoid both busy
// spinning and oversleeping past the target.
type RealWaitStrategy struct{}

func (RealWaitStrategy) WaitUntil(deadline time.Time) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		var sleep time.Duration
		if remaining > 2*time.Millisecond {
			sleep = remaining - time.Millisecond
		} else {
			sleep = remaining / 2
			if sleep < 200*time.Microsecond {
				sleep = 200 * time.Microsecond
			}
		}
		time.Sleep(sleep)
	}
}

// DeterministicWaitStrategy returns immediately; used by tests that drive
// the pipeline tick-by-tick without real wall-clock pacing.
type DeterministicWaitStrategy struct{}

func (DeterministicWaitStrategy) WaitUntil(time.Time) {}

// Clock is the session clock: constructed from a rational output FPS, it
// captures a monotonic anchor and a UTC epoch exactly once at Start, and
// computes exact per-frame deadlines and PTS from that anchor.
type Clock struct {
	fps  rational.FPS
	wait WaitStrategy

	mu        sync.Mutex
	started   bool
	monoStart time.Time
	utcEpoch  time.Time
}

// New constructs a Clock for the given output FPS. wait defaults to
// RealWaitStrategy if nil.
func New(fps rational.FPS, wait WaitStrategy) *Clock {
	if wait == nil {
		wait = RealWaitStrategy{}
	}
	return &Clock{fps: fps, wait: wait}
}

// Start captures the monotonic and UTC anchors. Calling Start twice is an
// invariant violation — a session clock is single-use; a new session
// requires ResetEpochForNewSession.
func (c *Clock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrInvariantViolation
	}
	c.monoStart = time.Now()
	c.utcEpoch = c.monoStart.UTC()
	c.started = true
	return nil
}

// ResetEpochForNewSession clears the captured anchors so Start may be called
// again. Must only be invoked between sessions, never during one.
func (c *Clock) ResetEpochForNewSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// IsEpochLocked reports whether Start has captured anchors for this session.
func (c *Clock) IsEpochLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// DeadlineFor returns the monotonic wall-clock instant at which frame index
// n must be emitted: session_start + exact-integer frame duration for n.
func (c *Clock) DeadlineFor(n int64) (time.Time, error) {
	c.mu.Lock()
	start := c.monoStart
	started := c.started
	c.mu.Unlock()
	if !started {
		return time.Time{}, ErrInvariantViolation
	}
	return start.Add(time.Duration(c.fps.DeadlineNs(n))), nil
}

// ScheduledToUTC converts an offset from session start (in the frame-index
// domain) to an absolute UTC instant, for reporting only — never used for
// pacing decisions.
func (c *Clock) ScheduledToUTC(n int64) (time.Time, error) {
	c.mu.Lock()
	epoch := c.utcEpoch
	started := c.started
	c.mu.Unlock()
	if !started {
		return time.Time{}, ErrInvariantViolation
	}
	return epoch.Add(time.Duration(c.fps.DeadlineNs(n))), nil
}

// PTS90k returns the 90kHz PTS for frame index n.
func (c *Clock) PTS90k(n int64) int64 {
	return c.fps.PTS90k(n)
}

// WaitForFrame blocks (per the configured WaitStrategy) until frame index
// n's deadline. Returns ErrInvariantViolation if the clock has not Started.
func (c *Clock) WaitForFrame(n int64) error {
	deadline, err := c.DeadlineFor(n)
	if err != nil {
		return err
	}
	c.wait.WaitUntil(deadline)
	return nil
}

// FPS returns the clock's configured output rate.
func (c *Clock) FPS() rational.FPS {
	return c.fps
}
