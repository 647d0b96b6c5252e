package evidence

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Spooler is the subset of *Spool the Emitter depends on, so tests can
// substitute a fake.
type Spooler interface {
	Append(Envelope) error
	LastSequence() int64
}

// spoolFullErr is satisfied by Spool's ErrFull; the Emitter checks for it by
// method rather than by concrete type, so a fake Spooler can report full too.
type spoolFullErr interface {
	SpoolFull() bool
}

// Emitter assigns sequence numbers, UUIDs, and timestamps to evidence
// payloads and appends the resulting envelope to a Spool. If the spool
// reports full, the emitter enters a degraded mode: logged once on entry and
// once on exit, and further events are dropped without blocking playout.
type Emitter struct {
	channelID string
	sessionID string
	spool     Spooler

	seq int64

	mu       sync.Mutex
	degraded bool
}

// NewEmitter constructs an Emitter for one session, resuming sequence
// assignment after spool's last durably recorded sequence — zero on a fresh
// spool, or the recovered tail sequence after a process restart.
func NewEmitter(channelID, sessionID string, spool Spooler) *Emitter {
	return &Emitter{channelID: channelID, sessionID: sessionID, spool: spool, seq: spool.LastSequence()}
}

func (e *Emitter) nextSequence() int64 {
	return atomic.AddInt64(&e.seq, 1)
}

func (e *Emitter) emit(pt PayloadType, payload interface{}) {
	env := Envelope{
		SchemaVersion:    SchemaVersion,
		ChannelID:        e.channelID,
		PlayoutSessionID: e.sessionID,
		Sequence:         e.nextSequence(),
		EventUUID:        uuid.NewString(),
		EmittedUTC:       time.Now().UTC().UnixMilli(),
		PayloadType:      pt,
		Payload:          marshalPayload(payload),
	}

	err := e.spool.Append(env)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		if e.degraded {
			e.degraded = false
			log.Printf("evidence[emitter]: exiting degraded mode, spool accepting appends again")
		}
		return
	}
	if full, ok := err.(spoolFullErr); ok && full.SpoolFull() {
		if !e.degraded {
			e.degraded = true
			log.Printf("evidence[emitter]: spool full, entering degraded mode (events will be dropped)")
		}
		return
	}
	log.Printf("evidence[emitter]: append failed: %v", err)
}

func (e *Emitter) BlockStart(p BlockStartPayload)     { e.emit(BlockStart, p) }
func (e *Emitter) SegmentStart(p SegmentStartPayload) { e.emit(SegmentStart, p) }
func (e *Emitter) SegmentEnd(p SegmentEndPayload)     { e.emit(SegmentEnd, p) }
func (e *Emitter) BlockFence(p BlockFencePayload)     { e.emit(BlockFence, p) }
func (e *Emitter) ChannelTerminated(p ChannelTerminatedPayload) {
	e.emit(ChannelTerminated, p)
}

// IsDegraded reports whether the emitter is currently in degraded (dropping)
// mode.
func (e *Emitter) IsDegraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}
