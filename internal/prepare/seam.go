// Package prepare implements the two background preparation workers: the
// persistent Seam Preparer (opens/seeks/primes ahead of upcoming segment
// and block fences) and the one-shot Producer Preloader (speculative
// preload of the very next block before Core even asks for a seam).
package prepare

import (
	"container/heap"
	"fmt"
	"log"
	"sync"

	"github.com/retrovue/air/internal/decoder"
	"github.com/retrovue/air/internal/rational"
	"github.com/retrovue/air/internal/tickproducer"
)

// RequestType distinguishes a segment-boundary seam (cheap: same decoder,
// new offset) from a block-boundary seam (expensive: new decoder entirely).
type RequestType int

const (
	SegmentSeam RequestType = iota
	BlockSeam
)

// Request is one unit of preparation work: open/seek/prime ahead of
// seam_frame, the tick index at which the result will be needed.
type Request struct {
	Type            RequestType
	Block           tickproducer.FedBlock
	SeamFrame       int64
	OutputFPS       rational.FPS
	MinAudioPrimeMs int
	ParentBlockID   string
	SegmentIndex    int // -1 for block-type requests
}

// Result is a completed preparation, ready for TAKE-at-commit transfer.
type Result struct {
	Producer          *tickproducer.TickProducer
	AudioPrimeDepthMs int
	Type              RequestType
	BlockID           string
	SegmentIndex      int
}

// requestHeap is a min-heap of pending requests ordered by SeamFrame
// ascending (earliest-due first) — re-sorted on every Submit, not just at
// drain time, so an earlier-due request submitted after a later one still
// jumps the queue.
type requestHeap []Request

func (h requestHeap) Len() int            { return len(h) }
func (h requestHeap) Less(i, j int) bool  { return h[i].SeamFrame < h[j].SeamFrame }
func (h requestHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x interface{}) { *h = append(*h, x.(Request)) }
func (h *requestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DecoderFactory constructs a fresh Decoder for a preparation request —
// production code wires this to decoder.NewAstiavDecoder, tests to a
// decoder.FakeDecoder factory.
type DecoderFactory func() decoder.Decoder

// SeamPreparer is the persistent preparation worker described in §4.4.
// Submit is safe even while the worker is busy — callers must NOT gate
// submission on IsRunning, since doing so starves later earlier-due
// requests and risks a SeamMiss at the actual fence.
type SeamPreparer struct {
	newDecoder DecoderFactory

	mu              sync.Mutex
	queue           requestHeap
	cancelRequested bool
	workerActive    bool
	segmentResult   *Result
	blockResult     *Result

	wake chan struct{}
	done chan struct{}
}

// New constructs a SeamPreparer and starts its persistent worker goroutine.
func New(newDecoder DecoderFactory) *SeamPreparer {
	p := &SeamPreparer{
		newDecoder: newDecoder,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	heap.Init(&p.queue)
	go p.run()
	return p
}

// Submit enqueues a request, sorted by SeamFrame. Safe to call at any time.
func (p *SeamPreparer) Submit(req Request) {
	p.mu.Lock()
	heap.Push(&p.queue, req)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *SeamPreparer) run() {
	for {
		p.mu.Lock()
		if p.cancelRequested || len(p.queue) == 0 {
			p.workerActive = false
			p.mu.Unlock()
			select {
			case <-p.wake:
				continue
			case <-p.done:
				return
			}
		}
		req := heap.Pop(&p.queue).(Request)
		p.workerActive = true
		p.mu.Unlock()

		result, err := p.prepare(req)

		p.mu.Lock()
		if p.cancelRequested {
			// A cancel landed mid-prepare: discard this result, the caller
			// that triggered cancel owns cleanup of whatever we built.
			p.workerActive = false
			p.mu.Unlock()
			if result != nil && result.Producer != nil {
				_ = result.Producer.Reset()
			}
			continue
		}
		if err != nil {
			log.Printf("prepare: seam request for block %s failed: %v", req.Block.BlockID, err)
		} else if req.Type == SegmentSeam {
			p.segmentResult = result
		} else {
			p.blockResult = result
		}
		p.workerActive = false
		p.mu.Unlock()
	}
}

func (p *SeamPreparer) prepare(req Request) (*Result, error) {
	dec := p.newDecoder()
	tp := tickproducer.New(dec, req.OutputFPS)
	if err := tp.AssignBlock(req.Block, req.MinAudioPrimeMs); err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	return &Result{
		Producer:          tp,
		AudioPrimeDepthMs: tp.AudioPrimeDepthMs(),
		Type:              req.Type,
		BlockID:           req.Block.BlockID,
		SegmentIndex:      req.SegmentIndex,
	}, nil
}

// HasSegmentResult reports whether a completed segment-seam result is
// waiting to be taken.
func (p *SeamPreparer) HasSegmentResult() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segmentResult != nil
}

// HasBlockResult reports whether a completed block-seam result is waiting.
func (p *SeamPreparer) HasBlockResult() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blockResult != nil
}

// TakeSegmentResult transfers ownership of the segment result slot to the
// caller, clearing it. Returns nil if none is ready.
func (p *SeamPreparer) TakeSegmentResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.segmentResult
	p.segmentResult = nil
	return r
}

// TakeBlockResult transfers ownership of the block result slot, clearing
// it. Returns nil if none is ready.
func (p *SeamPreparer) TakeBlockResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.blockResult
	p.blockResult = nil
	return r
}

// HasPending reports whether any request is still queued or in flight.
func (p *SeamPreparer) HasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0 || p.workerActive
}

// IsRunning reports whether the worker is actively preparing a request
// right now. Callers must never gate Submit on this.
func (p *SeamPreparer) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workerActive
}

// Cancel empties the queue and any in-flight state, blocking until the
// worker goes idle, then clears both result slots.
func (p *SeamPreparer) Cancel() {
	p.mu.Lock()
	p.cancelRequested = true
	p.queue = p.queue[:0]
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}

	for {
		p.mu.Lock()
		active := p.workerActive
		p.mu.Unlock()
		if !active {
			break
		}
	}

	p.mu.Lock()
	if p.segmentResult != nil {
		_ = p.segmentResult.Producer.Reset()
	}
	if p.blockResult != nil {
		_ = p.blockResult.Producer.Reset()
	}
	p.segmentResult = nil
	p.blockResult = nil
	p.cancelRequested = false
	p.mu.Unlock()
}

// CancelSegmentRequests removes only segment-type queued items and clears
// only the segment result slot — block preparation is precious and
// preserved.
func (p *SeamPreparer) CancelSegmentRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.queue[:0]
	for _, r := range p.queue {
		if r.Type != SegmentSeam {
			kept = append(kept, r)
		}
	}
	p.queue = kept
	heap.Init(&p.queue)
	if p.segmentResult != nil {
		_ = p.segmentResult.Producer.Reset()
	}
	p.segmentResult = nil
}

// Stop permanently shuts down the worker goroutine.
func (p *SeamPreparer) Stop() {
	close(p.done)
}
