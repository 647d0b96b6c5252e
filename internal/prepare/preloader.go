package prepare

import (
	"fmt"
	"sync"

	"github.com/retrovue/air/internal/rational"
	"github.com/retrovue/air/internal/tickproducer"
)

// ProducerPreloader is a one-shot background worker: given a fed block and
// output geometry, it constructs a fresh TickProducer, assigns the block,
// and — only if prime depth is achieved — publishes the producer for
// ownership transfer via TakeSource.
type ProducerPreloader struct {
	newDecoder DecoderFactory

	mu       sync.Mutex
	running  bool
	ready    bool
	producer *tickproducer.TickProducer
	primeMs  int
	cancelGen uint64
	activeGen uint64
}

// NewPreloader constructs an idle preloader.
func NewPreloader(newDecoder DecoderFactory) *ProducerPreloader {
	return &ProducerPreloader{newDecoder: newDecoder}
}

// StartPreload cancels any previous in-flight preload before beginning a
// new one in the background.
func (l *ProducerPreloader) StartPreload(block tickproducer.FedBlock, outputFPS rational.FPS, minAudioPrimeMs int) {
	l.mu.Lock()
	l.cancelGen++
	gen := l.cancelGen
	l.activeGen = gen
	l.running = true
	l.ready = false
	l.producer = nil
	l.mu.Unlock()

	go func() {
		dec := l.newDecoder()
		tp := tickproducer.New(dec, outputFPS)
		err := tp.AssignBlock(block, minAudioPrimeMs)

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.activeGen != gen {
			// Superseded by a later StartPreload or explicit Cancel.
			l.running = false
			if err == nil {
				_ = tp.Reset()
			}
			return
		}
		l.running = false
		if err != nil {
			l.ready = false
			return
		}
		l.ready = true
		l.producer = tp
		l.primeMs = tp.AudioPrimeDepthMs()
	}()
}

// Cancel invalidates any in-flight or completed-but-untaken preload.
func (l *ProducerPreloader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelGen++
	l.activeGen = l.cancelGen
	if l.producer != nil {
		_ = l.producer.Reset()
	}
	l.producer = nil
	l.ready = false
	l.running = false
}

// IsReady reports whether a primed producer is waiting to be taken.
func (l *ProducerPreloader) IsReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// IsRunning reports whether a preload is currently in flight.
func (l *ProducerPreloader) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// AudioPrimeDepthMs reports the prime depth achieved by the ready producer.
func (l *ProducerPreloader) AudioPrimeDepthMs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.primeMs
}

// TakeSource transfers ownership of the ready producer to the caller,
// clearing the preloader's state. Returns an error if nothing is ready.
func (l *ProducerPreloader) TakeSource() (*tickproducer.TickProducer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready || l.producer == nil {
		return nil, fmt.Errorf("prepare: preloader has no ready producer to take")
	}
	tp := l.producer
	l.producer = nil
	l.ready = false
	return tp, nil
}
