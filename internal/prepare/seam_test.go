package prepare

import (
	"testing"
	"time"

	"github.com/retrovue/air/internal/decoder"
	"github.com/retrovue/air/internal/rational"
	"github.com/retrovue/air/internal/tickproducer"
)

func fakeFactory() DecoderFactory {
	return func() decoder.Decoder {
		return &decoder.FakeDecoder{FPS: rational.New(30, 1), FrameCount: 1000}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSeamPreparerSubmitAndTakeSegmentResult(t *testing.T) {
	p := New(fakeFactory())
	defer p.Stop()

	p.Submit(Request{
		Type:          SegmentSeam,
		Block:         tickproducer.FedBlock{BlockID: "b1", AssetURI: "asset://x", DurationMs: 10000},
		SeamFrame:     300,
		OutputFPS:     rational.New(30, 1),
		SegmentIndex:  1,
		ParentBlockID: "b1",
	})

	waitFor(t, p.HasSegmentResult)
	res := p.TakeSegmentResult()
	if res == nil || res.BlockID != "b1" || res.SegmentIndex != 1 {
		t.Fatalf("got %+v", res)
	}
	if p.HasSegmentResult() {
		t.Fatalf("expected segment result slot cleared after take")
	}
}

func TestSeamPreparerOrdersBySeamFrameNotSubmitOrder(t *testing.T) {
	p := New(fakeFactory())
	defer p.Stop()

	// Submit a later-due block request first, then an earlier-due one.
	p.Submit(Request{Type: BlockSeam, Block: tickproducer.FedBlock{BlockID: "late", AssetURI: "asset://late", DurationMs: 1000}, SeamFrame: 1000, OutputFPS: rational.New(30, 1)})
	p.Submit(Request{Type: SegmentSeam, Block: tickproducer.FedBlock{BlockID: "early", AssetURI: "asset://early", DurationMs: 1000}, SeamFrame: 10, OutputFPS: rational.New(30, 1)})

	waitFor(t, p.HasSegmentResult)
	seg := p.TakeSegmentResult()
	if seg.BlockID != "early" {
		t.Fatalf("expected earlier-due segment request prepared first, got %s", seg.BlockID)
	}
	waitFor(t, p.HasBlockResult)
	blk := p.TakeBlockResult()
	if blk.BlockID != "late" {
		t.Fatalf("got %s", blk.BlockID)
	}
}

func TestSeamPreparerCancelSegmentRequestsPreservesBlockResult(t *testing.T) {
	p := New(fakeFactory())
	defer p.Stop()

	p.Submit(Request{Type: BlockSeam, Block: tickproducer.FedBlock{BlockID: "b", AssetURI: "asset://b", DurationMs: 1000}, SeamFrame: 5, OutputFPS: rational.New(30, 1)})
	waitFor(t, p.HasBlockResult)

	p.Submit(Request{Type: SegmentSeam, Block: tickproducer.FedBlock{BlockID: "s", AssetURI: "asset://s", DurationMs: 1000}, SeamFrame: 9999, OutputFPS: rational.New(30, 1)})
	p.CancelSegmentRequests()

	if !p.HasBlockResult() {
		t.Fatalf("expected block result preserved across CancelSegmentRequests")
	}
	if p.HasSegmentResult() {
		t.Fatalf("expected segment result cleared")
	}
}

func TestSeamPreparerCancelClearsEverything(t *testing.T) {
	p := New(fakeFactory())
	defer p.Stop()

	p.Submit(Request{Type: BlockSeam, Block: tickproducer.FedBlock{BlockID: "b", AssetURI: "asset://b", DurationMs: 1000}, SeamFrame: 5, OutputFPS: rational.New(30, 1)})
	waitFor(t, p.HasBlockResult)

	p.Cancel()

	if p.HasBlockResult() || p.HasSegmentResult() || p.HasPending() {
		t.Fatalf("expected all state cleared after Cancel")
	}
}

func TestPreloaderReadyAndTakeSource(t *testing.T) {
	l := NewPreloader(fakeFactory())
	l.StartPreload(tickproducer.FedBlock{BlockID: "next", AssetURI: "asset://next", DurationMs: 5000}, rational.New(30, 1), 0)
	waitFor(t, l.IsReady)

	tp, err := l.TakeSource()
	if err != nil {
		t.Fatalf("TakeSource: %v", err)
	}
	if tp.Block().BlockID != "next" {
		t.Fatalf("got %s", tp.Block().BlockID)
	}
	if l.IsReady() {
		t.Fatalf("expected ready cleared after take")
	}
}

func TestPreloaderStartPreloadCancelsPrevious(t *testing.T) {
	l := NewPreloader(fakeFactory())
	l.StartPreload(tickproducer.FedBlock{BlockID: "first", AssetURI: "asset://first", DurationMs: 5000}, rational.New(30, 1), 0)
	l.StartPreload(tickproducer.FedBlock{BlockID: "second", AssetURI: "asset://second", DurationMs: 5000}, rational.New(30, 1), 0)

	waitFor(t, l.IsReady)
	tp, err := l.TakeSource()
	if err != nil {
		t.Fatalf("TakeSource: %v", err)
	}
	if tp.Block().BlockID != "second" {
		t.Fatalf("got %s, want second (first superseded)", tp.Block().BlockID)
	}
}

func TestPreloaderTakeSourceFailsWhenNotReady(t *testing.T) {
	l := NewPreloader(fakeFactory())
	if _, err := l.TakeSource(); err == nil {
		t.Fatalf("expected error when nothing ready")
	}
}
