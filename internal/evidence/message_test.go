package evidence

import (
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := streamFrame{Type: "ack", Ack: &Ack{AckedSequence: 42}}
	if err := writeFrame(&buf, in); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	out, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if out.Type != "ack" || out.Ack == nil || out.Ack.AckedSequence != 42 {
		t.Fatalf("got %+v", out)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := readFrame(&buf); err == nil {
		t.Fatalf("expected error for oversized frame length")
	}
}

func TestMultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, streamFrame{Type: "hello", Hello: &Hello{ChannelID: "c1", LastSequenceEmitted: 10}})
	writeFrame(&buf, streamFrame{Type: "ack", Ack: &Ack{AckedSequence: 5}})

	f1, err := readFrame(&buf)
	if err != nil || f1.Type != "hello" || f1.Hello.ChannelID != "c1" {
		t.Fatalf("first frame: %+v, err=%v", f1, err)
	}
	f2, err := readFrame(&buf)
	if err != nil || f2.Type != "ack" || f2.Ack.AckedSequence != 5 {
		t.Fatalf("second frame: %+v, err=%v", f2, err)
	}
}
