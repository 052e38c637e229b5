package framing

import (
	"bytes"
	"testing"

	"go.uber.org/zap"
)

func newTestAssembler() *Assembler {
	return NewAssembler(zap.NewNop())
}

func frame(id string) []byte {
	return []byte(StartMarker + id + "--><!--:End:Msg:" + id + "-->")
}

func TestSingleCompleteFrame(t *testing.T) {
	a := newTestAssembler()

	in := frame("ID1")
	frames := a.Push(in)

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], in) {
		t.Fatalf("frame mismatch: got %q want %q", frames[0], in)
	}
	if a.Pending() != 0 {
		t.Fatalf("expected empty buffer, %d bytes pending", a.Pending())
	}
}

func TestBackToBackFramesExtractedInOrder(t *testing.T) {
	a := newTestAssembler()

	first := frame("A")
	second := frame("B")
	frames := a.Push(append(append([]byte{}, first...), second...))

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], first) {
		t.Fatalf("first frame mismatch: got %q", frames[0])
	}
	if !bytes.Equal(frames[1], second) {
		t.Fatalf("second frame mismatch: got %q", frames[1])
	}
	if a.Pending() != 0 {
		t.Fatalf("expected empty buffer, %d bytes pending", a.Pending())
	}
}

func TestPartialFrameIsStable(t *testing.T) {
	a := newTestAssembler()

	partial := []byte(StartMarker + "ID1-->")
	if frames := a.Push(partial); len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if a.Pending() != len(partial) {
		t.Fatalf("buffer changed: %d bytes pending, want %d", a.Pending(), len(partial))
	}

	// Pushing nothing must not disturb the buffered partial frame.
	if frames := a.Push(nil); len(frames) != 0 {
		t.Fatal("spurious frame from empty push")
	}
	if a.Pending() != len(partial) {
		t.Fatalf("buffer changed after empty push: %d bytes pending", a.Pending())
	}
}

func TestFrameSplitMidMarker(t *testing.T) {
	a := newTestAssembler()

	full := []byte("<!--:Begin:Msg:ID1--><!--:End:Msg:ID1-->")
	split := 25 // inside the end marker

	if frames := a.Push(full[:split]); len(frames) != 0 {
		t.Fatalf("frame emitted before the stream completed: %d", len(frames))
	}

	frames := a.Push(full[split:])
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after second chunk, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], full) {
		t.Fatalf("frame mismatch: got %q want %q", frames[0], full)
	}
}

func TestLeadingGarbageDiscardedWithFrame(t *testing.T) {
	a := newTestAssembler()

	in := append([]byte("noise before the marker"), frame("X")...)
	frames := a.Push(in)

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], frame("X")) {
		t.Fatalf("frame should not include leading garbage: %q", frames[0])
	}
	if a.Pending() != 0 {
		t.Fatalf("garbage not consumed with frame: %d bytes pending", a.Pending())
	}
}

func TestClosingSequenceOnlyCountsAfterEndMarker(t *testing.T) {
	a := newTestAssembler()

	// The "-->" after ID1 terminates the start marker's payload, not
	// the frame; the frame needs another "-->" after the end marker.
	in := []byte(StartMarker + "ID1--><!--:End:Msg:ID1")
	if frames := a.Push(in); len(frames) != 0 {
		t.Fatalf("premature frame: %d", len(frames))
	}

	frames := a.Push([]byte("-->"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame once closing sequence arrived, got %d", len(frames))
	}
}

func TestReset(t *testing.T) {
	a := newTestAssembler()

	a.Push([]byte(StartMarker + "partial"))
	if a.Pending() == 0 {
		t.Fatal("expected pending bytes before reset")
	}

	a.Reset()
	if a.Pending() != 0 {
		t.Fatalf("expected empty buffer after reset, %d pending", a.Pending())
	}
}
