// internal/framing/assembler.go
package framing

import (
	"bytes"

	"go.uber.org/zap"
)

// Markers delimiting one application message on the serial stream. The
// frame runs from the start marker through the closing sequence that
// terminates the end marker, all inclusive. Fixed per deployment.
const (
	StartMarker = "<!--:Begin:Msg:"
	EndMarker   = "<!--:End:Msg:"
	CloseSeq    = "-->"
)

// softLimit is not a cutoff: the buffer may grow past it, but growth
// beyond this point without a resolving marker is worth a warning.
const softLimit = 1 << 20

// Assembler accumulates raw serial bytes and extracts complete frames.
// The buffer is owned exclusively by the assembler; it grows on every
// Push and shrinks by exactly the consumed prefix of each extracted
// frame. Not safe for concurrent use.
type Assembler struct {
	buf    []byte
	logger *zap.Logger
	warned bool
}

// NewAssembler creates a frame assembler
func NewAssembler(logger *zap.Logger) *Assembler {
	return &Assembler{
		logger: logger.With(zap.String("component", "frame-assembler")),
	}
}

// Push appends raw bytes to the buffer and returns every complete frame
// that can now be extracted, in stream order. Incomplete trailing data
// stays buffered for later reads.
func (a *Assembler) Push(data []byte) [][]byte {
	a.buf = append(a.buf, data...)

	var frames [][]byte
	for {
		frame, ok := a.extract()
		if !ok {
			break
		}
		frames = append(frames, frame)
	}

	if len(a.buf) > softLimit && !a.warned {
		a.warned = true
		a.logger.Warn("Frame buffer growing without a resolving marker",
			zap.Int("buffered_bytes", len(a.buf)),
		)
	}

	return frames
}

// extract scans the buffer for one complete frame. A frame needs the
// start marker, then the end marker at or after it, then the closing
// sequence at or after the end marker. Anything before the start marker
// is discarded together with the consumed frame.
func (a *Assembler) extract() ([]byte, bool) {
	start := bytes.Index(a.buf, []byte(StartMarker))
	if start < 0 {
		return nil, false
	}

	end := indexFrom(a.buf, []byte(EndMarker), start+len(StartMarker))
	if end < 0 {
		return nil, false
	}

	closing := indexFrom(a.buf, []byte(CloseSeq), end+len(EndMarker))
	if closing < 0 {
		return nil, false
	}

	frameEnd := closing + len(CloseSeq)

	if start > 0 {
		a.logger.Warn("Discarding bytes before start marker",
			zap.Int("discarded", start),
		)
	}

	frame := make([]byte, frameEnd-start)
	copy(frame, a.buf[start:frameEnd])

	// Drop the consumed prefix, leading garbage included. Copy the
	// remainder so the old backing array does not pin freed frames.
	rest := make([]byte, len(a.buf)-frameEnd)
	copy(rest, a.buf[frameEnd:])
	a.buf = rest
	a.warned = false

	return frame, true
}

// Pending returns the number of buffered bytes not yet framed
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Reset discards all buffered bytes. Called when a connection lifetime
// ends so a stale partial frame never bleeds into the next connection.
func (a *Assembler) Reset() {
	a.buf = nil
	a.warned = false
}

func indexFrom(haystack, needle []byte, from int) int {
	if from > len(haystack) {
		return -1
	}
	idx := bytes.Index(haystack[from:], needle)
	if idx < 0 {
		return -1
	}
	return from + idx
}
