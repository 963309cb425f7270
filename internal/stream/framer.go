// Package stream turns raw engine stdout bytes into classified frames.
package stream

import "bytes"

// DefaultMaxBuffer is the per-session cap on unterminated stdout bytes.
const DefaultMaxBuffer = 10 << 20 // 10 MiB

// Framer accumulates raw stdout bytes and yields complete newline-terminated
// frames. The retained (unterminated) remainder is bounded: once it would
// exceed the cap, Ingest reports overflow and the caller must stop feeding
// the framer and tear the session down.
type Framer struct {
	max int64
	buf []byte
}

// NewFramer returns a Framer with the given remainder cap. A non-positive
// max falls back to DefaultMaxBuffer.
func NewFramer(max int64) *Framer {
	if max <= 0 {
		max = DefaultMaxBuffer
	}
	return &Framer{max: max}
}

// Ingest appends chunk, splits at newline boundaries, and returns the
// complete frames in stdout byte order. Empty frames (consecutive newlines)
// are dropped. Frames never contain a newline and no byte is returned twice.
//
// If the retained remainder would exceed the cap, Ingest returns the frames
// extracted so far along with overflow=true and guarantees the accumulator
// has not grown past the cap. Further Ingest calls after overflow are
// undefined.
func (f *Framer) Ingest(chunk []byte) (frames [][]byte, overflow bool) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if int64(len(f.buf)+len(chunk)) > f.max {
				return frames, true
			}
			f.buf = append(f.buf, chunk...)
			return frames, false
		}

		frame := chunk[:i]
		chunk = chunk[i+1:]
		if len(f.buf) > 0 {
			frame = append(f.buf, frame...)
			f.buf = nil
		} else {
			// copy so later Ingest calls cannot alias returned frames
			frame = append([]byte(nil), frame...)
		}
		if len(frame) > 0 {
			frames = append(frames, frame)
		}
	}
	return frames, false
}

// Drain returns and clears any retained remainder. Used on child exit to
// surface a final unterminated line.
func (f *Framer) Drain() []byte {
	out := f.buf
	f.buf = nil
	return out
}

// Buffered reports the current size of the retained remainder.
func (f *Framer) Buffered() int {
	return len(f.buf)
}
