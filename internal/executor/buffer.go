package executor

import "bytes"

// boundedBuffer keeps at most limit bytes and counts what it dropped.
// Writes never fail, so a chatty child cannot stall or exhaust memory.
type boundedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if len(p) > room {
		b.dropped += int64(len(p) - room)
		b.buf.Write(p[:room])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

// Contents returns the captured text with the truncation marker
// appended when anything was dropped.
func (b *boundedBuffer) Contents() (string, bool) {
	if b.dropped == 0 {
		return b.buf.String(), false
	}
	return b.buf.String() + TruncationMarker, true
}
