package protocol

import (
	"bytes"
	"encoding/binary"
)

// Buffer accumulates raw stream bytes and cuts them into complete frame payloads.
//
// Extraction is purely prefix driven: after every Feed the buffer is scanned from its start, and
// a frame is only taken once its header and all of its payload bytes are present. Bytes of an
// incomplete frame stay buffered until more data arrives.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	buf []byte
}

// Feed appends p and returns every payload completed by it, in arrival order.
// The returned payloads do not alias p or the buffer's internal storage.
func (b *Buffer) Feed(p []byte) [][]byte {
	b.buf = append(b.buf, p...)

	var out [][]byte
	off := 0
	for len(b.buf)-off >= HeaderSize {
		length := binary.LittleEndian.Uint32(b.buf[off : off+HeaderSize])
		if uint64(len(b.buf)-off-HeaderSize) < uint64(length) {
			break
		}
		start := off + HeaderSize
		end := start + int(length)
		out = append(out, bytes.Clone(b.buf[start:end:end]))
		off = end
	}

	if off > 0 {
		// Move the incomplete tail to the front so the backing array is reused.
		n := copy(b.buf, b.buf[off:])
		b.buf = b.buf[:n]
	}
	return out
}

// Buffered returns the number of bytes held for a frame that is not complete yet.
func (b *Buffer) Buffered() int {
	return len(b.buf)
}
