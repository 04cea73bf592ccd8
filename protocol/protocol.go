// Package protocol implements the length-prefixed frame protocol used between the host and
// its worker processes.
//
// TCP is a byte stream, so every payload is wrapped in a frame whose 4-byte header says how many
// payload bytes follow. The header does not count itself.
//
// Frame format:
//
//	0         4
//	┌─────────┬──────────────────┐
//	│ length  │   payload ...    │
//	│ uint32  │   length bytes   │
//	│ (LE)    │                  │
//	└─────────┴──────────────────┘
//
// Example: the payload "ABC" travels as 03 00 00 00 41 42 43.
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 4

// MaxPayloadSize is the largest payload a 32-bit length prefix can describe.
const MaxPayloadSize = math.MaxUint32

var ErrPayloadTooLarge = errors.New("protocol: payload exceeds 32-bit length prefix")

// Encode returns payload prefixed with its little-endian uint32 length.
// The length is always computed here; callers never supply it.
func Encode(payload []byte) []byte {
	if uint64(len(payload)) > MaxPayloadSize {
		panic(ErrPayloadTooLarge)
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// WriteFrame writes one complete frame to w with a single Write call.
//
// A frame that is only partly written leaves the peer unable to find the next frame boundary,
// so a short write is reported as io.ErrShortWrite instead of being retried.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	frame := Encode(payload)
	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrame reads exactly one frame from r and returns its payload.
// It returns io.EOF if r ends cleanly before a header and io.ErrUnexpectedEOF if r ends inside a frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
