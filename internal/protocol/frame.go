package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameHeaderSize is the fixed 12-byte header: a u32 payload length
// followed by a u64 sequence number, both big-endian.
const FrameHeaderSize = 4 + 8

// Frame is one data-channel unit: a monotonically increasing (per source)
// sequence number and an opaque payload.
type Frame struct {
	Seq     uint64
	Payload []byte
}

// NewFrame builds a Frame.
func NewFrame(seq uint64, payload []byte) Frame {
	return Frame{Seq: seq, Payload: payload}
}

// WriteTo writes the frame as [u32 len][u64 seq][payload], matching §4.1/§6
// exactly (e.g. seq=100, payload="test" encodes to exactly 16 bytes).
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var hdr [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(f.Payload)))
	binary.BigEndian.PutUint64(hdr[4:12], f.Seq)

	n, err := w.Write(hdr[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(f.Payload)
	return int64(n + m), err
}

// ErrPartialHeader is returned when a read stops partway through the
// 12-byte header — a protocol error, distinct from a clean end-of-stream
// between frames.
var ErrPartialHeader = errors.New("protocol: partial frame header")

// ReadFrameFrom reads one complete frame from r.
//
// Per §4.1: a short read before any header byte is consumed is treated as
// a clean end of stream (io.EOF is returned unchanged); a short read after
// at least one header byte has been consumed is a protocol error
// (ErrPartialHeader), since framing relies entirely on stream ordering
// with no magic/resync marker.
func ReadFrameFrom(r io.Reader) (Frame, error) {
	var hdr [FrameHeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrPartialHeader
		}
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(hdr[0:4])
	seq := binary.BigEndian.Uint64(hdr[4:12])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}

	return Frame{Seq: seq, Payload: payload}, nil
}
