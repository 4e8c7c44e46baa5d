// Package wire implements the base framing protocol shared by every
// storage node, metadata node, and client connection: a 4-byte unsigned
// big-endian length prefix followed by that many bytes of payload. There
// is no multiplexing — one frame per logical message, request/response
// strictly alternating on a given connection.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the length prefix so a corrupt or hostile header
// cannot force an unbounded allocation. Chunk bodies up to a few MiB must
// fit comfortably under this ceiling.
const MaxFrameSize = 64 * 1024 * 1024

// WriteFrame writes one length-prefixed frame to w. Partial writes are
// retried until the full payload is written or the writer errors.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := writeFull(w, header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := writeFull(w, payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func writeFull(w io.Writer, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		total += n
	}
	return total, nil
}

// ReadFrame reads one length-prefixed frame from r. Any error — a short
// header, a truncated body, an oversized length, or a read failure — is
// reported as a (nil, error) pair; callers that want the spec's "empty
// result on connection loss" behavior should use ReadFrameOrEmpty.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, MaxFrameSize)
	}
	if length == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// ReadFrameOrEmpty reads one frame and collapses any error (zero bytes, a
// short header, or a truncated body) into an empty slice, matching the
// wire contract's "caller treats it as connection loss" rule.
func ReadFrameOrEmpty(r io.Reader) []byte {
	payload, err := ReadFrame(r)
	if err != nil {
		return []byte{}
	}
	return payload
}
