package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameSize caps a single frame's payload to guard a misbehaving
// peer from forcing an unbounded allocation. Disk RPC frames carry at
// most one sector of data; filesystem RPC frames for CAT, READ and
// WRITE carry file contents and are limited by this cap as well.
const MaxFrameSize = 16 << 20 // 16 MiB

// ReadFrame reads one length-prefixed frame: an 8-byte little-endian
// length followed by that many payload bytes, matching
// bytepack_recv. A zero-length frame is returned as an empty, non-nil
// slice — callers treat it as a clean disconnect, not an error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint64(lenBuf[:])
	if size == 0 {
		return []byte{}, nil
	}
	if size > MaxFrameSize {
		return nil, errors.Errorf("wire: frame of %d bytes exceeds max %d", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "wire: short frame read")
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame, matching bytepack_send.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "wire: writing frame length")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: writing frame payload")
	}
	return nil
}
