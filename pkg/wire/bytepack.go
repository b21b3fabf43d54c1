// Package wire implements the length-delimited byte-pack codec shared
// by the disk RPC and the filesystem RPC: fixed-width little-endian
// fields (byte, int32, int64), NUL-terminated strings, and
// length-prefixed raw byte blobs, framed by a 64-bit length prefix.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Packer accumulates fields into a wire payload, growing its backing
// buffer on demand the way the original bytepack_append reallocates.
type Packer struct {
	buf bytes.Buffer
}

// NewPacker returns an empty Packer ready to accept fields.
func NewPacker() *Packer {
	return &Packer{}
}

// Byte appends a single byte field (format code 'c').
func (p *Packer) Byte(v byte) *Packer {
	p.buf.WriteByte(v)
	return p
}

// Int32 appends a 4-byte field (format code 'i').
func (p *Packer) Int32(v int32) *Packer {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	p.buf.Write(tmp[:])
	return p
}

// Int64 appends an 8-byte field (format code 'l').
func (p *Packer) Int64(v int64) *Packer {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	p.buf.Write(tmp[:])
	return p
}

// String appends a NUL-terminated string field (format code 's').
func (p *Packer) String(s string) *Packer {
	p.buf.WriteString(s)
	p.buf.WriteByte(0)
	return p
}

// Bytes appends an out-of-band length-prefixed byte blob: an Int64
// length followed by the raw bytes, matching bytepack_pack_bytes.
func (p *Packer) Bytes(data []byte) *Packer {
	p.Int64(int64(len(data)))
	p.buf.Write(data)
	return p
}

// Payload returns the accumulated bytes.
func (p *Packer) Payload() []byte {
	return p.buf.Bytes()
}

// Unpacker walks a received payload field by field, matching
// bytepack_unpack's CHECK_UNDERFLOW discipline: any field that would
// read past the end of the buffer returns an error instead of
// panicking or returning garbage.
type Unpacker struct {
	data   []byte
	offset int
}

// NewUnpacker wraps a payload for sequential field reads.
func NewUnpacker(data []byte) *Unpacker {
	return &Unpacker{data: data}
}

var errUnderflow = fmt.Errorf("wire: buffer underflow")

func (u *Unpacker) need(n int) error {
	if u.offset+n > len(u.data) {
		return errUnderflow
	}
	return nil
}

// Byte reads a single byte field.
func (u *Unpacker) Byte() (byte, error) {
	if err := u.need(1); err != nil {
		return 0, err
	}
	b := u.data[u.offset]
	u.offset++
	return b, nil
}

// Int32 reads a 4-byte field.
func (u *Unpacker) Int32() (int32, error) {
	if err := u.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(u.data[u.offset:]))
	u.offset += 4
	return v, nil
}

// Int64 reads an 8-byte field.
func (u *Unpacker) Int64() (int64, error) {
	if err := u.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(u.data[u.offset:]))
	u.offset += 8
	return v, nil
}

// String reads a NUL-terminated string field.
func (u *Unpacker) String() (string, error) {
	idx := bytes.IndexByte(u.data[u.offset:], 0)
	if idx < 0 {
		return "", errUnderflow
	}
	s := string(u.data[u.offset : u.offset+idx])
	u.offset += idx + 1
	return s, nil
}

// Bytes reads a length-prefixed raw byte blob.
func (u *Unpacker) Bytes() ([]byte, error) {
	n, err := u.Int64()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errUnderflow
	}
	if err := u.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, u.data[u.offset:u.offset+int(n)])
	u.offset += int(n)
	return b, nil
}

// Remaining reports whether unconsumed bytes remain in the payload.
func (u *Unpacker) Remaining() int {
	return len(u.data) - u.offset
}
