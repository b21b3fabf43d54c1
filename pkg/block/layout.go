package block

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Size is the block size in bytes, equal to the disk's sector size.
// The shipped configuration uses 256-byte sectors; the cache itself
// is parametric and takes the size from the connected disk.
const Size = 256

const (
	// SuperMagic identifies a formatted superblock.
	SuperMagic uint32 = 0x2C1D7C0D
	// FreeMagic identifies a block currently linked on the free list.
	FreeMagic uint32 = 0x2C1D7C0E
)

// Super is the in-memory view of block 0. It carries the free-list
// head, the root inode ID, the allocation high-water mark, and the
// format-time version stamp used to detect stale free-block chains
// left over from a previous format.
type Super struct {
	Magic        uint32
	BlockSize    uint32
	FreeListHead ID
	RootInode    ID
	BlockEnd     ID
	Version      uint64
}

// Free is the on-disk shape of a block currently on the free list.
type Free struct {
	Magic   uint32
	Next    ID
	Self    ID
	Version uint64
}

func decodeSuper(buf []byte) (Super, error) {
	var s Super
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &s)
	return s, errors.Wrap(err, "block: decoding superblock")
}

func encodeSuper(s Super, buf []byte) error {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, s); err != nil {
		return errors.Wrap(err, "block: encoding superblock")
	}
	if out.Len() > len(buf) {
		return errors.New("block: superblock does not fit in one block")
	}
	copy(buf, out.Bytes())
	return nil
}

func decodeFree(buf []byte) (Free, error) {
	var f Free
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &f)
	return f, errors.Wrap(err, "block: decoding free block")
}

func encodeFree(f Free, buf []byte) error {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, f); err != nil {
		return errors.Wrap(err, "block: encoding free block")
	}
	if out.Len() > len(buf) {
		return errors.New("block: free block does not fit in one block")
	}
	copy(buf, out.Bytes())
	return nil
}
