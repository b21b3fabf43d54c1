// Package inode implements InodeFile: a byte-addressable stream over
// a block.Cache, with a direct/indirect/double/triple-indirect index
// of data blocks. Grounded in
// original_source/step2/inodefile.{h,cc}, restyled on the block-walk
// and binary-layout idioms of the teacher's pkg/ext4.
package inode

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/block"
)

// Direct is the number of direct data-block slots an inode carries
// (chosen so the inode block exactly fills one 256-byte block).
const Direct = 23

// EntryChildren is the number of children an indirect entry block
// holds (chosen so the entry block exactly fills one block).
const EntryChildren = 30

const (
	InodeMagic uint32 = 0x2C1D7C0F
	EntryMagic uint32 = 0x2C1D7C10
	DataMagic  uint32 = 0x2C1D7C11
)

// Mode holds the six owner/other permission bits.
type Mode uint16

const (
	Read Mode = 1 << iota
	Write
	Exec
	OtherRead
	OtherWrite
	OtherExec
)

// Kind distinguishes regular files, directories, and symlinks.
type Kind uint16

const (
	TypeFile Kind = iota
	TypeDir
	TypeSymlink
)

type inodeLayout struct {
	Magic          uint32
	Owner          uint32
	Mode           uint16
	Type           uint16
	Nlink          uint32
	Size           uint64
	Atime          uint64
	Mtime          uint64
	Ctime          uint64
	Direct         [Direct]block.ID
	Indirect       block.ID
	DoubleIndirect block.ID
	TripleIndirect block.ID
}

type entryLayout struct {
	Magic    uint32
	Count    uint32
	Parent   block.ID
	Children [EntryChildren]block.ID
}

func decodeInode(buf []byte) (inodeLayout, error) {
	var v inodeLayout
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &v)
	return v, errors.Wrap(err, "inode: decoding inode block")
}

func encodeInode(v inodeLayout, buf []byte) error {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, v); err != nil {
		return errors.Wrap(err, "inode: encoding inode block")
	}
	if out.Len() > len(buf) {
		return errors.New("inode: inode block does not fit in one block")
	}
	copy(buf, out.Bytes())
	return nil
}

func decodeEntry(buf []byte) (entryLayout, error) {
	var v entryLayout
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &v)
	return v, errors.Wrap(err, "inode: decoding entry block")
}

func encodeEntry(v entryLayout, buf []byte) error {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, v); err != nil {
		return errors.Wrap(err, "inode: encoding entry block")
	}
	if out.Len() > len(buf) {
		return errors.New("inode: entry block does not fit in one block")
	}
	copy(buf, out.Bytes())
	return nil
}

func dataMagicOK(buf []byte) bool {
	return len(buf) >= 4 && binary.LittleEndian.Uint32(buf[:4]) == DataMagic
}

func setDataMagic(buf []byte) {
	binary.LittleEndian.PutUint32(buf[:4], DataMagic)
}

func dataPayload(buf []byte) []byte {
	return buf[4:]
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
