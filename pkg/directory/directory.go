// Package directory implements the directory entry vector: a
// name-to-inode table materialized from a directory InodeFile, with
// "." and ".." seeding for freshly created directories and tombstone
// reuse on removal. Grounded in
// original_source/step2/directory.{h,cc}.
package directory

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/block"
	"github.com/s7a9/drumfs/pkg/inode"
)

// MaxNameLen is the longest filename an entry can hold, NUL
// terminator included.
const MaxNameLen = 32

const entrySize = 8 + MaxNameLen + 8

var (
	// ErrNameTooLong is returned when a filename won't fit in an entry.
	ErrNameTooLong = errors.New("directory: filename too long")
	// ErrNotFound is returned by RemoveEntry when the name isn't present.
	ErrNotFound = errors.New("directory: entry not found")
)

type entry struct {
	len   uint64
	name  [MaxNameLen]byte
	inode block.ID
}

func (e entry) filename() string {
	return string(e.name[:e.len])
}

func decodeEntry(buf []byte) (entry, error) {
	var e entry
	if len(buf) < entrySize {
		return e, errors.New("directory: decoding entry: short buffer")
	}
	e.len = binary.LittleEndian.Uint64(buf[0:8])
	copy(e.name[:], buf[8:8+MaxNameLen])
	e.inode = block.ID(binary.LittleEndian.Uint64(buf[8+MaxNameLen : entrySize]))
	return e, nil
}

func encodeEntry(e entry) []byte {
	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, e)
	return out.Bytes()
}

// Table is the in-memory entry vector for one directory. Like
// UserFile, it is loaded in full at Open and written back in full at
// Close.
type Table struct {
	file    *inode.Handle
	entries []entry
}

// Open loads an existing directory's entries from file.
func Open(file *inode.Handle) (*Table, error) {
	size := file.Size()
	if size%entrySize != 0 {
		return nil, errors.New("directory: corrupt file size")
	}
	count := int(size / entrySize)
	t := &Table{file: file, entries: make([]entry, count)}

	buf := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if _, err := file.Read(buf, int64(i)*entrySize); err != nil {
			return nil, errors.Wrap(err, "directory: reading entry")
		}
		e, err := decodeEntry(buf)
		if err != nil {
			return nil, err
		}
		t.entries[i] = e
	}
	return t, nil
}

// Create seeds a brand new, empty directory's "." and ".." entries.
// self is the directory's own inode id; parent is its containing
// directory's inode id (equal to self for the filesystem root).
func Create(file *inode.Handle, self, parent block.ID) *Table {
	t := &Table{file: file}
	dot := entry{len: 1, inode: self}
	copy(dot.name[:], ".")
	dotdot := entry{len: 2, inode: parent}
	copy(dotdot.name[:], "..")
	t.entries = append(t.entries, dot, dotdot)
	return t
}

// Close writes every entry back to the backing file and closes it.
func (t *Table) Close() error {
	for i, e := range t.entries {
		if _, err := t.file.Write(encodeEntry(e), int64(i)*entrySize); err != nil {
			return errors.Wrap(err, "directory: writing entry")
		}
	}
	return t.file.Close()
}

// Lookup returns the inode bound to filename, or 0 if absent.
func (t *Table) Lookup(filename string) block.ID {
	for _, e := range t.entries {
		if e.len != 0 && e.filename() == filename {
			return e.inode
		}
	}
	return 0
}

// LookupByInode returns the filename bound to id, or ("", false) if
// absent. The original declares this symmetrically to Lookup but
// never implements it; this fills that gap, needed for
// working-directory rename/path bookkeeping.
func (t *Table) LookupByInode(id block.ID) (string, bool) {
	for _, e := range t.entries {
		if e.len != 0 && e.inode == id {
			return e.filename(), true
		}
	}
	return "", false
}

// AddEntry binds filename to inode, reusing a tombstoned slot when
// one is available.
func (t *Table) AddEntry(filename string, id block.ID) error {
	if len(filename) >= MaxNameLen {
		return ErrNameTooLong
	}
	for i := range t.entries {
		if t.entries[i].len == 0 {
			t.entries[i].len = uint64(len(filename))
			var name [MaxNameLen]byte
			copy(name[:], filename)
			t.entries[i].name = name
			t.entries[i].inode = id
			return nil
		}
	}
	var e entry
	e.len = uint64(len(filename))
	copy(e.name[:], filename)
	e.inode = id
	t.entries = append(t.entries, e)
	return nil
}

// RemoveEntry tombstones the entry for filename.
func (t *Table) RemoveEntry(filename string) error {
	for i := range t.entries {
		if t.entries[i].len != 0 && t.entries[i].filename() == filename {
			t.entries[i].len = 0
			return nil
		}
	}
	return ErrNotFound
}

// List returns every live filename in the directory, in entry order
// ("." and ".." included when present).
func (t *Table) List() []string {
	var out []string
	for _, e := range t.entries {
		if e.len != 0 {
			out = append(out, e.filename())
		}
	}
	return out
}

// Count returns the number of live (non-tombstoned) entries.
func (t *Table) Count() int {
	n := 0
	for _, e := range t.entries {
		if e.len != 0 {
			n++
		}
	}
	return n
}
