// Package userfile implements the uid table: a flat, append-only
// record vector persisted in one InodeFile, mapping small integer
// uids to usernames. Grounded in original_source/step2/userfile.{h,cc}.
package userfile

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/inode"
)

// MaxUsernameLen is the longest username a record can hold, NUL
// terminator included.
const MaxUsernameLen = 32

const recordSize = 4 + MaxUsernameLen

// Root is the uid reserved for the root user, seeded into every fresh
// table and immune to removal or renaming.
const Root uint32 = 0

var (
	// ErrRootImmutable is returned by RemoveUser/SetUsername for uid 0.
	ErrRootImmutable = errors.New("userfile: root user cannot be changed")
	// ErrUnknownUser is returned for an out-of-range uid.
	ErrUnknownUser = errors.New("userfile: unknown uid")
	// ErrNameTooLong is returned when a username won't fit in a record.
	ErrNameTooLong = errors.New("userfile: username too long")
)

type record struct {
	len  uint32
	name [MaxUsernameLen]byte
}

func (r record) username() string {
	return string(r.name[:r.len])
}

func decodeRecord(buf []byte) (record, error) {
	var r record
	if len(buf) < recordSize {
		return r, errors.New("userfile: decoding record: short buffer")
	}
	r.len = binary.LittleEndian.Uint32(buf[0:4])
	copy(r.name[:], buf[4:recordSize])
	return r, nil
}

func encodeRecord(r record) []byte {
	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, r)
	return out.Bytes()
}

// Table is the in-memory uid table for one filesystem. It is loaded
// in full at Open and written back in full at Close, matching the
// original's whole-vector load/save.
type Table struct {
	file  *inode.Handle
	users []record
}

// Open reads every record out of file, seeding a root user (uid 0)
// when the file is empty.
func Open(file *inode.Handle) (*Table, error) {
	size := file.Size()
	if size%recordSize != 0 {
		return nil, errors.New("userfile: corrupt file size")
	}
	count := int(size / recordSize)
	t := &Table{file: file, users: make([]record, count)}

	buf := make([]byte, recordSize)
	for i := 0; i < count; i++ {
		if _, err := file.Read(buf, int64(i)*recordSize); err != nil {
			return nil, errors.Wrap(err, "userfile: reading record")
		}
		r, err := decodeRecord(buf)
		if err != nil {
			return nil, err
		}
		t.users[i] = r
	}
	if len(t.users) == 0 {
		root := record{len: 4}
		copy(root.name[:], "root")
		t.users = append(t.users, root)
	}
	return t, nil
}

// Close writes every record back to the backing file and closes it.
func (t *Table) Close() error {
	for i, r := range t.users {
		if _, err := t.file.Write(encodeRecord(r), int64(i)*recordSize); err != nil {
			return errors.Wrap(err, "userfile: writing record")
		}
	}
	return t.file.Close()
}

// AddUser appends a new user and returns its uid.
func (t *Table) AddUser(username string) (uint32, error) {
	if len(username) >= MaxUsernameLen {
		return 0, ErrNameTooLong
	}
	var r record
	r.len = uint32(len(username))
	copy(r.name[:], username)
	t.users = append(t.users, r)
	return uint32(len(t.users) - 1), nil
}

// RemoveUser tombstones uid by zeroing its length; the slot is never
// reused, matching the original's shift-free removal.
func (t *Table) RemoveUser(uid uint32) error {
	if uid == Root {
		return ErrRootImmutable
	}
	if int(uid) >= len(t.users) {
		return ErrUnknownUser
	}
	t.users[uid].len = 0
	return nil
}

// Lookup returns the uid for username, or Root if not found — the
// original's sentinel return value, preserved here.
func (t *Table) Lookup(username string) uint32 {
	for i, r := range t.users {
		if r.len > 0 && r.username() == username {
			return uint32(i)
		}
	}
	return Root
}

// Username returns uid's username, or ("", false) if uid is unknown
// or tombstoned.
func (t *Table) Username(uid uint32) (string, bool) {
	if int(uid) >= len(t.users) {
		return "", false
	}
	r := t.users[uid]
	if r.len == 0 {
		return "", false
	}
	return r.username(), true
}

// SetUsername renames an existing, non-root user.
func (t *Table) SetUsername(uid uint32, username string) error {
	if uid == Root {
		return ErrRootImmutable
	}
	if int(uid) >= len(t.users) {
		return ErrUnknownUser
	}
	if len(username) >= MaxUsernameLen {
		return ErrNameTooLong
	}
	var r record
	r.len = uint32(len(username))
	copy(r.name[:], username)
	t.users[uid] = r
	return nil
}

// ListUsers returns "uid:username" for every live (non-tombstoned) user.
func (t *Table) ListUsers() []string {
	var out []string
	for i, r := range t.users {
		if r.len > 0 {
			out = append(out, strconv.Itoa(i)+":"+r.username())
		}
	}
	return out
}
