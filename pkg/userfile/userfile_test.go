package userfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s7a9/drumfs/pkg/block"
	"github.com/s7a9/drumfs/pkg/inode"
)

type memDevice struct {
	cylinders, sectors int
	sectorData         map[[2]int][]byte
}

func newMemDevice(cylinders, sectors int) *memDevice {
	return &memDevice{cylinders: cylinders, sectors: sectors, sectorData: make(map[[2]int][]byte)}
}

func (d *memDevice) Info() (int, int) { return d.cylinders, d.sectors }

func (d *memDevice) Read(cylinder, sector int) ([]byte, error) {
	buf := make([]byte, block.Size)
	if existing, ok := d.sectorData[[2]int{cylinder, sector}]; ok {
		copy(buf, existing)
	}
	return buf, nil
}

func (d *memDevice) Write(cylinder, sector int, data []byte) error {
	buf := make([]byte, block.Size)
	copy(buf, data)
	d.sectorData[[2]int{cylinder, sector}] = buf
	return nil
}

func newTestFile(t *testing.T) (*block.Cache, *inode.Handle) {
	t.Helper()
	c, err := block.Open(newMemDevice(16, 16), block.Options{Create: true})
	require.NoError(t, err)
	h := inode.New(c)
	_, err = h.Create(0, inode.Read|inode.Write, inode.TypeFile)
	require.NoError(t, err)
	return c, h
}

func TestOpenSeedsRoot(t *testing.T) {
	_, h := newTestFile(t)
	tbl, err := Open(h)
	require.NoError(t, err)
	name, ok := tbl.Username(Root)
	require.True(t, ok)
	assert.Equal(t, "root", name)
}

func TestAddLookupRemove(t *testing.T) {
	_, h := newTestFile(t)
	tbl, err := Open(h)
	require.NoError(t, err)

	uid, err := tbl.AddUser("alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), uid)

	assert.Equal(t, uid, tbl.Lookup("alice"))
	name, ok := tbl.Username(uid)
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	require.NoError(t, tbl.RemoveUser(uid))
	_, ok = tbl.Username(uid)
	assert.False(t, ok)
	assert.Equal(t, Root, tbl.Lookup("alice"))
}

func TestRootIsImmutable(t *testing.T) {
	_, h := newTestFile(t)
	tbl, err := Open(h)
	require.NoError(t, err)

	assert.ErrorIs(t, tbl.RemoveUser(Root), ErrRootImmutable)
	assert.ErrorIs(t, tbl.SetUsername(Root, "nope"), ErrRootImmutable)
}

func TestPersistsAcrossReopen(t *testing.T) {
	c, h := newTestFile(t)
	id := h.ID()
	tbl, err := Open(h)
	require.NoError(t, err)
	_, err = tbl.AddUser("bob")
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	h2 := inode.New(c)
	require.NoError(t, h2.Open(id))
	tbl2, err := Open(h2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tbl2.Lookup("bob"))
	require.NoError(t, tbl2.Close())
}

func TestListUsersSkipsTombstones(t *testing.T) {
	_, h := newTestFile(t)
	tbl, err := Open(h)
	require.NoError(t, err)
	uid, err := tbl.AddUser("carl")
	require.NoError(t, err)
	require.NoError(t, tbl.RemoveUser(uid))

	list := tbl.ListUsers()
	assert.Len(t, list, 1)
	assert.Equal(t, "0:root", list[0])
}

func TestUsernameTooLongRejected(t *testing.T) {
	_, h := newTestFile(t)
	tbl, err := Open(h)
	require.NoError(t, err)
	longName := make([]byte, MaxUsernameLen)
	for i := range longName {
		longName[i] = 'a'
	}
	_, err = tbl.AddUser(string(longName))
	assert.ErrorIs(t, err, ErrNameTooLong)
}
