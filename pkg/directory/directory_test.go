package directory

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
	_, err = h.Create(0, inode.Read|inode.Write, inode.TypeDir)
	require.NoError(t, err)
	return c, h
}

func TestCreateSeedsDotEntries(t *testing.T) {
	_, h := newTestFile(t)
	tbl := Create(h, h.ID(), block.NewID(0, 1))
	assert.Equal(t, h.ID(), tbl.Lookup("."))
	assert.Equal(t, block.NewID(0, 1), tbl.Lookup(".."))
}

func TestAddLookupRemove(t *testing.T) {
	_, h := newTestFile(t)
	tbl := Create(h, h.ID(), h.ID())

	require.NoError(t, tbl.AddEntry("foo.txt", block.NewID(0, 5)))
	assert.Equal(t, block.NewID(0, 5), tbl.Lookup("foo.txt"))

	name, ok := tbl.LookupByInode(block.NewID(0, 5))
	require.True(t, ok)
	assert.Equal(t, "foo.txt", name)

	require.NoError(t, tbl.RemoveEntry("foo.txt"))
	assert.Equal(t, block.ID(0), tbl.Lookup("foo.txt"))
	assert.ErrorIs(t, tbl.RemoveEntry("foo.txt"), ErrNotFound)
}

func TestAddEntryReusesTombstone(t *testing.T) {
	_, h := newTestFile(t)
	tbl := Create(h, h.ID(), h.ID())

	require.NoError(t, tbl.AddEntry("a", block.NewID(0, 2)))
	require.NoError(t, tbl.RemoveEntry("a"))
	before := len(tbl.entries)
	require.NoError(t, tbl.AddEntry("b", block.NewID(0, 3)))
	assert.Len(t, tbl.entries, before)
	assert.Equal(t, block.NewID(0, 3), tbl.Lookup("b"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	c, h := newTestFile(t)
	id := h.ID()
	tbl := Create(h, id, id)
	require.NoError(t, tbl.AddEntry("x", block.NewID(0, 9)))
	require.NoError(t, tbl.Close())

	h2 := inode.New(c)
	require.NoError(t, h2.Open(id))
	tbl2, err := Open(h2)
	require.NoError(t, err)
	assert.Equal(t, block.NewID(0, 9), tbl2.Lookup("x"))
	assert.Contains(t, tbl2.List(), ".")
	require.NoError(t, tbl2.Close())
}

func TestListAndCount(t *testing.T) {
	_, h := newTestFile(t)
	tbl := Create(h, h.ID(), h.ID())
	require.NoError(t, tbl.AddEntry("a", block.NewID(0, 2)))
	require.NoError(t, tbl.AddEntry("b", block.NewID(0, 3)))
	assert.Equal(t, 4, tbl.Count())
	assert.ElementsMatch(t, []string{".", "..", "a", "b"}, tbl.List())
}

func TestNameTooLongRejected(t *testing.T) {
	_, h := newTestFile(t)
	tbl := Create(h, h.ID(), h.ID())
	longName := make([]byte, MaxNameLen)
	for i := range longName {
		longName[i] = 'a'
	}
	err := tbl.AddEntry(string(longName), block.NewID(0, 1))
	assert.ErrorIs(t, err, ErrNameTooLong)
}
