package inode

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s7a9/drumfs/pkg/block"
)

// memDevice is a tiny in-memory block.Device, mirroring the one in
// pkg/block's own tests, so this package's tests don't need a real
// disk server.
type memDevice struct {
	mu         sync.Mutex
	cylinders  int
	sectors    int
	sectorData map[[2]int][]byte
}

func newMemDevice(cylinders, sectors int) *memDevice {
	return &memDevice{cylinders: cylinders, sectors: sectors, sectorData: make(map[[2]int][]byte)}
}

func (d *memDevice) Info() (int, int) { return d.cylinders, d.sectors }

func (d *memDevice) Read(cylinder, sector int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, block.Size)
	if existing, ok := d.sectorData[[2]int{cylinder, sector}]; ok {
		copy(buf, existing)
	}
	return buf, nil
}

func (d *memDevice) Write(cylinder, sector int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, block.Size)
	copy(buf, data)
	d.sectorData[[2]int{cylinder, sector}] = buf
	return nil
}

func newTestCache(t *testing.T, cylinders, sectors int) *block.Cache {
	t.Helper()
	dev := newMemDevice(cylinders, sectors)
	c, err := block.Open(dev, block.Options{Create: true})
	require.NoError(t, err)
	return c
}

func TestCreateOpenRoundTrip(t *testing.T) {
	c := newTestCache(t, 16, 16)

	h := New(c)
	id, err := h.Create(7, Read|Write, TypeFile)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h2 := New(c)
	require.NoError(t, h2.Open(id))
	assert.Equal(t, uint32(7), h2.Owner())
	assert.Equal(t, Read|Write, h2.Mode())
	assert.Equal(t, TypeFile, h2.Kind())
	assert.Equal(t, int64(0), h2.Size())
	require.NoError(t, h2.Close())
}

func TestWriteReadRoundTrip(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("abcdefgh"), 200) // spans many data blocks
	n, err := h.Write(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, int64(len(payload)), h.Size())

	got, err := h.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	require.NoError(t, h.Close())
}

func TestWritePastSizeRejected(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	n, err := h.Write([]byte("hi"), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, h.Close())
}

func TestReadPastSizeRejected(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)
	_, err = h.Write([]byte("hello"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := h.Read(buf, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, h.Close())
}

func TestInsertSplicesAtOffset(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	_, err = h.Write([]byte("helloworld"), 0)
	require.NoError(t, err)

	n, err := h.Insert([]byte(" "), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	require.NoError(t, h.Close())
}

func TestInsertAcrossBlockBoundary(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	original := bytes.Repeat([]byte("x"), 600)
	_, err = h.Write(original, 0)
	require.NoError(t, err)

	insertion := bytes.Repeat([]byte("y"), 50)
	n, err := h.Insert(insertion, 250)
	require.NoError(t, err)
	assert.Equal(t, len(insertion), n)

	want := append(append(append([]byte{}, original[:250]...), insertion...), original[250:]...)
	got, err := h.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, h.Close())
}

func TestRemoveDeletesRange(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	_, err = h.Write([]byte("hello world"), 0)
	require.NoError(t, err)

	n, err := h.Remove(1, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(got))
	require.NoError(t, h.Close())
}

func TestRemoveAcrossBlockBoundary(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	original := bytes.Repeat([]byte("z"), 600)
	_, err = h.Write(original, 0)
	require.NoError(t, err)

	n, err := h.Remove(80, 200)
	require.NoError(t, err)
	assert.Equal(t, 80, n)

	want := append(append([]byte{}, original[:200]...), original[280:]...)
	got, err := h.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, h.Close())
}

func TestTruncateShrinkAndGrow(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("q"), 500)
	_, err = h.Write(payload, 0)
	require.NoError(t, err)

	require.NoError(t, h.Truncate(100))
	assert.Equal(t, int64(100), h.Size())
	got, err := h.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, payload[:100], got)

	require.NoError(t, h.Truncate(300))
	assert.Equal(t, int64(300), h.Size())
	got, err = h.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, payload[:100], got[:100])
	assert.True(t, bytes.Equal(got[100:], make([]byte, 200)))

	require.NoError(t, h.Close())
}

func TestRemoveAllFreesBlocks(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	_, err = h.Write(bytes.Repeat([]byte("w"), 400), 0)
	require.NoError(t, err)

	require.NoError(t, h.RemoveAll())
	assert.Equal(t, int64(0), h.Size())
	got, err := h.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, h.Close())
}

func TestCheckPermission(t *testing.T) {
	c := newTestCache(t, 16, 16)
	h := New(c)
	_, err := h.Create(5, Read|Write|OtherRead, TypeFile)
	require.NoError(t, err)

	assert.True(t, h.CheckPermission(0, Write))      // root bypass
	assert.True(t, h.CheckPermission(5, Read|Write))  // owner
	assert.True(t, h.CheckPermission(9, Read))        // other, read-only
	assert.False(t, h.CheckPermission(9, Write))      // other, no write
	require.NoError(t, h.Close())
}

func TestPersistsAcrossEntryBlocks(t *testing.T) {
	c := newTestCache(t, 64, 64)
	h := New(c)
	id, err := h.Create(0, Read|Write, TypeFile)
	require.NoError(t, err)

	// Large enough to require indirect entry blocks (payload is
	// block.Size-4 bytes per data block, Direct=23 direct slots).
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	_, err = h.Write(payload, 0)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h2 := New(c)
	require.NoError(t, h2.Open(id))
	got, err := h2.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	require.NoError(t, h2.Close())
}
