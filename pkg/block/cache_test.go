package block

import (
	"sync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testing"
)

// memDevice is an in-memory Device for testing, standing in for
// pkg/diskproto.Client without a real network round trip.
type memDevice struct {
	mu         sync.Mutex
	cylinders  int
	sectors    int
	blockSize  int
	sectorData map[[2]int][]byte
}

func newMemDevice(cylinders, sectors, blockSize int) *memDevice {
	return &memDevice{
		cylinders:  cylinders,
		sectors:    sectors,
		blockSize:  blockSize,
		sectorData: make(map[[2]int][]byte),
	}
}

func (d *memDevice) Info() (int, int) { return d.cylinders, d.sectors }

func (d *memDevice) Read(cylinder, sector int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, d.blockSize)
	if existing, ok := d.sectorData[[2]int{cylinder, sector}]; ok {
		copy(buf, existing)
	}
	return buf, nil
}

func (d *memDevice) Write(cylinder, sector int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, d.blockSize)
	copy(buf, data)
	d.sectorData[[2]int{cylinder, sector}] = buf
	return nil
}

func newTestCache(t *testing.T, cap int) (*Cache, *memDevice) {
	t.Helper()
	dev := newMemDevice(4, 8, Size)
	c, err := Open(dev, Options{Create: true, Cap: cap})
	require.NoError(t, err)
	return c, dev
}

func TestOpenFormatsFreshSuperblock(t *testing.T) {
	c, _ := newTestCache(t, DefaultCap)
	assert.Equal(t, ID(0), c.RootInode())
	assert.NotZero(t, c.Version())
}

func TestAllocateAssignsBlockOneFirst(t *testing.T) {
	c, _ := newTestCache(t, DefaultCap)
	id, data, err := c.Allocate()
	require.NoError(t, err)
	assert.Equal(t, NewID(0, 1), id)
	for _, b := range data {
		assert.Zero(t, b)
	}
}

func TestAllocateWriteLoadRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, DefaultCap)
	id, data, err := c.Allocate()
	require.NoError(t, err)
	copy(data, []byte("payload"))
	c.Dirtify(id)
	c.Unref(id)

	require.NoError(t, c.Flush())

	got, err := c.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got[:len("payload")]))
	c.Unref(id)
}

func TestFreeAndReallocateReusesBlock(t *testing.T) {
	c, _ := newTestCache(t, DefaultCap)
	id, _, err := c.Allocate()
	require.NoError(t, err)
	c.Unref(id)
	c.Free(id)

	id2, _, err := c.Allocate()
	require.NoError(t, err)
	assert.Equal(t, id, id2)
	c.Unref(id2)
}

func TestDoubleFreeIsIgnored(t *testing.T) {
	c, _ := newTestCache(t, DefaultCap)
	id, _, err := c.Allocate()
	require.NoError(t, err)
	c.Unref(id)
	c.Free(id)
	assert.NotPanics(t, func() { c.Free(id) })
}

func TestEvictionUnderCapWritesBack(t *testing.T) {
	c, dev := newTestCache(t, 2)
	ids := make([]ID, 0, 6)
	for i := 0; i < 6; i++ {
		id, data, err := c.Allocate()
		require.NoError(t, err)
		copy(data, []byte{byte(i + 1)})
		c.Dirtify(id)
		c.Unref(id)
		ids = append(ids, id)
	}

	for _, id := range ids {
		got, err := c.Load(id)
		require.NoError(t, err)
		assert.NotZero(t, got[0])
		c.Unref(id)
	}
	_ = dev
}

func TestAllocateOutOfSpace(t *testing.T) {
	// cylinders=1, sectors=2 leaves exactly one allocatable block
	// beyond the superblock at (0,0): (0,1).
	dev := newMemDevice(1, 2, Size)
	c, err := Open(dev, Options{Create: true})
	require.NoError(t, err)

	_, _, err = c.Allocate()
	require.NoError(t, err)
	_, _, err = c.Allocate()
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestFormatDiscardsOldFreeList(t *testing.T) {
	dev := newMemDevice(4, 8, Size)
	c, err := Open(dev, Options{Create: true})
	require.NoError(t, err)

	id, _, err := c.Allocate()
	require.NoError(t, err)
	c.Unref(id)
	c.Free(id)
	require.NoError(t, c.Close())

	c2, err := Open(dev, Options{Create: true})
	require.NoError(t, err)
	assert.NotEqual(t, c.Version(), c2.Version())

	newID, _, err := c2.Allocate()
	require.NoError(t, err)
	assert.Equal(t, NewID(0, 1), newID)
}
