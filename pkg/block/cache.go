// Package block implements the block cache: the typed-page layer
// that sits directly on top of the sector device. It owns the
// superblock, the free list, and a bounded set of resident pages,
// grounded in original_source/step2/blockmgr.{h,cc}.
package block

import (
	"bytes"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/audit"
	"github.com/s7a9/drumfs/pkg/elog"
)

// DefaultCap is the shipped resident-page soft cap.
const DefaultCap = 1024

// ErrNoSpace is returned by Allocate when both the free list is empty
// and the device has no further sectors to hand out.
var ErrNoSpace = errors.New("block: disk is full")

// Device is the sector-addressed store a Cache sits on. *diskproto.Client
// satisfies it.
type Device interface {
	Info() (cylinders, sectors int)
	Read(cylinder, sector int) ([]byte, error)
	Write(cylinder, sector int, data []byte) error
}

type page struct {
	data   []byte
	dirty  bool
	refcnt int
}

// Options configures a Cache at Open time.
type Options struct {
	// Create forces a fresh superblock even if one is already present.
	Create bool
	// Cap is the resident-page soft cap; DefaultCap if zero.
	Cap int
	Log elog.View
	// Audit, if non-nil, receives a line per allocate/free/evict
	// decision for operator post-mortems.
	Audit *audit.Recorder
}

// Cache owns all in-memory block pages for one filesystem instance.
type Cache struct {
	mu sync.Mutex

	disk      Device
	cylinders int32
	sectors   int32

	cap      int
	resident map[ID]*page
	freePool []*page

	sb       Super
	sbPage   *page
	log      elog.View
	audit    *audit.Recorder
}

// Open loads (or formats) the superblock and returns a ready Cache.
func Open(disk Device, opts Options) (*Cache, error) {
	cyl, sec := disk.Info()
	cap := opts.Cap
	if cap <= 0 {
		cap = DefaultCap
	}

	c := &Cache{
		disk:      disk,
		cylinders: int32(cyl),
		sectors:   int32(sec),
		cap:       cap,
		resident:  make(map[ID]*page),
		log:       opts.Log,
		audit:     opts.Audit,
	}

	raw, err := disk.Read(0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "block: reading superblock")
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	sbPage := &page{data: buf, dirty: true, refcnt: 1}
	c.resident[0] = sbPage
	c.sbPage = sbPage

	sb, err := decodeSuper(buf)
	if err != nil {
		return nil, err
	}

	if sb.Magic != SuperMagic || opts.Create {
		if c.log != nil {
			c.log.Infof("block: creating file system on remote disk")
		}
		version := uint64(time.Now().Unix())
		if sb.Magic == SuperMagic && version <= sb.Version {
			version = sb.Version + 1
		}
		sb = Super{
			Magic:        SuperMagic,
			BlockSize:    uint32(len(buf)),
			FreeListHead: 0,
			RootInode:    0,
			BlockEnd:     0,
			Version:      version,
		}
	}
	c.sb = sb
	if err := c.syncSuper(); err != nil {
		return nil, err
	}

	if c.log != nil {
		c.log.Infof("block: size=%d free_list_head=%d root_inode=%d block_end=%d version=%d",
			c.sb.BlockSize, c.sb.FreeListHead, c.sb.RootInode, c.sb.BlockEnd, c.sb.Version)
	}
	return c, nil
}

func (c *Cache) syncSuper() error {
	if err := encodeSuper(c.sb, c.sbPage.data); err != nil {
		return err
	}
	c.sbPage.dirty = true
	return nil
}

// RootInode reports the superblock's root inode ID.
func (c *Cache) RootInode() ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sb.RootInode
}

// SetRootInode records a newly (re)allocated root inode ID.
func (c *Cache) SetRootInode(id ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sb.RootInode = id
	return c.syncSuper()
}

// Device returns the sector-addressed store this cache sits on, so a
// caller can reopen a fresh Cache on the same device (e.g. to
// reformat).
func (c *Cache) Device() Device {
	return c.disk
}

// Cap reports the configured resident-page soft cap.
func (c *Cache) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cap
}

// Version reports the superblock's format-time version stamp.
func (c *Cache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sb.Version
}

// BlockSize reports the negotiated block size.
func (c *Cache) BlockSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sbPage.data)
}

func (c *Cache) checkRange(id ID) error {
	if uint64(id) <= uint64(c.sb.BlockEnd) {
		return nil
	}
	return errors.Errorf("block: invalid block %d", id)
}

// loadBlock returns the resident page for id, materializing it from
// disk (or zero-filling, for freshly allocated ids) on miss. Caller
// holds c.mu.
func (c *Cache) loadBlock(id ID, read bool) (*page, error) {
	if p, ok := c.resident[id]; ok {
		if p.refcnt < 0 {
			p.refcnt = 0
		}
		return p, nil
	}
	p := c.getFreeData()
	if read {
		raw, err := c.disk.Read(id.Cylinder(), id.Sector())
		if err != nil {
			return nil, errors.Wrapf(err, "block: reading block %d", id)
		}
		copy(p.data, raw)
	} else {
		for i := range p.data {
			p.data[i] = 0
		}
	}
	p.dirty = false
	p.refcnt = 0
	c.resident[id] = p
	return p, nil
}

// getFreeData returns a detached page buffer for reuse, recycling the
// pool first, allocating fresh while under cap, and otherwise
// evicting an idle resident page. Caller holds c.mu.
func (c *Cache) getFreeData() *page {
	if n := len(c.freePool); n > 0 {
		p := c.freePool[n-1]
		c.freePool = c.freePool[:n-1]
		return p
	}
	if len(c.resident) < c.cap {
		return &page{data: make([]byte, len(c.sbPage.data))}
	}
	for id, p := range c.resident {
		if p.refcnt == 0 {
			c.writeThrough(id, p)
			delete(c.resident, id)
			c.auditf("evict id=%d reason=pool-exhausted", id)
			return p
		}
	}
	return &page{data: make([]byte, len(c.sbPage.data))}
}

func (c *Cache) writeThrough(id ID, p *page) {
	if !p.dirty {
		return
	}
	if err := c.disk.Write(id.Cylinder(), id.Sector(), p.data); err != nil && c.log != nil {
		c.log.Errorf("block: flushing block %d: %v", id, err)
		return
	}
	p.dirty = false
}

func (c *Cache) releaseToPool(id ID, p *page) {
	if len(c.freePool) < c.cap {
		c.freePool = append(c.freePool, p)
	}
	delete(c.resident, id)
}

func (c *Cache) auditf(format string, args ...interface{}) {
	if c.audit != nil {
		c.audit.Record(format, args...)
	}
}

// Load materializes the block, reading from disk on miss, and
// increments its refcount. The returned slice aliases the cache's
// page buffer; callers decode/mutate it in place and call Dirtify.
func (c *Cache) Load(id ID) ([]byte, error) {
	if id.IsNull() {
		return nil, errors.New("block: cannot load the null block")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkRange(id); err != nil {
		return nil, err
	}
	p, err := c.loadBlock(id, true)
	if err != nil {
		return nil, err
	}
	p.refcnt++
	return p.data, nil
}

// Allocate returns a zero-filled page bound to a newly assigned block
// ID, preferring free-list reuse over growing block_end.
func (c *Cache) Allocate() (ID, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var id ID
	var p *page
	var err error

	if c.sb.FreeListHead.IsNull() {
		if !c.incrNextBlock() {
			return 0, nil, ErrNoSpace
		}
		id = c.sb.BlockEnd
		p, err = c.loadBlock(id, false)
	} else {
		id = c.sb.FreeListHead
		p, err = c.loadBlock(id, true)
		if err == nil {
			f, ferr := decodeFree(p.data)
			if ferr == nil && f.Magic == FreeMagic && f.Version == c.sb.Version {
				c.sb.FreeListHead = f.Next
			} else {
				c.sb.FreeListHead = 0
			}
		}
	}
	if err != nil {
		return 0, nil, err
	}

	for i := range p.data {
		p.data[i] = 0
	}
	p.dirty = true
	p.refcnt = 1

	if err := c.syncSuper(); err != nil {
		return 0, nil, err
	}
	c.auditf("allocate id=%d", id)
	return id, p.data, nil
}

func (c *Cache) incrNextBlock() bool {
	cyl := c.sb.BlockEnd.Cylinder()
	sec := c.sb.BlockEnd.Sector()
	if cyl == c.cylinders {
		return false
	}
	sec++
	if sec == c.sectors {
		sec = 0
		cyl++
	}
	c.sb.BlockEnd = NewID(cyl, sec)
	return cyl != c.cylinders
}

// Dirtify marks a resident block dirty without holding a reference.
func (c *Cache) Dirtify(id ID) {
	if id.IsNull() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRange(id); err != nil {
		return
	}
	if p, ok := c.resident[id]; ok {
		p.dirty = true
	}
}

// Unref decrements a block's refcount. Once it reaches zero and the
// resident set is over cap, the page is flushed (if dirty) and
// evicted back into the detached pool.
func (c *Cache) Unref(id ID) {
	if id.IsNull() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRange(id); err != nil {
		return
	}
	p, ok := c.resident[id]
	if !ok {
		return
	}
	p.refcnt--
	if p.refcnt <= 0 && len(c.resident) > c.cap {
		c.writeThrough(id, p)
		c.releaseToPool(id, p)
		c.auditf("evict id=%d reason=over-cap", id)
	}
}

// Free links block id onto the free list in place. A block that
// already carries a current free-magic+version stamp is a double-free
// and is logged and ignored rather than corrupting the chain.
func (c *Cache) Free(id ID) {
	if id.IsNull() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRange(id); err != nil {
		return
	}
	p, err := c.loadBlock(id, true)
	if err != nil {
		if c.log != nil {
			c.log.Errorf("block: freeing block %d: %v", id, err)
		}
		return
	}
	p.dirty = true
	p.refcnt = 0

	if f, ferr := decodeFree(p.data); ferr == nil && f.Magic == FreeMagic && f.Version == c.sb.Version {
		if c.log != nil {
			c.log.Warnf("block: block %d is already free", id)
		}
		return
	}

	f := Free{Magic: FreeMagic, Next: c.sb.FreeListHead, Self: id, Version: c.sb.Version}
	if err := encodeFree(f, p.data); err != nil {
		if c.log != nil {
			c.log.Errorf("block: freeing block %d: %v", id, err)
		}
		return
	}
	c.sb.FreeListHead = id
	_ = c.syncSuper()
	c.auditf("free id=%d", id)
}

// dirtySnapshot is one page captured for an out-of-lock flush pass.
type dirtySnapshot struct {
	id   ID
	data []byte
}

// Flush writes back every dirty resident page, referenced or not, the
// pinned superblock page included. Per the "more-parallel" design,
// the dirty set is snapshotted under the mutex and the actual disk
// writes happen outside it; a page whose contents change after its
// snapshot was taken stays dirty and is picked up by the next Flush
// or eviction.
func (c *Cache) Flush() error {
	c.mu.Lock()
	var snap []dirtySnapshot
	for id, p := range c.resident {
		if p.dirty {
			cp := make([]byte, len(p.data))
			copy(cp, p.data)
			snap = append(snap, dirtySnapshot{id: id, data: cp})
		}
	}
	c.mu.Unlock()

	var bar elog.Progress
	if c.log != nil && len(snap) > 0 {
		bar = c.log.NewProgress("block: flushing", "blocks", int64(len(snap)))
	}

	var firstErr error
	for _, s := range snap {
		if err := c.disk.Write(s.id.Cylinder(), s.id.Sector(), s.data); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "block: flushing block %d", s.id)
			}
			if bar != nil {
				bar.Increment(1)
			}
			continue
		}
		c.mu.Lock()
		if p, ok := c.resident[s.id]; ok && bytes.Equal(p.data, s.data) {
			p.dirty = false
		}
		c.mu.Unlock()
		if bar != nil {
			bar.Increment(1)
		}
	}
	if bar != nil {
		bar.Finish(firstErr == nil)
	}
	return firstErr
}

// Close writes back every dirty resident page — like Flush, even
// pages still referenced, but with the mutex held throughout — and
// discards the resident set. It is used when tearing a Cache down,
// at shutdown or for a reformat.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, p := range c.resident {
		if p.dirty {
			if err := c.disk.Write(id.Cylinder(), id.Sector(), p.data); err != nil {
				if firstErr == nil {
					firstErr = errors.Wrapf(err, "block: closing: flushing block %d", id)
				}
				continue
			}
			p.dirty = false
		}
	}
	c.resident = make(map[ID]*page)
	c.freePool = nil
	return firstErr
}
