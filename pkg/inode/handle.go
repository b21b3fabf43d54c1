package inode

import (
	"time"

	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/block"
)

// Handle presents a byte-addressable stream over one inode. Its
// metadata lives in the inode block; its data lives in data blocks
// reached through the direct table and the 1/2/3-level indirect
// entry trees. A Handle has a single owner and must be accessed only
// while that owner's lock is held (see pkg/fscore).
type Handle struct {
	cache *block.Cache

	id        block.ID
	inodeBuf  []byte
	node      inodeLayout
	payload   int

	dataIDs  []block.ID
	dataBuf  map[block.ID][]byte
	entryIDs []block.ID
}

// New returns an unopened Handle bound to cache.
func New(cache *block.Cache) *Handle {
	return &Handle{cache: cache, dataBuf: make(map[block.ID][]byte)}
}

// IsOpen reports whether the handle currently refers to a live inode.
func (h *Handle) IsOpen() bool { return !h.id.IsNull() }

// ID returns the inode's block ID, or 0 if unopened.
func (h *Handle) ID() block.ID { return h.id }

// Size returns the current byte length of the stream.
func (h *Handle) Size() int64 {
	if !h.IsOpen() {
		return 0
	}
	return int64(h.node.Size)
}

// Owner returns the inode's owning uid.
func (h *Handle) Owner() uint32 { return h.node.Owner }

// Mode returns the inode's permission bits.
func (h *Handle) Mode() Mode { return Mode(h.node.Mode) }

// Kind returns the inode's file type.
func (h *Handle) Kind() Kind { return Kind(h.node.Type) }

// Nlink returns the inode's link count (always 1 in this filesystem;
// hard links are undefined).
func (h *Handle) Nlink() uint32 { return h.node.Nlink }

// Times returns (atime, mtime, ctime) as Unix seconds.
func (h *Handle) Times() (atime, mtime, ctime uint64) {
	return h.node.Atime, h.node.Mtime, h.node.Ctime
}

// CheckPermission reports whether uid has the requested access,
// per the owner/other permission model: uid 0 bypasses all checks;
// the acting user's own ownership selects which permission triple
// applies.
func (h *Handle) CheckPermission(uid uint32, need Mode) bool {
	if uid == 0 {
		return true
	}
	var triple Mode
	if uid == h.node.Owner {
		triple = Mode(h.node.Mode) & (Read | Write | Exec)
	} else {
		triple = Mode(uint16(Mode(h.node.Mode)&(OtherRead|OtherWrite|OtherExec)) >> 3)
	}
	return triple&need == need
}

// Create allocates a new inode block and opens this handle on it.
func (h *Handle) Create(owner uint32, mode Mode, kind Kind) (block.ID, error) {
	if h.IsOpen() {
		if err := h.Close(); err != nil {
			return 0, err
		}
	}
	id, buf, err := h.cache.Allocate()
	if err != nil {
		return 0, errors.Wrap(err, "inode: create")
	}
	now := uint64(time.Now().Unix())
	h.node = inodeLayout{
		Magic: InodeMagic,
		Owner: owner,
		Mode:  uint16(mode),
		Type:  uint16(kind),
		Nlink: 1,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if err := encodeInode(h.node, buf); err != nil {
		h.cache.Unref(id)
		return 0, err
	}
	h.id = id
	h.inodeBuf = buf
	h.payload = h.cache.BlockSize() - 4
	return id, nil
}

// Open loads an existing inode block and materializes its data index.
func (h *Handle) Open(id block.ID) error {
	if h.IsOpen() {
		if err := h.Close(); err != nil {
			return err
		}
	}
	buf, err := h.cache.Load(id)
	if err != nil {
		return errors.Wrap(err, "inode: open")
	}
	node, err := decodeInode(buf)
	if err != nil || node.Magic != InodeMagic {
		h.cache.Unref(id)
		return errors.New("inode: open: bad magic number")
	}
	h.id = id
	h.inodeBuf = buf
	h.node = node
	h.payload = h.cache.BlockSize() - 4

	if err := h.loadEntries(); err != nil {
		closeErr := h.Close()
		if closeErr != nil {
			return errors.Wrap(closeErr, "inode: open: loading entries")
		}
		return errors.Wrap(err, "inode: open: loading entries")
	}
	h.node.Atime = uint64(time.Now().Unix())
	return nil
}

// Close saves the data-block index back into the inode block,
// releases every block reference this handle held, and resets the
// handle to unopened.
func (h *Handle) Close() error {
	if !h.IsOpen() {
		return nil
	}
	saveErr := h.saveEntries()
	for id := range h.dataBuf {
		h.cache.Unref(id)
	}
	_ = encodeInode(h.node, h.inodeBuf)
	h.cache.Dirtify(h.id)
	h.cache.Unref(h.id)

	h.dataBuf = make(map[block.ID][]byte)
	h.dataIDs = nil
	h.entryIDs = nil
	h.id = 0
	h.inodeBuf = nil
	return saveErr
}

func (h *Handle) loadEntries() error {
	dataNum := int(ceilDiv(int64(h.node.Size), int64(h.payload)))
	if dataNum == 0 {
		return nil
	}
	for i := 0; i < Direct; i++ {
		h.dataIDs = append(h.dataIDs, h.node.Direct[i])
		dataNum--
		if dataNum == 0 {
			return nil
		}
	}
	if err := h.loadEntryLevel(1, h.node.Indirect, &dataNum); err != nil {
		return err
	}
	if err := h.loadEntryLevel(2, h.node.DoubleIndirect, &dataNum); err != nil {
		return err
	}
	if err := h.loadEntryLevel(3, h.node.TripleIndirect, &dataNum); err != nil {
		return err
	}
	return nil
}

func (h *Handle) loadEntryLevel(level int, entryID block.ID, dataNum *int) error {
	if *dataNum == 0 {
		return nil
	}
	if entryID.IsNull() {
		return errors.New("inode: missing entry block")
	}
	buf, err := h.cache.Load(entryID)
	if err != nil {
		return err
	}
	h.entryIDs = append(h.entryIDs, entryID)
	ent, derr := decodeEntry(buf)
	if derr != nil || ent.Magic != EntryMagic {
		h.cache.Unref(entryID)
		return errors.New("inode: bad entry block magic")
	}
	for i := uint32(0); i < ent.Count; i++ {
		if level == 1 {
			h.dataIDs = append(h.dataIDs, ent.Children[i])
			*dataNum = *dataNum - 1
			if *dataNum == 0 {
				h.cache.Unref(entryID)
				return nil
			}
		} else {
			if err := h.loadEntryLevel(level-1, ent.Children[i], dataNum); err != nil {
				h.cache.Unref(entryID)
				return err
			}
		}
	}
	h.cache.Unref(entryID)
	return nil
}

func (h *Handle) saveEntries() error {
	i := 0
	for ; i < Direct && i < len(h.dataIDs); i++ {
		h.node.Direct[i] = h.dataIDs[i]
	}
	for j := i; j < Direct; j++ {
		h.node.Direct[j] = 0
	}

	var err error
	h.node.Indirect, err = h.saveEntryLevel(1, &i)
	if err != nil {
		return err
	}
	h.node.DoubleIndirect, err = h.saveEntryLevel(2, &i)
	if err != nil {
		return err
	}
	h.node.TripleIndirect, err = h.saveEntryLevel(3, &i)
	if err != nil {
		return err
	}

	for _, id := range h.entryIDs {
		h.cache.Free(id)
	}
	h.entryIDs = nil

	if i != len(h.dataIDs) {
		return errors.New("inode: failed to save all entries")
	}
	return nil
}

func (h *Handle) saveEntryLevel(level int, i *int) (block.ID, error) {
	if *i == len(h.dataIDs) {
		return 0, nil
	}

	var entryID block.ID
	var buf []byte
	var err error
	if len(h.entryIDs) == 0 {
		entryID, buf, err = h.cache.Allocate()
		if err != nil {
			return 0, err
		}
	} else {
		entryID = h.entryIDs[len(h.entryIDs)-1]
		h.entryIDs = h.entryIDs[:len(h.entryIDs)-1]
		buf, err = h.cache.Load(entryID)
		if err != nil {
			return 0, err
		}
		h.cache.Dirtify(entryID)
	}

	var ent entryLayout
	ent.Magic = EntryMagic
	count := uint32(0)
	for *i < len(h.dataIDs) && count < EntryChildren {
		if level == 1 {
			ent.Children[count] = h.dataIDs[*i]
			count++
			*i = *i + 1
		} else {
			child, err := h.saveEntryLevel(level-1, i)
			if err != nil {
				return 0, err
			}
			if child.IsNull() {
				h.cache.Free(entryID)
				return 0, errors.New("inode: failed to save entry subtree")
			}
			ent.Children[count] = child
			count++
		}
	}
	ent.Count = count
	if err := encodeEntry(ent, buf); err != nil {
		return 0, err
	}
	h.cache.Unref(entryID)
	return entryID, nil
}

func (h *Handle) loadData(index int, create bool) ([]byte, error) {
	if index >= len(h.dataIDs) {
		if !create || index > len(h.dataIDs) {
			return nil, nil
		}
		id, buf, err := h.cache.Allocate()
		if err != nil {
			return nil, err
		}
		setDataMagic(buf)
		h.dataIDs = append(h.dataIDs, id)
		h.dataBuf[id] = buf
		return buf, nil
	}
	id := h.dataIDs[index]
	if buf, ok := h.dataBuf[id]; ok {
		return buf, nil
	}
	buf, err := h.cache.Load(id)
	if err != nil {
		return nil, err
	}
	if !dataMagicOK(buf) {
		h.cache.Unref(id)
		return nil, errors.New("inode: bad data block magic")
	}
	h.dataBuf[id] = buf
	return buf, nil
}

// Read copies into buf the bytes starting at offset. A read that
// would reach past the current size is rejected wholesale (strict:
// no short reads, no sparse reads).
func (h *Handle) Read(buf []byte, offset int64) (int, error) {
	if !h.IsOpen() {
		return 0, nil
	}
	size := int64(len(buf))
	if offset+size > int64(h.node.Size) {
		return 0, nil
	}
	h.node.Atime = uint64(time.Now().Unix())

	readSize := int64(0)
	index := int(offset / int64(h.payload))
	offInBlock := int(offset % int64(h.payload))
	for readSize < size {
		data, err := h.loadData(index, false)
		if err != nil {
			return int(readSize), err
		}
		if data == nil {
			return int(readSize), nil
		}
		n := minInt64(size-readSize, int64(h.payload-offInBlock))
		copy(buf[readSize:readSize+n], dataPayload(data)[offInBlock:int64(offInBlock)+n])
		readSize += n
		offInBlock = 0
		index++
	}
	return int(readSize), nil
}

// Write stores buf starting at offset, which must be at most the
// current size (append or overwrite; sparse writes past size are
// rejected). The stream grows to cover the write if needed.
func (h *Handle) Write(buf []byte, offset int64) (int, error) {
	if !h.IsOpen() {
		return 0, nil
	}
	if offset > int64(h.node.Size) {
		return 0, nil
	}
	now := uint64(time.Now().Unix())
	h.node.Mtime, h.node.Atime = now, now

	size := int64(len(buf))
	writeSize := int64(0)
	index := int(offset / int64(h.payload))
	offInBlock := int(offset % int64(h.payload))
	for writeSize < size {
		data, err := h.loadData(index, true)
		if err != nil {
			return int(writeSize), err
		}
		if data == nil {
			return int(writeSize), nil
		}
		n := minInt64(size-writeSize, int64(h.payload-offInBlock))
		copy(dataPayload(data)[offInBlock:int64(offInBlock)+n], buf[writeSize:writeSize+n])
		h.cache.Dirtify(h.dataIDs[index])
		writeSize += n
		offInBlock = 0
		index++
	}
	if offset+size > int64(h.node.Size) {
		h.node.Size = uint64(offset + size)
	}
	return int(writeSize), nil
}

// Insert splices buf into the stream at offset, shifting the
// existing suffix right. Byte-granular: implemented by streaming the
// prefix-in-block plus buf plus the buffered suffix through a
// temporary block chain, then freeing the old suffix blocks and
// attaching the new chain.
func (h *Handle) Insert(buf []byte, offset int64) (int, error) {
	if !h.IsOpen() {
		return 0, nil
	}
	if offset > int64(h.node.Size) {
		return 0, nil
	}
	now := uint64(time.Now().Unix())
	h.node.Mtime, h.node.Atime = now, now

	index := int(offset / int64(h.payload))
	offInBlock := int(offset % int64(h.payload))
	remaining := int64(h.node.Size) - offset

	data, err := h.loadData(index, true)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}

	temp := newTempData(h.cache, h.payload)
	if err := temp.write(dataPayload(data)[:offInBlock]); err != nil {
		temp.release()
		return 0, err
	}
	if err := temp.write(buf); err != nil {
		temp.release()
		return 0, err
	}

	i := index
	for remaining > 0 {
		data, err = h.loadData(i, true)
		if err != nil {
			temp.release()
			return 0, err
		}
		if data == nil {
			temp.release()
			return 0, nil
		}
		n := minInt64(int64(h.payload-offInBlock), remaining)
		if err := temp.write(dataPayload(data)[offInBlock : int64(offInBlock)+n]); err != nil {
			temp.release()
			return 0, err
		}
		offInBlock = 0
		remaining -= n
		i++
	}

	h.dataIDs = temp.moveTo(h.dataBuf, h.dataIDs, index)
	h.node.Size += uint64(len(buf))
	return len(buf), nil
}

// Remove deletes up to size bytes starting at offset, shifting the
// remaining suffix left. Symmetric to Insert, via the same temporary
// chain technique.
func (h *Handle) Remove(size int, offset int64) (int, error) {
	if !h.IsOpen() {
		return 0, nil
	}
	if offset >= int64(h.node.Size) {
		return 0, nil
	}
	now := uint64(time.Now().Unix())
	h.node.Mtime, h.node.Atime = now, now

	if int64(size) > int64(h.node.Size)-offset {
		size = int(int64(h.node.Size) - offset)
	}
	index := int(offset / int64(h.payload))
	offInBlock := int(offset % int64(h.payload))
	remaining := int64(h.node.Size) - offset - int64(size)
	deleteSize := size

	data, err := h.loadData(index, false)
	if err != nil {
		return 0, err
	}
	temp := newTempData(h.cache, h.payload)
	if data != nil {
		if err := temp.write(dataPayload(data)[:offInBlock]); err != nil {
			temp.release()
			return 0, err
		}
	}

	i := index
	for {
		if offInBlock+deleteSize < h.payload {
			offInBlock += deleteSize
			break
		}
		deleteSize -= h.payload - offInBlock
		offInBlock = 0
		i++
		if i >= len(h.dataIDs) {
			break
		}
	}

	for remaining > 0 {
		data, err = h.loadData(i, false)
		if err != nil {
			temp.release()
			return 0, err
		}
		if data == nil {
			temp.release()
			return 0, nil
		}
		n := minInt64(int64(h.payload-offInBlock), remaining)
		if err := temp.write(dataPayload(data)[offInBlock : int64(offInBlock)+n]); err != nil {
			temp.release()
			return 0, err
		}
		remaining -= n
		offInBlock = 0
		i++
	}

	h.dataIDs = temp.moveTo(h.dataBuf, h.dataIDs, index)
	h.node.Size -= uint64(size)
	return size, nil
}

// ReadAll returns the entire stream contents.
func (h *Handle) ReadAll() ([]byte, error) {
	if !h.IsOpen() {
		return nil, nil
	}
	buf := make([]byte, h.node.Size)
	n, err := h.Read(buf, 0)
	return buf[:n], err
}

// RemoveAll frees every data block and resets the stream to empty.
func (h *Handle) RemoveAll() error {
	if !h.IsOpen() {
		return errors.New("inode: file not open")
	}
	now := uint64(time.Now().Unix())
	h.node.Mtime, h.node.Atime = now, now
	h.node.Size = 0
	for _, id := range h.dataIDs {
		h.cache.Free(id)
	}
	h.dataBuf = make(map[block.ID][]byte)
	h.dataIDs = nil
	return nil
}

// Truncate sets the stream length to size, freeing trailing blocks
// when shrinking or allocating zero-filled blocks when growing.
func (h *Handle) Truncate(size int64) error {
	if !h.IsOpen() {
		return errors.New("inode: file not open")
	}
	idLen := int(ceilDiv(size, int64(h.payload)))
	now := uint64(time.Now().Unix())
	h.node.Mtime, h.node.Atime = now, now

	if size >= int64(h.node.Size) {
		if tail := int(int64(h.node.Size) % int64(h.payload)); tail != 0 && len(h.dataIDs) > 0 {
			last := len(h.dataIDs) - 1
			data, err := h.loadData(last, false)
			if err != nil {
				return err
			}
			if data != nil {
				zero := dataPayload(data)[tail:]
				for j := range zero {
					zero[j] = 0
				}
				h.cache.Dirtify(h.dataIDs[last])
			}
		}
		for i := len(h.dataIDs); i < idLen; i++ {
			data, err := h.loadData(i, true)
			if err != nil {
				return err
			}
			if data == nil {
				return errors.New("inode: truncate: allocation failed")
			}
		}
	} else {
		for i := idLen; i < len(h.dataIDs); i++ {
			id := h.dataIDs[i]
			h.cache.Free(id)
			delete(h.dataBuf, id)
		}
		h.dataIDs = h.dataIDs[:idLen]
	}
	h.node.Size = uint64(size)
	return nil
}

// SetMode updates the permission bits.
func (h *Handle) SetMode(mode Mode) error {
	if !h.IsOpen() {
		return errors.New("inode: file not open")
	}
	h.node.Mtime, h.node.Atime = uint64(time.Now().Unix()), uint64(time.Now().Unix())
	h.node.Mode = uint16(mode)
	return nil
}

// SetOwner updates the owning uid.
func (h *Handle) SetOwner(owner uint32) error {
	if !h.IsOpen() {
		return errors.New("inode: file not open")
	}
	h.node.Mtime, h.node.Atime = uint64(time.Now().Unix()), uint64(time.Now().Unix())
	h.node.Owner = owner
	return nil
}
