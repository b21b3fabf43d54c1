package inode

import "github.com/s7a9/drumfs/pkg/block"

// tempData accumulates freshly allocated data blocks, used by
// Insert and Remove to stream a rewritten byte range through a
// temporary chain before splicing it back over the affected tail of
// the file's data-block list (every block from the one holding the
// edit offset onward). Grounded in inodefile.cc's TempData.
type tempData struct {
	cache       *block.Cache
	payloadSize int

	curOffset int
	lastID    block.ID
	lastBuf   []byte

	cachedData map[block.ID][]byte
	dataIDs    []block.ID
}

func newTempData(cache *block.Cache, payloadSize int) *tempData {
	return &tempData{
		cache:       cache,
		payloadSize: payloadSize,
		cachedData:  make(map[block.ID][]byte),
	}
}

func (t *tempData) write(buf []byte) error {
	written := 0
	size := len(buf)
	for written < size {
		if t.lastBuf == nil {
			id, data, err := t.cache.Allocate()
			if err != nil {
				return err
			}
			setDataMagic(data)
			t.lastID = id
			t.lastBuf = data
			t.cachedData[id] = data
			t.dataIDs = append(t.dataIDs, id)
		}
		n := size - written
		if room := t.payloadSize - t.curOffset; n > room {
			n = room
		}
		copy(dataPayload(t.lastBuf)[t.curOffset:t.curOffset+n], buf[written:written+n])
		t.cache.Dirtify(t.lastID)
		written += n
		t.curOffset += n
		if t.curOffset == t.payloadSize {
			t.curOffset = 0
			t.lastBuf = nil
		}
	}
	return nil
}

// moveTo frees the existing data IDs from start onward, then
// appends the temp chain in their place, returning the updated slice.
// dataBuf is the caller's cache of currently-open data block buffers.
func (t *tempData) moveTo(dataBuf map[block.ID][]byte, dataIDs []block.ID, start int) []block.ID {
	for len(dataIDs) > start {
		id := dataIDs[len(dataIDs)-1]
		t.cache.Free(id)
		delete(dataBuf, id)
		dataIDs = dataIDs[:len(dataIDs)-1]
	}
	for _, id := range t.dataIDs {
		dataBuf[id] = t.cachedData[id]
		dataIDs = append(dataIDs, id)
	}
	t.dataIDs = nil
	t.cachedData = make(map[block.ID][]byte)
	t.lastBuf = nil
	t.lastID = 0
	return dataIDs
}

// release unrefs every block the temp chain is still holding. Used
// when an operation aborts before calling moveTo.
func (t *tempData) release() {
	for id := range t.cachedData {
		t.cache.Unref(id)
	}
}
