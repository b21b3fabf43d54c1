package fscore

import (
	"sync"

	"github.com/s7a9/drumfs/pkg/directory"
	"github.com/s7a9/drumfs/pkg/inode"
)

// node is one resident inode: its InodeFile handle, its directory
// entry table when it is a directory, and the non-blocking
// reader/writer lock guarding access to both. Grounded in
// original_source/step2/filesystem.h's node_t.
type node struct {
	mu sync.Mutex

	rwcnt  int // >0: that many readers; -1: one writer; 0: idle
	refcnt int // WorkingDirs positioned here, plus format's standing hold on the root

	file *inode.Handle
	dir  *directory.Table // nil unless file.Kind() == inode.TypeDir
}

func newNode(file *inode.Handle, dir *directory.Table) *node {
	return &node{file: file, dir: dir}
}

// tryLock attempts to acquire the node non-blockingly: write locks
// require rwcnt == 0, read locks require rwcnt >= 0 and bump it.
func (n *node) tryLock(write bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if write {
		if n.rwcnt == 0 {
			n.rwcnt = -1
			return true
		}
		return false
	}
	if n.rwcnt >= 0 {
		n.rwcnt++
		return true
	}
	return false
}

func (n *node) unlock() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rwcnt > 0 {
		n.rwcnt--
	} else {
		n.rwcnt = 0
	}
}

// close saves the node's directory entries (if any) and its inode
// metadata, in that order — mirroring node_t's destructor, which
// deletes dir (flushing entries through the still-open file) before
// deleting file (which performs the actual close).
func (n *node) close() error {
	if n.dir != nil {
		return n.dir.Close()
	}
	return n.file.Close()
}
