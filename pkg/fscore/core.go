// Package fscore implements the namespace and concurrency layer: a
// cache of resident inode nodes, each guarded by a non-blocking
// reader/writer lock, and the WorkingDir/Core operations that walk
// and mutate the directory tree on top of it. Grounded in
// original_source/step2/filesystem.{h,cc}.
package fscore

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/audit"
	"github.com/s7a9/drumfs/pkg/block"
	"github.com/s7a9/drumfs/pkg/directory"
	"github.com/s7a9/drumfs/pkg/elog"
	"github.com/s7a9/drumfs/pkg/errcode"
	"github.com/s7a9/drumfs/pkg/inode"
	"github.com/s7a9/drumfs/pkg/userfile"
)

// Root is uid 0, which bypasses every permission check.
const Root uint32 = userfile.Root

// Options configures a Core at Open time.
type Options struct {
	Create bool
	Cap    int
	Log    elog.View
	Audit  *audit.Recorder
}

// Core owns the whole resident node set for one filesystem instance,
// plus the cache and user table beneath it.
type Core struct {
	mu    sync.Mutex
	nodes map[block.ID]*node

	cache *block.Cache
	users *userfile.Table

	log   elog.View
	audit *audit.Recorder
}

// Open loads an existing filesystem from disk, or formats a fresh one
// when opts.Create is set.
func Open(disk block.Device, opts Options) (*Core, error) {
	cache, err := block.Open(disk, block.Options{
		Create: opts.Create,
		Cap:    opts.Cap,
		Log:    opts.Log,
		Audit:  opts.Audit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "fscore: opening block cache")
	}
	c := &Core{
		nodes: make(map[block.ID]*node),
		cache: cache,
		log:   opts.Log,
		audit: opts.Audit,
	}
	if opts.Create || cache.RootInode().IsNull() {
		if err := c.format(); err != nil {
			return nil, errors.Wrap(err, "fscore: formatting")
		}
		return c, nil
	}
	if err := c.load(); err != nil {
		return nil, errors.Wrap(err, "fscore: loading")
	}
	return c, nil
}

func (c *Core) format() error {
	root := inode.New(c.cache)
	rootID, err := root.Create(Root, 0o33, inode.TypeDir)
	if err != nil {
		return errors.Wrap(err, "fscore: creating root inode")
	}
	if err := c.cache.SetRootInode(rootID); err != nil {
		return err
	}
	rootDir := directory.Create(root, rootID, rootID)
	rootNode := newNode(root, rootDir)
	rootNode.refcnt = 1
	c.nodes[rootID] = rootNode

	ufFile := inode.New(c.cache)
	ufID, err := ufFile.Create(Root, 0, inode.TypeFile)
	if err != nil {
		return errors.Wrap(err, "fscore: creating user table inode")
	}
	users, err := userfile.Open(ufFile)
	if err != nil {
		return errors.Wrap(err, "fscore: opening fresh user table")
	}
	c.users = users
	if err := rootDir.AddEntry("userfile", ufID); err != nil {
		return err
	}

	home := inode.New(c.cache)
	homeID, err := home.Create(Root, 0o13, inode.TypeDir)
	if err != nil {
		return errors.Wrap(err, "fscore: creating home inode")
	}
	homeDir := directory.Create(home, homeID, rootID)
	c.nodes[homeID] = newNode(home, homeDir)
	if err := rootDir.AddEntry("home", homeID); err != nil {
		return err
	}

	c.auditf("format: root=%d userfile=%d home=%d", rootID, ufID, homeID)
	return nil
}

func (c *Core) load() error {
	rootID := c.cache.RootInode()
	rootNode, err := c.loadNode(rootID)
	if err != nil {
		return errors.Wrap(err, "fscore: loading root node")
	}
	if rootNode.dir == nil {
		return errors.New("fscore: root inode is not a directory")
	}
	ufID := rootNode.dir.Lookup("userfile")
	if ufID == 0 {
		return errors.New("fscore: user table not found in root directory")
	}
	ufFile := inode.New(c.cache)
	if err := ufFile.Open(ufID); err != nil {
		return errors.Wrap(err, "fscore: opening user table")
	}
	users, err := userfile.Open(ufFile)
	if err != nil {
		return errors.Wrap(err, "fscore: reading user table")
	}
	c.users = users
	return nil
}

func (c *Core) loadNode(id block.ID) (*node, error) {
	c.mu.Lock()
	if n, ok := c.nodes[id]; ok {
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	file := inode.New(c.cache)
	if err := file.Open(id); err != nil {
		return nil, errors.Wrapf(err, "fscore: opening inode %d", id)
	}
	var dir *directory.Table
	if file.Kind() == inode.TypeDir {
		d, err := directory.Open(file)
		if err != nil {
			_ = file.Close()
			return nil, errors.Wrapf(err, "fscore: opening directory %d", id)
		}
		dir = d
	}
	n := newNode(file, dir)

	c.mu.Lock()
	if existing, ok := c.nodes[id]; ok {
		c.mu.Unlock()
		_ = n.close()
		return existing, nil
	}
	c.nodes[id] = n
	c.mu.Unlock()
	return n, nil
}

func (c *Core) releaseNode(n *node) {
	n.mu.Lock()
	idle := n.refcnt == 0
	n.mu.Unlock()
	if !idle {
		return
	}
	c.mu.Lock()
	delete(c.nodes, n.file.ID())
	c.mu.Unlock()
	c.auditf("evict node id=%d", n.file.ID())
	_ = n.close()
}

// OpenWorkingDir authenticates username against the user table and
// returns a WorkingDir rooted at the filesystem root, or
// errcode.UserNotFound if the username is unknown.
func (c *Core) OpenWorkingDir(username string) (*WorkingDir, error) {
	var uid uint32
	if username == "root" {
		uid = Root
	} else {
		c.mu.Lock()
		uid = c.users.Lookup(username)
		c.mu.Unlock()
		if uid == Root {
			return nil, errWire(errcode.UserNotFound)
		}
	}
	n, err := c.loadNode(c.cache.RootInode())
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.refcnt++
	n.mu.Unlock()
	return &WorkingDir{core: c, node: n, user: uid, file: inode.New(c.cache)}, nil
}

// CloseWorkingDir releases wd's reference on its current node.
func (c *Core) CloseWorkingDir(wd *WorkingDir) {
	if wd == nil {
		return
	}
	wd.node.mu.Lock()
	wd.node.refcnt--
	wd.node.mu.Unlock()
	c.releaseNode(wd.node)
}

// AddUser appends username to the user table.
func (c *Core) AddUser(username string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uid, err := c.users.AddUser(username)
	if err != nil {
		return 0, err
	}
	c.auditf("adduser: %s uid=%d", username, uid)
	return uid, nil
}

// RemoveUser tombstones uid.
func (c *Core) RemoveUser(uid uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.users.RemoveUser(uid); err != nil {
		return err
	}
	c.auditf("deluser: uid=%d", uid)
	return nil
}

// ListUsers returns "uid:username" for every live user.
func (c *Core) ListUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.users.ListUsers()
}

// Flush writes back every dirty block-cache page. It does not
// persist in-memory directory/user-table state, mirroring the
// original's flush() — that state is saved when its owning node
// becomes idle and is evicted, or at Close.
func (c *Core) Flush() error {
	return c.cache.Flush()
}

// Close saves every resident node, the user table, and the block
// cache, and discards all in-memory state.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for id, n := range c.nodes {
		if err := n.close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "fscore: closing node %d", id)
		}
	}
	c.nodes = make(map[block.ID]*node)
	if c.users != nil {
		if err := c.users.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "fscore: closing user table")
		}
		c.users = nil
	}
	if err := c.cache.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "fscore: closing block cache")
	}
	return firstErr
}

// Format wipes the filesystem and rebuilds a fresh root/home/userfile
// layout, refusing with errcode.Busy if any node, the root included,
// is still referenced by a working directory or is locked.
func (c *Core) Format() error {
	rootNode, err := c.loadNode(c.cache.RootInode())
	if err != nil {
		return err
	}
	rootNode.mu.Lock()
	busy := rootNode.refcnt > 1
	if !busy {
		rootNode.refcnt = 0
	}
	rootNode.mu.Unlock()
	if busy {
		return errWire(errcode.Busy)
	}

	var walked []*node
	if err := c.walkAndAcquire(rootNode, &walked); err != nil {
		for _, n := range walked {
			n.unlock()
			c.releaseNode(n)
		}
		rootNode.mu.Lock()
		rootNode.refcnt = 1
		rootNode.mu.Unlock()
		return err
	}

	c.mu.Lock()
	for id, n := range c.nodes {
		_ = n.close()
		delete(c.nodes, id)
	}
	if c.users != nil {
		_ = c.users.Close()
		c.users = nil
	}
	_ = c.cache.Close()
	c.mu.Unlock()

	cache, err := block.Open(c.cache.Device(), block.Options{Create: true, Cap: c.cache.Cap(), Log: c.log, Audit: c.audit})
	if err != nil {
		return errors.Wrap(err, "fscore: reformatting block cache")
	}
	c.cache = cache
	return c.format()
}

// walkAndAcquire write-locks node and, when it is a directory, every
// descendant reachable from it (skipping "." and ".."), failing the
// whole walk with errcode.Busy the moment any node can't be locked or
// is still referenced elsewhere.
func (c *Core) walkAndAcquire(n *node, acquired *[]*node) error {
	*acquired = append(*acquired, n)
	n.mu.Lock()
	ok := n.rwcnt == 0
	if ok {
		n.rwcnt = -1
	}
	refs := n.refcnt
	n.mu.Unlock()
	if !ok || refs > 0 {
		return errWire(errcode.Busy)
	}
	if n.dir == nil {
		return nil
	}
	for _, name := range n.dir.List() {
		if name == "." || name == ".." {
			continue
		}
		id := n.dir.Lookup(name)
		child, err := c.loadNode(id)
		if err != nil {
			return errWire(errcode.Invalid)
		}
		if err := c.walkAndAcquire(child, acquired); err != nil {
			return err
		}
	}
	return nil
}

// removeSubtree recursively frees inode and everything beneath it
// (when it is a directory), refusing with errcode.Permission unless
// user has write permission on it (root always does), and
// errcode.Busy if it or any descendant is
// locked or referenced.
func (c *Core) removeSubtree(id block.ID, user uint32) error {
	n, err := c.loadNode(id)
	if err != nil {
		return errWire(errcode.Invalid)
	}
	if !n.file.CheckPermission(user, inode.Write) {
		c.releaseNode(n)
		return errWire(errcode.Permission)
	}

	var walked []*node
	if err := c.walkAndAcquire(n, &walked); err != nil {
		for _, nn := range walked {
			nn.unlock()
			c.releaseNode(nn)
		}
		return err
	}

	c.mu.Lock()
	for _, nn := range walked {
		nodeID := nn.file.ID()
		_ = nn.file.RemoveAll()
		_ = nn.file.Close()
		delete(c.nodes, nodeID)
		c.cache.Free(nodeID)
	}
	c.mu.Unlock()
	return nil
}

// changeWorkingDir repositions wd onto the node for id, releasing its
// hold on the previous node. wd's caller must already hold a read
// lock on wd's current node (taken by ChangeDir's tryLock), which
// this releases on success or failure alike.
func (c *Core) changeWorkingDir(id block.ID, wd *WorkingDir) error {
	old := wd.node
	if id.IsNull() {
		old.unlock()
		return errWire(errcode.NotFound)
	}
	newNode, err := c.loadNode(id)
	if err != nil {
		old.unlock()
		return errWire(errcode.Invalid)
	}
	if newNode == old {
		old.unlock()
		return nil
	}
	if !newNode.file.CheckPermission(wd.user, inode.Read) {
		old.unlock()
		return errWire(errcode.Permission)
	}
	if newNode.dir == nil {
		old.unlock()
		return errWire(errcode.NotDir)
	}

	old.mu.Lock()
	old.refcnt--
	old.mu.Unlock()
	old.unlock()

	newNode.mu.Lock()
	newNode.refcnt++
	newNode.mu.Unlock()

	c.releaseNode(old)
	wd.node = newNode
	return nil
}

func (c *Core) auditf(format string, args ...interface{}) {
	if c.audit != nil {
		c.audit.Record(format, args...)
	}
}

// wireError lets package fscore return errcode.Code values without a
// hard dependency loop; fsproto type-asserts for it at the dispatcher
// boundary.
type wireError struct{ code errcode.Code }

func (e wireError) Error() string { return e.code.String() }

// Code extracts the wire error code from err, if any, returning
// (0, false) for a plain Go error.
func Code(err error) (errcode.Code, bool) {
	we, ok := err.(wireError)
	if !ok {
		return 0, false
	}
	return we.code, true
}

func errWire(code errcode.Code) error { return wireError{code: code} }
