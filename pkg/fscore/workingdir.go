package fscore

import (
	"github.com/s7a9/drumfs/pkg/directory"
	"github.com/s7a9/drumfs/pkg/errcode"
	"github.com/s7a9/drumfs/pkg/inode"
)

// WorkingDir is one client session's view into the namespace: the
// directory it is currently positioned in, plus a single reusable
// InodeFile handle for whatever file it has acquired with
// AcquireFile. Grounded in original_source/step2/filesystem.h's
// WorkingDir (nested class FileSystem::WorkingDir).
type WorkingDir struct {
	core *Core
	node *node
	user uint32
	file *inode.Handle // the "active file" acquired via AcquireFile
}

// User returns the uid this session is authenticated as.
func (wd *WorkingDir) User() uint32 { return wd.user }

// ActiveFile returns the handle acquired by AcquireFile, valid until
// the matching ReleaseFile.
func (wd *WorkingDir) ActiveFile() *inode.Handle { return wd.file }

func checkPermission(h *inode.Handle, uid uint32, write bool) bool {
	if write {
		return h.CheckPermission(uid, inode.Write)
	}
	return h.CheckPermission(uid, inode.Read)
}

// CreateFile creates an empty file named filename in the current
// directory, owned by wd.User().
func (wd *WorkingDir) CreateFile(filename string) error {
	if !wd.node.tryLock(true) {
		return errWire(errcode.Busy)
	}
	defer wd.node.unlock()
	if wd.node.dir.Lookup(filename) != 0 {
		return errWire(errcode.Exist)
	}
	f := inode.New(wd.core.cache)
	id, err := f.Create(wd.user, 0o33, inode.TypeFile)
	if err != nil {
		return errWire(errcode.Invalid)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return wd.node.dir.AddEntry(filename, id)
}

// CreateDir creates an empty subdirectory named dirname in the
// current directory.
func (wd *WorkingDir) CreateDir(dirname string) error {
	if !wd.node.tryLock(true) {
		return errWire(errcode.Busy)
	}
	defer wd.node.unlock()
	if wd.node.dir.Lookup(dirname) != 0 {
		return errWire(errcode.Exist)
	}
	f := inode.New(wd.core.cache)
	id, err := f.Create(wd.user, 0o33, inode.TypeDir)
	if err != nil {
		return errWire(errcode.Invalid)
	}
	sub := directory.Create(f, id, wd.node.file.ID())
	if err := sub.Close(); err != nil {
		return err
	}
	return wd.node.dir.AddEntry(dirname, id)
}

// Remove deletes the regular file named name from the current
// directory.
func (wd *WorkingDir) Remove(name string) error {
	if !wd.node.tryLock(true) {
		return errWire(errcode.Busy)
	}
	defer wd.node.unlock()
	id := wd.node.dir.Lookup(name)
	if id == 0 {
		return errWire(errcode.NotFound)
	}
	f := inode.New(wd.core.cache)
	if err := f.Open(id); err != nil {
		return errWire(errcode.Invalid)
	}
	if f.Kind() == inode.TypeDir {
		_ = f.Close()
		return errWire(errcode.NotFile)
	}
	if !checkPermission(f, wd.user, true) {
		_ = f.Close()
		return errWire(errcode.Permission)
	}
	_ = wd.node.dir.RemoveEntry(name)
	_ = f.RemoveAll()
	_ = f.Close()
	wd.core.cache.Free(id)
	return nil
}

// RemoveDir deletes the subdirectory named dirname and everything
// beneath it.
func (wd *WorkingDir) RemoveDir(dirname string) error {
	if !wd.node.tryLock(true) {
		return errWire(errcode.Busy)
	}
	defer wd.node.unlock()
	id := wd.node.dir.Lookup(dirname)
	if id == 0 {
		return errWire(errcode.NotFound)
	}
	if err := wd.core.removeSubtree(id, wd.user); err != nil {
		return err
	}
	return wd.node.dir.RemoveEntry(dirname)
}

// ChangeDir repositions wd at the directory named name in the
// current directory (single-component lookup only).
func (wd *WorkingDir) ChangeDir(name string) error {
	if !wd.node.tryLock(false) {
		return errWire(errcode.Busy)
	}
	id := wd.node.dir.Lookup(name)
	if id == 0 {
		wd.node.unlock()
		return errWire(errcode.NotFound)
	}
	return wd.core.changeWorkingDir(id, wd)
}

// ListDir returns every live entry name in the current directory.
func (wd *WorkingDir) ListDir() ([]string, error) {
	if !wd.node.tryLock(false) {
		return nil, errWire(errcode.Busy)
	}
	defer wd.node.unlock()
	return wd.node.dir.List(), nil
}

// Chmod sets the permission bits of the named entry; only the owner
// or root may do so.
func (wd *WorkingDir) Chmod(name string, mode inode.Mode) error {
	if !wd.node.tryLock(false) {
		return errWire(errcode.Busy)
	}
	defer wd.node.unlock()
	id := wd.node.dir.Lookup(name)
	if id == 0 {
		return errWire(errcode.NotFound)
	}
	f := inode.New(wd.core.cache)
	if err := f.Open(id); err != nil {
		return errWire(errcode.Invalid)
	}
	if wd.user != Root && f.Owner() != wd.user {
		_ = f.Close()
		return errWire(errcode.Permission)
	}
	_ = f.SetMode(mode)
	return f.Close()
}

// Chown changes the owning uid of the named entry; only the owner or
// root may do so.
func (wd *WorkingDir) Chown(name string, owner uint32) error {
	if !wd.node.tryLock(false) {
		return errWire(errcode.Busy)
	}
	defer wd.node.unlock()
	id := wd.node.dir.Lookup(name)
	if id == 0 {
		return errWire(errcode.NotFound)
	}
	f := inode.New(wd.core.cache)
	if err := f.Open(id); err != nil {
		return errWire(errcode.Invalid)
	}
	if wd.user != Root && f.Owner() != wd.user {
		_ = f.Close()
		return errWire(errcode.Permission)
	}
	_ = f.SetOwner(owner)
	return f.Close()
}

// Rename moves the entry named oldname to newname within the current
// directory.
func (wd *WorkingDir) Rename(oldname, newname string) error {
	if !wd.node.tryLock(true) {
		return errWire(errcode.Busy)
	}
	defer wd.node.unlock()
	id := wd.node.dir.Lookup(oldname)
	if id == 0 {
		return errWire(errcode.NotFound)
	}
	if wd.node.dir.Lookup(newname) != 0 {
		return errWire(errcode.Exist)
	}
	f := inode.New(wd.core.cache)
	if err := f.Open(id); err != nil {
		return errWire(errcode.Invalid)
	}
	allowed := checkPermission(f, wd.user, true)
	_ = f.Close()
	if !allowed {
		return errWire(errcode.Permission)
	}
	_ = wd.node.dir.RemoveEntry(oldname)
	return wd.node.dir.AddEntry(newname, id)
}

// AcquireFile opens the named file into wd.ActiveFile(), holding the
// node's lock until ReleaseFile is called.
func (wd *WorkingDir) AcquireFile(filename string, write bool) error {
	if !wd.node.tryLock(write) {
		return errWire(errcode.Busy)
	}
	id := wd.node.dir.Lookup(filename)
	if id == 0 {
		wd.node.unlock()
		return errWire(errcode.NotFound)
	}
	if err := wd.file.Open(id); err != nil {
		wd.node.unlock()
		return errWire(errcode.Invalid)
	}
	if !checkPermission(wd.file, wd.user, write) {
		_ = wd.file.Close()
		wd.node.unlock()
		return errWire(errcode.Permission)
	}
	return nil
}

// ReleaseFile closes the active file and releases the node lock
// AcquireFile took.
func (wd *WorkingDir) ReleaseFile() {
	_ = wd.file.Close()
	wd.node.unlock()
}
