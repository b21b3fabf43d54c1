package fsproto

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/errcode"
	"github.com/s7a9/drumfs/pkg/wire"
)

// Client is a synchronous RPC client to a filesystem server, the Go
// analogue of original_source/step2/client.cc's request/response
// pairs. Callers serialize their own calls; Client does not retry.
type Client struct {
	conn net.Conn
}

// Stat is the decoded form of an OP_STAT response line.
type Stat struct {
	Kind  int32
	Mode  uint32
	Owner uint32
	Nlink uint32
	Size  int64
	Mtime int64
}

func (s Stat) String() string {
	return fmt.Sprintf("type=%d mode=%o owner=%d nlink=%d size=%d mtime=%d",
		s.Kind, s.Mode, s.Owner, s.Nlink, s.Size, s.Mtime)
}

// Dial connects to a filesystem server and authenticates as username.
func Dial(addr, username string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "fsproto: dialing filesystem server")
	}
	c := &Client{conn: conn}
	if err := wire.WriteFrame(conn, wire.NewPacker().String(username).Payload()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "fsproto: sending auth frame")
	}
	u, err := c.recv()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if code, err := u.Int32(); err != nil || errcode.Code(code) != errcode.Success {
		conn.Close()
		if err != nil {
			return nil, err
		}
		return nil, errors.Errorf("fsproto: auth failed: %s", errcode.Code(code))
	}
	return c, nil
}

// Close sends OP_EXIT and closes the connection.
func (c *Client) Close() error {
	_ = wire.WriteFrame(c.conn, wire.NewPacker().Int32(int32(errcode.OpExit)).Payload())
	return c.conn.Close()
}

func (c *Client) recv() (*wire.Unpacker, error) {
	resp, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, errors.Wrap(err, "fsproto: reading response")
	}
	return wire.NewUnpacker(resp), nil
}

func (c *Client) call(p *wire.Packer) (*wire.Unpacker, error) {
	if err := wire.WriteFrame(c.conn, p.Payload()); err != nil {
		return nil, errors.Wrap(err, "fsproto: sending request")
	}
	return c.recv()
}

func (c *Client) simple(op errcode.Op, fields func(*wire.Packer)) error {
	p := wire.NewPacker().Int32(int32(op))
	if fields != nil {
		fields(p)
	}
	u, err := c.call(p)
	if err != nil {
		return err
	}
	code, err := u.Int32()
	if err != nil {
		return err
	}
	if errcode.Code(code) != errcode.Success {
		return errors.New(errcode.Code(code).String())
	}
	return nil
}

// Format wipes the filesystem and reinitializes it.
func (c *Client) Format() error { return c.simple(errcode.OpFormat, nil) }

// Create makes an empty regular file.
func (c *Client) Create(name string) error {
	return c.simple(errcode.OpCreate, func(p *wire.Packer) { p.String(name) })
}

// Mkdir makes an empty subdirectory.
func (c *Client) Mkdir(name string) error {
	return c.simple(errcode.OpMkdir, func(p *wire.Packer) { p.String(name) })
}

// Remove deletes a regular file.
func (c *Client) Remove(name string) error {
	return c.simple(errcode.OpRmFile, func(p *wire.Packer) { p.String(name) })
}

// RemoveDir recursively deletes a subdirectory.
func (c *Client) RemoveDir(name string) error {
	return c.simple(errcode.OpRmdir, func(p *wire.Packer) { p.String(name) })
}

// ChangeDir repositions the session at the named subdirectory.
func (c *Client) ChangeDir(name string) error {
	return c.simple(errcode.OpCd, func(p *wire.Packer) { p.String(name) })
}

// List returns the current directory's entry names.
func (c *Client) List() ([]string, error) {
	u, err := c.call(wire.NewPacker().Int32(int32(errcode.OpLs)))
	if err != nil {
		return nil, err
	}
	code, err := u.Int32()
	if err != nil {
		return nil, err
	}
	if errcode.Code(code) != errcode.Success {
		return nil, errors.New(errcode.Code(code).String())
	}
	count, err := u.Int64()
	if err != nil {
		return nil, err
	}
	names := make([]string, count)
	for i := range names {
		names[i], err = u.String()
		if err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Cat reads the entire contents of a regular file.
func (c *Client) Cat(name string) ([]byte, error) {
	u, err := c.call(wire.NewPacker().Int32(int32(errcode.OpCat)).String(name))
	if err != nil {
		return nil, err
	}
	code, err := u.Int32()
	if err != nil {
		return nil, err
	}
	if errcode.Code(code) != errcode.Success {
		return nil, errors.New(errcode.Code(code).String())
	}
	if _, err := u.Int64(); err != nil {
		return nil, err
	}
	return u.Bytes()
}

// Read fetches size bytes starting at offset from a regular file.
func (c *Client) Read(name string, offset, size int64) ([]byte, error) {
	u, err := c.call(wire.NewPacker().Int32(int32(errcode.OpRead)).String(name).Int64(offset).Int64(size))
	if err != nil {
		return nil, err
	}
	code, err := u.Int32()
	if err != nil {
		return nil, err
	}
	if errcode.Code(code) != errcode.Success {
		return nil, errors.New(errcode.Code(code).String())
	}
	if _, err := u.Int64(); err != nil {
		return nil, err
	}
	return u.Bytes()
}

// Write overwrites or extends a regular file at offset.
func (c *Client) Write(name string, offset int64, data []byte) error {
	return c.simple(errcode.OpWrite, func(p *wire.Packer) {
		p.String(name).Int64(offset).Int64(int64(len(data))).Bytes(data)
	})
}

// Insert splices data into a regular file at offset.
func (c *Client) Insert(name string, offset int64, data []byte) error {
	return c.simple(errcode.OpInsert, func(p *wire.Packer) {
		p.String(name).Int64(offset).Int64(int64(len(data))).Bytes(data)
	})
}

// Delete removes size bytes starting at offset from a regular file.
func (c *Client) Delete(name string, offset, size int64) error {
	return c.simple(errcode.OpDelete, func(p *wire.Packer) { p.String(name).Int64(offset).Int64(size) })
}

// Truncate grows or shrinks a regular file to size bytes.
func (c *Client) Truncate(name string, size int64) error {
	return c.simple(errcode.OpTruncate, func(p *wire.Packer) { p.String(name).Int64(size) })
}

// DeleteAll empties a regular file's contents without removing the
// directory entry.
func (c *Client) DeleteAll(name string) error {
	return c.simple(errcode.OpDelAll, func(p *wire.Packer) { p.String(name) })
}

// Stat returns metadata for the named entry.
func (c *Client) Stat(name string) (*Stat, error) {
	u, err := c.call(wire.NewPacker().Int32(int32(errcode.OpStat)).String(name))
	if err != nil {
		return nil, err
	}
	code, err := u.Int32()
	if err != nil {
		return nil, err
	}
	if errcode.Code(code) != errcode.Success {
		return nil, errors.New(errcode.Code(code).String())
	}
	if _, err := u.Int64(); err != nil {
		return nil, err
	}
	line, err := u.String()
	if err != nil {
		return nil, err
	}
	var s Stat
	if _, err := fmt.Sscanf(line, "%d %o %d %d %d %d", &s.Kind, &s.Mode, &s.Owner, &s.Nlink, &s.Size, &s.Mtime); err != nil {
		return nil, errors.Wrap(err, "fsproto: parsing stat response")
	}
	return &s, nil
}

// Chmod sets the permission bits of the named entry.
func (c *Client) Chmod(name string, mode int32) error {
	return c.simple(errcode.OpChmod, func(p *wire.Packer) { p.String(name).Int32(mode) })
}

// Chown changes the owning uid of the named entry.
func (c *Client) Chown(name string, owner int32) error {
	return c.simple(errcode.OpChown, func(p *wire.Packer) { p.String(name).Int32(owner) })
}

// Rename moves oldname to newname within the current directory.
func (c *Client) Rename(oldname, newname string) error {
	return c.simple(errcode.OpRename, func(p *wire.Packer) { p.String(oldname).String(newname) })
}

// AddUser registers a new username, returning its assigned uid.
func (c *Client) AddUser(username string) (int64, error) {
	u, err := c.call(wire.NewPacker().Int32(int32(errcode.OpAddUser)).String(username))
	if err != nil {
		return 0, err
	}
	code, err := u.Int32()
	if err != nil {
		return 0, err
	}
	if errcode.Code(code) != errcode.Success {
		return 0, errors.New(errcode.Code(code).String())
	}
	return u.Int64()
}

// RemoveUser deletes the user with the given uid.
func (c *Client) RemoveUser(uid int32) error {
	return c.simple(errcode.OpDelUser, func(p *wire.Packer) { p.Int32(uid) })
}

// ListUsers returns the "uid:username" record of every live user;
// tombstoned uids are omitted.
func (c *Client) ListUsers() ([]string, error) {
	u, err := c.call(wire.NewPacker().Int32(int32(errcode.OpLsUser)))
	if err != nil {
		return nil, err
	}
	code, err := u.Int32()
	if err != nil {
		return nil, err
	}
	if errcode.Code(code) != errcode.Success {
		return nil, errors.New(errcode.Code(code).String())
	}
	count, err := u.Int64()
	if err != nil {
		return nil, err
	}
	names := make([]string, count)
	for i := range names {
		names[i], err = u.String()
		if err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Flush requests a cache flush; the server sends no response for
// this opcode, matching original_source/step2/server.cc's OP_FLUSH
// handling.
func (c *Client) Flush() error {
	return wire.WriteFrame(c.conn, wire.NewPacker().Int32(int32(errcode.OpFlush)).Payload())
}
