package fsproto

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/s7a9/drumfs/pkg/audit"
	"github.com/s7a9/drumfs/pkg/errcode"
	"github.com/s7a9/drumfs/pkg/fscore"
	"github.com/s7a9/drumfs/pkg/inode"
	"github.com/s7a9/drumfs/pkg/wire"
)

// Dispatcher drives one authenticated connection's request loop,
// grounded in original_source/step2/server.cc's handler.
type Dispatcher struct {
	conn      net.Conn
	core      *fscore.Core
	audit     *audit.Recorder
	sessionID string

	wd            *fscore.WorkingDir
	flushCountdown int
}

func (d *Dispatcher) run() {
	defer d.conn.Close()

	req, err := wire.ReadFrame(d.conn)
	if err != nil || len(req) == 0 {
		return
	}
	username, err := wire.NewUnpacker(req).String()
	if err != nil {
		return
	}

	wd, authErr := d.core.OpenWorkingDir(username)
	if authErr != nil {
		code := toCode(authErr)
		_ = wire.WriteFrame(d.conn, wire.NewPacker().Int32(int32(code)).Payload())
		return
	}
	d.wd = wd
	d.auditf("session=%s user=%s authenticated", d.sessionID, username)
	if err := wire.WriteFrame(d.conn, wire.NewPacker().Int32(0).Payload()); err != nil {
		d.core.CloseWorkingDir(d.wd)
		return
	}

	d.flushCountdown = FlushInterval
	for {
		req, err := wire.ReadFrame(d.conn)
		if err != nil || len(req) == 0 {
			break
		}

		d.flushCountdown--
		if d.flushCountdown < 0 {
			_ = d.core.Flush()
			d.flushCountdown = FlushInterval
		}

		u := wire.NewUnpacker(req)
		opVal, err := u.Int32()
		if err != nil {
			break
		}
		op := errcode.Op(opVal)
		d.auditf("session=%s op=%d", d.sessionID, op)
		if op == errcode.OpNope {
			continue
		}
		if op == errcode.OpExit {
			break
		}

		resp, skipSend := d.dispatch(op, u)
		if skipSend {
			continue
		}
		if err := wire.WriteFrame(d.conn, resp); err != nil {
			logrus.WithError(err).Warn("fsproto: writing response")
			break
		}
	}

	logrus.WithField("session", d.sessionID).Info("fsproto: client disconnected")
	d.core.CloseWorkingDir(d.wd)
}

func (d *Dispatcher) dispatch(op errcode.Op, u *wire.Unpacker) (resp []byte, skipSend bool) {
	wd := d.wd
	switch op {
	case errcode.OpFormat:
		d.core.CloseWorkingDir(d.wd)
		err := d.core.Format()
		d.wd, _ = d.core.OpenWorkingDir("root")
		return packErr(err), false

	case errcode.OpCreate:
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		return packErr(wd.CreateFile(name)), false

	case errcode.OpMkdir:
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		return packErr(wd.CreateDir(name)), false

	case errcode.OpRmFile:
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		return packErr(wd.Remove(name)), false

	case errcode.OpRmdir:
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		return packErr(wd.RemoveDir(name)), false

	case errcode.OpCd:
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		return packErr(wd.ChangeDir(name)), false

	case errcode.OpLs:
		list, err := wd.ListDir()
		p := wire.NewPacker().Int32(int32(toCode(err)))
		if err == nil {
			p.Int64(int64(len(list)))
			for _, name := range list {
				p.String(name)
			}
		}
		return p.Payload(), false

	case errcode.OpCat:
		return d.handleCat(u), false

	case errcode.OpWrite:
		return d.handleWrite(u), false

	case errcode.OpInsert:
		return d.handleInsert(u), false

	case errcode.OpDelete:
		return d.handleDelete(u), false

	case errcode.OpTruncate:
		return d.handleTruncate(u), false

	case errcode.OpStat:
		return d.handleStat(u), false

	case errcode.OpChmod:
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		mode, err := u.Int32()
		if err != nil {
			return packErr(err), false
		}
		return packErr(wd.Chmod(name, inode.Mode(mode))), false

	case errcode.OpChown:
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		owner, err := u.Int32()
		if err != nil {
			return packErr(err), false
		}
		return packErr(wd.Chown(name, uint32(owner))), false

	case errcode.OpAddUser:
		if wd.User() != fscore.Root {
			return wire.NewPacker().Int32(int32(errcode.Permission)).Payload(), false
		}
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		uid, err := d.core.AddUser(name)
		p := wire.NewPacker().Int32(int32(toCode(err)))
		if err == nil {
			p.Int64(int64(uid))
		}
		return p.Payload(), false

	case errcode.OpDelUser:
		if wd.User() != fscore.Root {
			return wire.NewPacker().Int32(int32(errcode.Permission)).Payload(), false
		}
		uid, err := u.Int32()
		if err != nil {
			return packErr(err), false
		}
		return packErr(d.core.RemoveUser(uint32(uid))), false

	case errcode.OpLsUser:
		list := d.core.ListUsers()
		p := wire.NewPacker().Int32(int32(errcode.Success)).Int64(int64(len(list)))
		for _, name := range list {
			p.String(name)
		}
		return p.Payload(), false

	case errcode.OpRead:
		return d.handleRead(u), false

	case errcode.OpDelAll:
		name, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		aerr := wd.AcquireFile(name, true)
		if aerr != nil {
			return packErr(aerr), false
		}
		defer wd.ReleaseFile()
		if wd.ActiveFile().Kind() != inode.TypeFile {
			return wire.NewPacker().Int32(int32(errcode.NotFile)).Payload(), false
		}
		return packErr(wd.ActiveFile().RemoveAll()), false

	case errcode.OpFlush:
		d.flushCountdown = FlushInterval
		_ = d.core.Flush()
		return nil, true

	case errcode.OpRename:
		oldname, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		newname, err := u.String()
		if err != nil {
			return packErr(err), false
		}
		return packErr(wd.Rename(oldname, newname)), false

	default:
		return wire.NewPacker().Int32(int32(errcode.InvalidOp)).Payload(), false
	}
}

func (d *Dispatcher) handleCat(u *wire.Unpacker) []byte {
	wd := d.wd
	name, err := u.String()
	if err != nil {
		return packErr(err)
	}
	if err := wd.AcquireFile(name, false); err != nil {
		return packErr(err)
	}
	defer wd.ReleaseFile()
	if wd.ActiveFile().Kind() != inode.TypeFile {
		return wire.NewPacker().Int32(int32(errcode.NotFile)).Payload()
	}
	data, err := wd.ActiveFile().ReadAll()
	if err != nil {
		return packErr(err)
	}
	return wire.NewPacker().Int32(int32(errcode.Success)).Int64(int64(len(data))).Bytes(data).Payload()
}

func (d *Dispatcher) handleWrite(u *wire.Unpacker) []byte {
	wd := d.wd
	name, err := u.String()
	if err != nil {
		return packErr(err)
	}
	offset, err := u.Int64()
	if err != nil {
		return packErr(err)
	}
	if _, err := u.Int64(); err != nil { // declared size, redundant with the Bytes blob's own prefix
		return packErr(err)
	}
	data, err := u.Bytes()
	if err != nil {
		return packErr(err)
	}
	if aerr := wd.AcquireFile(name, true); aerr != nil {
		return packErr(aerr)
	}
	defer wd.ReleaseFile()
	if wd.ActiveFile().Kind() != inode.TypeFile {
		return wire.NewPacker().Int32(int32(errcode.NotFile)).Payload()
	}
	n, err := wd.ActiveFile().Write(data, offset)
	if err != nil || n != len(data) {
		return wire.NewPacker().Int32(int32(errcode.Invalid)).Payload()
	}
	return wire.NewPacker().Int32(int32(errcode.Success)).Payload()
}

func (d *Dispatcher) handleInsert(u *wire.Unpacker) []byte {
	wd := d.wd
	name, err := u.String()
	if err != nil {
		return packErr(err)
	}
	offset, err := u.Int64()
	if err != nil {
		return packErr(err)
	}
	if _, err := u.Int64(); err != nil {
		return packErr(err)
	}
	data, err := u.Bytes()
	if err != nil {
		return packErr(err)
	}
	if aerr := wd.AcquireFile(name, true); aerr != nil {
		return packErr(aerr)
	}
	defer wd.ReleaseFile()
	if wd.ActiveFile().Kind() != inode.TypeFile {
		return wire.NewPacker().Int32(int32(errcode.NotFile)).Payload()
	}
	n, err := wd.ActiveFile().Insert(data, offset)
	if err != nil || n != len(data) {
		return wire.NewPacker().Int32(int32(errcode.Invalid)).Payload()
	}
	return wire.NewPacker().Int32(int32(errcode.Success)).Payload()
}

func (d *Dispatcher) handleDelete(u *wire.Unpacker) []byte {
	wd := d.wd
	name, err := u.String()
	if err != nil {
		return packErr(err)
	}
	offset, err := u.Int64()
	if err != nil {
		return packErr(err)
	}
	size, err := u.Int64()
	if err != nil {
		return packErr(err)
	}
	if aerr := wd.AcquireFile(name, true); aerr != nil {
		return packErr(aerr)
	}
	defer wd.ReleaseFile()
	if wd.ActiveFile().Kind() != inode.TypeFile {
		return wire.NewPacker().Int32(int32(errcode.NotFile)).Payload()
	}
	n, err := wd.ActiveFile().Remove(int(size), offset)
	if err != nil || int64(n) != size {
		return wire.NewPacker().Int32(int32(errcode.Invalid)).Payload()
	}
	return wire.NewPacker().Int32(int32(errcode.Success)).Payload()
}

func (d *Dispatcher) handleTruncate(u *wire.Unpacker) []byte {
	wd := d.wd
	name, err := u.String()
	if err != nil {
		return packErr(err)
	}
	size, err := u.Int64()
	if err != nil {
		return packErr(err)
	}
	if aerr := wd.AcquireFile(name, true); aerr != nil {
		return packErr(aerr)
	}
	defer wd.ReleaseFile()
	if wd.ActiveFile().Kind() != inode.TypeFile {
		return wire.NewPacker().Int32(int32(errcode.NotFile)).Payload()
	}
	if err := wd.ActiveFile().Truncate(size); err != nil {
		return wire.NewPacker().Int32(int32(errcode.Invalid)).Payload()
	}
	return wire.NewPacker().Int32(int32(errcode.Success)).Payload()
}

func (d *Dispatcher) handleStat(u *wire.Unpacker) []byte {
	wd := d.wd
	name, err := u.String()
	if err != nil {
		return packErr(err)
	}
	if aerr := wd.AcquireFile(name, false); aerr != nil {
		return packErr(aerr)
	}
	defer wd.ReleaseFile()
	info := statLine(wd.ActiveFile())
	return wire.NewPacker().Int32(int32(errcode.Success)).Int64(int64(len(info) + 1)).String(info).Payload()
}

func (d *Dispatcher) handleRead(u *wire.Unpacker) []byte {
	wd := d.wd
	name, err := u.String()
	if err != nil {
		return packErr(err)
	}
	offset, err := u.Int64()
	if err != nil {
		return packErr(err)
	}
	size, err := u.Int64()
	if err != nil {
		return packErr(err)
	}
	if aerr := wd.AcquireFile(name, false); aerr != nil {
		return packErr(aerr)
	}
	defer wd.ReleaseFile()
	if wd.ActiveFile().Kind() != inode.TypeFile {
		return wire.NewPacker().Int32(int32(errcode.NotFile)).Payload()
	}
	buf := make([]byte, size)
	n, err := wd.ActiveFile().Read(buf, offset)
	if err != nil {
		return packErr(err)
	}
	return wire.NewPacker().Int32(int32(errcode.Success)).Int64(int64(n)).Bytes(buf[:n]).Payload()
}

// statLine renders the same fields FileSystem::stat_ dumps, space
// separated: type, mode, owner, link count, size, mtime.
func statLine(f *inode.Handle) string {
	_, mtime, _ := f.Times()
	return fmt.Sprintf("%d %o %d %d %d %d", f.Kind(), f.Mode(), f.Owner(), f.Nlink(), f.Size(), mtime)
}

func (d *Dispatcher) auditf(format string, args ...interface{}) {
	if d.audit != nil {
		d.audit.Record(format, args...)
	}
}

func toCode(err error) errcode.Code {
	if err == nil {
		return errcode.Success
	}
	if code, ok := fscore.Code(err); ok {
		return code
	}
	return errcode.Invalid
}

func packErr(err error) []byte {
	return wire.NewPacker().Int32(int32(toCode(err))).Payload()
}
