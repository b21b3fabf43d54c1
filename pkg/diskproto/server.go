package diskproto

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/s7a9/drumfs/pkg/wire"
)

// Server accepts disk RPC connections and serves them against a
// single shared Disk, grounded in original_source/step1/server.c's
// run_server + handler pair.
type Server struct {
	disk *Disk
	ln   net.Listener
}

// NewServer wraps disk behind a listener.
func NewServer(disk *Disk, ln net.Listener) *Server {
	return &Server{disk: disk, ln: ln}
}

// Serve accepts connections until the listener is closed, handling
// each on its own goroutine (one thread per client, as spec.md §5
// specifies for the scheduling model).
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		logrus.WithField("remote", conn.RemoteAddr()).Debug("diskproto: accepted connection")
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	for {
		req, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if len(req) == 0 {
			return
		}

		resp, closeAfter := s.dispatch(req)
		if err := wire.WriteFrame(conn, resp); err != nil {
			logrus.WithError(err).Warn("diskproto: writing response")
			return
		}
		if closeAfter {
			return
		}
	}
}

func (s *Server) dispatch(req []byte) (resp []byte, closeAfter bool) {
	u := wire.NewUnpacker(req)
	opByte, err := u.Byte()
	if err != nil {
		return wire.NewPacker().Int32(0).String("Error: empty request").Payload(), false
	}

	switch Opcode(opByte) {
	case OpInfo:
		cyl, sec := s.disk.Info()
		return wire.NewPacker().Int32(int32(cyl)).Int32(int32(sec)).Payload(), false

	case OpClear:
		cyl, sec, err := readCylSec(u)
		if err != nil {
			return errorResponse(err), false
		}
		if err := s.disk.Clear(cyl, sec); err != nil {
			return errorResponse(err), false
		}
		return wire.NewPacker().Int32(1).Payload(), false

	case OpRead:
		cyl, sec, err := readCylSec(u)
		if err != nil {
			return errorResponse(err), false
		}
		data, err := s.disk.Read(cyl, sec)
		if err != nil {
			return errorResponse(err), false
		}
		return wire.NewPacker().Int32(int32(len(data))).Bytes(data).Payload(), false

	case OpWrite:
		cyl, err := u.Int32()
		if err != nil {
			return errorResponse(err), false
		}
		sec, err := u.Int32()
		if err != nil {
			return errorResponse(err), false
		}
		dataSize, err := u.Int32()
		if err != nil {
			return errorResponse(err), false
		}
		data, err := u.Bytes()
		if err != nil {
			return errorResponse(err), false
		}
		if len(data) < int(dataSize) {
			return wire.NewPacker().Int32(0).String("Error: Data size mismatch").Payload(), false
		}
		if err := s.disk.Write(int(cyl), int(sec), data[:dataSize]); err != nil {
			return errorResponse(err), false
		}
		return wire.NewPacker().Int32(1).Payload(), false

	case OpElapsed:
		return wire.NewPacker().Int32(1).Int32(int32(s.disk.Elapsed().Microseconds())).Payload(), true

	default:
		return wire.NewPacker().Int32(0).String("Error: Invalid request type").Payload(), false
	}
}

func readCylSec(u *wire.Unpacker) (cyl, sec int, err error) {
	c, err := u.Int32()
	if err != nil {
		return 0, 0, err
	}
	se, err := u.Int32()
	if err != nil {
		return 0, 0, err
	}
	return int(c), int(se), nil
}

func errorResponse(err error) []byte {
	return wire.NewPacker().Int32(0).String(err.Error()).Payload()
}
