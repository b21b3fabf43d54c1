package diskproto

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/wire"
)

// Client is a synchronous, single-threaded RPC client to a disk
// server: the SectorClient of spec.md §4.1. Callers are responsible
// for serializing their own calls; the client does not retry.
type Client struct {
	conn       net.Conn
	cylinders  int
	sectors    int
	sectorSize int
}

// Dial connects to a disk server and fetches its geometry once, per
// spec.md's "sent once at startup and cached".
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "diskproto: dialing disk server")
	}

	c := &Client{conn: conn}
	if err := c.fetchInfo(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Info reports the cached disk geometry.
func (c *Client) Info() (cylinders, sectors int) {
	return c.cylinders, c.sectors
}

// SectorSize reports the sector/block size negotiated on first read.
func (c *Client) SectorSize() int {
	return c.sectorSize
}

func (c *Client) roundTrip(req []byte) (*wire.Unpacker, error) {
	if err := wire.WriteFrame(c.conn, req); err != nil {
		return nil, err
	}
	resp, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	return wire.NewUnpacker(resp), nil
}

func (c *Client) fetchInfo() error {
	req := wire.NewPacker().Byte(byte(OpInfo)).Payload()
	u, err := c.roundTrip(req)
	if err != nil {
		return errors.Wrap(err, "diskproto: fetching disk info")
	}
	cyl, err := u.Int32()
	if err != nil {
		return err
	}
	sec, err := u.Int32()
	if err != nil {
		return err
	}
	c.cylinders, c.sectors = int(cyl), int(sec)
	return nil
}

// Read fetches one sector's full contents.
func (c *Client) Read(cylinder, sector int) ([]byte, error) {
	req := wire.NewPacker().Byte(byte(OpRead)).Int32(int32(cylinder)).Int32(int32(sector)).Payload()
	u, err := c.roundTrip(req)
	if err != nil {
		return nil, errors.Wrap(err, "diskproto: read RPC")
	}
	size, err := u.Int32()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		msg, _ := u.String()
		return nil, errors.Errorf("diskproto: read(%d,%d): %s", cylinder, sector, msg)
	}
	data, err := u.Bytes()
	if err != nil {
		return nil, err
	}
	if c.sectorSize == 0 {
		c.sectorSize = int(size)
	}
	if len(data) != int(size) {
		return nil, errors.Errorf("diskproto: read(%d,%d): size mismatch: got %d want %d", cylinder, sector, len(data), size)
	}
	return data, nil
}

// Write stores bytes into one sector; bytes beyond len(data) up to
// the sector size are zero-padded server-side.
func (c *Client) Write(cylinder, sector int, data []byte) error {
	req := wire.NewPacker().Byte(byte(OpWrite)).Int32(int32(cylinder)).Int32(int32(sector)).
		Int32(int32(len(data))).Bytes(data).Payload()
	u, err := c.roundTrip(req)
	if err != nil {
		return errors.Wrap(err, "diskproto: write RPC")
	}
	ok, err := u.Int32()
	if err != nil {
		return err
	}
	if ok != 1 {
		msg, _ := u.String()
		return errors.Errorf("diskproto: write(%d,%d): %s", cylinder, sector, msg)
	}
	return nil
}

// Clear zeroes one sector server-side.
func (c *Client) Clear(cylinder, sector int) error {
	req := wire.NewPacker().Byte(byte(OpClear)).Int32(int32(cylinder)).Int32(int32(sector)).Payload()
	u, err := c.roundTrip(req)
	if err != nil {
		return errors.Wrap(err, "diskproto: clear RPC")
	}
	ok, err := u.Int32()
	if err != nil {
		return err
	}
	if ok != 1 {
		msg, _ := u.String()
		return errors.Errorf("diskproto: clear(%d,%d): %s", cylinder, sector, msg)
	}
	return nil
}
