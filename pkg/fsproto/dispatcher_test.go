package fsproto

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s7a9/drumfs/pkg/block"
	"github.com/s7a9/drumfs/pkg/errcode"
	"github.com/s7a9/drumfs/pkg/fscore"
	"github.com/s7a9/drumfs/pkg/wire"
)

type memDevice struct {
	cylinders, sectors int
	sectorData         map[[2]int][]byte
}

func newMemDevice(cylinders, sectors int) *memDevice {
	return &memDevice{cylinders: cylinders, sectors: sectors, sectorData: make(map[[2]int][]byte)}
}

func (d *memDevice) Info() (int, int) { return d.cylinders, d.sectors }

func (d *memDevice) Read(cylinder, sector int) ([]byte, error) {
	buf := make([]byte, block.Size)
	if existing, ok := d.sectorData[[2]int{cylinder, sector}]; ok {
		copy(buf, existing)
	}
	return buf, nil
}

func (d *memDevice) Write(cylinder, sector int, data []byte) error {
	buf := make([]byte, block.Size)
	copy(buf, data)
	d.sectorData[[2]int{cylinder, sector}] = buf
	return nil
}

// testClient is a minimal hand-rolled fsproto client used only to
// exercise the Dispatcher end to end; the real CLI client lives under
// cmd/fsclient.
type testClient struct {
	conn net.Conn
}

func dialTest(t *testing.T, addr, username string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.NewPacker().String(username).Payload()))
	resp, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	code, err := wire.NewUnpacker(resp).Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)
	return &testClient{conn: conn}
}

func (c *testClient) call(p *wire.Packer) *wire.Unpacker {
	if err := wire.WriteFrame(c.conn, p.Payload()); err != nil {
		return nil
	}
	resp, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil
	}
	return wire.NewUnpacker(resp)
}

func (c *testClient) close() {
	_ = wire.WriteFrame(c.conn, wire.NewPacker().Int32(int32(errcode.OpExit)).Payload())
	c.conn.Close()
}

func newTestServer(t *testing.T) (string, *fscore.Core) {
	t.Helper()
	core, err := fscore.Open(newMemDevice(64, 64), fscore.Options{Create: true})
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := NewServer(core, ln, nil)
	go srv.Serve()
	return ln.Addr().String(), core
}

func TestAuthSuccessAndFailure(t *testing.T) {
	addr, _ := newTestServer(t)

	c := dialTest(t, addr, "root")
	c.close()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, wire.WriteFrame(conn, wire.NewPacker().String("nobody").Payload()))
	resp, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	code, err := wire.NewUnpacker(resp).Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(errcode.UserNotFound), code)
}

func TestCreateWriteReadCycle(t *testing.T) {
	addr, _ := newTestServer(t)
	c := dialTest(t, addr, "root")
	defer c.close()

	u := c.call(wire.NewPacker().Int32(int32(errcode.OpCreate)).String("a.txt"))
	code, err := u.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)

	payload := []byte("hello world")
	u = c.call(wire.NewPacker().Int32(int32(errcode.OpWrite)).String("a.txt").Int64(0).Int64(int64(len(payload))).Bytes(payload))
	code, err = u.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)

	u = c.call(wire.NewPacker().Int32(int32(errcode.OpCat)).String("a.txt"))
	code, err = u.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)
	n, err := u.Int64()
	require.NoError(t, err)
	data, err := u.Bytes()
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, data)
}

func TestLsAndMkdir(t *testing.T) {
	addr, _ := newTestServer(t)
	c := dialTest(t, addr, "root")
	defer c.close()

	u := c.call(wire.NewPacker().Int32(int32(errcode.OpMkdir)).String("sub"))
	code, _ := u.Int32()
	require.Equal(t, int32(errcode.Success), code)

	u = c.call(wire.NewPacker().Int32(int32(errcode.OpLs)))
	code, err := u.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)
	count, err := u.Int64()
	require.NoError(t, err)
	names := make([]string, count)
	for i := range names {
		names[i], err = u.String()
		require.NoError(t, err)
	}
	assert.Contains(t, names, "sub")
	assert.Contains(t, names, "home")
	assert.Contains(t, names, "userfile")
}

func TestRmfileNotFound(t *testing.T) {
	addr, _ := newTestServer(t)
	c := dialTest(t, addr, "root")
	defer c.close()

	u := c.call(wire.NewPacker().Int32(int32(errcode.OpRmFile)).String("nope.txt"))
	code, err := u.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(errcode.NotFound), code)
}

func TestChmodAndAddUser(t *testing.T) {
	addr, _ := newTestServer(t)
	c := dialTest(t, addr, "root")
	defer c.close()

	u := c.call(wire.NewPacker().Int32(int32(errcode.OpCreate)).String("p.txt"))
	code, _ := u.Int32()
	require.Equal(t, int32(errcode.Success), code)

	u = c.call(wire.NewPacker().Int32(int32(errcode.OpChmod)).String("p.txt").Int32(0o33))
	code, err := u.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)

	u = c.call(wire.NewPacker().Int32(int32(errcode.OpAddUser)).String("alice"))
	code, err = u.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)
	uid, err := u.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), uid)
}

func TestAddUserRejectedForNonRoot(t *testing.T) {
	addr, _ := newTestServer(t)
	root := dialTest(t, addr, "root")
	u := root.call(wire.NewPacker().Int32(int32(errcode.OpAddUser)).String("bob"))
	code, _ := u.Int32()
	require.Equal(t, int32(errcode.Success), code)
	root.close()

	c := dialTest(t, addr, "bob")
	defer c.close()
	u = c.call(wire.NewPacker().Int32(int32(errcode.OpAddUser)).String("carol"))
	code, err := u.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(errcode.Permission), code)
}

func TestRenameFile(t *testing.T) {
	addr, _ := newTestServer(t)
	c := dialTest(t, addr, "root")
	defer c.close()

	u := c.call(wire.NewPacker().Int32(int32(errcode.OpCreate)).String("old.txt"))
	code, _ := u.Int32()
	require.Equal(t, int32(errcode.Success), code)

	u = c.call(wire.NewPacker().Int32(int32(errcode.OpRename)).String("old.txt").String("new.txt"))
	code, err := u.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)

	u = c.call(wire.NewPacker().Int32(int32(errcode.OpRmFile)).String("old.txt"))
	code, err = u.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(errcode.NotFound), code)
}

func TestFormatResetsFilesystem(t *testing.T) {
	addr, _ := newTestServer(t)
	c := dialTest(t, addr, "root")
	defer c.close()

	u := c.call(wire.NewPacker().Int32(int32(errcode.OpCreate)).String("doomed.txt"))
	code, _ := u.Int32()
	require.Equal(t, int32(errcode.Success), code)

	u = c.call(wire.NewPacker().Int32(int32(errcode.OpFormat)))
	code, err := u.Int32()
	require.NoError(t, err)
	require.Equal(t, int32(errcode.Success), code)

	u = c.call(wire.NewPacker().Int32(int32(errcode.OpCat)).String("doomed.txt"))
	code, err = u.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(errcode.NotFound), code)
}
