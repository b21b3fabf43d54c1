package fsproto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientEndToEnd(t *testing.T) {
	addr, _ := newTestServer(t)

	c, err := Dial(addr, "root", time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Mkdir("docs"))
	require.NoError(t, c.ChangeDir("docs"))
	names, err := c.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".", ".."}, names)
	require.NoError(t, c.ChangeDir(".."))

	require.NoError(t, c.Create("notes.txt"))
	require.NoError(t, c.Write("notes.txt", 0, []byte("drumfs")))
	data, err := c.Cat("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "drumfs", string(data))

	info, err := c.Stat("notes.txt")
	require.NoError(t, err)
	assert.EqualValues(t, len("drumfs"), info.Size)
	assert.EqualValues(t, 1, info.Nlink)

	uid, err := c.AddUser("dave")
	require.NoError(t, err)
	assert.Equal(t, int64(1), uid)

	users, err := c.ListUsers()
	require.NoError(t, err)
	assert.Contains(t, users, "1:dave")

	require.NoError(t, c.Remove("notes.txt"))
	_, err = c.Cat("notes.txt")
	assert.Error(t, err)
}

func TestClientDialBadUser(t *testing.T) {
	addr, _ := newTestServer(t)
	_, err := Dial(addr, "ghost", time.Second)
	assert.Error(t, err)
}
