package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	p := NewPacker().Byte('R').Int32(3).Int64(-7).String("hello").Bytes([]byte{1, 2, 3})

	u := NewUnpacker(p.Payload())

	b, err := u.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte('R'), b)

	i, err := u.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(3), i)

	l, err := u.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(-7), l)

	s, err := u.String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	data, err := u.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	assert.Zero(t, u.Remaining())
}

func TestUnpackUnderflow(t *testing.T) {
	u := NewUnpacker([]byte{1, 2})
	_, err := u.Int64()
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("disk says hi")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameZeroLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}
