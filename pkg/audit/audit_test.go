package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndLines(t *testing.T) {
	r := New()
	r.Record("allocate block=%d", 7)
	r.Record("evict block=%d reason=%s", 3, "cap")

	lines := r.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "allocate block=7")
	assert.Contains(t, lines[1], "evict block=3 reason=cap")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Record("noop")
		assert.Nil(t, r.Lines())
	})
}

func TestWraps(t *testing.T) {
	r := NewSize(32)
	for i := 0; i < 50; i++ {
		r.Record("x")
	}
	lines := r.Lines()
	assert.NotEmpty(t, lines)
}
