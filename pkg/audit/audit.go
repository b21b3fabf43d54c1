// Package audit keeps a bounded, in-memory trail of recent operator-
// facing events: decoded dispatcher requests and block-cache
// allocation/eviction decisions. It is not a journal — nothing here
// survives a restart, and it plays no part in crash recovery.
package audit

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/armon/circbuf"
)

// defaultCapacity bounds the ring buffer at 64 KiB, roughly a
// thousand typical operation records.
const defaultCapacity = 64 << 10

// Recorder is a ring buffer of newline-delimited event lines.
type Recorder struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

// New allocates a Recorder with the default capacity.
func New() *Recorder {
	return NewSize(defaultCapacity)
}

// NewSize allocates a Recorder with a caller-chosen byte capacity.
func NewSize(capacity int64) *Recorder {
	buf, _ := circbuf.NewBuffer(capacity)
	return &Recorder{buf: buf}
}

// Record appends one formatted, timestamped line. Oldest bytes are
// silently dropped once the buffer wraps, per circbuf semantics.
func (r *Recorder) Record(format string, args ...interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	line := fmt.Sprintf("%s "+format+"\n", append([]interface{}{time.Now().UTC().Format(time.RFC3339Nano)}, args...)...)
	_, _ = r.buf.Write([]byte(line))
}

// Lines returns the currently retained records, oldest first.
func (r *Recorder) Lines() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	snapshot := append([]byte(nil), r.buf.Bytes()...)
	r.mu.Unlock()

	snapshot = bytes.TrimRight(snapshot, "\n")
	if len(snapshot) == 0 {
		return nil
	}
	return splitLines(snapshot)
}

func splitLines(b []byte) []string {
	parts := bytes.Split(b, []byte("\n"))
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}
