package wbase

import (
	"fmt"
	"sync"

	"github.com/qserv/qserv/internal/transport"
)

// MemoryReply is an in-memory ReplyChannel, used by wsched/wexec/wservice
// tests in place of a real HTTP response writer.
type MemoryReply struct {
	mu     sync.Mutex
	Rows   []transport.Row
	Err    error
	Closed bool
}

// NewMemoryReply creates an empty in-memory reply sink.
func NewMemoryReply() *MemoryReply {
	return &MemoryReply{}
}

func (r *MemoryReply) SendRow(row transport.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Closed || r.Err != nil {
		return fmt.Errorf("wbase: send on a terminated reply channel")
	}
	r.Rows = append(r.Rows, row)
	return nil
}

func (r *MemoryReply) SendError(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Closed {
		return fmt.Errorf("wbase: send on a closed reply channel")
	}
	r.Err = err
	return nil
}

func (r *MemoryReply) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

// Snapshot returns a stable copy of received rows and error/closed state,
// for test assertions without racing on concurrent writers.
func (r *MemoryReply) Snapshot() ([]transport.Row, error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]transport.Row, len(r.Rows))
	copy(rows, r.Rows)
	return rows, r.Err, r.Closed
}
