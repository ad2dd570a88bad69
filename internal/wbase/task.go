// Package wbase holds the worker-side task model named in spec.md §3's
// "Task (worker-side)" data model: the unit of work the scheduler admits
// and the execution core runs, created on request receipt and destroyed
// after its reply channel is closed.
//
// Grounded on the teacher's internal/federation/stream.go Row/Stream
// shape for the reply side, generalized with a poison flag per spec.md
// §4.3's cancellation model.
package wbase

import (
	"sync/atomic"

	"github.com/qserv/qserv/internal/transport"
)

// ReplyChannel is the caller-provided sink a task streams its rows and
// terminal outcome to. The worker HTTP service (internal/wservice)
// implements this over an HTTP response body; tests use an in-memory fake.
type ReplyChannel interface {
	// SendRow delivers one result row. Returns an error if the channel is
	// closed or the underlying transport failed.
	SendRow(row transport.Row) error

	// SendError signals task failure; no further SendRow calls are valid.
	SendError(err error) error

	// Close signals successful completion; no further SendRow calls are
	// valid.
	Close() error
}

// Task is one admitted chunk query on the worker side, per spec.md §3:
// (chunkId, owning dbName, requester identity, fragments, optional
// sub-chunk list, optional scan-table set, optional secondary-sort key,
// reply channel, poisoned flag).
type Task struct {
	JobID       string
	DB          string
	ChunkID     int32
	Requester   string
	Fragments   []string
	SubChunkIDs []int32
	ScanTables  []string
	SortKey     string
	QueryHash   string

	Reply ReplyChannel

	// Coalesced holds further same-chunk tasks the group scheduler batched
	// alongside this one (internal/wsched.GroupScheduler.Dequeue); the
	// execution core runs them sequentially after this task completes.
	Coalesced []*Task

	poisoned atomic.Bool
}

// NewTask creates a task bound to a reply channel. QueryHash defaults to
// JobID when unset by the caller — it only needs to be stable enough for
// RemoveByHash to target a specific in-flight task.
func NewTask(jobID, db string, chunkID int32, reply ReplyChannel) *Task {
	return &Task{JobID: jobID, DB: db, ChunkID: chunkID, QueryHash: jobID, Reply: reply}
}

// Poison cooperatively cancels the task: checked between fragment pieces
// on the worker, per spec.md §4.3's "poison() sets an atomic flag".
func (t *Task) Poison() {
	t.poisoned.Store(true)
}

// Poisoned reports whether Poison has been called.
func (t *Task) Poisoned() bool {
	return t.poisoned.Load()
}

// IsScan reports whether this task is a shared-scan candidate, the
// classifier the blend scheduler (internal/wsched) routes on.
func (t *Task) IsScan() bool {
	return len(t.ScanTables) > 0
}

// ScanRating returns the task's declared shared-scan priority tier
// (fast=0, medium=1, slow=2), derived from the number of scan tables the
// query touches — more scan tables implies a heavier, slower query. A
// non-scan task's rating is meaningless and never consulted.
func (t *Task) ScanRating() int {
	switch {
	case len(t.ScanTables) <= 1:
		return 0
	case len(t.ScanTables) == 2:
		return 1
	default:
		return 2
	}
}
