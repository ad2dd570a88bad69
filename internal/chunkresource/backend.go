package chunkresource

import (
	"context"
	"fmt"
	"sync"
)

// Execer is the narrow subset of workerdb.Engine this package needs,
// kept separate so chunkresource never imports workerdb — the dependency
// runs the other way (wexec wires both together).
type Execer interface {
	Exec(ctx context.Context, sql string) error
}

// RealBackend stages sub-chunk tables against the worker-local engine via
// CREATE/DROP SUBCHUNK SQL scripts, per spec.md §4.4's "real engine via a
// CREATE SUBCHUNK SQL script" operation. Table naming follows spec.md §6's
// persisted-state convention: Subchunks_<db>_<chunkId>.<table>_<subChunkId>.
type RealBackend struct {
	engine Execer
}

// NewRealBackend wraps a worker engine handle as a chunkresource Backend.
func NewRealBackend(engine Execer) *RealBackend {
	return &RealBackend{engine: engine}
}

func subChunkTableName(db string, chunkID int32, table string, subChunkID int32) string {
	return fmt.Sprintf("Subchunks_%s_%d.%s_%d", db, chunkID, table, subChunkID)
}

func (b *RealBackend) Stage(db string, chunkID int32, table string, subChunkIDs []int32) error {
	for _, id := range subChunkIDs {
		name := subChunkTableName(db, chunkID, table, id)
		stmt := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s AS SELECT * FROM %s.%s WHERE 1=0",
			name, db, table,
		)
		if err := b.engine.Exec(context.Background(), stmt); err != nil {
			return fmt.Errorf("chunkresource: stage %s: %w", name, err)
		}
	}
	return nil
}

func (b *RealBackend) Unstage(db string, chunkID int32, table string, subChunkIDs []int32) error {
	for _, id := range subChunkIDs {
		name := subChunkTableName(db, chunkID, table, id)
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", name)
		if err := b.engine.Exec(context.Background(), stmt); err != nil {
			return fmt.Errorf("chunkresource: unstage %s: %w", name, err)
		}
	}
	return nil
}

// FakeBackend is an in-memory Backend for tests: it records staged sets
// without touching a real engine.
type FakeBackend struct {
	mu     sync.Mutex
	staged map[string]bool // "db/chunk/table/subchunk" -> staged
	fail   bool
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{staged: make(map[string]bool)}
}

// FailNext causes the next Stage or Unstage call to return an error, for
// exercising the resource-error path.
func (b *FakeBackend) FailNext() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = true
}

func key(db string, chunkID int32, table string, subChunkID int32) string {
	return fmt.Sprintf("%s/%d/%s/%d", db, chunkID, table, subChunkID)
}

func (b *FakeBackend) Stage(db string, chunkID int32, table string, subChunkIDs []int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		b.fail = false
		return fmt.Errorf("fake backend: stage failure injected")
	}
	for _, id := range subChunkIDs {
		b.staged[key(db, chunkID, table, id)] = true
	}
	return nil
}

func (b *FakeBackend) Unstage(db string, chunkID int32, table string, subChunkIDs []int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		b.fail = false
		return fmt.Errorf("fake backend: unstage failure injected")
	}
	for _, id := range subChunkIDs {
		delete(b.staged, key(db, chunkID, table, id))
	}
	return nil
}

// IsStaged reports whether a (table, subChunkID) pair is currently staged,
// for test assertions.
func (b *FakeBackend) IsStaged(db string, chunkID int32, table string, subChunkID int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.staged[key(db, chunkID, table, subChunkID)]
}

// StagedCount returns the total number of currently staged (table,
// subchunk) pairs, for leak-detection assertions.
func (b *FakeBackend) StagedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}
