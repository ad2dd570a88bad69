// Package chunkresource implements the chunk resource manager named in
// spec.md §4.4: reference-counted lifecycle for on-demand materialized
// sub-chunk tables, so concurrent tasks on the same chunk share
// materialized tables and a table is dropped only when the last task
// using it completes.
//
// Grounded on the teacher's internal/storage connection-pool bookkeeping
// (map-of-maps guarded by a coarse mutex, with per-entry locking for the
// expensive operation), generalized from connections to (table, subchunk)
// refcounts.
package chunkresource

import (
	"fmt"
	"sync"

	"github.com/qserv/qserv/internal/errors"
)

// Backend performs the physical staging/unstaging of materialized
// sub-chunk tables. Real is backed by workerdb; Fake is used by tests.
type Backend interface {
	// Stage materializes (CREATE SUBCHUNK) the given table's sub-chunks.
	Stage(db string, chunkID int32, table string, subChunkIDs []int32) error

	// Unstage drops (DROP SUBCHUNK) the given table's sub-chunks.
	Unstage(db string, chunkID int32, table string, subChunkIDs []int32) error
}

// chunkEntry holds per-(table, subChunkID) reference counts for one
// (db, chunkId) pair, per spec.md §4.4's data model.
type chunkEntry struct {
	mu     sync.Mutex
	counts map[string]map[int32]int // table -> subChunkID -> refcount
}

func newChunkEntry() *chunkEntry {
	return &chunkEntry{counts: make(map[string]map[int32]int)}
}

func (e *chunkEntry) total() int {
	total := 0
	for _, sc := range e.counts {
		for _, n := range sc {
			total += n
		}
	}
	return total
}

// Manager is the chunk resource manager: Database → chunkId → ChunkEntry.
type Manager struct {
	backend Backend

	mu      sync.Mutex
	entries map[string]map[int32]*chunkEntry
}

// NewManager creates a resource manager staging through the given backend.
func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend, entries: make(map[string]map[int32]*chunkEntry)}
}

func (m *Manager) entryFor(db string, chunkID int32) *chunkEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	byChunk, ok := m.entries[db]
	if !ok {
		byChunk = make(map[int32]*chunkEntry)
		m.entries[db] = byChunk
	}
	entry, ok := byChunk[chunkID]
	if !ok {
		entry = newChunkEntry()
		byChunk[chunkID] = entry
	}
	return entry
}

// Acquire increments per-(table, subChunk) refcounts for every (table,
// subChunkID) pair named, staging any that are newly referenced. Callers
// on the same entry serialize briefly while the backend stages new
// tables, per spec.md §4.4's "acquisition blocks other acquirers on the
// same entry briefly" note.
func (m *Manager) Acquire(db string, chunkID int32, tables []string, subChunkIDs []int32) error {
	entry := m.entryFor(db, chunkID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	for _, table := range tables {
		sc, ok := entry.counts[table]
		if !ok {
			sc = make(map[int32]int)
			entry.counts[table] = sc
		}

		var newlyReferenced []int32
		for _, id := range subChunkIDs {
			if sc[id] == 0 {
				newlyReferenced = append(newlyReferenced, id)
			}
		}
		if len(newlyReferenced) > 0 {
			if err := m.backend.Stage(db, chunkID, table, newlyReferenced); err != nil {
				return errors.NewResourceError(db, chunkID, err)
			}
		}
		for _, id := range subChunkIDs {
			sc[id]++
		}
	}
	return nil
}

// Release decrements per-(table, subChunk) refcounts, unstaging any that
// reach zero. A release that would drive a refcount negative is a hard
// invariant violation, per spec.md §4.4: it returns an error before any
// of that table's counts change.
func (m *Manager) Release(db string, chunkID int32, tables []string, subChunkIDs []int32) error {
	entry := m.entryFor(db, chunkID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	for _, table := range tables {
		sc, ok := entry.counts[table]
		if !ok {
			return fmt.Errorf("chunkresource: release of untracked table %s in %s chunk %d", table, db, chunkID)
		}

		for _, id := range subChunkIDs {
			if sc[id] <= 0 {
				return fmt.Errorf("chunkresource: release would drive refcount negative for %s.%s subchunk %d in chunk %d", db, table, id, chunkID)
			}
		}

		var toDrop []int32
		for _, id := range subChunkIDs {
			sc[id]--
			if sc[id] == 0 {
				toDrop = append(toDrop, id)
			}
		}
		if len(toDrop) > 0 {
			if err := m.backend.Unstage(db, chunkID, table, toDrop); err != nil {
				return errors.NewResourceError(db, chunkID, err)
			}
			for _, id := range toDrop {
				delete(sc, id)
			}
		}
	}
	return nil
}

// Flush sweeps every zero-count entry for db, discarding its per-table
// bookkeeping. It does not call the backend: Release already unstages each
// sub-chunk table as soon as its refcount reaches zero.
func (m *Manager) Flush(db string) error {
	m.mu.Lock()
	byChunk := m.entries[db]
	chunks := make([]int32, 0, len(byChunk))
	for id := range byChunk {
		chunks = append(chunks, id)
	}
	m.mu.Unlock()

	for _, chunkID := range chunks {
		entry := m.entryFor(db, chunkID)
		entry.mu.Lock()
		if entry.total() == 0 {
			for table := range entry.counts {
				delete(entry.counts, table)
			}
		}
		entry.mu.Unlock()
	}
	return nil
}

// RefCount returns the current refcount for one (table, subChunk) pair,
// for tests asserting the ≥0 invariant and acquire/release bookkeeping.
func (m *Manager) RefCount(db string, chunkID int32, table string, subChunkID int32) int {
	entry := m.entryFor(db, chunkID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.counts[table][subChunkID]
}
