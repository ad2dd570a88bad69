// Package catalog provides the chunk-metadata catalog collaborator named
// in spec.md §1: table classification, partitioning, and chunk assignment.
// Its internals are out of scope for correctness (the core only needs the
// interface honored), but a runnable repository needs a real body behind
// it — following the teacher's repository/mock-repository split, this
// package ships both a Postgres-backed implementation and an in-memory
// static one that every test in this module uses.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/qmeta"
)

// Catalog resolves table classification and the chunk assignment a
// director/child/match table is split across.
type Catalog interface {
	// Table returns the classification of a referenced table.
	Table(ctx context.Context, db, name string) (qmeta.Table, error)

	// Chunks returns every chunk id a chunked table is partitioned into.
	Chunks(ctx context.Context, db, table string) ([]int32, error)

	// CheckConnectivity verifies the catalog backend is reachable.
	CheckConnectivity(ctx context.Context) error

	Close() error
}

// StaticCatalog is an in-memory Catalog, grounded on the teacher's
// mock_repository.go pattern: no network dependency, deterministic,
// used throughout this module's tests.
type StaticCatalog struct {
	mu     sync.RWMutex
	tables map[string]qmeta.Table
	chunks map[string][]int32
}

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		tables: make(map[string]qmeta.Table),
		chunks: make(map[string][]int32),
	}
}

func (c *StaticCatalog) RegisterTable(t qmeta.Table, chunkIDs []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[t.FullName()] = t
	if t.Chunked() {
		c.chunks[t.FullName()] = chunkIDs
	}
}

func (c *StaticCatalog) Table(_ context.Context, db, name string) (qmeta.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[db+"."+name]
	if !ok {
		return qmeta.Table{}, errors.NewCatalogError(db+"."+name, fmt.Errorf("no such table"))
	}
	return t, nil
}

func (c *StaticCatalog) Chunks(_ context.Context, db, table string) ([]int32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chunks, ok := c.chunks[db+"."+table]
	if !ok {
		return nil, errors.NewCatalogError(db+"."+table, fmt.Errorf("no chunk assignment"))
	}
	out := make([]int32, len(chunks))
	copy(out, chunks)
	return out, nil
}

func (c *StaticCatalog) CheckConnectivity(_ context.Context) error { return nil }
func (c *StaticCatalog) Close() error                              { return nil }
