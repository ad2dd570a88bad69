package catalog

import (
	"context"
	"database/sql"
	"sync"

	"github.com/lib/pq"

	"github.com/qserv/qserv/internal/errors"
)

// SecondaryIndex is the secondary-index lookup service named in spec.md §1,
// mirroring original_source/core/modules/qproc/SecondaryIndex.cc: it maps
// director primary-key values directly to the chunk id(s) holding them, so
// the `qserv_objectId(...)` restrictor can prune the chunk set without a
// full scan.
type SecondaryIndex interface {
	Lookup(ctx context.Context, db, directorTable string, keys []int64) (map[int64]int32, error)
}

// StaticIndex is an in-memory SecondaryIndex test double.
type StaticIndex struct {
	mu    sync.RWMutex
	index map[string]map[int64]int32 // "db.table" -> key -> chunkId
}

func NewStaticIndex() *StaticIndex {
	return &StaticIndex{index: make(map[string]map[int64]int32)}
}

func (s *StaticIndex) Put(db, table string, key int64, chunkID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := db + "." + table
	if s.index[k] == nil {
		s.index[k] = make(map[int64]int32)
	}
	s.index[k][key] = chunkID
}

func (s *StaticIndex) Lookup(_ context.Context, db, table string, keys []int64) (map[int64]int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table2 := s.index[db+"."+table]
	result := make(map[int64]int32, len(keys))
	for _, k := range keys {
		if chunk, ok := table2[k]; ok {
			result[k] = chunk
		}
	}
	return result, nil
}

// PostgresIndex is the production SecondaryIndex, a single flat
// (db, table, key, chunk_id) table shared with the catalog's connection.
type PostgresIndex struct {
	db *sql.DB
}

func NewPostgresIndex(db *sql.DB) *PostgresIndex {
	return &PostgresIndex{db: db}
}

func (p *PostgresIndex) Lookup(ctx context.Context, db, table string, keys []int64) (map[int64]int32, error) {
	if len(keys) == 0 {
		return map[int64]int32{}, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT key_value, chunk_id FROM qserv_secondary_index WHERE database = $1 AND table_name = $2 AND key_value = ANY($3)`,
		db, table, pq.Array(keys))
	if err != nil {
		return nil, errors.NewCatalogError(db+"."+table, err)
	}
	defer rows.Close()

	result := make(map[int64]int32, len(keys))
	for rows.Next() {
		var key int64
		var chunk int32
		if err := rows.Scan(&key, &chunk); err != nil {
			return nil, errors.NewCatalogError(db+"."+table, err)
		}
		result[key] = chunk
	}
	return result, rows.Err()
}

