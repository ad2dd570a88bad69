// Package qmeta holds the table-classification domain model shared by the
// parse frontend, the plugin pipeline, and the catalog: replicated,
// director, child, and match tables, and their partitioning parameters.
package qmeta

import (
	"fmt"

	"github.com/qserv/qserv/internal/spatial"
)

// Kind is the classification of a referenced table, per spec.md §3.
type Kind string

const (
	KindReplicated Kind = "replicated"
	KindDirector   Kind = "director"
	KindChild      Kind = "child"
	KindMatch      Kind = "match"
)

// Table describes one table's partitioning classification.
type Table struct {
	Database string
	Name     string
	Kind     Kind

	// Director-only: spatial partitioning columns and primary key.
	RAColumn  string
	DecColumn string
	PKColumn  string

	// Child-only: the director this table's FK points at.
	DirectorDB    string
	DirectorTable string
	FKColumn      string

	// Match-only: the two directors this table links, and the shared
	// partitioning id they must agree on.
	Director1DB, Director1Table string
	Director2DB, Director2Table string
	PartitioningID              string

	Striping spatial.StripingParams
}

// FullName returns the schema-qualified table name.
func (t Table) FullName() string {
	return t.Database + "." + t.Name
}

// Chunked reports whether the table is physically split across workers.
func (t Table) Chunked() bool {
	return t.Kind == KindDirector || t.Kind == KindChild || t.Kind == KindMatch
}

// SubChunkable reports whether near-neighbor self-joins against this table
// require sub-chunk materialization (only director tables carry overlap).
func (t Table) SubChunkable() bool {
	return t.Kind == KindDirector
}

// Validate enforces the invariants of spec.md §3: a child's director
// pointer is non-null; a match's two director pointers are non-null,
// distinct, and share a partitioning id.
func (t Table) Validate() error {
	switch t.Kind {
	case KindChild:
		if t.DirectorTable == "" {
			return fmt.Errorf("child table %s has no director", t.FullName())
		}
	case KindMatch:
		if t.Director1Table == "" || t.Director2Table == "" {
			return fmt.Errorf("match table %s is missing a director", t.FullName())
		}
		if t.Director1DB == t.Director2DB && t.Director1Table == t.Director2Table {
			return fmt.Errorf("match table %s has two identical directors", t.FullName())
		}
	}
	return nil
}

// Registry is a read-through lookup of Table classifications by qualified
// name, populated by the catalog. It is a plain in-process value type, not
// a persistence layer — the catalog package owns durable storage.
type Registry struct {
	tables map[string]Table
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]Table)}
}

func (r *Registry) Put(t Table) {
	r.tables[t.FullName()] = t
}

func (r *Registry) Get(db, name string) (Table, bool) {
	t, ok := r.tables[db+"."+name]
	return t, ok
}

// AgreeOnDominantDB checks that every chunked table among the given set
// references the same chunked database, per spec.md §3's invariant that
// director/child/match tables in a single query must agree on dominant
// database.
func AgreeOnDominantDB(tables []Table) (string, error) {
	dominant := ""
	for _, t := range tables {
		if !t.Chunked() {
			continue
		}
		if dominant == "" {
			dominant = t.Database
			continue
		}
		if dominant != t.Database {
			return "", fmt.Errorf("dominant-database mismatch: %s vs %s", dominant, t.Database)
		}
	}
	return dominant, nil
}
