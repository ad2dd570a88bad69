package redflag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/catalog"
	"github.com/qserv/qserv/internal/qmeta"
	"github.com/qserv/qserv/internal/qsession"
	qservsql "github.com/qserv/qserv/internal/sql"
)

func newCoverageCatalog() *catalog.StaticCatalog {
	c := catalog.NewStaticCatalog()
	c.RegisterTable(qmeta.Table{
		Database: "LSST", Name: "Object", Kind: qmeta.KindDirector,
		RAColumn: "ra", DecColumn: "decl", PKColumn: "objectId",
	}, []int32{1, 2, 3, 4, 5})
	return c
}

// TestChunkIteratorCoversEveryAddedChunkExactlyOnce proves spec.md §8's
// first quantified invariant: the union over cQueryBegin..End of emitted
// ChunkQuerySpecs covers every chunk added to the session exactly once.
func TestChunkIteratorCoversEveryAddedChunkExactlyOnce(t *testing.T) {
	session := qsession.NewQuerySession(qservsql.NewParser(), newCoverageCatalog())
	require.NoError(t, session.SetQuery("LSST", "SELECT * FROM Object WHERE objectId > 0"))

	added := []int32{1, 2, 3, 4, 5}
	for _, chunkID := range added {
		require.NoError(t, session.AddChunk(qsession.ChunkSpec{ChunkID: chunkID}))
	}

	it, err := session.CQueryBegin()
	require.NoError(t, err)

	seen := make(map[int32]int)
	for spec, ok := it.Next(); ok; spec, ok = it.Next() {
		seen[spec.ChunkID]++
	}

	require.Len(t, seen, len(added), "every added chunk must appear in the emitted spec set")
	for _, chunkID := range added {
		require.Equal(t, 1, seen[chunkID], "chunk %d must be covered exactly once, got %d", chunkID, seen[chunkID])
	}
}

// TestChunkIteratorInjectsDummyChunkWhenEmpty proves the companion
// invariant: a session with no chunks added still runs its parallel
// statement exactly once, via a single synthetic chunk spec, so
// chunk-independent queries (e.g. against a replicated table) are not
// silently skipped.
func TestChunkIteratorInjectsDummyChunkWhenEmpty(t *testing.T) {
	session := qsession.NewQuerySession(qservsql.NewParser(), newCoverageCatalog())
	require.NoError(t, session.SetQuery("LSST", "SELECT * FROM Object WHERE objectId > 0"))

	it, err := session.CQueryBegin()
	require.NoError(t, err)

	count := 0
	for _, ok := it.Next(); ok; _, ok = it.Next() {
		count++
	}
	require.Equal(t, 1, count, "a session with no chunks added must still emit exactly one dummy spec")
}
