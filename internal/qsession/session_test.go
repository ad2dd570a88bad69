package qsession

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/catalog"
	"github.com/qserv/qserv/internal/qmeta"
	qservsql "github.com/qserv/qserv/internal/sql"
)

func newTestCatalog() *catalog.StaticCatalog {
	c := catalog.NewStaticCatalog()
	c.RegisterTable(qmeta.Table{
		Database: "LSST", Name: "Object", Kind: qmeta.KindDirector,
		RAColumn: "ra", DecColumn: "decl", PKColumn: "objectId",
	}, []int32{1, 2, 3})
	c.RegisterTable(qmeta.Table{
		Database: "LSST", Name: "Filter", Kind: qmeta.KindReplicated,
	}, nil)
	c.RegisterTable(qmeta.Table{
		Database: "LSST", Name: "Source", Kind: qmeta.KindChild,
		DirectorDB: "LSST", DirectorTable: "Object", FKColumn: "objectId",
	}, []int32{1, 2, 3})
	return c
}

func newTestSession() *QuerySession {
	parser := qservsql.NewParser()
	cat := newTestCatalog()
	return NewQuerySession(parser, cat)
}

func TestSetQuery_TrivialSub(t *testing.T) {
	s := newTestSession()
	err := s.SetQuery("LSST", "SELECT * FROM Object WHERE someField > 5.0")
	require.NoError(t, err)
	assert.False(t, s.NeedsMerge())
	rendered := rendersParallel(t, s)
	assert.Contains(t, rendered, "Object_1")
}

func TestSetQuery_NoSubReplicated(t *testing.T) {
	s := newTestSession()
	err := s.SetQuery("LSST", "SELECT * FROM Filter WHERE filterId = 4")
	require.NoError(t, err)
	rendered := rendersParallel(t, s)
	assert.NotContains(t, rendered, "CHUNK_TAG")
}

func TestSetQuery_Aggregate(t *testing.T) {
	s := newTestSession()
	err := s.SetQuery("LSST", "SELECT SUM(x), AVG(y) FROM Object GROUP BY chunkId")
	require.NoError(t, err)
	assert.True(t, s.NeedsMerge())
	merge := s.GetMergeStmt()
	assert.Contains(t, merge, "SUM(")
	// The merge SELECT must re-group across chunks, or the accumulated
	// per-chunk partials collapse into a single row.
	assert.Contains(t, strings.ToLower(merge), "group by chunkid")
}

func TestSetQuery_BoxRestrictor(t *testing.T) {
	s := newTestSession()
	err := s.SetQuery("LSST", "SELECT * FROM Object WHERE qserv_areaspec_box(0, 0, 1, 1)")
	require.NoError(t, err)
	require.Len(t, s.GetConstraints(), 1)
	assert.Equal(t, qmeta.RestrictorAreaBox, s.GetConstraints()[0].Kind)
	rendered := rendersParallel(t, s)
	assert.Contains(t, rendered, "scisql_s2PtInBox")
}

func TestSetQuery_NearNeighborSelfJoinIsSubChunked(t *testing.T) {
	s := newTestSession()
	err := s.SetQuery("LSST", "SELECT count(*) FROM Object o1, Object o2 WHERE qserv_areaspec_box(6,6,7,7) AND o1.ra > 6")
	require.NoError(t, err)
	assert.True(t, s.ctx.SubChunked)

	fragments := renderFragments(s.physical, s.ctx, ChunkSpec{ChunkID: 1, SubChunkIDs: []int32{1, 2}})
	// 2x2 plain sub-chunk pairings plus a matching overlap variant per
	// pairing, to catch near-neighbor matches across a sub-chunk boundary.
	require.Len(t, fragments, 8)
	var sawOverlap, sawPlain bool
	for _, f := range fragments {
		if strings.Contains(f, "FullOverlap") {
			sawOverlap = true
		} else {
			sawPlain = true
		}
	}
	assert.True(t, sawPlain, "expected at least one plain sub-chunk x sub-chunk fragment")
	assert.True(t, sawOverlap, "expected at least one sub-chunk x sub-chunk-overlap fragment")
}

func TestSetQuery_EquiJoinIsNotSubChunked(t *testing.T) {
	s := newTestSession()
	err := s.SetQuery("LSST", "SELECT * FROM Object o JOIN Source src ON o.objectId = src.objectId")
	require.NoError(t, err)
	assert.False(t, s.ctx.SubChunked)
}

func TestCQueryBegin_InjectsDummyChunkWhenEmpty(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.SetQuery("LSST", "SELECT * FROM Filter WHERE filterId = 4"))
	it, err := s.CQueryBegin()
	require.NoError(t, err)
	spec, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, int32(0), spec.ChunkID)
	_, ok = it.Next()
	assert.False(t, ok)
}

func TestCQueryBegin_CoversEveryAddedChunkExactlyOnce(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.SetQuery("LSST", "SELECT * FROM Object WHERE someField > 1"))
	require.NoError(t, s.AddChunk(ChunkSpec{ChunkID: 1}))
	require.NoError(t, s.AddChunk(ChunkSpec{ChunkID: 2}))
	require.NoError(t, s.AddChunk(ChunkSpec{ChunkID: 3}))

	it, err := s.CQueryBegin()
	require.NoError(t, err)
	seen := map[int32]bool{}
	for {
		spec, ok := it.Next()
		if !ok {
			break
		}
		seen[spec.ChunkID] = true
	}
	assert.Equal(t, map[int32]bool{1: true, 2: true, 3: true}, seen)
}

func TestSetQuery_RejectsUnknownTable(t *testing.T) {
	s := newTestSession()
	err := s.SetQuery("LSST", "SELECT * FROM NoSuchTable")
	assert.Error(t, err)
}

func rendersParallel(t *testing.T, s *QuerySession) string {
	t.Helper()
	var b strings.Builder
	for _, f := range renderFragments(s.physical, s.ctx, ChunkSpec{ChunkID: 1}) {
		b.WriteString(f)
	}
	return b.String()
}
