package qsession

import (
	"strconv"
	"strings"

	"github.com/dolthub/vitess/go/vt/sqlparser"
)

// Placeholders substituted into the rendered parallel template text when a
// concrete chunk (and, for sub-chunked queries, sub-chunk pair) is bound.
const (
	chunkTag = "CHUNK_TAG"
)

func subChunkTag(alias string) string {
	return "SUBCHUNK_TAG_" + alias
}

// overlapTag marks where a chunked alias's table-name template picks
// between its plain sub-chunk partition and its full-overlap partition
// (the boundary rows replicated from neighboring sub-chunks, per the
// GLOSSARY's "Overlap"). It resolves to "" for the plain table and
// "FullOverlap" for the overlap table.
func overlapTag(alias string) string {
	return "OVERLAP_TAG_" + alias
}

// PhysicalPlan is the concrete plan built after logical plugins run: the
// templated parallel statement (with CHUNK_TAG/SUBCHUNK_TAG_<alias>
// placeholders for chunked table names), the merge-phase statement (nil
// when no post-processing is required), and the sub-chunk fragmentation
// threshold.
type PhysicalPlan struct {
	ParallelStmt *sqlparser.Select

	// MergeStmt is the merge-phase SELECT text, nil when no
	// post-processing is required (no aggregation, no ORDER BY deferred
	// to merge). It is assembled as text, not an AST, since it runs
	// against the client-local merged result table rather than the
	// parsed schema.
	MergeStmt *string
	Threshold int
}

// DefaultFragmentThreshold is the sub-chunk-count above which a chunk's
// fragment list is split across linked ChunkQuerySpec follow-ons, per
// spec.md §4.1's "configurable threshold, default 20".
const DefaultFragmentThreshold = 20

// ChunkSpec is a caller-supplied runnable unit: a chunk id and, for
// sub-chunked queries, the sub-chunk ids to materialize within it.
type ChunkSpec struct {
	ChunkID     int32
	SubChunkIDs []int32
}

// ChunkQuerySpec is the per-chunk unit the Executive dispatches, per
// spec.md §3's "ChunkQuerySpec" data model.
type ChunkQuerySpec struct {
	DominantDB  string
	ChunkID     int32
	Fragments   []string
	SubChunkIDs []int32
	ScanTables  []string

	// Next chains a follow-on fragment batch when a chunk's sub-chunk
	// count exceeds the fragmenter threshold.
	Next *ChunkQuerySpec
}

// renderFragments instantiates the parallel template for one chunk,
// producing one fragment per (alias×alias) sub-chunk pairing when the
// query is sub-chunked, or a single fragment otherwise. Sub-chunked
// queries additionally emit, for every (i,j) pairing, an overlap variant
// that joins against the last aliased table's full-overlap partition
// instead of its plain one, per spec.md §4.1's "plus (sub-chunk ×
// sub-chunk-overlap) to capture matches across sub-chunk boundaries".
func renderFragments(pp *PhysicalPlan, ctx *QueryContext, chunk ChunkSpec) []string {
	base := sqlparser.String(pp.ParallelStmt)
	chunkID := strconv.Itoa(int(chunk.ChunkID))

	if !ctx.SubChunked || len(chunk.SubChunkIDs) == 0 {
		return []string{strings.ReplaceAll(base, chunkTag, chunkID)}
	}

	chunkedAliases := ctx.chunkedAliasesFromMap()
	overlapIdx := len(chunkedAliases) - 1

	// CHUNK_TAG is a substring of every SUBCHUNK_TAG_<alias>, so it is
	// substituted only after the sub-chunk tags.
	var fragments []string
	for _, i := range chunk.SubChunkIDs {
		for _, j := range chunk.SubChunkIDs {
			plain := renderSubChunkPairing(base, chunkedAliases, i, j, -1)
			fragments = append(fragments, strings.ReplaceAll(plain, chunkTag, chunkID))
			if len(chunkedAliases) > 1 {
				overlap := renderSubChunkPairing(base, chunkedAliases, i, j, overlapIdx)
				fragments = append(fragments, strings.ReplaceAll(overlap, chunkTag, chunkID))
			}
		}
	}
	return fragments
}

// renderSubChunkPairing substitutes one (i, j) sub-chunk pairing into
// base. overlapAlias is the index into chunkedAliases whose table should
// resolve to its full-overlap partition; -1 selects the plain pairing.
func renderSubChunkPairing(base string, chunkedAliases []string, i, j int32, overlapAlias int) string {
	frag := base
	for idx, alias := range chunkedAliases {
		val := i
		if idx%2 == 1 {
			val = j
		}
		frag = strings.ReplaceAll(frag, subChunkTag(alias), strconv.Itoa(int(val)))
		overlap := ""
		if idx == overlapAlias {
			overlap = "FullOverlap"
		}
		frag = strings.ReplaceAll(frag, overlapTag(alias), overlap)
	}
	return frag
}

// chunkedAliasesFromMap returns the chunked aliases in a stable, sorted
// order so sub-chunk substitution is deterministic across renders.
func (c *QueryContext) chunkedAliasesFromMap() []string {
	var out []string
	for alias, at := range c.AliasToTable {
		if at.Table.Chunked() {
			out = append(out, alias)
		}
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// buildChunkQuerySpec renders one chunk into a (possibly chained)
// ChunkQuerySpec, fragmenting sub-chunk lists longer than pp.Threshold.
func buildChunkQuerySpec(pp *PhysicalPlan, ctx *QueryContext, dominantDB string, chunk ChunkSpec) *ChunkQuerySpec {
	threshold := pp.Threshold
	if threshold <= 0 {
		threshold = DefaultFragmentThreshold
	}

	if !ctx.SubChunked || len(chunk.SubChunkIDs) <= threshold {
		return &ChunkQuerySpec{
			DominantDB:  dominantDB,
			ChunkID:     chunk.ChunkID,
			Fragments:   renderFragments(pp, ctx, chunk),
			SubChunkIDs: chunk.SubChunkIDs,
			ScanTables:  ctx.ScanTables,
		}
	}

	head := ChunkSpec{ChunkID: chunk.ChunkID, SubChunkIDs: chunk.SubChunkIDs[:threshold]}
	tail := ChunkSpec{ChunkID: chunk.ChunkID, SubChunkIDs: chunk.SubChunkIDs[threshold:]}

	spec := &ChunkQuerySpec{
		DominantDB:  dominantDB,
		ChunkID:     chunk.ChunkID,
		Fragments:   renderFragments(pp, ctx, head),
		SubChunkIDs: head.SubChunkIDs,
		ScanTables:  ctx.ScanTables,
	}
	spec.Next = buildChunkQuerySpec(pp, ctx, dominantDB, tail)
	return spec
}

// ChunkIterator is the forward-only, pull-based iterator of spec.md §9's
// "coroutine-like iteration" note: a plain stateful struct, not a
// goroutine-backed generator.
type ChunkIterator struct {
	pending []*ChunkQuerySpec
	pos     int
}

// Next returns the next ChunkQuerySpec and true, or a zero value and false
// once every chunk (and its follow-on fragments) has been yielded.
func (it *ChunkIterator) Next() (ChunkQuerySpec, bool) {
	if it.pos >= len(it.pending) {
		return ChunkQuerySpec{}, false
	}
	spec := it.pending[it.pos]
	if spec.Next != nil {
		it.pending[it.pos] = spec.Next
	} else {
		it.pos++
	}
	out := *spec
	out.Next = nil
	return out, true
}
