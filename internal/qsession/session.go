package qsession

import (
	"fmt"
	"strings"

	"github.com/dolthub/vitess/go/vt/sqlparser"

	"github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/qmeta"
	qservsql "github.com/qserv/qserv/internal/sql"
)

// QuerySession translates a user SELECT into a physical plan and produces
// per-chunk concrete query strings on demand, per spec.md §4.1's
// "Responsibility" and "Operations".
type QuerySession struct {
	parser   *qservsql.Parser
	resolver TableResolver
	plugins  []Plugin

	ctx      *QueryContext
	logical  *qservsql.LogicalPlan
	physical *PhysicalPlan

	chunks []ChunkSpec
	err    error
}

// NewQuerySession creates a session bound to a catalog (table resolver);
// the default database is supplied per query to SetQuery.
func NewQuerySession(parser *qservsql.Parser, resolver TableResolver) *QuerySession {
	return &QuerySession{
		parser:   parser,
		resolver: resolver,
		plugins:  Pipeline(resolver),
	}
}

// SetQuery parses the query text and runs the plugin pipeline. Never
// partial: on success the session is ready for iteration; on failure err
// is returned and also recorded, and iteration is rejected until Reset.
func (s *QuerySession) SetQuery(defaultDB, text string) error {
	s.ctx = nil
	s.logical = nil
	s.physical = nil
	s.chunks = nil
	s.err = nil

	lp, err := s.parser.Parse(text)
	if err != nil {
		s.err = err
		return err
	}

	ctx := NewQueryContext(defaultDB)
	ctx.HasPositionalOrderBy = lp.HasPositionalOrderBy

	for _, pl := range s.plugins {
		pl.Prepare(ctx)
	}
	for _, pl := range s.plugins {
		if err := pl.ApplyLogical(ctx, lp); err != nil {
			s.err = err
			return err
		}
	}

	ctx.SubChunked = isSubChunked(ctx, lp.Stmt)

	pp := &PhysicalPlan{
		ParallelStmt: sqlparser.CloneRefOfSelect(lp.Stmt),
		Threshold:    DefaultFragmentThreshold,
	}
	for _, pl := range s.plugins {
		if err := pl.ApplyPhysical(ctx, pp); err != nil {
			s.err = err
			return err
		}
	}

	// The exact chunk count isn't realized until addChunk, so shared-scan
	// classification is cleared below ScanTableThreshold only once
	// iteration begins (see CQueryBegin).
	s.ctx = ctx
	s.logical = lp
	s.physical = pp
	return nil
}

// isSubChunked implements spec.md §4.1's "Physical plan and sub-chunking":
// a query is sub-chunked when two chunked tables are joined without a
// key-equi-join on their partitioning keys.
func isSubChunked(ctx *QueryContext, sel *sqlparser.Select) bool {
	order := aliasOrder(sel)
	chunked := ctx.chunkedAliases(order)
	if len(chunked) < 2 {
		return false
	}
	if sel.Where == nil {
		return true
	}
	for _, a := range chunked {
		for _, b := range chunked {
			if a == b {
				continue
			}
			if hasEquiJoin(sel.Where.Expr, a, b, ctx) {
				return false
			}
		}
	}
	return true
}

// hasEquiJoin reports whether the WHERE tree contains an equality
// comparison between alias a's primary key and alias b's foreign key (or
// vice versa) — the marker of a proper key-equi-join rather than an
// implicit near-neighbor cross product.
func hasEquiJoin(expr sqlparser.Expr, a, b string, ctx *QueryContext) bool {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		return hasEquiJoin(e.Left, a, b, ctx) || hasEquiJoin(e.Right, a, b, ctx)
	case *sqlparser.ParenExpr:
		return hasEquiJoin(e.Expr, a, b, ctx)
	case *sqlparser.ComparisonExpr:
		if e.Operator != sqlparser.EqualOp {
			return false
		}
		lc, lok := e.Left.(*sqlparser.ColName)
		rc, rok := e.Right.(*sqlparser.ColName)
		if !lok || !rok {
			return false
		}
		la, ra := lc.Qualifier.Name.String(), rc.Qualifier.Name.String()
		aKey := keyColumnFor(a, ctx)
		bKey := keyColumnFor(b, ctx)
		if la == a && ra == b {
			return lc.Name.String() == aKey && rc.Name.String() == bKey
		}
		if la == b && ra == a {
			return lc.Name.String() == bKey && rc.Name.String() == aKey
		}
		return false
	}
	return false
}

func keyColumnFor(alias string, ctx *QueryContext) string {
	at, ok := ctx.AliasToTable[alias]
	if !ok {
		return ""
	}
	if at.Table.Kind == qmeta.KindChild {
		return at.Table.FKColumn
	}
	return at.Table.PKColumn
}

// AddChunk appends a runnable chunk to the session.
func (s *QuerySession) AddChunk(chunk ChunkSpec) error {
	if s.err != nil {
		return s.err
	}
	if s.physical == nil {
		return fmt.Errorf("qsession: AddChunk called before a successful SetQuery")
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

// GetConstraints returns the restrictors extracted from WHERE, for the
// caller's chunk-set determination against the catalog.
func (s *QuerySession) GetConstraints() []qmeta.Restrictor {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Restrictors
}

// NeedsMerge reports whether a merge-phase statement must run.
func (s *QuerySession) NeedsMerge() bool {
	return s.ctx != nil && s.ctx.NeedsMerge
}

// DominantDB returns the single database every chunked table referenced
// by the query agreed on, populated by the Table plugin's dominant-DB
// check. Empty before a successful SetQuery.
func (s *QuerySession) DominantDB() string {
	if s.ctx == nil {
		return ""
	}
	return s.ctx.DominantDB
}

// ChunkedTables returns the distinct chunked-table classifications
// referenced by the query's from-list, for the caller's chunk-set lookup
// against the catalog (every chunked table sharing a database shares its
// partitioning, so any one of them names the chunk set to iterate).
func (s *QuerySession) ChunkedTables() []qmeta.Table {
	if s.ctx == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []qmeta.Table
	for _, at := range s.ctx.AliasToTable {
		if !at.Table.Chunked() || seen[at.Table.FullName()] {
			continue
		}
		seen[at.Table.FullName()] = true
		out = append(out, at.Table)
	}
	return out
}

// GetMergeStmt returns the merge-phase statement text, or "" when no
// post-processing is required.
func (s *QuerySession) GetMergeStmt() string {
	if s.physical == nil || s.physical.MergeStmt == nil {
		return ""
	}
	return *s.physical.MergeStmt
}

// MakeMergeFixup renders the merge statement against a concrete result
// table name, substituting the internal placeholder the Post plugin left.
func (s *QuerySession) MakeMergeFixup(resultTable string) string {
	stmt := s.GetMergeStmt()
	if stmt == "" {
		return ""
	}
	return strings.ReplaceAll(stmt, "__merge__", resultTable)
}

// CQueryBegin returns a forward-only iterator over ChunkQuerySpec values.
// If no chunks were added, a single dummy chunk is injected so the
// parallel SELECT still runs once, per spec.md §4.1's "cQueryBegin" row.
func (s *QuerySession) CQueryBegin() (*ChunkIterator, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.physical == nil {
		return nil, errors.NewAnalysisError(
			"iteration before setQuery",
			"cQueryBegin was called before a query was set",
			"call SetQuery before iterating",
		)
	}

	chunks := s.chunks
	if len(chunks) == 0 {
		chunks = []ChunkSpec{{ChunkID: 0}}
	}
	if len(chunks) < ScanTableThreshold {
		s.ctx.ScanTables = nil
	}

	pending := make([]*ChunkQuerySpec, 0, len(chunks))
	for _, c := range chunks {
		pending = append(pending, buildChunkQuerySpec(s.physical, s.ctx, s.ctx.DominantDB, c))
	}
	return &ChunkIterator{pending: pending}, nil
}

// Reset returns the session to its pre-setQuery state.
func (s *QuerySession) Reset() {
	s.ctx = nil
	s.logical = nil
	s.physical = nil
	s.chunks = nil
	s.err = nil
}
