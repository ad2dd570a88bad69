// Package qsession implements the query session named in spec.md §4.1: a
// parse-tree-driven SELECT rewriter that turns a user query into a family
// of per-chunk parallel query templates plus a merge-phase statement,
// using a fixed-order plugin pipeline.
package qsession

import (
	"github.com/dolthub/vitess/go/vt/sqlparser"

	"github.com/qserv/qserv/internal/qmeta"
)

// AliasedTable is one resolved from-list entry: its user-visible alias and
// its classification (looked up from the catalog by the Table plugin).
type AliasedTable struct {
	Alias string
	Table qmeta.Table
}

// QueryContext is the ambient state a plugin may consult or mutate while
// the pipeline runs, per spec.md §3's "Query context" data model.
type QueryContext struct {
	DefaultDB  string
	DominantDB string

	// AliasToTable maps every from-list alias to its resolved table
	// classification, populated by the Table plugin.
	AliasToTable map[string]AliasedTable

	// Restrictors are the spatial/key-membership predicates extracted
	// from WHERE by the parse frontend.
	Restrictors []qmeta.Restrictor

	// ScanTables is the set of table aliases classified as a shared-scan
	// candidate by the ScanTable plugin.
	ScanTables []string

	// NeedsMerge is set by the Aggregate plugin when any aggregate
	// function requires a merge-phase finisher.
	NeedsMerge bool

	// SubChunked is true when two chunked tables are joined without a
	// key-equi-join on their partitioning keys (a near-neighbor
	// self-join), computed once logical plugins have classified every
	// from-list table.
	SubChunked bool

	// HasPositionalOrderBy carries forward the parse frontend's rejection
	// signal; Post turns it into a hard analysis error.
	HasPositionalOrderBy bool

	// MergeSelectList is the merge-phase select-list text, assembled by
	// the Aggregate plugin when aggregation requires a finisher
	// (COUNT->SUM, AVG->SUM/SUM). Post selects * when it is empty.
	MergeSelectList string

	// MergeGroupBy / MergeHaving / MergeOrderBy / MergeLimit carry the
	// merge-phase clause text, assembled by Post.
	MergeGroupBy string
	MergeHaving  string
	MergeOrderBy string
	MergeLimit   string
}

// NewQueryContext creates an empty context for a new session query.
func NewQueryContext(defaultDB string) *QueryContext {
	return &QueryContext{
		DefaultDB:    defaultDB,
		AliasToTable: make(map[string]AliasedTable),
	}
}

// chunkedAliases returns every alias classified as a chunked table
// (director, child, or match), in FROM-list order.
func (c *QueryContext) chunkedAliases(order []string) []string {
	var out []string
	for _, alias := range order {
		at, ok := c.AliasToTable[alias]
		if ok && at.Table.Chunked() {
			out = append(out, alias)
		}
	}
	return out
}

// aliasOrder returns the from-list aliases of a SELECT in declaration order.
func aliasOrder(sel *sqlparser.Select) []string {
	var order []string
	var walk func(expr sqlparser.TableExpr)
	walk = func(expr sqlparser.TableExpr) {
		switch t := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			order = append(order, t.As.String())
		case *sqlparser.JoinTableExpr:
			walk(t.LeftExpr)
			walk(t.RightExpr)
		case *sqlparser.ParenTableExpr:
			for _, e := range t.Exprs {
				walk(e)
			}
		}
	}
	for _, tableExpr := range sel.From {
		walk(tableExpr)
	}
	return order
}
