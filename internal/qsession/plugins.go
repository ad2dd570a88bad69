package qsession

import (
	"context"
	"fmt"
	"strings"

	"github.com/dolthub/vitess/go/vt/sqlparser"

	"github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/qmeta"
	qservsql "github.com/qserv/qserv/internal/sql"
)

// TableResolver is the narrow slice of internal/catalog.Catalog the Table
// plugin needs: classification lookup by qualified name.
type TableResolver interface {
	Table(ctx context.Context, db, name string) (qmeta.Table, error)
}

// --- 1. DuplicateSelectExpr --------------------------------------------

// DuplicateSelectExprPlugin rejects output-expression aliases that repeat,
// per spec.md §4.1's plugin table row 1.
type DuplicateSelectExprPlugin struct{}

func (p *DuplicateSelectExprPlugin) Name() string           { return "DuplicateSelectExpr" }
func (p *DuplicateSelectExprPlugin) Prepare(*QueryContext)   {}
func (p *DuplicateSelectExprPlugin) ApplyPhysical(*QueryContext, *PhysicalPlan) error { return nil }

func (p *DuplicateSelectExprPlugin) ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error {
	seen := make(map[string]bool)
	for _, expr := range lp.Stmt.SelectExprs {
		aliased, ok := expr.(*sqlparser.AliasedExpr)
		if !ok || aliased.As.IsEmpty() {
			continue
		}
		name := aliased.As.String()
		if seen[name] {
			return errors.NewAnalysisError(
				"duplicate select-expression alias",
				fmt.Sprintf("alias %q is used more than once in the select list", name),
				"give each output expression a distinct alias",
			)
		}
		seen[name] = true
	}
	return nil
}

// --- 2. Where ------------------------------------------------------------

// WherePlugin adopts the restrictor list the parse frontend already
// extracted and simplifies redundant parenthesization left behind by
// restrictor removal.
type WherePlugin struct{}

func (p *WherePlugin) Name() string                                        { return "Where" }
func (p *WherePlugin) Prepare(*QueryContext)                                {}
func (p *WherePlugin) ApplyPhysical(*QueryContext, *PhysicalPlan) error     { return nil }

func (p *WherePlugin) ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error {
	ctx.Restrictors = lp.Restrictors
	if lp.Stmt.Where != nil {
		lp.Stmt.Where.Expr = simplifyParens(lp.Stmt.Where.Expr)
	}
	return nil
}

func simplifyParens(expr sqlparser.Expr) sqlparser.Expr {
	for {
		paren, ok := expr.(*sqlparser.ParenExpr)
		if !ok {
			return expr
		}
		expr = paren.Expr
	}
}

// --- 3. Aggregate ----------------------------------------------------------

// AggregatePlugin identifies aggregate functions in the select list and
// splits each into a parallel partial aggregation plus a merge-phase
// finisher, per spec.md §4.1's plugin table row 3.
type AggregatePlugin struct{}

func (p *AggregatePlugin) Name() string                                    { return "Aggregate" }
func (p *AggregatePlugin) Prepare(*QueryContext)                           {}
func (p *AggregatePlugin) ApplyPhysical(*QueryContext, *PhysicalPlan) error { return nil }

func (p *AggregatePlugin) ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error {
	var mergeList []string
	rewrote := false

	for i, expr := range lp.Stmt.SelectExprs {
		aliased, ok := expr.(*sqlparser.AliasedExpr)
		if !ok {
			mergeList = append(mergeList, sqlparser.String(expr))
			continue
		}
		fn, ok := aliased.Expr.(*sqlparser.FuncExpr)
		if !ok {
			mergeList = append(mergeList, sqlparser.String(expr))
			continue
		}

		name := strings.ToUpper(fn.Name.String())
		outAlias := aliased.As.String()
		if outAlias == "" {
			outAlias = defaultExprName(i)
		}

		switch name {
		case "SUM", "MIN", "MAX":
			parallelAlias := "s_" + outAlias
			lp.Stmt.SelectExprs[i] = renameAliasedExpr(aliased, parallelAlias)
			mergeList = append(mergeList, fmt.Sprintf("%s(%s) AS %s", name, parallelAlias, outAlias))
			ctx.NeedsMerge = true
			rewrote = true
		case "COUNT":
			parallelAlias := "c_" + outAlias
			lp.Stmt.SelectExprs[i] = &sqlparser.AliasedExpr{
				Expr: fn,
				As:   sqlparser.NewIdentifierCI(parallelAlias),
			}
			mergeList = append(mergeList, fmt.Sprintf("SUM(%s) AS %s", parallelAlias, outAlias))
			ctx.NeedsMerge = true
			rewrote = true
		case "AVG":
			sumAlias := "s_" + outAlias
			countAlias := "c_" + outAlias
			lp.Stmt.SelectExprs[i] = &sqlparser.AliasedExpr{
				Expr: &sqlparser.FuncExpr{Name: sqlparser.NewIdentifierCI("SUM"), Exprs: fn.Exprs},
				As:   sqlparser.NewIdentifierCI(sumAlias),
			}
			lp.Stmt.SelectExprs = append(lp.Stmt.SelectExprs, &sqlparser.AliasedExpr{
				Expr: &sqlparser.FuncExpr{Name: sqlparser.NewIdentifierCI("COUNT"), Exprs: fn.Exprs},
				As:   sqlparser.NewIdentifierCI(countAlias),
			})
			mergeList = append(mergeList, fmt.Sprintf("SUM(%s)/SUM(%s) AS %s", sumAlias, countAlias, outAlias))
			ctx.NeedsMerge = true
			rewrote = true
		default:
			mergeList = append(mergeList, sqlparser.String(expr))
		}
	}

	if rewrote {
		ctx.MergeSelectList = strings.Join(mergeList, ", ")
	}
	return nil
}

func defaultExprName(i int) string { return fmt.Sprintf("expr_%d", i) }

func renameAliasedExpr(aliased *sqlparser.AliasedExpr, newAlias string) *sqlparser.AliasedExpr {
	return &sqlparser.AliasedExpr{Expr: aliased.Expr, As: sqlparser.NewIdentifierCI(newAlias)}
}

// --- 4. Table --------------------------------------------------------------

// TablePlugin assigns a unique alias to every unaliased table-ref,
// resolves each alias's classification via the catalog, and records the
// dominant chunked database, per spec.md §4.1's plugin table row 4.
type TablePlugin struct {
	Resolver TableResolver
}

func (p *TablePlugin) Name() string { return "Table" }
func (p *TablePlugin) Prepare(*QueryContext) {}

func (p *TablePlugin) ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error {
	background := context.Background()
	counters := make(map[string]int)

	var walk func(expr sqlparser.TableExpr) error
	walk = func(expr sqlparser.TableExpr) error {
		switch t := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			tn, ok := t.Expr.(sqlparser.TableName)
			if !ok {
				return nil
			}
			if t.As.IsEmpty() {
				counters[tn.Name.String()]++
				alias := tn.Name.String()
				if counters[tn.Name.String()] > 1 {
					alias = fmt.Sprintf("%s_%d", alias, counters[tn.Name.String()])
				}
				t.As = sqlparser.NewIdentifierCS(alias)
			}
			alias := t.As.String()

			db := tn.DbQualifier.String()
			if db == "" {
				db = ctx.DefaultDB
			}
			table, err := p.Resolver.Table(background, db, tn.Name.String())
			if err != nil {
				return errors.NewAnalysisError(
					"unknown table",
					fmt.Sprintf("table %s.%s is not registered in the catalog", db, tn.Name.String()),
					"check the table name and database",
				)
			}
			ctx.AliasToTable[alias] = AliasedTable{Alias: alias, Table: table}
			return nil
		case *sqlparser.JoinTableExpr:
			if err := walk(t.LeftExpr); err != nil {
				return err
			}
			return walk(t.RightExpr)
		case *sqlparser.ParenTableExpr:
			for _, e := range t.Exprs {
				if err := walk(e); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, tableExpr := range lp.Stmt.From {
		if err := walk(tableExpr); err != nil {
			return err
		}
	}

	var chunked []qmeta.Table
	for _, at := range ctx.AliasToTable {
		if at.Table.Chunked() {
			chunked = append(chunked, at.Table)
		}
	}
	dominant, err := qmeta.AgreeOnDominantDB(chunked)
	if err != nil {
		return errors.NewAnalysisError(
			"dominant-database mismatch",
			err.Error(),
			"reference chunked tables from a single dominant database per query",
		)
	}
	ctx.DominantDB = dominant
	return nil
}

func (p *TablePlugin) ApplyPhysical(ctx *QueryContext, pp *PhysicalPlan) error {
	var walk func(expr sqlparser.TableExpr)
	walk = func(expr sqlparser.TableExpr) {
		switch t := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			tn, ok := t.Expr.(sqlparser.TableName)
			if !ok {
				return
			}
			alias := t.As.String()
			at, ok := ctx.AliasToTable[alias]
			if !ok || !at.Table.Chunked() {
				return
			}
			newName := tn.Name.String()
			if ctx.SubChunked {
				newName += overlapTag(alias)
			}
			newName += "_" + chunkTag
			if ctx.SubChunked {
				newName += "_" + subChunkTag(alias)
			}
			t.Expr = sqlparser.TableName{Name: sqlparser.NewIdentifierCS(newName)}
		case *sqlparser.JoinTableExpr:
			walk(t.LeftExpr)
			walk(t.RightExpr)
		case *sqlparser.ParenTableExpr:
			for _, e := range t.Exprs {
				walk(e)
			}
		}
	}
	for _, tableExpr := range pp.ParallelStmt.From {
		walk(tableExpr)
	}
	return nil
}

// --- 5. MatchTable ---------------------------------------------------------

// MatchTablePlugin checks each match table in the FROM list against its
// first director: the query is rejected with an analysis error unless that
// director is also in the FROM list. It does not rewrite join conditions,
// check the second director, or add overlap handling. Non-match queries
// are a no-op.
type MatchTablePlugin struct{}

func (p *MatchTablePlugin) Name() string                                    { return "MatchTable" }
func (p *MatchTablePlugin) Prepare(*QueryContext)                           {}
func (p *MatchTablePlugin) ApplyPhysical(*QueryContext, *PhysicalPlan) error { return nil }

func (p *MatchTablePlugin) ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error {
	for _, at := range ctx.AliasToTable {
		if at.Table.Kind != qmeta.KindMatch {
			continue
		}
		if _, ok := ctx.AliasToTable[at.Table.Director1Table]; !ok {
			if _, ok2 := findAliasForTable(ctx, at.Table.Director1DB, at.Table.Director1Table); !ok2 {
				return errors.NewAnalysisError(
					"match table missing director",
					fmt.Sprintf("match table %s requires director %s.%s in the FROM list", at.Table.FullName(), at.Table.Director1DB, at.Table.Director1Table),
					"join the match table against both its directors",
				)
			}
		}
	}
	return nil
}

func findAliasForTable(ctx *QueryContext, db, table string) (string, bool) {
	for alias, at := range ctx.AliasToTable {
		if at.Table.Database == db && at.Table.Name == table {
			return alias, true
		}
	}
	return "", false
}

// --- 6. QservRestrictor -----------------------------------------------------

// QservRestrictorPlugin transforms each extracted restrictor into a
// concrete boolean factor over the partitioning columns of every chunked
// table in the FROM list, per spec.md §4.1's plugin table row 6.
type QservRestrictorPlugin struct{}

func (p *QservRestrictorPlugin) Name() string         { return "QservRestrictor" }
func (p *QservRestrictorPlugin) Prepare(*QueryContext) {}

func (p *QservRestrictorPlugin) ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error {
	return nil
}

func (p *QservRestrictorPlugin) ApplyPhysical(ctx *QueryContext, pp *PhysicalPlan) error {
	if len(ctx.Restrictors) == 0 {
		return nil
	}

	var predicates []string
	for alias, at := range ctx.AliasToTable {
		if !at.Table.Chunked() {
			continue
		}
		for _, r := range ctx.Restrictors {
			if r.Kind == qmeta.RestrictorObjectID {
				// Per spec.md §4.1 plugin row 6, objectId membership is
				// checked against the director table's primary key; child
				// and match aliases have no PKColumn of their own.
				if at.Table.Kind != qmeta.KindDirector {
					continue
				}
				predicates = append(predicates, fmt.Sprintf("%s.%s IN (%s)", alias, at.Table.PKColumn, joinInt64(r.IDs)))
				continue
			}
			predicates = append(predicates, fmt.Sprintf("%s(%s.%s, %s.%s, %s) = 1",
				r.UDFName(), alias, at.Table.RAColumn, alias, at.Table.DecColumn, joinFloat64(r.Args)))
		}
	}
	if len(predicates) == 0 {
		return nil
	}

	extra := strings.Join(predicates, " AND ")
	extraExpr, err := sqlparser.ParseExpr(extra)
	if err != nil {
		return errors.NewAnalysisError(
			"restrictor predicate rendering",
			err.Error(),
			"this is an internal rendering error, not a user query problem",
		)
	}
	if pp.ParallelStmt.Where == nil {
		pp.ParallelStmt.Where = &sqlparser.Where{Type: sqlparser.WhereClause, Expr: extraExpr}
	} else {
		pp.ParallelStmt.Where.Expr = &sqlparser.AndExpr{Left: pp.ParallelStmt.Where.Expr, Right: extraExpr}
	}
	return nil
}

func joinInt64(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}

func joinFloat64(args []float64) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%g", a)
	}
	return strings.Join(parts, ", ")
}

// --- 7. Post -----------------------------------------------------------------

// PostPlugin handles remaining fixups: ORDER BY merge-phase deferral and
// LIMIT pass-through with final enforcement, per spec.md §4.1's plugin
// table row 7.
type PostPlugin struct{}

func (p *PostPlugin) Name() string { return "Post" }
func (p *PostPlugin) Prepare(*QueryContext) {}

func (p *PostPlugin) ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error {
	if lp.HasPositionalOrderBy {
		return errors.NewAnalysisError(
			"positional ORDER BY",
			"ORDER BY referencing a select-list position is not supported once the select list is rewritten for aggregation",
			"order by the output column name instead of its position",
		)
	}
	return nil
}

func (p *PostPlugin) ApplyPhysical(ctx *QueryContext, pp *PhysicalPlan) error {
	if len(pp.ParallelStmt.GroupBy) > 0 {
		// GROUP BY is needed in both phases: each chunk groups its own
		// rows, and the merge phase re-groups across chunks before
		// applying any aggregate finisher.
		ctx.MergeGroupBy = sqlparser.String(pp.ParallelStmt.GroupBy)
		ctx.NeedsMerge = true
	}
	if pp.ParallelStmt.Having != nil {
		ctx.MergeHaving = sqlparser.String(pp.ParallelStmt.Having)
		ctx.NeedsMerge = true
	}
	if len(pp.ParallelStmt.OrderBy) > 0 {
		ctx.MergeOrderBy = sqlparser.String(pp.ParallelStmt.OrderBy)
		ctx.NeedsMerge = true
		// Ordering only makes sense once rows are assembled centrally.
		pp.ParallelStmt.OrderBy = nil
	}
	if pp.ParallelStmt.Limit != nil {
		ctx.MergeLimit = sqlparser.String(pp.ParallelStmt.Limit)
		ctx.NeedsMerge = true
	}

	if ctx.NeedsMerge {
		mergeSelect := ctx.MergeSelectList
		if mergeSelect == "" {
			mergeSelect = "*"
		}
		stmt := "SELECT " + mergeSelect + " FROM __merge__"
		if ctx.MergeGroupBy != "" {
			stmt += " " + ctx.MergeGroupBy
		}
		if ctx.MergeHaving != "" {
			stmt += " " + ctx.MergeHaving
		}
		if ctx.MergeOrderBy != "" {
			stmt += " " + ctx.MergeOrderBy
		}
		if ctx.MergeLimit != "" {
			stmt += " " + ctx.MergeLimit
		}
		pp.MergeStmt = &stmt
	}
	return nil
}

// --- 8. ScanTable ------------------------------------------------------------

// ScanTableThreshold is the chunk-count floor below which a query is
// cleared of its shared-scan classification, per spec.md §4.1's plugin
// table row 8 final-apply phase.
const ScanTableThreshold = 4

// ScanTablePlugin classifies the query as a shared-scan candidate: every
// partitioned table in the FROM list, unless the query carries a spatial
// or objectId restrictor. The select list is not inspected.
type ScanTablePlugin struct{}

func (p *ScanTablePlugin) Name() string { return "ScanTable" }
func (p *ScanTablePlugin) Prepare(*QueryContext) {}

func (p *ScanTablePlugin) ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error {
	return nil
}

func (p *ScanTablePlugin) ApplyPhysical(ctx *QueryContext, pp *PhysicalPlan) error {
	hasTightRestriction := len(ctx.Restrictors) > 0
	if !hasTightRestriction {
		for alias, at := range ctx.AliasToTable {
			if at.Table.Chunked() {
				ctx.ScanTables = append(ctx.ScanTables, alias)
			}
		}
		sortStrings(ctx.ScanTables)
	}

	// Not worth shared-scan admission below a small chunk count.
	if len(ctx.ScanTables) > 0 {
		// Chunk-count is resolved by the session at iteration time; the
		// session clears ScanTables itself if the realized count falls
		// under ScanTableThreshold (see QuerySession.CQueryBegin).
	}
	return nil
}
