// Package sql is the parse frontend named in spec.md §4.1.1: it turns user
// SQL text into a LogicalPlan the plugin pipeline in internal/qsession can
// walk, using real grammar parsing (github.com/dolthub/vitess/go/vt/sqlparser)
// rather than a hand-rolled tokenizer, and recognizes the qserv_areaspec_*/
// qserv_objectId pseudo-functions as spatial restrictor syntax.
package sql

import (
	"strconv"
	"strings"

	"github.com/dolthub/vitess/go/vt/sqlparser"

	"github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/qmeta"
	"github.com/qserv/qserv/internal/spatial"
)

// TableRef is a from-list entry after parsing: database, table, and the
// alias the user wrote (empty if unaliased — the Table plugin assigns one).
type TableRef struct {
	Database string
	Table    string
	Alias    string
}

// LogicalPlan is the parsed SELECT statement handed to QuerySession.setQuery.
type LogicalPlan struct {
	RawSQL string

	// Stmt is the underlying vitess AST, retained so later plugins can
	// rewrite it in place and render it back to text.
	Stmt *sqlparser.Select

	Tables      []TableRef
	Restrictors []qmeta.Restrictor

	// HasPositionalOrderBy is true for `ORDER BY 1` style references,
	// rejected per spec.md §4.1's analysis-error list.
	HasPositionalOrderBy bool
}

// Parser parses SQL query text into a LogicalPlan.
type Parser struct {
	// DisallowedDatabases are databases a query may never reference
	// (system catalogs, scratch databases), per spec.md §6.
	DisallowedDatabases map[string]bool
}

// NewParser creates a parser with the given database denylist.
func NewParser(disallowedDatabases ...string) *Parser {
	deny := make(map[string]bool, len(disallowedDatabases))
	for _, db := range disallowedDatabases {
		deny[db] = true
	}
	return &Parser{DisallowedDatabases: deny}
}

// qservAreaFuncs maps the pseudo-function name vitess parses a
// qserv_areaspec_*/qserv_objectId call as to its restrictor kind.
var qservAreaFuncs = map[string]qmeta.RestrictorKind{
	"qserv_areaspec_box":     qmeta.RestrictorAreaBox,
	"qserv_areaspec_circle":  qmeta.RestrictorAreaCircle,
	"qserv_areaspec_ellipse": qmeta.RestrictorAreaEllipse,
	"qserv_areaspec_poly":    qmeta.RestrictorAreaPoly,
	"qserv_objectid":         qmeta.RestrictorObjectID,
}

// Parse parses a SQL query into a LogicalPlan. Returns a *errors.ErrParse for
// unreadable SQL, a *errors.ErrAnalysis for a recognized-but-rejected
// construct (subquery in FROM, underscore-prefixed table name, disallowed
// database, RA extent over 180 degrees, multiple statements, writes/DDL).
// A positional ORDER BY is not rejected here: it sets
// LogicalPlan.HasPositionalOrderBy, which the Post plugin rejects.
func (p *Parser) Parse(sql string) (*LogicalPlan, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, errors.NewParseError(sql, errEmptyQuery{})
	}

	stmts, err := sqlparser.SplitStatementToPieces(sql)
	if err != nil {
		return nil, errors.NewParseError(sql, err)
	}
	if len(stmts) > 1 {
		return nil, errors.NewAnalysisError(
			"multiple statements",
			"only one SQL statement is accepted per query",
			"submit one SELECT at a time",
		)
	}

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, errors.NewParseError(sql, err)
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, errors.NewAnalysisError(
			describeStatement(stmt),
			"only SELECT statements are accepted",
			"rewrite as a read-only SELECT",
		)
	}

	if err := rejectUnsupported(sel); err != nil {
		return nil, err
	}

	tables, err := p.extractTables(sel)
	if err != nil {
		return nil, err
	}

	restrictors, where, err := extractRestrictors(sel.Where)
	if err != nil {
		return nil, err
	}
	if sel.Where != nil {
		sel.Where.Expr = where
	}

	for _, r := range restrictors {
		if r.Shape != nil && !spatial.ValidateRAExtent(r.Shape) {
			return nil, errors.NewAnalysisError(
				"spatial restrictor RA extent",
				"right-ascension span exceeds 180 degrees",
				"split the query into two restrictors, each spanning at most 180 degrees",
			)
		}
	}

	return &LogicalPlan{
		RawSQL:               sql,
		Stmt:                 sel,
		Tables:               tables,
		Restrictors:          restrictors,
		HasPositionalOrderBy: hasPositionalOrderBy(sel),
	}, nil
}

type errEmptyQuery struct{}

func (errEmptyQuery) Error() string { return "empty query" }

func describeStatement(stmt sqlparser.Statement) string {
	switch stmt.(type) {
	case *sqlparser.Insert:
		return "INSERT statement"
	case *sqlparser.Update:
		return "UPDATE statement"
	case *sqlparser.Delete:
		return "DELETE statement"
	case *sqlparser.DDL:
		return "DDL statement"
	case *sqlparser.DBDDL:
		return "database DDL statement"
	case *sqlparser.Show:
		return "SHOW statement"
	case *sqlparser.Set:
		return "SET statement"
	default:
		return "unsupported SQL operation"
	}
}

// rejectUnsupported enforces the analysis-error-at-parse-time rule of
// spec.md §4.1/§6 that FROM holds no subqueries. Underscore-prefixed
// table names (reserved for internal chunk/sub-chunk scratch tables) are
// rejected by extractTables.
func rejectUnsupported(sel *sqlparser.Select) error {
	for _, tableExpr := range sel.From {
		if err := rejectSubqueryInFrom(tableExpr); err != nil {
			return err
		}
	}
	return nil
}

func rejectSubqueryInFrom(expr sqlparser.TableExpr) error {
	switch t := expr.(type) {
	case *sqlparser.AliasedTableExpr:
		if _, ok := t.Expr.(*sqlparser.Subquery); ok {
			return errors.NewAnalysisError(
				"subquery in FROM",
				"derived tables are not supported; the chunk-set pruner needs concrete table references",
				"rewrite without a FROM-clause subquery",
			)
		}
	case *sqlparser.JoinTableExpr:
		if err := rejectSubqueryInFrom(t.LeftExpr); err != nil {
			return err
		}
		return rejectSubqueryInFrom(t.RightExpr)
	case *sqlparser.ParenTableExpr:
		for _, e := range t.Exprs {
			if err := rejectSubqueryInFrom(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractTables walks the FROM list, resolving qualified table names and
// rejecting underscore-prefixed identifiers and disallowed databases.
func (p *Parser) extractTables(sel *sqlparser.Select) ([]TableRef, error) {
	var tables []TableRef
	var walk func(expr sqlparser.TableExpr) error
	walk = func(expr sqlparser.TableExpr) error {
		switch t := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			tn, ok := t.Expr.(sqlparser.TableName)
			if !ok {
				return nil
			}
			name := tn.Name.String()
			db := tn.DbQualifier.String()
			if strings.HasPrefix(name, "_") {
				return errors.NewAnalysisError(
					"underscore-prefixed table name",
					"identifiers beginning with '_' are reserved for internal chunk scratch tables",
					"rename the table or use a non-reserved alias",
				)
			}
			if db != "" && p.DisallowedDatabases[db] {
				return errors.NewAnalysisError(
					"disallowed database",
					"database '"+db+"' may not be queried directly",
					"query a user-facing database instead",
				)
			}
			tables = append(tables, TableRef{
				Database: db,
				Table:    name,
				Alias:    t.As.String(),
			})
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
	for _, tableExpr := range sel.From {
		if err := walk(tableExpr); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// extractRestrictors walks a WHERE clause's boolean-factor tree, pulling
// out qserv_areaspec_*/qserv_objectId pseudo-function calls as spatial
// restrictors and returning the remaining boolean expression (with
// restrictor factors replaced by a literal TRUE, since the QservRestrictor
// plugin re-injects the concrete geometric predicate later).
func extractRestrictors(where *sqlparser.Where) ([]qmeta.Restrictor, sqlparser.Expr, error) {
	if where == nil {
		return nil, nil, nil
	}
	var restrictors []qmeta.Restrictor
	var walk func(expr sqlparser.Expr) (sqlparser.Expr, error)
	walk = func(expr sqlparser.Expr) (sqlparser.Expr, error) {
		switch e := expr.(type) {
		case *sqlparser.AndExpr:
			l, err := walk(e.Left)
			if err != nil {
				return nil, err
			}
			r, err := walk(e.Right)
			if err != nil {
				return nil, err
			}
			return &sqlparser.AndExpr{Left: l, Right: r}, nil
		case *sqlparser.ParenExpr:
			inner, err := walk(e.Expr)
			if err != nil {
				return nil, err
			}
			return &sqlparser.ParenExpr{Expr: inner}, nil
		case *sqlparser.FuncExpr:
			kind, ok := qservAreaFuncs[strings.ToLower(e.Name.String())]
			if !ok {
				return expr, nil
			}
			r, err := restrictorFromFuncExpr(kind, e)
			if err != nil {
				return nil, err
			}
			restrictors = append(restrictors, r)
			return sqlparser.BoolVal(true), nil
		default:
			return expr, nil
		}
	}
	result, err := walk(where.Expr)
	return restrictors, result, err
}

func restrictorFromFuncExpr(kind qmeta.RestrictorKind, e *sqlparser.FuncExpr) (qmeta.Restrictor, error) {
	if kind == qmeta.RestrictorObjectID {
		ids := make([]int64, 0, len(e.Exprs))
		for _, arg := range e.Exprs {
			aliased, ok := arg.(*sqlparser.AliasedExpr)
			if !ok {
				continue
			}
			lit, ok := aliased.Expr.(*sqlparser.Literal)
			if !ok {
				return qmeta.Restrictor{}, errors.NewAnalysisError(
					"qserv_objectId arguments",
					"qserv_objectId() requires integer literal arguments",
					"pass a literal object id list",
				)
			}
			id, err := parseInt64(lit.Val)
			if err != nil {
				return qmeta.Restrictor{}, errors.NewAnalysisError(
					"qserv_objectId arguments",
					err.Error(),
					"pass a literal object id list",
				)
			}
			ids = append(ids, id)
		}
		return qmeta.Restrictor{Kind: kind, IDs: ids}, nil
	}

	args := make([]float64, 0, len(e.Exprs))
	for _, arg := range e.Exprs {
		aliased, ok := arg.(*sqlparser.AliasedExpr)
		if !ok {
			continue
		}
		lit, ok := aliased.Expr.(*sqlparser.Literal)
		if !ok {
			return qmeta.Restrictor{}, errors.NewAnalysisError(
				string(kind)+" arguments",
				"spatial restrictor arguments must be numeric literals",
				"pass literal coordinate/radius values",
			)
		}
		v, err := parseFloat64(lit.Val)
		if err != nil {
			return qmeta.Restrictor{}, errors.NewAnalysisError(
				string(kind)+" arguments",
				err.Error(),
				"pass literal coordinate/radius values",
			)
		}
		args = append(args, v)
	}

	shape, err := shapeFromArgs(kind, args)
	if err != nil {
		return qmeta.Restrictor{}, err
	}
	return qmeta.Restrictor{Kind: kind, Args: args, Shape: shape}, nil
}

func shapeFromArgs(kind qmeta.RestrictorKind, args []float64) (spatial.Shape, error) {
	switch kind {
	case qmeta.RestrictorAreaBox:
		if len(args) != 4 {
			return nil, errors.NewAnalysisError("qserv_areaspec_box arguments", "expects exactly 4 arguments (ra0, dec0, ra1, dec1)", "pass ra0, dec0, ra1, dec1")
		}
		return spatial.Box{RA0: args[0], Dec0: args[1], RA1: args[2], Dec1: args[3]}, nil
	case qmeta.RestrictorAreaCircle:
		if len(args) != 3 {
			return nil, errors.NewAnalysisError("qserv_areaspec_circle arguments", "expects exactly 3 arguments (ra, dec, radius)", "pass ra, dec, radius")
		}
		return spatial.Circle{RA: args[0], Dec: args[1], RadiusDegrees: args[2]}, nil
	case qmeta.RestrictorAreaEllipse:
		if len(args) != 5 {
			return nil, errors.NewAnalysisError("qserv_areaspec_ellipse arguments", "expects exactly 5 arguments (ra, dec, semiMajor, semiMinor, theta)", "pass ra, dec, a, b, theta")
		}
		return spatial.Ellipse{RA: args[0], Dec: args[1], SemiMajorDeg: args[2], SemiMinorDeg: args[3], ThetaDeg: args[4]}, nil
	case qmeta.RestrictorAreaPoly:
		if len(args) < 6 || len(args)%2 != 0 {
			return nil, errors.NewAnalysisError("qserv_areaspec_poly arguments", "expects an even number of arguments >= 6 (at least 3 ra/dec vertex pairs)", "pass ra0, dec0, ra1, dec1, ra2, dec2, ...")
		}
		return spatial.Poly{Vertices: args}, nil
	default:
		return nil, nil
	}
}

// hasPositionalOrderBy reports `ORDER BY 1` style references, rejected per
// spec.md §4.1's analysis-error list (ordinal ORDER BY doesn't survive
// the select-list rewriting the Aggregate/Post plugins perform).
func hasPositionalOrderBy(sel *sqlparser.Select) bool {
	for _, order := range sel.OrderBy {
		if _, ok := order.Expr.(*sqlparser.Literal); ok {
			return true
		}
	}
	return false
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
