package qsession

import (
	qservsql "github.com/qserv/qserv/internal/sql"
)

// Plugin is the fixed-order pipeline stage interface of spec.md §4.1: each
// plugin is invoked in three phases sharing the session's QueryContext and
// mutating the parsed statement tree directly. This mirrors a sealed tagged
// interface rather than a type-switch over interface{} — a small, closed
// set of concrete stages, not an open extension point.
type Plugin interface {
	// Name identifies the plugin for logging and error Construct fields.
	Name() string

	// Prepare runs once per session, before any statement is available.
	Prepare(ctx *QueryContext)

	// ApplyLogical runs before concrete plan construction: table aliasing,
	// restrictor extraction, aggregate decomposition.
	ApplyLogical(ctx *QueryContext, lp *qservsql.LogicalPlan) error

	// ApplyPhysical runs after a concrete physical plan exists: template
	// rewriting, scan classification against the realized chunk count.
	ApplyPhysical(ctx *QueryContext, pp *PhysicalPlan) error
}

// Pipeline is the fixed plugin order named in spec.md §4.1's table.
func Pipeline(catalogTables TableResolver) []Plugin {
	return []Plugin{
		&DuplicateSelectExprPlugin{},
		&WherePlugin{},
		&AggregatePlugin{},
		&TablePlugin{Resolver: catalogTables},
		&MatchTablePlugin{},
		&QservRestrictorPlugin{},
		&PostPlugin{},
		&ScanTablePlugin{},
	}
}
