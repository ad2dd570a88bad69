// Package qdriver is the master-side query orchestrator: it owns one
// QuerySession per query, resolves the chunk set the query must run
// against from the catalog (optionally pruned by a spatial restrictor or
// the secondary index), dispatches the resulting ChunkQuerySpecs through
// an Executive, and runs the merge phase against a local result engine,
// per spec.md §2's top-level "Flow" paragraph.
//
// Grounded on the teacher's internal/cli/gateway_client.go request
// triad (ExecuteQuery/ExplainQuery/ValidateQuery), adapted from an HTTP
// round trip to a separate gateway process into in-process orchestration:
// spec.md's master owns QuerySession and Executive directly rather than
// forwarding to a control plane.
package qdriver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qserv/qserv/internal/auth"
	"github.com/qserv/qserv/internal/bootstrap"
	"github.com/qserv/qserv/internal/catalog"
	"github.com/qserv/qserv/internal/config"
	qerrors "github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/observability"
	"github.com/qserv/qserv/internal/qdisp"
	"github.com/qserv/qserv/internal/qmeta"
	"github.com/qserv/qserv/internal/qsession"
	qservsql "github.com/qserv/qserv/internal/sql"
	"github.com/qserv/qserv/internal/spatial"
	"github.com/qserv/qserv/internal/transport"
	"github.com/qserv/qserv/internal/workerdb"
)

// Driver wires a QuerySession's collaborators to a real dispatch path.
// One Driver serves a master process's whole lifetime; Execute/Explain/
// Validate each build a fresh QuerySession and Executive per call, per
// spec.md §4.2's "one Executive is used for exactly one query" rule.
type Driver struct {
	Parser   *qservsql.Parser
	Catalog  catalog.Catalog
	SecIndex catalog.SecondaryIndex // optional; nil disables objectId pruning
	Topology *bootstrap.Config
	Cfg      *config.MasterConfig
	Result   *workerdb.Engine // local engine backing the merge phase

	// Auth validates the capability token presented with Execute, per
	// spec.md §1's "honoring a per-request capability token". Nil
	// disables the check, for diagnostics/development use.
	Auth auth.Validator

	// Logger records the accept/reject decision for every query and a
	// per-chunk dispatch entry for every job. Defaults to a no-op logger
	// when unset.
	Logger observability.Logger

	// PoolSize bounds the Executive's concurrent in-flight dispatch
	// goroutines. Defaults to 8 when unset.
	PoolSize int
}

// New wires a Driver from its collaborators.
func New(parser *qservsql.Parser, cat catalog.Catalog, topo *bootstrap.Config, cfg *config.MasterConfig, resultEngine *workerdb.Engine) *Driver {
	return &Driver{Parser: parser, Catalog: cat, Topology: topo, Cfg: cfg, Result: resultEngine}
}

func (d *Driver) poolSize() int {
	if d.PoolSize > 0 {
		return d.PoolSize
	}
	return 8
}

func (d *Driver) logger() observability.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return observability.NewNoopLogger()
}

// requester derives the audit-log identity for a capability token: the
// token itself stands in for a requester name when no validator resolved
// one, since spec.md §1 gives the token no further identity structure.
func requester(token string) string {
	if token == "" {
		return "anonymous"
	}
	return token
}

// ExplainResult summarizes how a query would be planned and dispatched,
// without actually running it.
type ExplainResult struct {
	SQL           string
	DominantDB    string
	ChunkedTables []string
	ScanTables    []string
	NeedsMerge    bool
	SubChunked    bool
	ChunkCount    int
	MergeStmt     string
}

// Explain runs SetQuery and chunk-set resolution but never dispatches,
// per spec.md §2's QuerySession responsibility split from Executive.
func (d *Driver) Explain(ctx context.Context, sqlText string) (*ExplainResult, error) {
	session := qsession.NewQuerySession(d.Parser, d.Catalog)
	if err := session.SetQuery(d.Cfg.Table.DefaultDB, sqlText); err != nil {
		return nil, err
	}
	chunks, err := d.chunkSet(ctx, session)
	if err != nil {
		return nil, err
	}

	var tableNames []string
	for _, t := range session.ChunkedTables() {
		tableNames = append(tableNames, t.FullName())
	}
	sort.Strings(tableNames)

	return &ExplainResult{
		SQL:           sqlText,
		DominantDB:    session.DominantDB(),
		ChunkedTables: tableNames,
		NeedsMerge:    session.NeedsMerge(),
		ChunkCount:    chunkCount(chunks),
		MergeStmt:     session.GetMergeStmt(),
	}, nil
}

// Validate parses and runs the plugin pipeline without resolving chunks or
// dispatching, returning only the parse/analysis-error a rejected query
// carries.
func (d *Driver) Validate(_ context.Context, sqlText string) error {
	session := qsession.NewQuerySession(d.Parser, d.Catalog)
	return session.SetQuery(d.Cfg.Table.DefaultDB, sqlText)
}

// ExecResult is the client-visible outcome of a full query execution.
type ExecResult struct {
	QueryID    string
	Columns    []string
	Rows       []transport.Row
	Duration   time.Duration
	ChunkCount int
}

// Execute runs sqlText end to end: session setup, chunk-set resolution,
// per-chunk dispatch through an Executive, and merge-phase finalize, per
// spec.md §2's "Flow" paragraph and §4.2's Executive contract.
func (d *Driver) Execute(ctx context.Context, sqlText, token string) (*ExecResult, error) {
	start := time.Now()
	queryID := uuid.NewString()
	logger := d.logger()

	user := requester(token)
	if d.Auth != nil {
		tok, err := d.Auth.Validate(ctx, token)
		if err != nil {
			logger.LogQuery(ctx, observability.QueryLogEntry{
				QueryID: queryID, User: user, Outcome: "rejected", Error: err.Error(), ExecutionTime: time.Since(start),
			})
			return nil, err
		}
		if tok != nil && tok.Requester != "" {
			user = tok.Requester
		}
	}

	session := qsession.NewQuerySession(d.Parser, d.Catalog)
	if err := session.SetQuery(d.Cfg.Table.DefaultDB, sqlText); err != nil {
		logger.LogQuery(ctx, observability.QueryLogEntry{
			QueryID: queryID, User: user, Outcome: "rejected", Error: err.Error(), ExecutionTime: time.Since(start),
		})
		return nil, err
	}

	var tableNames []string
	for _, t := range session.ChunkedTables() {
		tableNames = append(tableNames, t.FullName())
	}

	chunks, err := d.chunkSet(ctx, session)
	if err != nil {
		logger.LogQuery(ctx, observability.QueryLogEntry{
			QueryID: queryID, User: user, Tables: tableNames, Outcome: "error", Error: err.Error(), ExecutionTime: time.Since(start),
		})
		return nil, err
	}
	for _, c := range chunks {
		if err := session.AddChunk(qsession.ChunkSpec{ChunkID: c}); err != nil {
			return nil, err
		}
	}

	it, err := session.CQueryBegin()
	if err != nil {
		return nil, err
	}

	resultTable := "qr_" + sanitizeIdent(queryID)
	mergeStmt := session.MakeMergeFixup(resultTable)
	merger := qdisp.NewMerger(d.Result, resultTable, mergeStmt)

	rt := transport.NewRoutedTransport(d.Topology, queryID, "qserv-master")
	rt.SetToken(token)

	exec := qdisp.NewExecutive(rt, qdisp.DefaultRetryConfig(), d.poolSize())

	var jobIDs []string
	var jobChunks []int32
	nJobs := 0
	for spec, ok := it.Next(); ok; spec, ok = it.Next() {
		jobID := fmt.Sprintf("%s-c%d-%d", queryID, spec.ChunkID, nJobs)
		exec.Add(jobID, qdisp.JobDesc{Spec: spec}, merger)
		jobIDs = append(jobIDs, jobID)
		jobChunks = append(jobChunks, spec.ChunkID)
		nJobs++
	}

	joined := exec.Join()
	d.logDispatch(ctx, logger, exec, jobIDs, jobChunks, session.DominantDB())

	if !joined {
		defer merger.Cleanup(ctx)
		errs := exec.Errors()
		execErr := fmt.Errorf("qdriver: query %s failed with no recorded error", queryID)
		if len(errs) > 0 {
			execErr = errs[0]
		}
		logger.LogQuery(ctx, observability.QueryLogEntry{
			QueryID: queryID, User: user, Tables: tableNames, Outcome: "error", Error: execErr.Error(), ExecutionTime: time.Since(start),
		})
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return nil, execErr
	}

	rows, err := merger.Finalize(ctx)
	if err != nil {
		merger.Cleanup(ctx)
		mergeErr := qerrors.NewMergeError(err)
		logger.LogQuery(ctx, observability.QueryLogEntry{
			QueryID: queryID, User: user, Tables: tableNames, Outcome: "error", Error: mergeErr.Error(), ExecutionTime: time.Since(start),
		})
		return nil, mergeErr
	}
	defer merger.Cleanup(ctx)

	logger.LogQuery(ctx, observability.QueryLogEntry{
		QueryID: queryID, User: user, Tables: tableNames, Outcome: "accepted", ExecutionTime: time.Since(start),
	})

	return &ExecResult{
		QueryID:    queryID,
		Columns:    columnsOf(rows),
		Rows:       rows,
		Duration:   time.Since(start),
		ChunkCount: nJobs,
	}, nil
}

// logDispatch records one DispatchLogEntry per job dispatched by Execute,
// per spec.md §3's per-chunk dispatch-state data model.
func (d *Driver) logDispatch(ctx context.Context, logger observability.Logger, exec *qdisp.Executive, jobIDs []string, chunkIDs []int32, db string) {
	for i, jobID := range jobIDs {
		status, ok := exec.Status(jobID)
		if !ok {
			continue
		}
		outcome := "complete"
		var errMsg string
		switch status.State {
		case qdisp.StateResultError:
			outcome = "result-error"
		case qdisp.StateProvisionError:
			outcome = "provision-error"
		case qdisp.StateCancelled:
			outcome = "cancelled"
		}
		if status.State != qdisp.StateComplete {
			errMsg = status.Description
		}
		logger.LogDispatch(ctx, observability.DispatchLogEntry{
			JobID: jobID, ChunkID: chunkIDs[i], DB: db,
			Requested: status.Requested, Completed: status.Completed,
			Outcome: outcome, Error: errMsg,
		})
	}
}

// chunkSet resolves the set of chunk ids a query must run against: the
// dominant chunked table's full chunk assignment from the catalog,
// narrowed by any spatial restrictor's stripe range or by a secondary-
// index lookup for an objectId restrictor, per spec.md §3's "Spatial
// restrictor" row: "consumed by ... the chunk-set computation".
func (d *Driver) chunkSet(ctx context.Context, session *qsession.QuerySession) ([]int32, error) {
	tables := session.ChunkedTables()
	if len(tables) == 0 {
		return nil, nil
	}
	dominant := tables[0]
	full, err := d.Catalog.Chunks(ctx, dominant.Database, dominant.Name)
	if err != nil {
		return nil, err
	}

	restrictors := session.GetConstraints()
	if len(restrictors) == 0 {
		return full, nil
	}

	var candidate map[int32]bool
	intersect := func(ids []int32) {
		if candidate == nil {
			candidate = make(map[int32]bool, len(ids))
			for _, id := range ids {
				candidate[id] = true
			}
			return
		}
		next := make(map[int32]bool, len(candidate))
		for _, id := range ids {
			if candidate[id] {
				next[id] = true
			}
		}
		candidate = next
	}

	for _, r := range restrictors {
		switch r.Kind {
		case qmeta.RestrictorObjectID:
			if d.SecIndex == nil {
				continue
			}
			hits, err := d.SecIndex.Lookup(ctx, dominant.Database, dominant.Name, r.IDs)
			if err != nil {
				return nil, err
			}
			ids := make([]int32, 0, len(hits))
			for _, chunkID := range hits {
				ids = append(ids, chunkID)
			}
			intersect(ids)
		default:
			if r.Shape == nil {
				continue
			}
			lo, hi := r.Shape.StripeRange(dominant.Striping)
			intersect(spatial.ChunksForStripes(lo, hi, dominant.Striping.NumStripes))
		}
	}
	if candidate == nil {
		return full, nil
	}

	fullSet := make(map[int32]bool, len(full))
	for _, c := range full {
		fullSet[c] = true
	}
	out := make([]int32, 0, len(candidate))
	for c := range candidate {
		if fullSet[c] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func chunkCount(chunks []int32) int {
	if len(chunks) == 0 {
		return 1 // the dummy chunk CQueryBegin injects when none were added
	}
	return len(chunks)
}

func columnsOf(rows []transport.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func sanitizeIdent(s string) string {
	return strings.ReplaceAll(s, "-", "")
}
