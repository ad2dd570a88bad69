// Package wexec implements the worker execution core named in spec.md
// §4.3: given an admitted task, stage its sub-chunks, run every fragment
// but the last against the local engine, then stream the last fragment's
// rows to the task's reply channel.
//
// Grounded on the teacher's internal/adapters/duckdb query-then-scan
// loop, generalized across chunkresource staging and memman admission.
package wexec

import (
	"context"

	"github.com/qserv/qserv/internal/chunkresource"
	"github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/memman"
	"github.com/qserv/qserv/internal/transport"
	"github.com/qserv/qserv/internal/wbase"
	"github.com/qserv/qserv/internal/workerdb"
)

// ScanReservationMB is the flat per-scan-task memory reservation a heavy
// shared-scan task requests, per spec.md §4.3's "flexible" admission
// policy for scan tasks. A fixed estimate rather than a query-derived one
// is itself a fair simplification: the worker has no cost model to size
// it precisely.
const ScanReservationMB = 256

// slowScanRating is wbase.Task.ScanRating's slow tier. Per spec.md §4.3's
// memory-gate policy ("flexible above a warning threshold and required
// below the slow-tier floor"), only tasks rated at or above this floor
// reserve as required; lighter scans stay flexible.
const slowScanRating = 2

// Core runs admitted tasks against a worker-local engine, respecting
// chunk resource refcounts and the memory manager's admission gate.
type Core struct {
	engine    *workerdb.Engine
	resources *chunkresource.Manager
	memman    memman.MemoryManager
}

// NewCore wires the execution core to its three collaborators.
func NewCore(engine *workerdb.Engine, resources *chunkresource.Manager, mm memman.MemoryManager) *Core {
	return &Core{engine: engine, resources: resources, memman: mm}
}

// Run executes one task and any batch coalesced onto it (internal/wsched's
// GroupScheduler.Dequeue), each sequentially sharing the same chunk
// staging. Errors are delivered to the task's own reply channel rather
// than returned, since Run is the RunFunc the scheduler's worker pool
// invokes fire-and-forget.
func (c *Core) Run(ctx context.Context, t *wbase.Task) {
	c.runOne(ctx, t)
	for _, extra := range t.Coalesced {
		c.runOne(ctx, extra)
	}
}

func (c *Core) runOne(ctx context.Context, t *wbase.Task) {
	if t.Poisoned() {
		_ = t.Reply.SendError(errors.NewCancelled(t.JobID))
		return
	}

	var reservation memman.Reservation
	if t.IsScan() {
		required := t.ScanRating() >= slowScanRating
		r, granted, err := c.memman.Reserve(ScanReservationMB, required)
		if err != nil {
			_ = t.Reply.SendError(err)
			return
		}
		if granted {
			reservation = r
			defer reservation.Release()
		}
	}

	tables := t.ScanTables
	if len(tables) == 0 && len(t.SubChunkIDs) > 0 {
		// Non-scan tasks that still name sub-chunks stage under a
		// synthetic table key scoped to the task's chunk.
		tables = []string{"_default"}
	}

	if len(t.SubChunkIDs) > 0 && len(tables) > 0 {
		if err := c.resources.Acquire(t.DB, t.ChunkID, tables, t.SubChunkIDs); err != nil {
			_ = t.Reply.SendError(err)
			return
		}
		defer func() {
			_ = c.resources.Release(t.DB, t.ChunkID, tables, t.SubChunkIDs)
		}()
	}

	if err := c.runFragments(ctx, t); err != nil {
		_ = t.Reply.SendError(err)
		return
	}
	_ = t.Reply.Close()
}

// runFragments executes every fragment but the last via ExecScript (DDL,
// table materialization, intermediate CREATE TABLE AS), then streams rows
// from the final fragment, per spec.md §4.3's execution ordering.
func (c *Core) runFragments(ctx context.Context, t *wbase.Task) error {
	if len(t.Fragments) == 0 {
		return nil
	}

	poison := t.Poisoned

	for _, fragment := range t.Fragments[:len(t.Fragments)-1] {
		if poison() {
			return errors.NewCancelled(t.JobID)
		}
		if err := c.engine.ExecScript(ctx, fragment, poison); err != nil {
			return errors.NewEngineError(fragment, err)
		}
	}

	last := t.Fragments[len(t.Fragments)-1]
	if poison() {
		return errors.NewCancelled(t.JobID)
	}

	rows, err := c.engine.QueryRows(ctx, last)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if poison() {
			return errors.NewCancelled(t.JobID)
		}
		if err := t.Reply.SendRow(transport.Row(row)); err != nil {
			return errors.NewStreamError(t.JobID, err)
		}
	}
	return nil
}
