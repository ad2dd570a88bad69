// Package workerdb wraps the worker-local relational engine named in
// spec.md §4.3.1: the embedded store that materializes sub-chunk tables
// and runs fragment SQL.
//
// Grounded on the teacher's internal/adapters/duckdb/adapter.go: a
// mutex-guarded *sql.DB, a blank-imported driver, idempotent Ping/Close.
// Generalized with an engine switch so both of the teacher's embedded-
// engine dependencies get exercised: github.com/marcboeker/go-duckdb as
// the primary columnar engine, modernc.org/sqlite as the pure-Go
// cgo-free fallback for test/CI builds.
package workerdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"

	"github.com/qserv/qserv/internal/errors"
)

// EngineKind selects the embedded driver.
type EngineKind string

const (
	EngineDuckDB EngineKind = "duckdb"
	EngineSQLite EngineKind = "sqlite"
)

// Config configures an Engine.
type Config struct {
	Engine       EngineKind
	DatabasePath string // ":memory:" for in-memory
}

// Engine is a worker's local relational store: one process-wide *sql.DB
// guarded by a mutex, matching the teacher's adapter.
type Engine struct {
	mu     sync.RWMutex
	db     *sql.DB
	kind   EngineKind
	closed bool
}

// Open opens a worker-local engine per cfg. An empty DatabasePath defaults
// to an in-memory database (the scratch-db-per-startup model of spec.md
// §6's "Persisted state: worker-local ... a scratch database dropped and
// re-created on startup").
func Open(cfg Config) (*Engine, error) {
	kind := cfg.Engine
	if kind == "" {
		kind = EngineDuckDB
	}
	path := cfg.DatabasePath
	if path == "" {
		path = ":memory:"
	}

	driver := string(kind)
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("workerdb: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("workerdb: ping %s: %w", driver, err)
	}
	return &Engine{db: db, kind: kind}, nil
}

// Exec runs a single statement, for chunkresource's Backend adapter.
func (e *Engine) Exec(ctx context.Context, stmt string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("workerdb: engine is closed")
	}
	_, err := e.db.ExecContext(ctx, stmt)
	return err
}

// ExecArgs runs a single parameterized statement, for callers (e.g. the
// result merger) that must safely interpolate row values rather than
// build SQL text by hand.
func (e *Engine) ExecArgs(ctx context.Context, stmt string, args ...interface{}) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("workerdb: engine is closed")
	}
	_, err := e.db.ExecContext(ctx, stmt, args...)
	return err
}

// QueryRows runs a query and returns every row as a transport.Row-shaped
// map, the last-fragment path described in spec.md §4.3's execution
// steps ("Stream rows from the last fragment directly to the reply
// channel").
func (e *Engine) QueryRows(ctx context.Context, query string) ([]map[string]interface{}, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("workerdb: engine is closed")
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewEngineError(query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.NewEngineError(query, err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.NewEngineError(query, err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewEngineError(query, err)
	}
	return out, nil
}

// Ping checks reachability, matching the teacher's adapter.
func (e *Engine) Ping(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("workerdb: engine is closed")
	}
	return e.db.PingContext(ctx)
}

// Close is idempotent, matching the teacher's adapter.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// ResetScratch drops and recreates the worker's scratch database, per
// spec.md §6's "scratchDb" configuration key and its startup-time reset
// persisted-state rule.
func (e *Engine) ResetScratch(ctx context.Context, scratchDB string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("workerdb: engine is closed")
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", scratchDB)); err != nil {
		// SQLite has no schema namespace; tolerate the no-op case rather
		// than fail scratch reset on the fallback engine.
		if e.kind != EngineSQLite {
			return fmt.Errorf("workerdb: drop scratch schema: %w", err)
		}
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", scratchDB)); err != nil {
		if e.kind != EngineSQLite {
			return fmt.Errorf("workerdb: create scratch schema: %w", err)
		}
	}
	return nil
}
