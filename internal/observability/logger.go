// Package observability provides structured logging for the qserv master
// and worker processes.
//
// Grounded on the teacher's internal/observability/logger.go: a
// hand-rolled, mutex-guarded io.Writer-backed JSON logger. The teacher
// never imports a third-party logging library, so none is introduced
// here either — this is the one ambient concern the corpus itself builds
// on the standard library.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// QueryLogEntry is the master's top-level accept/reject decision for one
// user query, generalized from the teacher's per-federated-query entry.
type QueryLogEntry struct {
	QueryID       string
	User          string
	Tables        []string
	Outcome       string // "accepted" | "rejected" | "error"
	Error         string
	ExecutionTime time.Duration
}

// Validate checks that all required fields are present.
func (e *QueryLogEntry) Validate() error {
	if e.QueryID == "" {
		return fmt.Errorf("observability: query_id is required")
	}
	if e.User == "" {
		return fmt.Errorf("observability: user is required")
	}
	if e.ExecutionTime < 0 {
		return fmt.Errorf("observability: execution_time cannot be negative")
	}
	return nil
}

// DispatchLogEntry is one entry per chunk dispatch, the qserv-specific
// generalization of the teacher's single QueryLogEntry shape down to
// per-chunk granularity: jobId, chunkId, db, the worker that ran it,
// dispatch/completion timestamps, and outcome.
type DispatchLogEntry struct {
	JobID     string
	ChunkID   int32
	DB        string
	Worker    string
	Requested time.Time
	Completed time.Time
	Outcome   string // "complete" | "result-error" | "provision-error" | "cancelled"
	Error     string
}

func (e *DispatchLogEntry) Validate() error {
	if e.JobID == "" {
		return fmt.Errorf("observability: job_id is required")
	}
	return nil
}

// Logger is the logging surface both qserv processes use.
type Logger interface {
	LogQuery(ctx context.Context, entry QueryLogEntry) error
	LogDispatch(ctx context.Context, entry DispatchLogEntry) error
	GetAuditSummary() *AuditSummary
}

// AuditSummary is aggregated audit statistics, preserving the teacher's
// top-N reporting idiom.
type AuditSummary struct {
	AcceptedCount       int                   `json:"accepted_count"`
	RejectedCount       int                   `json:"rejected_count"`
	TopRejectionReasons []RejectionReasonStat `json:"top_rejection_reasons"`
	TopQueriedTables    []TableQueryStat      `json:"top_queried_tables"`
	DispatchCount       int                   `json:"dispatch_count"`
	DispatchErrorCount  int                   `json:"dispatch_error_count"`
}

type RejectionReasonStat struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type TableQueryStat struct {
	Table string `json:"table"`
	Count int    `json:"count"`
}

type queryLogOutput struct {
	Timestamp       string   `json:"timestamp"`
	Level           string   `json:"level"`
	Kind            string   `json:"kind"`
	QueryID         string   `json:"query_id"`
	User            string   `json:"user"`
	Tables          []string `json:"tables"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	Outcome         string   `json:"outcome,omitempty"`
	Error           string   `json:"error,omitempty"`
}

type dispatchLogOutput struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Kind      string `json:"kind"`
	JobID     string `json:"job_id"`
	ChunkID   int32  `json:"chunk_id"`
	DB        string `json:"db"`
	Worker    string `json:"worker"`
	LatencyMs int64  `json:"latency_ms"`
	Outcome   string `json:"outcome,omitempty"`
	Error     string `json:"error,omitempty"`
}

// JSONLogger implements Logger with JSON-line output.
type JSONLogger struct {
	writer    io.Writer
	mu        sync.RWMutex
	queries   []QueryLogEntry
	dispatch  int
	dispatchE int
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{writer: w}
}

func (l *JSONLogger) LogQuery(ctx context.Context, entry QueryLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	level := "info"
	if entry.Error != "" {
		level = "error"
	}
	tables := entry.Tables
	if tables == nil {
		tables = []string{}
	}
	data, err := json.Marshal(queryLogOutput{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Level:           level,
		Kind:            "query",
		QueryID:         entry.QueryID,
		User:            entry.User,
		Tables:          tables,
		ExecutionTimeMs: entry.ExecutionTime.Milliseconds(),
		Outcome:         entry.Outcome,
		Error:           entry.Error,
	})
	if err != nil {
		return fmt.Errorf("observability: failed to marshal log: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("observability: failed to write log: %w", err)
	}

	l.mu.Lock()
	l.queries = append(l.queries, entry)
	l.mu.Unlock()
	return nil
}

func (l *JSONLogger) LogDispatch(ctx context.Context, entry DispatchLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	level := "info"
	if entry.Error != "" {
		level = "error"
	}
	latency := entry.Completed.Sub(entry.Requested)
	data, err := json.Marshal(dispatchLogOutput{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Kind:      "dispatch",
		JobID:     entry.JobID,
		ChunkID:   entry.ChunkID,
		DB:        entry.DB,
		Worker:    entry.Worker,
		LatencyMs: latency.Milliseconds(),
		Outcome:   entry.Outcome,
		Error:     entry.Error,
	})
	if err != nil {
		return fmt.Errorf("observability: failed to marshal log: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("observability: failed to write log: %w", err)
	}

	l.mu.Lock()
	l.dispatch++
	if entry.Error != "" {
		l.dispatchE++
	}
	l.mu.Unlock()
	return nil
}

// GetAuditSummary returns aggregated audit statistics.
func (l *JSONLogger) GetAuditSummary() *AuditSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	summary := &AuditSummary{
		TopRejectionReasons: []RejectionReasonStat{},
		TopQueriedTables:    []TableQueryStat{},
		DispatchCount:       l.dispatch,
		DispatchErrorCount:  l.dispatchE,
	}

	rejectionReasons := make(map[string]int)
	tableCounts := make(map[string]int)

	for _, entry := range l.queries {
		if entry.Error == "" {
			summary.AcceptedCount++
		} else {
			summary.RejectedCount++
			rejectionReasons[entry.Error]++
		}
		for _, table := range entry.Tables {
			tableCounts[table]++
		}
	}

	for reason, count := range rejectionReasons {
		summary.TopRejectionReasons = append(summary.TopRejectionReasons, RejectionReasonStat{Reason: reason, Count: count})
	}
	sort.Slice(summary.TopRejectionReasons, func(i, j int) bool {
		return summary.TopRejectionReasons[i].Count > summary.TopRejectionReasons[j].Count
	})
	if len(summary.TopRejectionReasons) > 5 {
		summary.TopRejectionReasons = summary.TopRejectionReasons[:5]
	}

	for table, count := range tableCounts {
		summary.TopQueriedTables = append(summary.TopQueriedTables, TableQueryStat{Table: table, Count: count})
	}
	sort.Slice(summary.TopQueriedTables, func(i, j int) bool {
		return summary.TopQueriedTables[i].Count > summary.TopQueriedTables[j].Count
	})
	if len(summary.TopQueriedTables) > 5 {
		summary.TopQueriedTables = summary.TopQueriedTables[:5]
	}

	return summary
}

// NoopLogger discards all logs. Used by tests and embedded callers that
// don't want log noise.
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (l *NoopLogger) LogQuery(context.Context, QueryLogEntry) error       { return nil }
func (l *NoopLogger) LogDispatch(context.Context, DispatchLogEntry) error { return nil }
func (l *NoopLogger) GetAuditSummary() *AuditSummary {
	return &AuditSummary{TopRejectionReasons: []RejectionReasonStat{}, TopQueriedTables: []TableQueryStat{}}
}
