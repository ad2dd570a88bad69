// Package errors provides explicit, human-readable error types for qserv.
// Every error carries a Reason and a Suggestion so that failures surfaced
// at the master CLI or in a dispatch log are actionable, not just "it broke".
package errors

import (
	"fmt"
)

// QservError is the base error type for all qserv errors.
type QservError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit-code mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodeAuth       ErrorCode = 2
	CodeEngine     ErrorCode = 3
	CodeInternal   ErrorCode = 4
	// CodeDispatch covers the distributed-dispatch error kinds of
	// spec §7 that have no analog in the teacher's request/response
	// gateway: provision-error, stream-error, result-error, resource-error.
	CodeDispatch ErrorCode = 5
)

func (e *QservError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *QservError) Unwrap() error {
	return e.Cause
}

// ErrParse is a parse-error: the lexer/parser rejected the input SQL.
type ErrParse struct {
	QservError
	SQL string
}

func NewParseError(sql string, cause error) *ErrParse {
	return &ErrParse{
		QservError: QservError{
			Code:       CodeValidation,
			Message:    "query rejected: parse error",
			Reason:     cause.Error(),
			Suggestion: "check SQL syntax; only a SQL-92 SELECT subset with qserv_areaspec_*/qserv_objectId extensions is accepted",
			Cause:      cause,
		},
		SQL: sql,
	}
}

// ErrAnalysis is an analysis-error: the plugin pipeline found a semantic
// violation (unknown table, mismatched partitioning, unsupported construct).
type ErrAnalysis struct {
	QservError
	Construct string
}

func NewAnalysisError(construct, reason, suggestion string) *ErrAnalysis {
	return &ErrAnalysis{
		QservError: QservError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("query rejected: %s", construct),
			Reason:     reason,
			Suggestion: suggestion,
		},
		Construct: construct,
	}
}

// ErrCatalog is a catalog-error: the chunk/partitioning catalog lookup failed.
type ErrCatalog struct {
	QservError
	Table string
}

func NewCatalogError(table string, cause error) *ErrCatalog {
	return &ErrCatalog{
		QservError: QservError{
			Code:       CodeInternal,
			Message:    fmt.Sprintf("catalog lookup failed for %s", table),
			Reason:     cause.Error(),
			Suggestion: "verify the catalog service is reachable and the table is registered",
			Cause:      cause,
		},
		Table: table,
	}
}

// ErrProvision is a provision-error: the transport failed to reach or bind
// a worker session for a chunk request. Retried up to the retry cap.
type ErrProvision struct {
	QservError
	JobID string
}

func NewProvisionError(jobID string, cause error) *ErrProvision {
	return &ErrProvision{
		QservError: QservError{
			Code:       CodeDispatch,
			Message:    fmt.Sprintf("failed to provision job %s", jobID),
			Reason:     cause.Error(),
			Suggestion: "transient; will be retried up to the configured retry cap",
			Cause:      cause,
		},
		JobID: jobID,
	}
}

// ErrStream is a stream-error: a mid-stream failure of a per-chunk response.
type ErrStream struct {
	QservError
	JobID string
}

func NewStreamError(jobID string, cause error) *ErrStream {
	return &ErrStream{
		QservError: QservError{
			Code:       CodeDispatch,
			Message:    fmt.Sprintf("stream failure on job %s", jobID),
			Reason:     cause.Error(),
			Suggestion: "retried as a provision-error if no rows were delivered yet",
			Cause:      cause,
		},
		JobID: jobID,
	}
}

// ErrResult is a result-error: a worker signalled a task failure. Triggers
// query-wide squash.
type ErrResult struct {
	QservError
	JobID string
}

func NewResultError(jobID, reason string) *ErrResult {
	return &ErrResult{
		QservError: QservError{
			Code:       CodeDispatch,
			Message:    fmt.Sprintf("worker reported failure for job %s", jobID),
			Reason:     reason,
			Suggestion: "query has been squashed; inspect the worker's engine-error for root cause",
		},
		JobID: jobID,
	}
}

// ErrMerge is a merge-error: the final merge statement failed. Terminal,
// not retried.
type ErrMerge struct {
	QservError
}

func NewMergeError(cause error) *ErrMerge {
	return &ErrMerge{
		QservError: QservError{
			Code:       CodeInternal,
			Message:    "merge statement failed",
			Reason:     cause.Error(),
			Suggestion: "merge-phase errors are terminal and not retried; inspect the merge SELECT and accumulated rows",
			Cause:      cause,
		},
	}
}

// ErrEngine is an engine-error: the worker-local relational engine rejected
// a fragment.
type ErrEngine struct {
	QservError
	Fragment string
}

func NewEngineError(fragment string, cause error) *ErrEngine {
	return &ErrEngine{
		QservError: QservError{
			Code:       CodeEngine,
			Message:    "local engine rejected fragment",
			Reason:     cause.Error(),
			Suggestion: "check the rendered fragment SQL against the worker-local engine's dialect",
			Cause:      cause,
		},
		Fragment: fragment,
	}
}

// ErrResource is a resource-error: sub-chunk materialization or memory
// reservation failed.
type ErrResource struct {
	QservError
	DB      string
	ChunkID int32
}

func NewResourceError(db string, chunkID int32, cause error) *ErrResource {
	return &ErrResource{
		QservError: QservError{
			Code:       CodeDispatch,
			Message:    fmt.Sprintf("resource error staging chunk %d of %s", chunkID, db),
			Reason:     cause.Error(),
			Suggestion: "check the memory-manager budget and scratch-db disk space on the worker",
			Cause:      cause,
		},
		DB:      db,
		ChunkID: chunkID,
	}
}

// ErrAuth marks a capability-token validation failure, per spec.md §1's
// "Security is out of scope beyond honoring a per-request capability
// token" — the one authentication concern the core does own.
type ErrAuth struct {
	QservError
}

func NewAuthError(reason string) *ErrAuth {
	return &ErrAuth{
		QservError: QservError{
			Code:       CodeAuth,
			Message:    "request rejected: invalid capability token",
			Reason:     reason,
			Suggestion: "supply a valid per-request capability token",
		},
	}
}

// ErrCancelled marks a job or query as cooperatively cancelled. Honored,
// never retried.
type ErrCancelled struct {
	QservError
	JobID string
}

func NewCancelled(jobID string) *ErrCancelled {
	return &ErrCancelled{
		QservError: QservError{
			Code:       CodeDispatch,
			Message:    fmt.Sprintf("job %s cancelled", jobID),
			Reason:     "squash or explicit cancellation",
			Suggestion: "not retried; re-submit the query if cancellation was unintended",
		},
		JobID: jobID,
	}
}
