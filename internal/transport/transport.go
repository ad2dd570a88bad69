// Package transport defines the streaming RPC boundary between the
// client-side Executive and a worker, per spec.md §4.2.1: a ChunkTransport
// dispatches one ChunkQuerySpec and returns a row stream the caller pulls
// from until exhaustion or error.
package transport

import (
	"context"

	"github.com/qserv/qserv/internal/qsession"
)

// Row is one result row, keyed by column name. Column typing is left to
// the caller; the worker-local engine and the merge phase both deal in
// loosely-typed values, matching the teacher's QueryResult.Rows shape in
// internal/cli/gateway_client.go.
type Row map[string]interface{}

// RowStream is a pull-based cursor over a chunk's result rows. Next
// returns (nil, nil) once the stream is exhausted.
type RowStream interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

// ChunkTransport dispatches a single chunk query to its owning worker and
// returns a stream of its result rows. Implementations may provision a
// session, issue the request, and begin streaming as separate internal
// steps, but Dispatch itself either returns a usable stream or an error.
type ChunkTransport interface {
	Dispatch(ctx context.Context, jobID string, spec qsession.ChunkQuerySpec) (RowStream, error)
}
