package transport

import (
	"context"

	"github.com/qserv/qserv/internal/qsession"
)

// LocalHandler runs a chunk query directly against an in-process worker
// scheduler, returning its row stream. Wired at service-construction time
// by whatever owns the worker side (internal/wexec in a single-box
// deployment, a test fake in unit tests).
type LocalHandler func(ctx context.Context, jobID string, spec qsession.ChunkQuerySpec) (RowStream, error)

// LocalTransport dispatches by direct function call rather than over the
// network, for single-box deployments and tests, per spec.md §4.2.1's
// "in-process LocalTransport" variant.
type LocalTransport struct {
	Handler LocalHandler
}

// NewLocalTransport builds a LocalTransport around the given handler.
func NewLocalTransport(handler LocalHandler) *LocalTransport {
	return &LocalTransport{Handler: handler}
}

func (t *LocalTransport) Dispatch(ctx context.Context, jobID string, spec qsession.ChunkQuerySpec) (RowStream, error) {
	return t.Handler(ctx, jobID, spec)
}

// sliceStream adapts a pre-materialized []Row to RowStream, for tests and
// for small result sets a LocalHandler has already collected in memory.
type sliceStream struct {
	rows []Row
	pos  int
}

// NewSliceStream wraps rows as a RowStream.
func NewSliceStream(rows []Row) RowStream {
	return &sliceStream{rows: rows}
}

func (s *sliceStream) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sliceStream) Close() error { return nil }
