package qdisp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/transport"
	"github.com/qserv/qserv/internal/workerdb"
)

func newMergerEngine(t *testing.T) *workerdb.Engine {
	t.Helper()
	e, err := workerdb.Open(workerdb.Config{Engine: workerdb.EngineSQLite, DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestMergerPassthroughWithoutMergeStmt(t *testing.T) {
	m := NewMerger(newMergerEngine(t), "result_t", "")

	require.NoError(t, m.AcceptRow(transport.Row{"id": int64(1)}))
	require.NoError(t, m.AcceptRow(transport.Row{"id": int64(2)}))

	rows, err := m.Finalize(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMergerAccumulatesAndRunsMergeStatement(t *testing.T) {
	engine := newMergerEngine(t)
	m := NewMerger(engine, "result_t", `SELECT SUM(CAST("n" AS INTEGER)) AS total FROM result_t`)

	require.NoError(t, m.AcceptRow(transport.Row{"n": "1"}))
	require.NoError(t, m.AcceptRow(transport.Row{"n": "2"}))
	require.NoError(t, m.AcceptRow(transport.Row{"n": "3"}))

	rows, err := m.Finalize(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 6, rows[0]["total"])

	require.NoError(t, m.Cleanup(context.Background()))
}

func TestMergerFinalizeWithNoRowsReceived(t *testing.T) {
	m := NewMerger(newMergerEngine(t), "result_t", `SELECT 1`)
	rows, err := m.Finalize(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestMergerRejectsFurtherRowsAfterError(t *testing.T) {
	engine := newMergerEngine(t)
	require.NoError(t, engine.Close())
	m := NewMerger(engine, "result_t", "SELECT 1 FROM result_t")

	err := m.AcceptRow(transport.Row{"id": int64(1)})
	require.Error(t, err)

	err = m.AcceptRow(transport.Row{"id": int64(2)})
	assert.Error(t, err)
}
