package workerdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests exercise the sqlite fallback engine since it needs no cgo
// toolchain, matching the teacher's CI-friendly engine selection.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Config{Engine: EngineSQLite, DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestExecAndQueryRows(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Exec(ctx, "CREATE TABLE t (id INTEGER, name TEXT)"))
	require.NoError(t, e.Exec(ctx, "INSERT INTO t VALUES (1, 'a'), (2, 'b')"))

	rows, err := e.QueryRows(ctx, "SELECT id, name FROM t ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["id"])
	assert.Equal(t, "a", rows[0]["name"])
}

func TestExecScriptAbortsOnPoison(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	poisoned := false
	err := e.ExecScript(ctx, "CREATE TABLE t (id INTEGER); SELECT 1;", func() bool { return poisoned })
	require.NoError(t, err)

	poisoned = true
	err = e.ExecScript(ctx, "SELECT 1;", func() bool { return poisoned })
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	err := e.Exec(context.Background(), "SELECT 1")
	require.Error(t, err)
}
