package wexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/chunkresource"
	"github.com/qserv/qserv/internal/memman"
	"github.com/qserv/qserv/internal/wbase"
	"github.com/qserv/qserv/internal/workerdb"
)

func newTestCore(t *testing.T) (*Core, *workerdb.Engine) {
	t.Helper()
	engine, err := workerdb.Open(workerdb.Config{Engine: workerdb.EngineSQLite, DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	resources := chunkresource.NewManager(chunkresource.NewFakeBackend())
	mm := memman.NewRealMemMan(1024)
	return NewCore(engine, resources, mm), engine
}

func TestRunStreamsFinalFragmentRows(t *testing.T) {
	core, engine := newTestCore(t)
	ctx := context.Background()
	require.NoError(t, engine.Exec(ctx, "CREATE TABLE t (id INTEGER)"))
	require.NoError(t, engine.Exec(ctx, "INSERT INTO t VALUES (1), (2)"))

	reply := wbase.NewMemoryReply()
	task := wbase.NewTask("job-1", "db", 1, reply)
	task.Fragments = []string{"SELECT id FROM t ORDER BY id"}

	core.Run(ctx, task)

	rows, err, closed := reply.Snapshot()
	require.NoError(t, err)
	assert.True(t, closed)
	require.Len(t, rows, 2)
}

func TestRunSkipsPoisonedTask(t *testing.T) {
	core, _ := newTestCore(t)
	reply := wbase.NewMemoryReply()
	task := wbase.NewTask("job-2", "db", 1, reply)
	task.Fragments = []string{"SELECT 1"}
	task.Poison()

	core.Run(context.Background(), task)

	_, err, _ := reply.Snapshot()
	assert.Error(t, err)
}

func TestRunAcquiresAndReleasesChunkResources(t *testing.T) {
	core, engine := newTestCore(t)
	ctx := context.Background()
	require.NoError(t, engine.Exec(ctx, "CREATE TABLE Object (id INTEGER)"))

	reply := wbase.NewMemoryReply()
	task := wbase.NewTask("job-3", "db", 7, reply)
	task.ScanTables = []string{"Object"}
	task.SubChunkIDs = []int32{1, 2}
	task.Fragments = []string{"SELECT id FROM Object"}

	core.Run(ctx, task)

	assert.Equal(t, 0, core.resources.RefCount("db", 7, "Object", 1))
}

func TestRunCoalescedBatchRunsSequentially(t *testing.T) {
	core, engine := newTestCore(t)
	ctx := context.Background()
	require.NoError(t, engine.Exec(ctx, "CREATE TABLE t (id INTEGER)"))
	require.NoError(t, engine.Exec(ctx, "INSERT INTO t VALUES (1)"))

	replyA := wbase.NewMemoryReply()
	replyB := wbase.NewMemoryReply()
	head := wbase.NewTask("a", "db", 1, replyA)
	head.Fragments = []string{"SELECT id FROM t"}
	second := wbase.NewTask("b", "db", 1, replyB)
	second.Fragments = []string{"SELECT id FROM t"}
	head.Coalesced = []*wbase.Task{second}

	core.Run(ctx, head)

	_, errA, closedA := replyA.Snapshot()
	_, errB, closedB := replyB.Snapshot()
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.True(t, closedA)
	assert.True(t, closedB)
}
