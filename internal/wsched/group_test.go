package wsched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/wbase"
)

func newGroupTask(jobID, db string, chunkID int32) *wbase.Task {
	return wbase.NewTask(jobID, db, chunkID, wbase.NewMemoryReply())
}

func TestGroupSchedulerFIFOWithoutCoalescing(t *testing.T) {
	g := NewGroupScheduler(1)
	a := newGroupTask("a", "db", 1)
	b := newGroupTask("b", "db", 1)
	g.Enqueue(a)
	g.Enqueue(b)

	batch := g.Dequeue()
	require.Len(t, batch, 1)
	assert.Equal(t, "a", batch[0].JobID)
	assert.Equal(t, 1, g.Len())
}

func TestGroupSchedulerCoalescesSameChunk(t *testing.T) {
	g := NewGroupScheduler(3)
	a := newGroupTask("a", "db", 5)
	b := newGroupTask("b", "db", 5)
	c := newGroupTask("c", "db", 6)
	g.Enqueue(a)
	g.Enqueue(b)
	g.Enqueue(c)

	batch := g.Dequeue()
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].JobID)
	assert.Equal(t, "b", batch[1].JobID)
	assert.Equal(t, 1, g.Len())

	next := g.Dequeue()
	require.Len(t, next, 1)
	assert.Equal(t, "c", next[0].JobID)
}

func TestGroupSchedulerRespectsMaxGroupSize(t *testing.T) {
	g := NewGroupScheduler(2)
	for _, id := range []string{"a", "b", "c"} {
		g.Enqueue(newGroupTask(id, "db", 1))
	}
	batch := g.Dequeue()
	assert.Len(t, batch, 2)
	assert.Equal(t, 1, g.Len())
}

func TestGroupSchedulerRemoveByHash(t *testing.T) {
	g := NewGroupScheduler(1)
	a := newGroupTask("a", "db", 1)
	g.Enqueue(a)

	removed := g.RemoveByHash("a")
	require.NotNil(t, removed)
	assert.Equal(t, 0, g.Len())
	assert.Nil(t, g.RemoveByHash("a"))
}
