package wsched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/wbase"
)

func newScanTask(jobID string, scanTables []string) *wbase.Task {
	t2 := wbase.NewTask(jobID, "db", 1, wbase.NewMemoryReply())
	t2.ScanTables = scanTables
	return t2
}

func TestScanSchedulerDispatchesFastFirst(t *testing.T) {
	s := NewScanScheduler(1, 0, 0, 0)
	s.Enqueue(newScanTask("slow", []string{"a", "b", "c"}))
	s.Enqueue(newScanTask("fast", []string{"a"}))

	task, tier, ok := s.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "fast", task.JobID)
	assert.Equal(t, TierFast, tier)
}

func TestScanSchedulerCapsAtPoolSize(t *testing.T) {
	s := NewScanScheduler(1, 0, 0, 0)
	s.Enqueue(newScanTask("a", []string{"a"}))
	s.Enqueue(newScanTask("b", []string{"a"}))

	_, tier, ok := s.Dequeue()
	require.True(t, ok)

	_, _, ok = s.Dequeue()
	assert.False(t, ok, "pool is full until MarkFinished releases a slot")

	s.MarkFinished(tier)
	_, _, ok = s.Dequeue()
	assert.True(t, ok)
}

func TestScanSchedulerReservedFloorProtectsFastFromSlow(t *testing.T) {
	// pool of 2, fast reserves 1 thread; with two slow tasks queued ahead
	// of it, the fast task still claims its reserved slot first, one slow
	// task takes the remaining slot, and the second slow task waits.
	s := NewScanScheduler(2, 1, 0, 0)
	s.Enqueue(newScanTask("slow1", []string{"a", "b", "c"}))
	s.Enqueue(newScanTask("slow2", []string{"a", "b", "c"}))
	s.Enqueue(newScanTask("fast1", []string{"a"}))

	first, tier1, ok := s.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "fast1", first.JobID, "fast must claim its reserved slot first")
	_ = tier1

	second, tier2, ok := s.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "slow1", second.JobID)
	assert.Equal(t, TierSlow, tier2)

	_, _, ok = s.Dequeue()
	assert.False(t, ok, "pool exhausted, slow2 must wait")
}

func TestScanSchedulerRemoveByHash(t *testing.T) {
	s := NewScanScheduler(1, 0, 0, 0)
	task := newScanTask("a", []string{"a"})
	task.QueryHash = "hash-a"
	s.Enqueue(task)

	removed := s.RemoveByHash("hash-a")
	require.NotNil(t, removed)
	assert.Equal(t, 0, s.Len())
}
