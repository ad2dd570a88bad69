package wsched

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/wbase"
)

func TestBlendSchedulerRunsGroupAndScanTasks(t *testing.T) {
	var mu sync.Mutex
	var ran []string

	run := func(t *wbase.Task) {
		mu.Lock()
		ran = append(ran, t.JobID)
		for _, extra := range t.Coalesced {
			ran = append(ran, extra.JobID)
		}
		mu.Unlock()
	}

	b := NewBlendScheduler(2, 1, 1, 0, 0, run)
	defer b.Stop()

	b.Submit(wbase.NewTask("group-1", "db", 1, wbase.NewMemoryReply()))
	scanTask := wbase.NewTask("scan-1", "db", 2, wbase.NewMemoryReply())
	scanTask.ScanTables = []string{"Object"}
	b.Submit(scanTask)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 2
	}, time.Second, time.Millisecond)
}

func TestBlendSchedulerCoalescesGroupBatch(t *testing.T) {
	var mu sync.Mutex
	var batchSizes []int

	run := func(t *wbase.Task) {
		mu.Lock()
		batchSizes = append(batchSizes, 1+len(t.Coalesced))
		mu.Unlock()
	}

	b := NewBlendScheduler(1, 4, 0, 0, 0, run)
	defer b.Stop()

	b.Submit(wbase.NewTask("a", "db", 9, wbase.NewMemoryReply()))
	b.Submit(wbase.NewTask("b", "db", 9, wbase.NewMemoryReply()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batchSizes) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2, batchSizes[0])
	mu.Unlock()
}

func TestBlendSchedulerRemoveByHash(t *testing.T) {
	run := func(t *wbase.Task) {}
	b := NewBlendScheduler(0, 1, 0, 0, 0, run)
	b.Stop()

	task := wbase.NewTask("queued", "db", 1, wbase.NewMemoryReply())
	task.QueryHash = "hash-1"
	b.group.Enqueue(task)

	removed := b.RemoveByHash("hash-1")
	require.NotNil(t, removed)
	assert.Equal(t, 0, b.Pending())
}
