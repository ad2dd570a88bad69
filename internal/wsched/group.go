// Package wsched implements the worker scheduler named in spec.md §4.3: a
// multi-queue task scheduler (group + tiered shared-scan) admitting
// incoming chunk tasks into a bounded thread pool.
package wsched

import (
	"sync"

	"github.com/qserv/qserv/internal/wbase"
)

// GroupScheduler is the FIFO-with-coalescing scheduler for interactive /
// non-scan tasks, per spec.md §4.3: tasks sharing a chunk id are batched
// up to maxGroupSize so one worker thread processes a run of same-chunk
// tasks back-to-back, amortizing table staging.
type GroupScheduler struct {
	mu           sync.Mutex
	maxGroupSize int
	queue        []*wbase.Task
}

// NewGroupScheduler creates a group scheduler. maxGroupSize <= 0 defaults
// to 1 (no coalescing), matching spec.md §4.3's stated default.
func NewGroupScheduler(maxGroupSize int) *GroupScheduler {
	if maxGroupSize <= 0 {
		maxGroupSize = 1
	}
	return &GroupScheduler{maxGroupSize: maxGroupSize}
}

// Enqueue appends a task to the FIFO queue.
func (g *GroupScheduler) Enqueue(t *wbase.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, t)
}

// Len reports the number of queued tasks.
func (g *GroupScheduler) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Dequeue pops the head task plus up to maxGroupSize-1 further queued
// tasks sharing its chunk id, preserving FIFO order of what remains.
func (g *GroupScheduler) Dequeue() []*wbase.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return nil
	}

	head := g.queue[0]
	batch := []*wbase.Task{head}
	rest := g.queue[1:]

	var remaining []*wbase.Task
	for _, t := range rest {
		if len(batch) < g.maxGroupSize && t.ChunkID == head.ChunkID && t.DB == head.DB {
			batch = append(batch, t)
			continue
		}
		remaining = append(remaining, t)
	}
	g.queue = remaining
	return batch
}

// RemoveByHash removes and returns a queued task matching queryHash, for
// client-originated squash to poison a task that has not yet started.
func (g *GroupScheduler) RemoveByHash(queryHash string) *wbase.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, t := range g.queue {
		if t.QueryHash == queryHash {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return t
		}
	}
	return nil
}
