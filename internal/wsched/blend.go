package wsched

import (
	"sync"

	"github.com/qserv/qserv/internal/wbase"
)

// RunFunc executes one task to completion, streaming rows to its reply
// channel. BlendScheduler never inspects the outcome; wexec supplies it.
type RunFunc func(*wbase.Task)

// BlendScheduler is the top-level worker scheduler of spec.md §4.3: it
// routes each incoming task to the group scheduler (non-scan) or the
// tiered scan scheduler (scan), and multiplexes a fixed pool of worker
// goroutines across whichever has runnable work, never exceeding
// poolSize concurrently executing tasks.
//
// Grounded on the teacher's executeSubQueries fan-out (goroutines plus a
// bound on concurrency), generalized here from a one-shot WaitGroup fan-
// out into a long-lived worker pool: poolSize goroutines loop, each
// blocking on a condition variable until the picker hands it a task.
type BlendScheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	group   *GroupScheduler
	scan    *ScanScheduler
	run     RunFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewBlendScheduler builds a blend scheduler with poolSize worker
// goroutines, a group scheduler with the given coalescing size, and a
// scan scheduler with the given per-tier reserved-thread floors.
func NewBlendScheduler(poolSize, groupMaxSize, reservedFast, reservedMedium, reservedSlow int, run RunFunc) *BlendScheduler {
	if poolSize <= 0 {
		poolSize = 1
	}
	b := &BlendScheduler{
		group: NewGroupScheduler(groupMaxSize),
		scan:  NewScanScheduler(poolSize, reservedFast, reservedMedium, reservedSlow),
		run:   run,
	}
	b.cond = sync.NewCond(&b.mu)
	for i := 0; i < poolSize; i++ {
		b.wg.Add(1)
		go b.workerLoop()
	}
	return b
}

// Submit enqueues a task into the appropriate sub-scheduler and wakes a
// waiting worker.
func (b *BlendScheduler) Submit(t *wbase.Task) {
	if t.IsScan() {
		b.scan.Enqueue(t)
	} else {
		b.group.Enqueue(t)
	}
	b.cond.Broadcast()
}

// RemoveByHash cancels a not-yet-started task across both sub-schedulers,
// for client-triggered squash (spec.md §3.5).
func (b *BlendScheduler) RemoveByHash(queryHash string) *wbase.Task {
	if t := b.group.RemoveByHash(queryHash); t != nil {
		return t
	}
	return b.scan.RemoveByHash(queryHash)
}

// Pending reports the number of tasks still queued across both
// sub-schedulers, for health/readiness reporting.
func (b *BlendScheduler) Pending() int {
	return b.group.Len() + b.scan.Len()
}

// Stop signals every worker goroutine to exit once idle and waits for
// them to drain. Tasks already running are allowed to finish.
func (b *BlendScheduler) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.cond.Broadcast()
	b.wg.Wait()
}

func (b *BlendScheduler) workerLoop() {
	defer b.wg.Done()
	for {
		task, tier, isScan, ok := b.next()
		if !ok {
			return
		}
		b.run(task)
		if isScan {
			b.scan.MarkFinished(tier)
			b.cond.Broadcast()
		}
	}
}

// next blocks until a runnable task is available or the scheduler is
// stopped. The scan scheduler is consulted first since its Dequeue
// already accounts for pool capacity and reserved floors; the group
// scheduler is unbounded by tiers and runs whenever the scan scheduler
// has nothing ready.
func (b *BlendScheduler) next() (*wbase.Task, ScanTier, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if t, tier, ok := b.scan.Dequeue(); ok {
			return t, tier, true, true
		}
		if batch := b.group.Dequeue(); len(batch) > 0 {
			// Group batches coalesce same-chunk tasks onto one worker;
			// run them sequentially within this goroutine before it asks
			// the picker for more work.
			return batchTask(batch), 0, false, true
		}
		if b.stopped {
			return nil, 0, false, false
		}
		b.cond.Wait()
	}
}

// batchTask wraps a coalesced batch so workerLoop's single run() call
// executes every task in the batch back-to-back, sharing chunk staging.
func batchTask(batch []*wbase.Task) *wbase.Task {
	if len(batch) == 1 {
		return batch[0]
	}
	head := batch[0]
	head.Coalesced = batch[1:]
	return head
}
