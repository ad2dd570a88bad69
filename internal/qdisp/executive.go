package qdisp

import (
	"context"
	"sync"
	"time"

	qerrors "github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/qsession"
	"github.com/qserv/qserv/internal/transport"
)

// JobState is one of the per-chunk dispatch states named in spec.md §3's
// "Per-chunk dispatch state" data model.
type JobState int

const (
	StateProvisioning JobState = iota
	StateRequestSent
	StateStreaming
	StateResponseDone
	StateComplete
	StateResultError
	StateProvisionError
	StateCancelled
)

func (s JobState) String() string {
	switch s {
	case StateProvisioning:
		return "provisioning"
	case StateRequestSent:
		return "request-sent"
	case StateStreaming:
		return "streaming"
	case StateResponseDone:
		return "response-done"
	case StateComplete:
		return "complete"
	case StateResultError:
		return "result-error"
	case StateProvisionError:
		return "provision-error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// JobStatus is the externally-observable state of one tracked job.
type JobStatus struct {
	State       JobState
	Description string
	Requested   time.Time
	Completed   time.Time
}

// JobDesc describes the chunk query a job dispatches.
type JobDesc struct {
	Spec qsession.ChunkQuerySpec
}

// Acceptor receives rows as they stream in for one job. The Merger is the
// production implementation; tests may supply an in-memory fake.
type Acceptor interface {
	AcceptRow(row transport.Row) error
}

type jobEntry struct {
	status   JobStatus
	cancel   context.CancelFunc
	once     sync.Once
	attempts uint
}

// Executive owns per-query dispatch of N chunk requests over a streaming
// transport, per spec.md §4.2. One Executive is used for exactly one
// query; create a new one per QuerySession iteration.
type Executive struct {
	transport transport.ChunkTransport
	retry     RetryConfig
	sem       chan struct{}

	statusMu sync.Mutex
	statuses map[string]*jobEntry

	cancelledMu sync.Mutex
	cancelled   bool

	errMu  sync.Mutex
	errs   []error
	failed int

	wg sync.WaitGroup
}

// NewExecutive creates an Executive dispatching over the given transport,
// with a goroutine pool bounded by poolSize — the Go realization of
// spec.md §5's "goroutine pool bounded by a buffered semaphore channel",
// generalizing the teacher's unbounded executeSubQueries fan-out in
// internal/federation/executor.go.
func NewExecutive(t transport.ChunkTransport, retry RetryConfig, poolSize int) *Executive {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Executive{
		transport: t,
		retry:     retry.withDefaults(),
		sem:       make(chan struct{}, poolSize),
		statuses:  make(map[string]*jobEntry),
	}
}

// Add registers a response acceptor under jobId and begins provisioning.
// Idempotent on a duplicate jobId; a no-op once the Executive is
// cancelled, per spec.md §4.2's "add" operation.
func (e *Executive) Add(jobID string, desc JobDesc, acceptor Acceptor) {
	e.cancelledMu.Lock()
	cancelled := e.cancelled
	e.cancelledMu.Unlock()
	if cancelled {
		return
	}

	e.statusMu.Lock()
	if _, exists := e.statuses[jobID]; exists {
		e.statusMu.Unlock()
		return
	}
	entry := &jobEntry{status: JobStatus{State: StateProvisioning, Requested: time.Now()}}
	e.statuses[jobID] = entry
	e.statusMu.Unlock()

	e.wg.Add(1)
	go e.run(jobID, desc, acceptor, entry)
}

func (e *Executive) run(jobID string, desc JobDesc, acceptor Acceptor, entry *jobEntry) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	ctx, cancel := context.WithCancel(context.Background())
	e.statusMu.Lock()
	entry.cancel = cancel
	e.statusMu.Unlock()

	for {
		e.setState(entry, StateRequestSent, "")

		stream, err := e.transport.Dispatch(ctx, jobID, desc.Spec)
		if err != nil {
			if ctx.Err() != nil {
				e.markCompleted(jobID, entry, false, StateCancelled, qerrors.NewCancelled(jobID))
				return
			}
			if e.shouldRetry(entry, err) {
				e.wait(ctx, entry.attempts)
				continue
			}
			e.markCompleted(jobID, entry, false, StateProvisionError, err)
			return
		}

		e.setState(entry, StateStreaming, "")
		streamErr := e.drain(ctx, jobID, stream, acceptor)
		stream.Close()
		if streamErr != nil {
			if ctx.Err() != nil {
				e.markCompleted(jobID, entry, false, StateCancelled, qerrors.NewCancelled(jobID))
				return
			}
			if e.shouldRetry(entry, streamErr) {
				e.wait(ctx, entry.attempts)
				continue
			}
			e.markCompleted(jobID, entry, false, StateResultError, streamErr)
			return
		}

		e.markCompleted(jobID, entry, true, StateResponseDone, nil)
		return
	}
}

func (e *Executive) drain(ctx context.Context, jobID string, stream transport.RowStream, acceptor Acceptor) error {
	for {
		row, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		if err := acceptor.AcceptRow(row); err != nil {
			return qerrors.NewResultError(jobID, err.Error())
		}
	}
}

// shouldRetry consults the per-job retry counter, which is checked then
// incremented under the statuses mutex and never decremented, per
// spec.md §4.2's "retry-counter is never decremented" invariant.
func (e *Executive) shouldRetry(entry *jobEntry, err error) bool {
	if !isTransient(err) {
		return false
	}
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if entry.attempts >= e.retry.RetryCap {
		return false
	}
	entry.attempts++
	return true
}

func (e *Executive) wait(ctx context.Context, attempt uint) {
	select {
	case <-ctx.Done():
	case <-time.After(backoffDelay(e.retry, attempt)):
	}
}

func (e *Executive) setState(entry *jobEntry, state JobState, desc string) {
	e.statusMu.Lock()
	entry.status.State = state
	entry.status.Description = desc
	e.statusMu.Unlock()
}

// markCompleted finalizes a job exactly once — guarded by the job's own
// sync.Once, matching spec.md §4.2's "reported complete exactly once,
// idempotent" invariant against duplicate completion callbacks — records
// a failure into the multi-error accumulator, and signals squash on
// failure.
func (e *Executive) markCompleted(jobID string, entry *jobEntry, success bool, finalState JobState, cause error) {
	entry.once.Do(func() {
		e.statusMu.Lock()
		entry.status.State = finalState
		entry.status.Completed = time.Now()
		if cause != nil {
			entry.status.Description = cause.Error()
		}
		e.statusMu.Unlock()

		if !success {
			e.errMu.Lock()
			e.failed++
			if cause != nil {
				e.errs = append(e.errs, cause)
			}
			e.errMu.Unlock()
			e.Squash()
		}
		e.wg.Done()
	})
}

// RequestSquash targets cancellation of a single job.
func (e *Executive) RequestSquash(jobID string) {
	e.statusMu.Lock()
	entry, ok := e.statuses[jobID]
	var cancel context.CancelFunc
	if ok {
		cancel = entry.cancel
	}
	e.statusMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Squash cancels every in-flight job. Idempotent: a second call is a
// no-op, per spec.md §4.2's "squash" operation.
func (e *Executive) Squash() {
	e.cancelledMu.Lock()
	if e.cancelled {
		e.cancelledMu.Unlock()
		return
	}
	e.cancelled = true
	e.cancelledMu.Unlock()

	e.statusMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.statuses))
	for _, entry := range e.statuses {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	e.statusMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Join blocks until every tracked job has reached a terminal state and
// reports whether every one of them completed successfully.
func (e *Executive) Join() bool {
	e.wg.Wait()
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.failed == 0
}

// Errors returns the accumulated per-job errors, for the caller to report
// together once Join returns.
func (e *Executive) Errors() []error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	out := make([]error, len(e.errs))
	copy(out, e.errs)
	return out
}

// Status returns a snapshot of one job's status, for observability/tests.
func (e *Executive) Status(jobID string) (JobStatus, bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	entry, ok := e.statuses[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return entry.status, true
}
