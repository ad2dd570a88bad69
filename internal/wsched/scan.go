package wsched

import (
	"sync"

	"github.com/qserv/qserv/internal/wbase"
)

// ScanTier names the three priority tiers a shared-scan task can fall
// into, per spec.md §4.3: fast, medium, slow.
type ScanTier int

const (
	TierFast ScanTier = iota
	TierMedium
	TierSlow
	numTiers
)

func (t ScanTier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierMedium:
		return "medium"
	case TierSlow:
		return "slow"
	default:
		return "unknown"
	}
}

type tierQueue struct {
	reserved int
	active   int
	queue    []*wbase.Task
}

// ScanScheduler is the tiered shared-scan scheduler: three priority
// tiers, each with a minimum reserved-thread floor so a heavy slow scan
// cannot starve fast queries, per spec.md §4.3.
type ScanScheduler struct {
	mu       sync.Mutex
	poolSize int
	tiers    [numTiers]*tierQueue
}

// NewScanScheduler builds a scan scheduler bounded by poolSize threads,
// with reservedFast/reservedMedium/reservedSlow minimum thread floors
// per tier (spec.md §6's QSW_RESERVEFAST/QSW_RESERVEMED/QSW_RESERVESLOW).
func NewScanScheduler(poolSize, reservedFast, reservedMedium, reservedSlow int) *ScanScheduler {
	s := &ScanScheduler{poolSize: poolSize}
	s.tiers[TierFast] = &tierQueue{reserved: reservedFast}
	s.tiers[TierMedium] = &tierQueue{reserved: reservedMedium}
	s.tiers[TierSlow] = &tierQueue{reserved: reservedSlow}
	return s
}

// Enqueue places a task into the tier matching its scan rating.
func (s *ScanScheduler) Enqueue(t *wbase.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tier := ScanTier(t.ScanRating())
	if tier >= numTiers {
		tier = TierSlow
	}
	s.tiers[tier].queue = append(s.tiers[tier].queue, t)
}

func (s *ScanScheduler) totalActive() int {
	n := 0
	for _, t := range s.tiers {
		n += t.active
	}
	return n
}

// Len reports the total number of queued (not yet dispatched) tasks.
func (s *ScanScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tiers {
		n += len(t.queue)
	}
	return n
}

// Dequeue selects the next task to run, in priority order (fast, medium,
// slow), without letting a lower tier's dispatch push the pool past
// capacity needed to satisfy a higher-priority tier's reserved floor.
func (s *ScanScheduler) Dequeue() (*wbase.Task, ScanTier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.totalActive()
	if total >= s.poolSize {
		return nil, 0, false
	}

	// First satisfy any tier still under its reserved floor.
	for idx := ScanTier(0); idx < numTiers; idx++ {
		tq := s.tiers[idx]
		if len(tq.queue) > 0 && tq.active < tq.reserved {
			return s.pop(idx)
		}
	}

	// Then dispatch in priority order, skipping a tier if doing so would
	// leave insufficient free capacity for other tiers' unmet floors.
	for idx := ScanTier(0); idx < numTiers; idx++ {
		tq := s.tiers[idx]
		if len(tq.queue) == 0 {
			continue
		}
		needed := 0
		for other := ScanTier(0); other < numTiers; other++ {
			if other == idx {
				continue
			}
			o := s.tiers[other]
			if len(o.queue) > 0 && o.active < o.reserved {
				needed += o.reserved - o.active
			}
		}
		freeAfter := s.poolSize - total - 1
		if freeAfter >= needed {
			return s.pop(idx)
		}
	}
	return nil, 0, false
}

func (s *ScanScheduler) pop(idx ScanTier) (*wbase.Task, ScanTier, bool) {
	tq := s.tiers[idx]
	t := tq.queue[0]
	tq.queue = tq.queue[1:]
	tq.active++
	return t, idx, true
}

// MarkFinished releases the active slot held by a task dispatched from
// the given tier.
func (s *ScanScheduler) MarkFinished(tier ScanTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tq := s.tiers[tier]; tq.active > 0 {
		tq.active--
	}
}

// RemoveByHash removes a not-yet-started queued task across all tiers.
func (s *ScanScheduler) RemoveByHash(queryHash string) *wbase.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tq := range s.tiers {
		for i, t := range tq.queue {
			if t.QueryHash == queryHash {
				tq.queue = append(tq.queue[:i], tq.queue[i+1:]...)
				return t
			}
		}
	}
	return nil
}
