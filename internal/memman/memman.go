// Package memman implements the memory manager named in spec.md §4.3's
// "Memory gate": a reservation-based admission gate a scan task consults
// before running, so a worker never runs enough concurrent heavy scans to
// exceed its configured memory budget.
//
// Grounded on the teacher's internal/adapters connection-pool sizing
// idiom (a fixed budget consumed/released by callers under a mutex),
// generalized from connection slots to megabyte-denominated reservations.
package memman

import (
	"fmt"
	"sync"
)

// Reservation is a held memory-manager grant. Release must be called
// exactly once, on task completion or cancellation.
type Reservation interface {
	Release()
}

// MemoryManager gates task admission against a size budget, per spec.md
// §6's QSW_MEMMAN / QSW_MEMMAN_MB configuration keys.
type MemoryManager interface {
	// Reserve requests sizeMB of table-resident budget. required controls
	// whether a denial is fatal (required=true, per spec.md §4.3's
	// "required" admission policy) or informational (required=false,
	// "flexible": the caller may proceed without a reservation).
	//
	// Returns (reservation, true, nil) on success, (nil, false, nil) on a
	// non-fatal denial under a flexible request, or (nil, false, err) when
	// a required reservation cannot be granted.
	Reserve(sizeMB int64, required bool) (Reservation, bool, error)

	// BudgetMB returns the manager's configured total budget.
	BudgetMB() int64

	// UsedMB returns the currently reserved total.
	UsedMB() int64
}

type realReservation struct {
	mgr    *RealMemMan
	sizeMB int64
	once   sync.Once
}

func (r *realReservation) Release() {
	r.once.Do(func() {
		r.mgr.mu.Lock()
		r.mgr.used -= r.sizeMB
		r.mgr.mu.Unlock()
	})
}

// RealMemMan is the size-bounded reservation gate, `MemManReal` in
// spec.md §6's configuration table.
type RealMemMan struct {
	mu       sync.Mutex
	budgetMB int64
	used     int64
}

// NewRealMemMan creates a gate with the given total budget in megabytes.
func NewRealMemMan(budgetMB int64) *RealMemMan {
	return &RealMemMan{budgetMB: budgetMB}
}

func (m *RealMemMan) Reserve(sizeMB int64, required bool) (Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.used+sizeMB > m.budgetMB {
		if required {
			return nil, false, fmt.Errorf("memman: budget exceeded: used=%dMB requested=%dMB budget=%dMB", m.used, sizeMB, m.budgetMB)
		}
		return nil, false, nil
	}
	m.used += sizeMB
	return &realReservation{mgr: m, sizeMB: sizeMB}, true, nil
}

func (m *RealMemMan) BudgetMB() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budgetMB
}

func (m *RealMemMan) UsedMB() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// noneReservation is the always-succeeds reservation NoneMemMan hands out.
type noneReservation struct{}

func (noneReservation) Release() {}

// NoneMemMan is the no-gating implementation, `MemManNone` in spec.md §6's
// configuration table: every reservation is granted immediately.
type NoneMemMan struct{}

func NewNoneMemMan() *NoneMemMan { return &NoneMemMan{} }

func (NoneMemMan) Reserve(int64, bool) (Reservation, bool, error) {
	return noneReservation{}, true, nil
}

func (NoneMemMan) BudgetMB() int64 { return 0 }
func (NoneMemMan) UsedMB() int64   { return 0 }
