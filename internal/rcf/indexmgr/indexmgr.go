// Package indexmgr implements the free-index interval manager every
// fixed-capacity arena in this module needs: the NodeStore's internal
// node ids and the PointStore's vector slots both allocate from one of
// these. It is the same "pool of fixed-size slots with a free list"
// idea as the teacher's allocator.Pool, stripped down to dense integer
// indices instead of unsafe.Pointer chunks, since every consumer here
// already owns its backing array.
package indexmgr

import "github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"

// Manager hands out unused indices in [0, capacity) and recycles
// released ones. It is not safe for concurrent use; callers in this
// module only ever touch one tree's Manager from one goroutine at a
// time (see the concurrency model in SPEC_FULL.md section 5).
type Manager struct {
	capacity int
	free     []int32 // LIFO stack of released indices, recently-freed first.
	next     int32   // next never-yet-allocated index, until exhausted.
	taken    int
}

// New creates a Manager over [0, capacity).
func New(capacity int) *Manager {
	return &Manager{capacity: capacity}
}

// Take returns an unused index, preferring the most recently released
// one (better cache locality for callers that immediately touch the
// slot) before handing out a fresh one. Returns OutOfCapacity once the
// interval is exhausted.
func (m *Manager) Take() (int, error) {
	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]
		m.taken++

		return int(idx), nil
	}

	if int(m.next) >= m.capacity {
		return 0, rcferrors.OutOfCapacityf("Manager.Take", m.capacity)
	}

	idx := m.next
	m.next++
	m.taken++

	return int(idx), nil
}

// Release returns i to the free set. Releasing an index that was never
// taken, or releasing twice, silently corrupts future allocations;
// callers are expected to track their own outstanding indices (the
// NodeStore and PointStore both do).
func (m *Manager) Release(i int) {
	m.free = append(m.free, int32(i))
	m.taken--
}

// Size returns the number of currently taken indices.
func (m *Manager) Size() int { return m.taken }

// Capacity returns the interval's upper bound.
func (m *Manager) Capacity() int { return m.capacity }

// Occupied answers whether i is currently taken. It is O(capacity) in
// the worst case (scans the free list) and intended for tests and
// invariant checks, not hot paths.
func (m *Manager) Occupied(i int) bool {
	if i < 0 || i >= int(m.next) || i >= m.capacity {
		return false
	}

	for _, f := range m.free {
		if int(f) == i {
			return false
		}
	}

	return true
}

// Snapshot returns the manager's internal allocation state, for
// persistence: the next never-yet-allocated index and a copy of the
// free list.
func (m *Manager) Snapshot() (next int32, free []int32) {
	out := make([]int32, len(m.free))
	copy(out, m.free)

	return m.next, out
}

// Restore rebuilds a Manager over [0, capacity) from a previously
// captured Snapshot.
func Restore(capacity int, next int32, free []int32) *Manager {
	f := make([]int32, len(free))
	copy(f, free)

	return &Manager{capacity: capacity, next: next, free: f, taken: int(next) - len(f)}
}
