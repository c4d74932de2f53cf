// Package pointstore implements the content-addressed vector arena
// shared by every tree in a forest: PointHandle is a stable, dense
// integer identifying a stored vector; reference counts (atomic, since
// several tree goroutines release handles concurrently per the
// concurrency model in SPEC_FULL.md section 5) decide when a slot is
// freed and its handle recycled.
package pointstore

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/indexmgr"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"
)

// Handle identifies a stored point. Stable from Add until the last
// DecRef drops its refcount to zero.
type Handle uint32

type entry[F bbox.Float] struct {
	vector   []F
	refCount int32
	live     int32 // 1 while the slot holds a live vector, 0 once freed.
}

// Store is a PointStore for one precision. dedup, when enabled, makes
// Add return the handle of an existing equal live vector instead of
// allocating a new slot.
type Store[F bbox.Float] struct {
	mu         sync.RWMutex
	dimensions int
	dedup      bool
	entries    []*entry[F]
	indices    *indexmgr.Manager
	byVector   map[string]Handle // only populated when dedup is enabled
}

// New creates a Store for vectors of the given dimensionality and
// capacity (maximum simultaneously live handles).
func New[F bbox.Float](dimensions, capacity int, dedup bool) *Store[F] {
	s := &Store[F]{
		dimensions: dimensions,
		dedup:      dedup,
		entries:    make([]*entry[F], capacity),
		indices:    indexmgr.New(capacity),
	}

	if dedup {
		s.byVector = make(map[string]Handle)
	}

	return s
}

func key[F bbox.Float](v []F) string {
	// A vector's bit pattern is a stable, allocation-light dedup key;
	// two float32/float64 values compare bit-for-bit equal only when
	// they are the same value (NaN excepted, which the forest never
	// feeds in as a coordinate).
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(float64(f)))
	}

	return string(buf)
}

// Add stores vec, returning a stable handle. With dedup enabled and an
// equal live vector already present, its refcount is incremented and
// its handle returned instead of allocating a new slot.
func (s *Store[F]) Add(vec []F) (Handle, error) {
	if len(vec) != s.dimensions {
		return 0, rcferrors.InvalidConfigf("Store.Add", "vector has %d dimensions, store expects %d", len(vec), s.dimensions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedup {
		k := key(vec)
		if h, ok := s.byVector[k]; ok {
			atomic.AddInt32(&s.entries[h].refCount, 1)

			return h, nil
		}
	}

	idx, err := s.indices.Take()
	if err != nil {
		return 0, err
	}

	stored := make([]F, len(vec))
	copy(stored, vec)

	e := &entry[F]{vector: stored, refCount: 1, live: 1}
	s.entries[idx] = e
	h := Handle(idx)

	if s.dedup {
		s.byVector[key(vec)] = h
	}

	return h, nil
}

// IncRef increments handle's reference count.
func (s *Store[F]) IncRef(h Handle) error {
	s.mu.RLock()
	e := s.entryAt(h)
	s.mu.RUnlock()

	if e == nil {
		return rcferrors.DeadHandlef("Store.IncRef", uint32(h))
	}

	atomic.AddInt32(&e.refCount, 1)

	return nil
}

// DecRef decrements handle's reference count, freeing the slot (and
// making the handle eligible for reuse) when it reaches zero.
func (s *Store[F]) DecRef(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryAt(h)
	if e == nil {
		return rcferrors.DeadHandlef("Store.DecRef", uint32(h))
	}

	if atomic.AddInt32(&e.refCount, -1) <= 0 {
		atomic.StoreInt32(&e.live, 0)

		if s.dedup {
			delete(s.byVector, key(e.vector))
		}

		s.entries[int(h)] = nil
		s.indices.Release(int(h))
	}

	return nil
}

// Get returns the stored vector for a live handle. The returned slice
// must not be mutated by the caller; tree invariants assume stored
// vectors are immutable while referenced.
func (s *Store[F]) Get(h Handle) ([]F, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entryAt(h)
	if e == nil {
		return nil, rcferrors.DeadHandlef("Store.Get", uint32(h))
	}

	return e.vector, nil
}

// RefCount returns handle's current reference count, or 0 if dead.
func (s *Store[F]) RefCount(h Handle) int {
	s.mu.RLock()
	e := s.entryAt(h)
	s.mu.RUnlock()

	if e == nil {
		return 0
	}

	return int(atomic.LoadInt32(&e.refCount))
}

func (s *Store[F]) entryAt(h Handle) *entry[F] {
	if int(h) < 0 || int(h) >= len(s.entries) {
		return nil
	}

	e := s.entries[h]
	if e == nil || atomic.LoadInt32(&e.live) == 0 {
		return nil
	}

	return e
}

// Len returns the number of currently live handles.
func (s *Store[F]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.indices.Size()
}

// Dimensions returns the vector width every stored point must match.
func (s *Store[F]) Dimensions() int { return s.dimensions }

// Capacity returns the maximum number of simultaneously live handles.
func (s *Store[F]) Capacity() int { return len(s.entries) }

// Dedup reports whether this store collapses equal vectors to one handle.
func (s *Store[F]) Dedup() bool { return s.dedup }

// Record is one point-store slot, the unit spec.md section 6's
// persisted state layout lists as "(handle, refcount, vector)".
type Record[F bbox.Float] struct {
	Handle   Handle
	RefCount int32
	Vector   []F
}

// Snapshot returns every live slot, for persistence.
func (s *Store[F]) Snapshot() []Record[F] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record[F]

	for i, e := range s.entries {
		if e == nil || atomic.LoadInt32(&e.live) == 0 {
			continue
		}

		vec := make([]F, len(e.vector))
		copy(vec, e.vector)

		out = append(out, Record[F]{
			Handle:   Handle(i),
			RefCount: atomic.LoadInt32(&e.refCount),
			Vector:   vec,
		})
	}

	return out
}

// Restore rebuilds a Store from a previously captured Snapshot, placing
// each record back at its original handle index so that cached handles
// held elsewhere in a restored tree (NodeStore leaves, sampler entries)
// keep pointing at the right vector.
func Restore[F bbox.Float](dimensions, capacity int, dedup bool, records []Record[F]) *Store[F] {
	s := &Store[F]{
		dimensions: dimensions,
		dedup:      dedup,
		entries:    make([]*entry[F], capacity),
	}

	if dedup {
		s.byVector = make(map[string]Handle, len(records))
	}

	occupied := make(map[int32]bool, len(records))

	var next int32

	for _, r := range records {
		vec := make([]F, len(r.Vector))
		copy(vec, r.Vector)

		s.entries[r.Handle] = &entry[F]{vector: vec, refCount: r.RefCount, live: 1}

		if dedup {
			s.byVector[key(vec)] = r.Handle
		}

		occupied[int32(r.Handle)] = true

		if int32(r.Handle)+1 > next {
			next = int32(r.Handle) + 1
		}
	}

	free := make([]int32, 0, int(next)-len(records))

	for i := int32(0); i < next; i++ {
		if !occupied[i] {
			free = append(free, i)
		}
	}

	s.indices = indexmgr.Restore(capacity, next, free)

	return s
}
