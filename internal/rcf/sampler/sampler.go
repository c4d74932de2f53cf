// Package sampler implements the time-decayed weighted reservoir that
// drives every tree update: Propose decides whether an observation
// enters the sample (and which existing entry it would evict), and the
// caller is bound to honor that decision against its tree in the exact
// order spec.md section 4.6 describes. The core does not define the
// decay/weight formula beyond "a deterministic function of (seed, seq,
// rate, draw)" — this package implements the standard exponential-
// decay A-algorithm reservoir (Efraimidis-Spirakis weighted sampling
// specialized to a decaying population), the same scheme the wider
// Random Cut Forest literature uses, since spec.md leaves the exact
// formula external but something concrete has to drive the tests.
package sampler

import (
	"container/heap"
	"math"
	"math/rand"
)

// Entry is one reservoir slot: the stored point handle, its sampler
// weight, and the sequence number it was observed at.
type Entry struct {
	Handle uint32
	Weight float64
	Seq    uint64
}

// Sampler is a fixed-size, time-decayed weighted reservoir. It is not
// safe for concurrent use; it is sampler-private per the concurrency
// model (SPEC_FULL.md section 5).
type Sampler struct {
	capacity  int
	decayRate float64
	rng       *rand.Rand

	heap pqueue // max-heap on Weight; root is the eviction candidate.

	pending  Entry // the entry Propose most recently accepted, awaiting Accept.
	evicted  Entry
	hasEvict bool
}

// New creates a Sampler of the given capacity and decay rate, seeded
// independently from the tree-structure and cache PRNGs per spec.md
// section 9's PRNG discipline.
func New(capacity int, decayRate float64, seed int64) *Sampler {
	return &Sampler{
		capacity:  capacity,
		decayRate: decayRate,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// weight computes the Entry's priority: smaller is "more likely to
// stay". exp(decayRate*seq) grows with seq, so later observations draw
// a smaller weight for the same uniform draw and are preferred over
// older ones as the effective window slides forward; -ln(uniform) is
// the standard unit-exponential transform giving each observation a
// randomized tie-break.
func (s *Sampler) weight(seq uint64) float64 {
	u := s.rng.Float64()
	for u <= 0 {
		u = s.rng.Float64()
	}

	return -math.Log(u) / math.Exp(s.decayRate*float64(seq))
}

// Propose computes a weight for an observation at seq and decides
// whether it enters the reservoir. If the reservoir is not yet full,
// every observation is accepted (weight, true) and Evicted() returns
// nothing for it. Once full, the observation is accepted only if its
// weight is smaller than the current maximum, evicting that entry.
//
// Per spec.md section 4.6: if Propose returns true, the caller is
// bound to add the point to its tree and, when Evicted also returns
// an entry, delete that entry from the tree first.
func (s *Sampler) Propose(seq uint64) (weight float64, accepted bool) {
	s.hasEvict = false

	w := s.weight(seq)

	if len(s.heap) < s.capacity {
		s.pending = Entry{Weight: w, Seq: seq}

		return w, true
	}

	if w >= s.heap[0].Weight {
		return 0, false
	}

	s.evicted = s.heap[0]
	s.hasEvict = true
	s.pending = Entry{Weight: w, Seq: seq}

	return w, true
}

// Evicted returns the entry displaced by the most recent accepted
// Propose call, if any.
func (s *Sampler) Evicted() (Entry, bool) {
	return s.evicted, s.hasEvict
}

// Accept finalizes the pending Propose decision, binding it to handle
// (which may differ from the handle the caller originally looked up,
// if the tree collapsed the insert into an existing duplicate leaf)
// and inserting or replacing the reservoir slot.
func (s *Sampler) Accept(handle uint32, weight float64, seq uint64) {
	e := Entry{Handle: handle, Weight: weight, Seq: seq}

	if s.hasEvict {
		s.heap[0] = e
		heap.Fix(&s.heap, 0)

		return
	}

	heap.Push(&s.heap, e)
}

// Size returns the number of entries currently in the reservoir.
func (s *Sampler) Size() int { return len(s.heap) }

// Capacity returns the reservoir's fixed size.
func (s *Sampler) Capacity() int { return s.capacity }

// Entries returns a snapshot of every reservoir entry, for
// serialization and invariant checks. The returned slice must not be
// mutated.
func (s *Sampler) Entries() []Entry {
	out := make([]Entry, len(s.heap))
	copy(out, s.heap)

	return out
}

// Restore rebuilds a Sampler from a previously captured Entries
// snapshot, re-establishing the heap invariant Accept/Propose expect.
// The PRNG is reseeded from seed rather than resumed mid-stream (the
// same simplification tree.Restore makes for the cut-structure PRNG).
func Restore(capacity int, decayRate float64, seed int64, entries []Entry) *Sampler {
	s := &Sampler{
		capacity:  capacity,
		decayRate: decayRate,
		rng:       rand.New(rand.NewSource(seed)),
		heap:      append(pqueue(nil), entries...),
	}

	heap.Init(&s.heap)

	return s
}

// pqueue is a container/heap max-heap on Weight. The standard library
// is the right tool here: no third-party priority-queue package
// appears anywhere in the reference corpus for this module, and a
// binary heap over a plain slice is the idiomatic stdlib shape for a
// bounded max-priority structure (see DESIGN.md).
type pqueue []Entry

func (q pqueue) Len() int            { return len(q) }
func (q pqueue) Less(i, j int) bool  { return q[i].Weight > q[j].Weight }
func (q pqueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x interface{}) { *q = append(*q, x.(Entry)) }

func (q *pqueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]

	return item
}
