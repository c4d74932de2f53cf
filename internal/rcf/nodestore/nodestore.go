// Package nodestore implements the column-oriented arena backing a
// compact Random Cut Tree: fixed-capacity arrays for every internal
// node field, a partial/lossy bounding-box cache keyed by node id, the
// sparse leaf-mass map, and the optional sequence-index multiset.
//
// Three index-width tiers are generated from one generic source
// (parameterized by Width) and picked once at construction, per
// SPEC_FULL.md section 2/4: small (uint8), medium (uint16) and large
// (uint32) — whichever is the narrowest type that can address every
// node id the tree can ever mint for the given capacity. This is a
// deliberate, documented departure from the byte-literal capacity/
// dimension bounds in spec.md's tier table, which cannot actually hold
// the full [0, 2*capacity] node-id space in the stated width for
// capacities near the stated bounds; spec.md explicitly permits
// abandoning the exact tier/mass encoding as long as the tree's
// observable behavior (S1-S6, invariants 1-8) is unaffected. See
// DESIGN.md for the full justification.
package nodestore

import (
	"math/rand"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/indexmgr"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"
)

// NodeID is the dense integer identifying either an internal node or a
// leaf, per spec.md section 3's convention:
//
//	[0, capacity)              -> internal node
//	capacity                   -> null / absent (sentinel)
//	(capacity, 2*capacity]     -> leaf; handle = id - capacity - 1
type NodeID uint32

// PointHandle mirrors pointstore.Handle without importing that package,
// keeping nodestore a leaf dependency. The tree package is responsible
// for converting between the two; they share the same underlying
// representation by construction.
type PointHandle uint32

// Tier names the index-width tier chosen for a NodeStore.
type Tier int

const (
	TierSmall Tier = iota
	TierMedium
	TierLarge
)

func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierLarge:
		return "large"
	default:
		return "unknown"
	}
}

// SelectTier picks the narrowest width tier that can address every
// node id a tree of this capacity can mint (ids run up to
// 2*capacity, inclusive) and every cut dimension (0..dimensions-1).
func SelectTier(capacity, dimensions int) Tier {
	maxID := 2*capacity + 1

	if maxID < 1<<8 && dimensions <= 1<<8 {
		return TierSmall
	}

	if maxID < 1<<16 && dimensions <= 1<<16 {
		return TierMedium
	}

	return TierLarge
}

// Width is the set of integer widths a tier's column arrays may use.
type Width interface {
	~uint8 | ~uint16 | ~uint32
}

// Store is the NodeStore API the tree package programs against,
// independent of which width tier backs a particular instance.
type Store[F bbox.Float] interface {
	Tier() Tier
	Capacity() int
	NullID() NodeID
	IsNull(id NodeID) bool
	IsLeaf(id NodeID) bool
	LeafHandle(id NodeID) PointHandle
	NewLeafID(h PointHandle) NodeID

	AddInternalNode(cutDim int, cutValue float32, left, right NodeID, mass uint64, box *bbox.Box[F]) (NodeID, error)
	DeleteInternalNode(id NodeID)

	Left(id NodeID) NodeID
	Right(id NodeID) NodeID
	SetLeft(id, child NodeID)
	SetRight(id, child NodeID)
	// Parent pointers are kept for internal nodes only: Parent of a
	// leaf id returns NullID and SetParent on a leaf id is a no-op.
	Parent(id NodeID) NodeID
	SetParent(id, parent NodeID)
	HasParentPointers() bool

	CutDimension(id NodeID) int
	CutValue(id NodeID) float32
	Mass(id NodeID) uint64
	SetMass(id NodeID, mass uint64)

	Sibling(id, parent NodeID) NodeID
	ReplaceChild(parent, oldChild, newChild NodeID)

	// GetBox returns the cached box at id if present and non-trivial,
	// else calls rebuild, caches the result with the same Bernoulli
	// policy used at node creation, and returns it. A leaf id's box is
	// rebuilt on every call and never cached.
	GetBox(id NodeID, rebuild func() *bbox.Box[F]) *bbox.Box[F]
	// CachedBox returns the cache slot verbatim (nil if absent),
	// without rebuilding. Used by invariant checks and tests.
	CachedBox(id NodeID) *bbox.Box[F]
	InvalidateBox(id NodeID)
	// SetBox force-installs box as id's cache slot if (and only if) a
	// cache slot already exists there, bypassing the Bernoulli draw
	// AddInternalNode/GetBox use for a slot's initial population. Used
	// to refresh a cached box after a structural change.
	SetBox(id NodeID, box *bbox.Box[F])
	// CheckContainsAndAddPoint extends the cached box at id in place
	// to include p, if a cache slot is present. Reports whether a
	// cached box existed (and was updated).
	CheckContainsAndAddPoint(id NodeID, p []F) bool
	// GrowBox merges the bounding box of the subtree rooted at
	// siblingID into running (mutating and returning it), preferring
	// the cache and falling back to rebuild when absent.
	GrowBox(running *bbox.Box[F], siblingID NodeID, rebuild func() *bbox.Box[F]) *bbox.Box[F]

	CenterOfMass(id NodeID) []F
	SetCenterOfMass(id NodeID, sum []F)
	HasCenterOfMass() bool

	LeafMass(h PointHandle) uint64 // 1 if absent from the sparse map
	SetLeafMass(h PointHandle, mass uint64)

	HasSequenceIndices() bool
	AddSequenceIndex(h PointHandle, seq uint64)
	RemoveSequenceIndex(h PointHandle, seq uint64) error
	SequenceIndices(h PointHandle) map[uint64]uint32

	CacheFraction() float64
	SetCacheFraction(f float64)

	// Dump returns a tier-independent snapshot of the store's full
	// internal state, for persistence (spec.md section 6).
	Dump() Dump[F]
}

// Config carries the feature toggles a Store is constructed with.
type Config struct {
	Capacity             int
	Dimensions           int
	CacheFraction        float64 // [0,1]; Bernoulli draw per new internal node.
	CenterOfMass         bool
	StoreSequenceIndices bool
	StoreParentPointers  bool
	CacheSeed            int64 // dedicated cache PRNG seed, distinct from the tree-structure PRNG.
}

// New builds a Store, picking the width tier once from
// (cfg.Capacity, cfg.Dimensions) per spec.md section 4.5/9.
func New[F bbox.Float](cfg Config) Store[F] {
	switch SelectTier(cfg.Capacity, cfg.Dimensions) {
	case TierSmall:
		return newStore[uint8, F](cfg)
	case TierMedium:
		return newStore[uint16, F](cfg)
	default:
		return newStore[uint32, F](cfg)
	}
}

type store[W Width, F bbox.Float] struct {
	capacity   int
	dimensions int
	nullID     NodeID

	cutDimension []W
	cutValue     []float32
	left         []W
	right        []W
	parent       []W
	mass         []uint64

	storeParent bool
	indices     *indexmgr.Manager

	boxCache      map[NodeID]*bbox.Box[F]
	cacheFraction float64
	cacheRNG      *rand.Rand

	centerOfMass     map[NodeID][]F
	centerOfMassOn   bool
	leafMass         map[PointHandle]uint64
	seqIndices       map[PointHandle]map[uint64]uint32
	seqIndicesActive bool
}

func newStore[W Width, F bbox.Float](cfg Config) *store[W, F] {
	s := &store[W, F]{
		capacity:         cfg.Capacity,
		dimensions:       cfg.Dimensions,
		nullID:           NodeID(cfg.Capacity),
		cutDimension:     make([]W, cfg.Capacity),
		cutValue:         make([]float32, cfg.Capacity),
		left:             make([]W, cfg.Capacity),
		right:            make([]W, cfg.Capacity),
		mass:             make([]uint64, cfg.Capacity),
		storeParent:      cfg.StoreParentPointers,
		indices:          indexmgr.New(cfg.Capacity),
		boxCache:         make(map[NodeID]*bbox.Box[F]),
		cacheFraction:    cfg.CacheFraction,
		cacheRNG:         rand.New(rand.NewSource(cfg.CacheSeed)),
		centerOfMassOn:   cfg.CenterOfMass,
		leafMass:         make(map[PointHandle]uint64),
		seqIndicesActive: cfg.StoreSequenceIndices,
	}

	if cfg.StoreParentPointers {
		s.parent = make([]W, cfg.Capacity)
	}

	if cfg.CenterOfMass {
		s.centerOfMass = make(map[NodeID][]F)
	}

	if cfg.StoreSequenceIndices {
		s.seqIndices = make(map[PointHandle]map[uint64]uint32)
	}

	return s
}

func tierOf(capacity, dimensions int) Tier { return SelectTier(capacity, dimensions) }

func (s *store[W, F]) Tier() Tier     { return tierOf(s.capacity, s.dimensions) }
func (s *store[W, F]) Capacity() int  { return s.capacity }
func (s *store[W, F]) NullID() NodeID { return s.nullID }

func (s *store[W, F]) IsNull(id NodeID) bool { return id == s.nullID }

func (s *store[W, F]) IsLeaf(id NodeID) bool {
	return int(id) > s.capacity
}

func (s *store[W, F]) LeafHandle(id NodeID) PointHandle {
	return PointHandle(int(id) - s.capacity - 1)
}

func (s *store[W, F]) NewLeafID(h PointHandle) NodeID {
	return NodeID(int(h) + s.capacity + 1)
}

func (s *store[W, F]) AddInternalNode(cutDim int, cutValue float32, left, right NodeID, mass uint64, box *bbox.Box[F]) (NodeID, error) {
	idx, err := s.indices.Take()
	if err != nil {
		return s.nullID, err
	}

	id := NodeID(idx)
	s.cutDimension[id] = W(cutDim)
	s.cutValue[id] = cutValue
	s.left[id] = W(left)
	s.right[id] = W(right)
	s.mass[id] = mass

	if box != nil && s.cacheFraction > 0 && (s.cacheFraction >= 1 || s.cacheRNG.Float64() < s.cacheFraction) {
		s.boxCache[id] = box.Copy()
	}

	if s.centerOfMassOn {
		s.centerOfMass[id] = nil // lazily recomputed by the tree on demand.
	}

	return id, nil
}

func (s *store[W, F]) DeleteInternalNode(id NodeID) {
	delete(s.boxCache, id)

	if s.centerOfMassOn {
		delete(s.centerOfMass, id)
	}

	s.indices.Release(int(id))
}

func (s *store[W, F]) Left(id NodeID) NodeID  { return NodeID(s.left[id]) }
func (s *store[W, F]) Right(id NodeID) NodeID { return NodeID(s.right[id]) }

func (s *store[W, F]) SetLeft(id, child NodeID)  { s.left[id] = W(child) }
func (s *store[W, F]) SetRight(id, child NodeID) { s.right[id] = W(child) }

func (s *store[W, F]) Parent(id NodeID) NodeID {
	if !s.storeParent || int(id) >= s.capacity {
		return s.nullID
	}

	return NodeID(s.parent[id])
}

func (s *store[W, F]) SetParent(id, parent NodeID) {
	if s.storeParent && int(id) < s.capacity {
		s.parent[id] = W(parent)
	}
}

func (s *store[W, F]) HasParentPointers() bool { return s.storeParent }

func (s *store[W, F]) CutDimension(id NodeID) int  { return int(s.cutDimension[id]) }
func (s *store[W, F]) CutValue(id NodeID) float32  { return s.cutValue[id] }
func (s *store[W, F]) Mass(id NodeID) uint64       { return s.mass[id] }
func (s *store[W, F]) SetMass(id NodeID, mass uint64) { s.mass[id] = mass }

func (s *store[W, F]) Sibling(id, parent NodeID) NodeID {
	if s.Left(parent) == id {
		return s.Right(parent)
	}

	return s.Left(parent)
}

func (s *store[W, F]) ReplaceChild(parent, oldChild, newChild NodeID) {
	if s.Left(parent) == oldChild {
		s.SetLeft(parent, newChild)
	} else {
		s.SetRight(parent, newChild)
	}
}

func (s *store[W, F]) CachedBox(id NodeID) *bbox.Box[F] {
	return s.boxCache[id]
}

func (s *store[W, F]) InvalidateBox(id NodeID) {
	delete(s.boxCache, id)
}

func (s *store[W, F]) SetBox(id NodeID, box *bbox.Box[F]) {
	if _, ok := s.boxCache[id]; ok {
		s.boxCache[id] = box
	}
}

func (s *store[W, F]) GetBox(id NodeID, rebuild func() *bbox.Box[F]) *bbox.Box[F] {
	if b, ok := s.boxCache[id]; ok {
		return b
	}

	b := rebuild()
	if !s.IsLeaf(id) {
		s.maybeCache(id, b)
	}

	return b
}

func (s *store[W, F]) maybeCache(id NodeID, b *bbox.Box[F]) {
	if s.cacheFraction <= 0 {
		return
	}

	if s.cacheFraction >= 1 || s.cacheRNG.Float64() < s.cacheFraction {
		s.boxCache[id] = b
	}
}

func (s *store[W, F]) CheckContainsAndAddPoint(id NodeID, p []F) bool {
	b, ok := s.boxCache[id]
	if !ok {
		return false
	}

	_ = b.AddPoint(p)

	return true
}

func (s *store[W, F]) GrowBox(running *bbox.Box[F], siblingID NodeID, rebuild func() *bbox.Box[F]) *bbox.Box[F] {
	sub := s.GetBox(siblingID, rebuild)
	_ = running.AddBox(sub)

	return running
}

func (s *store[W, F]) CenterOfMass(id NodeID) []F {
	if !s.centerOfMassOn {
		return nil
	}

	return s.centerOfMass[id]
}

func (s *store[W, F]) SetCenterOfMass(id NodeID, sum []F) {
	if s.centerOfMassOn {
		s.centerOfMass[id] = sum
	}
}

func (s *store[W, F]) HasCenterOfMass() bool { return s.centerOfMassOn }

func (s *store[W, F]) LeafMass(h PointHandle) uint64 {
	if m, ok := s.leafMass[h]; ok {
		return m + 1
	}

	return 1
}

func (s *store[W, F]) SetLeafMass(h PointHandle, mass uint64) {
	if mass <= 1 {
		delete(s.leafMass, h)

		return
	}

	s.leafMass[h] = mass - 1
}

func (s *store[W, F]) HasSequenceIndices() bool { return s.seqIndicesActive }

func (s *store[W, F]) AddSequenceIndex(h PointHandle, seq uint64) {
	if !s.seqIndicesActive {
		return
	}

	m, ok := s.seqIndices[h]
	if !ok {
		m = make(map[uint64]uint32)
		s.seqIndices[h] = m
	}

	m[seq]++
}

func (s *store[W, F]) RemoveSequenceIndex(h PointHandle, seq uint64) error {
	if !s.seqIndicesActive {
		return nil
	}

	m, ok := s.seqIndices[h]
	if !ok {
		return rcferrors.SequenceNotFoundf("Store.RemoveSequenceIndex", uint32(h), seq)
	}

	count, ok := m[seq]
	if !ok {
		return rcferrors.SequenceNotFoundf("Store.RemoveSequenceIndex", uint32(h), seq)
	}

	if count <= 1 {
		delete(m, seq)

		if len(m) == 0 {
			delete(s.seqIndices, h)
		}
	} else {
		m[seq] = count - 1
	}

	return nil
}

func (s *store[W, F]) SequenceIndices(h PointHandle) map[uint64]uint32 {
	return s.seqIndices[h]
}

func (s *store[W, F]) CacheFraction() float64 { return s.cacheFraction }

func (s *store[W, F]) SetCacheFraction(f float64) { s.cacheFraction = f }

// Dump is a tier-independent snapshot of a Store's full internal
// state: every node-id-indexed column is widened to uint32 regardless
// of the store's actual width tier, matching spec.md section 6's
// persisted-state layout ("column arrays (cut_dim, cut_value, left,
// right, optional parent, mass), free-index set, leaf-mass map,
// optional sequence-index map, cache fraction").
type Dump[F bbox.Float] struct {
	Capacity       int
	Dimensions     int
	StoreParent    bool
	CacheFraction  float64
	CenterOfMassOn bool
	SeqIndicesOn   bool

	CutDimension []uint32
	CutValue     []float32
	Left         []uint32
	Right        []uint32
	Parent       []uint32 // empty when !StoreParent
	Mass         []uint64

	IndicesNext int32
	IndicesFree []int32

	BoxCache     map[uint32]*bbox.Box[F]
	CenterOfMass map[uint32][]F
	LeafMass     map[uint32]uint64
	SeqIndices   map[uint32]map[uint64]uint32
}

func (s *store[W, F]) Dump() Dump[F] {
	n := s.capacity

	cutDim := make([]uint32, n)
	cutVal := make([]float32, n)
	left := make([]uint32, n)
	right := make([]uint32, n)
	mass := make([]uint64, n)

	for i := 0; i < n; i++ {
		cutDim[i] = uint32(s.cutDimension[i])
		cutVal[i] = s.cutValue[i]
		left[i] = uint32(s.left[i])
		right[i] = uint32(s.right[i])
		mass[i] = s.mass[i]
	}

	var parent []uint32

	if s.storeParent {
		parent = make([]uint32, n)
		for i := 0; i < n; i++ {
			parent[i] = uint32(s.parent[i])
		}
	}

	boxCache := make(map[uint32]*bbox.Box[F], len(s.boxCache))
	for id, b := range s.boxCache {
		boxCache[uint32(id)] = b.Copy()
	}

	var centerOfMass map[uint32][]F

	if s.centerOfMassOn {
		centerOfMass = make(map[uint32][]F, len(s.centerOfMass))

		for id, v := range s.centerOfMass {
			vv := make([]F, len(v))
			copy(vv, v)
			centerOfMass[uint32(id)] = vv
		}
	}

	leafMass := make(map[uint32]uint64, len(s.leafMass))
	for h, m := range s.leafMass {
		leafMass[uint32(h)] = m
	}

	var seqIndices map[uint32]map[uint64]uint32

	if s.seqIndicesActive {
		seqIndices = make(map[uint32]map[uint64]uint32, len(s.seqIndices))

		for h, m := range s.seqIndices {
			mm := make(map[uint64]uint32, len(m))
			for seq, c := range m {
				mm[seq] = c
			}

			seqIndices[uint32(h)] = mm
		}
	}

	next, free := s.indices.Snapshot()

	return Dump[F]{
		Capacity:       s.capacity,
		Dimensions:     s.dimensions,
		StoreParent:    s.storeParent,
		CacheFraction:  s.cacheFraction,
		CenterOfMassOn: s.centerOfMassOn,
		SeqIndicesOn:   s.seqIndicesActive,
		CutDimension:   cutDim,
		CutValue:       cutVal,
		Left:           left,
		Right:          right,
		Parent:         parent,
		Mass:           mass,
		IndicesNext:    next,
		IndicesFree:    free,
		BoxCache:       boxCache,
		CenterOfMass:   centerOfMass,
		LeafMass:       leafMass,
		SeqIndices:     seqIndices,
	}
}

// Load rebuilds a Store from a Dump previously produced by Dump,
// picking the width tier the same way New does and re-seeding the
// bounding-box cache's Bernoulli PRNG from cacheSeed.
func Load[F bbox.Float](d Dump[F], cacheSeed int64) Store[F] {
	switch SelectTier(d.Capacity, d.Dimensions) {
	case TierSmall:
		return loadStore[uint8, F](d, cacheSeed)
	case TierMedium:
		return loadStore[uint16, F](d, cacheSeed)
	default:
		return loadStore[uint32, F](d, cacheSeed)
	}
}

func loadStore[W Width, F bbox.Float](d Dump[F], cacheSeed int64) *store[W, F] {
	s := &store[W, F]{
		capacity:         d.Capacity,
		dimensions:       d.Dimensions,
		nullID:           NodeID(d.Capacity),
		cutDimension:     make([]W, d.Capacity),
		cutValue:         append([]float32(nil), d.CutValue...),
		left:             make([]W, d.Capacity),
		right:            make([]W, d.Capacity),
		mass:             append([]uint64(nil), d.Mass...),
		storeParent:      d.StoreParent,
		indices:          indexmgr.Restore(d.Capacity, d.IndicesNext, d.IndicesFree),
		boxCache:         make(map[NodeID]*bbox.Box[F], len(d.BoxCache)),
		cacheFraction:    d.CacheFraction,
		cacheRNG:         rand.New(rand.NewSource(cacheSeed)),
		centerOfMassOn:   d.CenterOfMassOn,
		leafMass:         make(map[PointHandle]uint64, len(d.LeafMass)),
		seqIndicesActive: d.SeqIndicesOn,
	}

	for i := 0; i < d.Capacity; i++ {
		s.cutDimension[i] = W(d.CutDimension[i])
		s.left[i] = W(d.Left[i])
		s.right[i] = W(d.Right[i])
	}

	if d.StoreParent {
		s.parent = make([]W, d.Capacity)
		for i := 0; i < d.Capacity; i++ {
			s.parent[i] = W(d.Parent[i])
		}
	}

	for id, b := range d.BoxCache {
		s.boxCache[NodeID(id)] = b.Copy()
	}

	if d.CenterOfMassOn {
		s.centerOfMass = make(map[NodeID][]F, len(d.CenterOfMass))

		for id, v := range d.CenterOfMass {
			vv := make([]F, len(v))
			copy(vv, v)
			s.centerOfMass[NodeID(id)] = vv
		}
	}

	for h, m := range d.LeafMass {
		s.leafMass[PointHandle(h)] = m
	}

	if d.SeqIndicesOn {
		s.seqIndices = make(map[PointHandle]map[uint64]uint32, len(d.SeqIndices))

		for h, m := range d.SeqIndices {
			mm := make(map[uint64]uint32, len(m))
			for seq, c := range m {
				mm[seq] = c
			}

			s.seqIndices[PointHandle(h)] = mm
		}
	}

	return s
}
