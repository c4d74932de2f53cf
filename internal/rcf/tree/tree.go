// Package tree implements the Random Cut Tree: the single-tree
// insert/delete/traverse algorithm from spec.md section 4.4, built on
// top of nodestore's column-oriented arena and pointstore's
// content-addressed vectors. It also implements SamplerPlusTree, the
// fused sampler+tree unit every forest entry owns (spec.md section
// 4.8).
package tree

import (
	"math"
	"math/rand"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/nodestore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/pointstore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rngseed"
)

// PointSource is the subset of pointstore.Store a tree needs: vector
// lookup by handle. A tree never mutates reference counts itself;
// that discipline belongs to SamplerPlusTree.Update, per spec.md
// section 4.8.
type PointSource[F bbox.Float] interface {
	Get(h pointstore.Handle) ([]F, error)
}

// Config carries the construction options for one tree.
type Config struct {
	Capacity             int
	Dimensions           int
	Seed                 int64
	CacheFraction        float64
	CenterOfMass         bool
	StoreSequenceIndices bool
	StoreParentPointers  bool
	OutputAfter          int
}

// Tree is one Random Cut Tree over points of precision F.
type Tree[F bbox.Float] struct {
	dimensions  int
	outputAfter int

	points PointSource[F]
	store  nodestore.Store[F]
	cutRNG *rand.Rand

	root      nodestore.NodeID
	massCount uint64
}

// New builds an empty tree backed by a fresh NodeStore.
func New[F bbox.Float](cfg Config, points PointSource[F]) *Tree[F] {
	ns := nodestore.New[F](nodestore.Config{
		Capacity:             cfg.Capacity,
		Dimensions:           cfg.Dimensions,
		CacheFraction:        cfg.CacheFraction,
		CenterOfMass:         cfg.CenterOfMass,
		StoreSequenceIndices: cfg.StoreSequenceIndices,
		StoreParentPointers:  cfg.StoreParentPointers,
		CacheSeed:            rngseed.Derive(cfg.Seed, "nodestore-cache"),
	})

	t := &Tree[F]{
		dimensions:  cfg.Dimensions,
		outputAfter: cfg.OutputAfter,
		points:      points,
		store:       ns,
		cutRNG:      rand.New(rand.NewSource(rngseed.Derive(cfg.Seed, "cut-structure"))),
	}
	t.root = ns.NullID()

	return t
}

// Mass returns the tree's total point mass (sum of leaf masses,
// equivalently the number of accepted updates currently represented).
func (t *Tree[F]) Mass() uint64 { return t.massCount }

// Dimensions reports the tree's point dimensionality.
func (t *Tree[F]) Dimensions() int { return t.dimensions }

// IsOutputReady reports whether the tree has accumulated enough mass
// to contribute to forest-level output, per spec.md section 4.8's
// outputAfter gate.
func (t *Tree[F]) IsOutputReady() bool { return t.massCount >= uint64(t.outputAfter) }

// SetCacheFraction adjusts the bounding-box cache's Bernoulli rate for
// newly created or refreshed cache slots.
func (t *Tree[F]) SetCacheFraction(f float64) { t.store.SetCacheFraction(f) }

// IsEmpty reports whether the tree holds no points.
func (t *Tree[F]) IsEmpty() bool { return t.root == t.store.NullID() }

// Root returns the tree's root node id, for persistence.
func (t *Tree[F]) Root() nodestore.NodeID { return t.root }

// Store exposes the tree's NodeStore directly, for persistence and
// diagnostics.
func (t *Tree[F]) Store() nodestore.Store[F] { return t.store }

// Restore rebuilds a Tree from a NodeStore previously reconstructed via
// nodestore.Load, a root id, and the accumulated point mass, per
// spec.md section 6's persisted state layout. The cut-structure PRNG
// is reseeded from cfg.Seed rather than resuming mid-stream: a restored
// tree's future cuts are a fresh draw from the same seed, not a
// byte-for-byte continuation of the pre-save sequence.
func Restore[F bbox.Float](cfg Config, points PointSource[F], store nodestore.Store[F], root nodestore.NodeID, massCount uint64) *Tree[F] {
	return &Tree[F]{
		dimensions:  cfg.Dimensions,
		outputAfter: cfg.OutputAfter,
		points:      points,
		store:       store,
		cutRNG:      rand.New(rand.NewSource(rngseed.Derive(cfg.Seed, "cut-structure"))),
		root:        root,
		massCount:   massCount,
	}
}

func equalVectors[F bbox.Float](a, b []F) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func goesLeft[F bbox.Float](p []F, cutDim int, cutValue float32) bool {
	return float64(p[cutDim]) <= float64(cutValue)
}

// randomCut draws a (dimension, value) pair from box per spec.md
// section 4.4.1: pick a dimension with probability proportional to its
// side length, then a uniform value within that side, nudging away
// from the box's upper bound so every cut partitions the box into two
// non-empty halves.
func randomCut[F bbox.Float](rng *rand.Rand, box *bbox.Box[F]) (int, float32, error) {
	rangeSum := float64(box.RangeSum)
	if rangeSum <= 0 {
		return 0, 0, rcferrors.InvariantViolationf("randomCut", "cannot cut a zero-range-sum box")
	}

	u := rng.Float64() * rangeSum

	for d := range box.Min {
		side := float64(box.Max[d] - box.Min[d])
		if side <= 0 {
			continue
		}

		if u <= side {
			val := float64(box.Min[d]) + u
			valF32 := float32(val)

			if valF32 >= float32(box.Max[d]) && box.Min[d] < box.Max[d] {
				valF32 = math.Nextafter32(valF32, float32(box.Min[d]))
			}

			return d, valF32, nil
		}

		u -= side
	}

	return 0, 0, rcferrors.InvariantViolationf("randomCut", "range sum exhausted without selecting a dimension")
}

func (t *Tree[F]) massOf(id nodestore.NodeID) uint64 {
	if t.store.IsLeaf(id) {
		return t.store.LeafMass(t.store.LeafHandle(id))
	}

	return t.store.Mass(id)
}

// rebuildBox recomputes id's bounding box from its children, preferring
// each child's cached box and recursing only where the cache is empty.
func (t *Tree[F]) rebuildBox(id nodestore.NodeID) *bbox.Box[F] {
	if t.store.IsLeaf(id) {
		vec, err := t.points.Get(pointstore.Handle(t.store.LeafHandle(id)))
		if err != nil {
			return nil
		}

		return bbox.NewSingleton(vec)
	}

	left := t.store.Left(id)
	right := t.store.Right(id)

	leftBox := t.store.GetBox(left, func() *bbox.Box[F] { return t.rebuildBox(left) })
	rightBox := t.store.GetBox(right, func() *bbox.Box[F] { return t.rebuildBox(right) })

	merged, err := leftBox.Merge(rightBox)
	if err != nil {
		return leftBox.Copy()
	}

	return merged
}

func (t *Tree[F]) pointSum(id nodestore.NodeID) []F {
	if t.store.IsLeaf(id) {
		h := t.store.LeafHandle(id)

		vec, err := t.points.Get(pointstore.Handle(h))
		if err != nil {
			return make([]F, t.dimensions)
		}

		mass := t.store.LeafMass(h)
		sum := make([]F, len(vec))

		for i, v := range vec {
			sum[i] = v * F(mass)
		}

		return sum
	}

	return t.store.CenterOfMass(id)
}

func (t *Tree[F]) recomputeCenterOfMass(id nodestore.NodeID) {
	if !t.store.HasCenterOfMass() {
		return
	}

	left := t.pointSum(t.store.Left(id))
	right := t.pointSum(t.store.Right(id))

	if left == nil || right == nil {
		return
	}

	sum := make([]F, len(left))
	for i := range sum {
		sum[i] = left[i] + right[i]
	}

	t.store.SetCenterOfMass(id, sum)
}

// descend walks from the root applying stored cut decisions for point,
// returning the ancestors visited (root-to-parent-of-leaf order) and
// the leaf reached.
func (t *Tree[F]) descend(point []F) ([]nodestore.NodeID, nodestore.NodeID) {
	var path []nodestore.NodeID

	cur := t.root
	for !t.store.IsLeaf(cur) {
		path = append(path, cur)

		if goesLeft(point, t.store.CutDimension(cur), t.store.CutValue(cur)) {
			cur = t.store.Left(cur)
		} else {
			cur = t.store.Right(cur)
		}
	}

	return path, cur
}

// Insert adds the point stored at handle h, observed at sequence seq,
// to the tree, per spec.md section 4.4.2. It returns the handle the
// point is actually represented under: h itself, unless the insertion
// collapsed into an existing duplicate leaf, in which case that leaf's
// handle is returned and the caller is responsible for releasing h's
// reference.
func (t *Tree[F]) Insert(h pointstore.Handle, seq uint64) (pointstore.Handle, error) {
	p, err := t.points.Get(h)
	if err != nil {
		return 0, err
	}

	if len(p) != t.dimensions {
		return 0, rcferrors.InvalidConfigf("Tree.Insert", "point has %d dimensions, tree expects %d", len(p), t.dimensions)
	}

	if t.IsEmpty() {
		leaf := t.store.NewLeafID(nodestore.PointHandle(h))
		t.root = leaf

		if t.store.HasSequenceIndices() {
			t.store.AddSequenceIndex(nodestore.PointHandle(h), seq)
		}

		t.massCount++

		return h, nil
	}

	path, leaf := t.descend(p)
	leafHandle := t.store.LeafHandle(leaf)

	leafPoint, err := t.points.Get(pointstore.Handle(leafHandle))
	if err != nil {
		return 0, err
	}

	if equalVectors(p, leafPoint) {
		t.store.SetLeafMass(leafHandle, t.store.LeafMass(leafHandle)+1)

		for _, anc := range path {
			t.store.SetMass(anc, t.store.Mass(anc)+1)
			t.recomputeCenterOfMass(anc)
		}

		if t.store.HasSequenceIndices() {
			t.store.AddSequenceIndex(leafHandle, seq)
		}

		t.massCount++

		return pointstore.Handle(leafHandle), nil
	}

	currentBox := bbox.NewSingleton(leafPoint)
	savedBox := currentBox.Copy()

	mergedForCut, err := currentBox.MergePoint(p)
	if err != nil {
		return 0, err
	}

	savedCutDim, savedCutVal, err := randomCut(t.cutRNG, mergedForCut)
	if err != nil {
		return 0, err
	}

	savedSibling := leaf
	savedParentIdx := len(path) - 1 // -1 means the splice point is the root

	for i := len(path) - 1; i >= 0; i-- {
		parentNode := path[i]

		var child nodestore.NodeID
		if i == len(path)-1 {
			child = leaf
		} else {
			child = path[i+1]
		}

		siblingNode := t.store.Sibling(child, parentNode)
		currentBox = t.store.GrowBox(currentBox, siblingNode, func() *bbox.Box[F] { return t.rebuildBox(siblingNode) })

		if currentBox.Contains(p) {
			break
		}

		mergedForCut, err = currentBox.MergePoint(p)
		if err != nil {
			return 0, err
		}

		cutDim, cutVal, err := randomCut(t.cutRNG, mergedForCut)
		if err != nil {
			return 0, err
		}

		if float64(cutVal) < float64(currentBox.Min[cutDim]) || float64(cutVal) > float64(currentBox.Max[cutDim]) {
			savedCutDim, savedCutVal = cutDim, cutVal
			savedSibling = parentNode
			savedBox = currentBox.Copy()

			if i == 0 {
				savedParentIdx = -1
			} else {
				savedParentIdx = i - 1
			}
		}
	}

	newLeaf := t.store.NewLeafID(nodestore.PointHandle(h))

	var leftChild, rightChild nodestore.NodeID
	if goesLeft(p, savedCutDim, savedCutVal) {
		leftChild, rightChild = newLeaf, savedSibling
	} else {
		leftChild, rightChild = savedSibling, newLeaf
	}

	newMass := t.massOf(savedSibling) + 1

	finalBox, err := savedBox.MergePoint(p)
	if err != nil {
		return 0, err
	}

	nodeID, err := t.store.AddInternalNode(savedCutDim, savedCutVal, leftChild, rightChild, newMass, finalBox)
	if err != nil {
		return 0, err
	}

	t.store.SetParent(newLeaf, nodeID)
	t.store.SetParent(savedSibling, nodeID)

	if savedParentIdx == -1 {
		t.store.SetParent(nodeID, t.store.NullID())
		t.root = nodeID
	} else {
		parentNode := path[savedParentIdx]
		t.store.ReplaceChild(parentNode, savedSibling, nodeID)
		t.store.SetParent(nodeID, parentNode)
	}

	t.recomputeCenterOfMass(nodeID)

	for idx := savedParentIdx; idx >= 0; idx-- {
		anc := path[idx]
		t.store.SetMass(anc, t.store.Mass(anc)+1)
		t.store.CheckContainsAndAddPoint(anc, p)
		t.recomputeCenterOfMass(anc)
	}

	if t.store.HasSequenceIndices() {
		t.store.AddSequenceIndex(nodestore.PointHandle(h), seq)
	}

	t.massCount++

	return h, nil
}

// Delete removes one occurrence of the point stored at handle h,
// observed at sequence seq, from the tree, per spec.md section 4.4.3.
// It returns h back to the caller on success so callers can chain it
// the same way Insert's return value chains.
func (t *Tree[F]) Delete(h pointstore.Handle, seq uint64) (pointstore.Handle, error) {
	p, err := t.points.Get(h)
	if err != nil {
		return 0, err
	}

	if t.IsEmpty() {
		return 0, rcferrors.TreeInconsistencyf("Tree.Delete", uint32(h))
	}

	path, leaf := t.descend(p)

	if t.store.LeafHandle(leaf) != nodestore.PointHandle(h) {
		return 0, rcferrors.TreeInconsistencyf("Tree.Delete", uint32(h))
	}

	if t.store.HasSequenceIndices() {
		if err := t.store.RemoveSequenceIndex(nodestore.PointHandle(h), seq); err != nil {
			return 0, err
		}
	}

	curMass := t.store.LeafMass(nodestore.PointHandle(h))
	if curMass > 1 {
		t.store.SetLeafMass(nodestore.PointHandle(h), curMass-1)

		for _, anc := range path {
			t.store.SetMass(anc, t.store.Mass(anc)-1)
			t.recomputeCenterOfMass(anc)
		}

		t.massCount--

		return h, nil
	}

	if len(path) == 0 {
		t.root = t.store.NullID()
		t.massCount--

		return h, nil
	}

	parentIdx := len(path) - 1
	parentNode := path[parentIdx]
	sibling := t.store.Sibling(leaf, parentNode)

	var grandparentIdx int
	if parentIdx == 0 {
		grandparentIdx = -1
	} else {
		grandparentIdx = parentIdx - 1
	}

	if grandparentIdx == -1 {
		t.root = sibling
		t.store.SetParent(sibling, t.store.NullID())
	} else {
		grandparent := path[grandparentIdx]
		t.store.ReplaceChild(grandparent, parentNode, sibling)
		t.store.SetParent(sibling, grandparent)
	}

	t.store.DeleteInternalNode(parentNode)
	t.massCount--

	cacheActive := true

	for idx := grandparentIdx; idx >= 0; idx-- {
		anc := path[idx]
		t.store.SetMass(anc, t.store.Mass(anc)-1)

		if cacheActive && t.store.CachedBox(anc) != nil {
			rebuilt := t.rebuildBox(anc)
			t.store.SetBox(anc, rebuilt)

			if rebuilt.Contains(p) {
				cacheActive = false
			}
		}

		t.recomputeCenterOfMass(anc)
	}

	return h, nil
}
