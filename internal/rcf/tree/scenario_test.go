package tree

import (
	"math/rand"
	"testing"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/nodestore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/pointstore"
)

// These mirror the concrete end-to-end scenarios S1-S6 from spec.md
// section 8 directly, one test per scenario, rather than relying on
// the broader unit tests above to cover the same ground incidentally.

func TestScenarioS1SinglePointTree(t *testing.T) {
	points := pointstore.New[float32](2, 5, false)
	tr := New[float32](Config{
		Capacity: 4, Dimensions: 2, Seed: 0, CacheFraction: 1.0, OutputAfter: 2,
	}, points)

	h := mustAdd(t, points, []float32{1.0, 1.0})
	if _, err := tr.Insert(h, 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if tr.Mass() != 1 {
		t.Fatalf("expected mass 1, got %d", tr.Mass())
	}

	if !tr.Store().IsLeaf(tr.Root()) {
		t.Fatal("expected root to be a leaf with a single point")
	}

	if tr.IsOutputReady() {
		t.Fatal("expected IsOutputReady() == false with output_after=2 and mass=1")
	}
}

func TestScenarioS2TwoDistinctPoints(t *testing.T) {
	points := pointstore.New[float32](2, 5, false)
	tr := New[float32](Config{
		Capacity: 4, Dimensions: 2, Seed: 0, CacheFraction: 1.0, OutputAfter: 1,
	}, points)

	h1 := mustAdd(t, points, []float32{1, 1})
	h2 := mustAdd(t, points, []float32{2, 2})

	if _, err := tr.Insert(h1, 1); err != nil {
		t.Fatalf("Insert h1: %v", err)
	}

	if _, err := tr.Insert(h2, 2); err != nil {
		t.Fatalf("Insert h2: %v", err)
	}

	if tr.Mass() != 2 {
		t.Fatalf("expected mass 2, got %d", tr.Mass())
	}

	root := tr.Root()
	if tr.Store().IsLeaf(root) {
		t.Fatal("expected root to be internal with two points present")
	}

	cutDim := tr.Store().CutDimension(root)
	if cutDim != 0 && cutDim != 1 {
		t.Fatalf("expected cut_dimension in {0,1}, got %d", cutDim)
	}

	cutValue := tr.Store().CutValue(root)
	if cutValue <= 1 || cutValue >= 2 {
		t.Fatalf("expected cut_value in (1,2), got %v", cutValue)
	}

	left := tr.Store().Left(root)
	right := tr.Store().Right(root)
	if !tr.Store().IsLeaf(left) || !tr.Store().IsLeaf(right) {
		t.Fatal("expected exactly two leaves under the root")
	}

	leftHandle := pointstore.Handle(tr.Store().LeafHandle(left))
	leftVec, err := points.Get(leftHandle)
	if err != nil {
		t.Fatalf("Get left leaf point: %v", err)
	}

	if leftVec[0] != 1 || leftVec[1] != 1 {
		t.Fatalf("expected (1,1) to be the left leaf, got %v", leftVec)
	}
}

func TestScenarioS3DuplicatePoint(t *testing.T) {
	points := pointstore.New[float32](2, 5, false)
	tr := New[float32](Config{
		Capacity: 4, Dimensions: 2, Seed: 0, CacheFraction: 1.0, OutputAfter: 1,
	}, points)

	h1 := mustAdd(t, points, []float32{1, 1})
	h2 := mustAdd(t, points, []float32{1, 1})

	settled1, err := tr.Insert(h1, 1)
	if err != nil {
		t.Fatalf("Insert h1: %v", err)
	}

	settled2, err := tr.Insert(h2, 2)
	if err != nil {
		t.Fatalf("Insert h2: %v", err)
	}

	if settled2 != settled1 {
		t.Fatalf("expected duplicate insert to return the first insert's handle, got %v want %v", settled2, settled1)
	}

	if tr.Mass() != 2 {
		t.Fatalf("expected mass 2, got %d", tr.Mass())
	}

	if !tr.Store().IsLeaf(tr.Root()) {
		t.Fatal("expected exactly zero internal nodes for a single duplicated point")
	}

	if tr.massOf(tr.Root()) != 2 {
		t.Fatalf("expected the (1,1) leaf to carry mass 2, got %d", tr.massOf(tr.Root()))
	}
}

func TestScenarioS4DeleteRestoresBox(t *testing.T) {
	points := pointstore.New[float32](2, 7, false)
	tr := New[float32](Config{
		Capacity: 4, Dimensions: 2, Seed: 0, CacheFraction: 1.0, OutputAfter: 1,
	}, points)

	h1 := mustAdd(t, points, []float32{1, 1})
	h2 := mustAdd(t, points, []float32{2, 2})
	h3 := mustAdd(t, points, []float32{3, 3})

	for i, h := range []pointstore.Handle{h1, h2, h3} {
		if _, err := tr.Insert(h, uint64(i+1)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	rootBefore := tr.rebuildBox(tr.Root()).Copy()

	if _, err := tr.Delete(h3, 3); err != nil {
		t.Fatalf("Delete h3: %v", err)
	}

	h4 := mustAdd(t, points, []float32{3, 3})
	if _, err := tr.Insert(h4, 4); err != nil {
		t.Fatalf("reinsert (3,3): %v", err)
	}

	rootAfter := tr.rebuildBox(tr.Root())

	if !boxesEqual(rootBefore, rootAfter) {
		t.Fatalf("expected root box to be restored after delete+reinsert: before=%+v after=%+v", rootBefore, rootAfter)
	}
}

func boxesEqual[F bbox.Float](a, b *bbox.Box[F]) bool {
	if a.Dimensions() != b.Dimensions() {
		return false
	}

	for d := 0; d < a.Dimensions(); d++ {
		if a.Min[d] != b.Min[d] || a.Max[d] != b.Max[d] {
			return false
		}
	}

	return true
}

func TestScenarioS5CutSeparation(t *testing.T) {
	tr, outlierProb := runScenarioS5(t, 1.0)

	root := tr.Root()
	outlier := []float32{10, 10}

	// The cut at root must lie on the path to the (10,10) leaf: descend
	// from root following the same left/right rule Insert uses and
	// confirm we land on a leaf holding (10,10).
	id := root

	for !tr.Store().IsLeaf(id) {
		cutDim := tr.Store().CutDimension(id)
		cutValue := tr.Store().CutValue(id)

		if goesLeft(outlier, cutDim, cutValue) {
			id = tr.Store().Left(id)
		} else {
			id = tr.Store().Right(id)
		}
	}

	leafVec, err := tr.points.Get(pointstore.Handle(tr.Store().LeafHandle(id)))
	if err != nil {
		t.Fatalf("Get leaf point: %v", err)
	}

	if leafVec[0] != 10 || leafVec[1] != 10 {
		t.Fatalf("expected the cut path to reach the (10,10) outlier leaf, landed on %v", leafVec)
	}

	if outlierProb <= 0.9 {
		t.Fatalf("expected probability_of_cut(root_box, outlier) > 0.9 before insertion, got %v", outlierProb)
	}
}

func TestScenarioS6CacheInvariance(t *testing.T) {
	trCached, _ := runScenarioS5(t, 1.0)
	trUncached, _ := runScenarioS5(t, 0.0)

	if trCached.Mass() != trUncached.Mass() {
		t.Fatalf("expected identical mass across cache fractions: %d vs %d", trCached.Mass(), trUncached.Mass())
	}

	if !sameTopology(trCached, trCached.Root(), trUncached, trUncached.Root()) {
		t.Fatal("expected identical tree topology/cuts/masses across cache_fraction=1.0 and cache_fraction=0.0")
	}
}

func sameTopology[F bbox.Float](a *Tree[F], idA nodestore.NodeID, b *Tree[F], idB nodestore.NodeID) bool {
	if a.Store().IsLeaf(idA) != b.Store().IsLeaf(idB) {
		return false
	}

	if a.massOf(idA) != b.massOf(idB) {
		return false
	}

	if a.Store().IsLeaf(idA) {
		va, err := a.points.Get(pointstore.Handle(a.Store().LeafHandle(idA)))
		if err != nil {
			return false
		}

		vb, err := b.points.Get(pointstore.Handle(b.Store().LeafHandle(idB)))
		if err != nil {
			return false
		}

		return equalVectors(va, vb)
	}

	if a.Store().CutDimension(idA) != b.Store().CutDimension(idB) {
		return false
	}

	if a.Store().CutValue(idA) != b.Store().CutValue(idB) {
		return false
	}

	return sameTopology(a, a.Store().Left(idA), b, b.Store().Left(idB)) &&
		sameTopology(a, a.Store().Right(idA), b, b.Store().Right(idB))
}

// runScenarioS5 builds the tree for scenario S5 at the given cache
// fraction: 60 points uniform in [0,1]^2 (fixed seed, so the sequence
// is deterministic across runs) followed by one outlier at (10,10).
// It returns the tree and probability_of_cut(root_box, outlier) as
// measured immediately before the outlier is inserted.
func runScenarioS5(t *testing.T, cacheFraction float64) (*Tree[float32], float64) {
	t.Helper()

	points := pointstore.New[float32](2, 64, false)
	tr := New[float32](Config{
		Capacity: 64, Dimensions: 2, Seed: 0, CacheFraction: cacheFraction, OutputAfter: 1,
	}, points)

	gen := rand.New(rand.NewSource(12345))

	for i := 0; i < 60; i++ {
		vec := []float32{float32(gen.Float64()), float32(gen.Float64())}

		h := mustAdd(t, points, vec)
		if _, err := tr.Insert(h, uint64(i+1)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	rootBox := tr.rebuildBox(tr.Root())
	outlier := []float32{10, 10}
	prob := rootBox.ProbabilityOfCut(outlier)

	hOutlier := mustAdd(t, points, outlier)
	if _, err := tr.Insert(hOutlier, 61); err != nil {
		t.Fatalf("Insert outlier: %v", err)
	}

	return tr, prob
}
