package tree

import (
	"testing"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/pointstore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/sampler"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/visitor"
)

func newTestTree(t *testing.T, capacity, dims int, seed int64) (*Tree[float32], *pointstore.Store[float32]) {
	t.Helper()

	points := pointstore.New[float32](dims, 2*capacity+1, false)
	tr := New[float32](Config{
		Capacity:      capacity,
		Dimensions:    dims,
		Seed:          seed,
		CacheFraction: 1.0,
		CenterOfMass:  true,
		OutputAfter:   1,
	}, points)

	return tr, points
}

func mustAdd(t *testing.T, points *pointstore.Store[float32], vec []float32) pointstore.Handle {
	t.Helper()

	h, err := points.Add(vec)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	return h
}

func TestInsertGrowsMassAndStructure(t *testing.T) {
	tr, points := newTestTree(t, 16, 2, 1)

	h1 := mustAdd(t, points, []float32{0, 0})
	h2 := mustAdd(t, points, []float32{10, 10})
	h3 := mustAdd(t, points, []float32{5, 5})

	if _, err := tr.Insert(h1, 1); err != nil {
		t.Fatalf("Insert h1: %v", err)
	}

	if _, err := tr.Insert(h2, 2); err != nil {
		t.Fatalf("Insert h2: %v", err)
	}

	if _, err := tr.Insert(h3, 3); err != nil {
		t.Fatalf("Insert h3: %v", err)
	}

	if tr.Mass() != 3 {
		t.Fatalf("expected mass 3, got %d", tr.Mass())
	}

	if tr.IsEmpty() {
		t.Fatal("tree should not be empty after inserts")
	}
}

func TestInsertDuplicateCollapses(t *testing.T) {
	tr, points := newTestTree(t, 16, 2, 2)

	h1 := mustAdd(t, points, []float32{1, 1})
	h2 := mustAdd(t, points, []float32{1, 1})

	settled1, err := tr.Insert(h1, 1)
	if err != nil {
		t.Fatalf("Insert h1: %v", err)
	}

	if settled1 != h1 {
		t.Fatalf("expected first insert to settle on its own handle")
	}

	settled2, err := tr.Insert(h2, 2)
	if err != nil {
		t.Fatalf("Insert h2: %v", err)
	}

	if settled2 != h1 {
		t.Fatalf("expected duplicate insert to collapse onto the existing leaf handle, got %v want %v", settled2, h1)
	}

	if tr.Mass() != 2 {
		t.Fatalf("expected mass 2 after duplicate insert, got %d", tr.Mass())
	}
}

func TestDeleteRestoresEmptyTree(t *testing.T) {
	tr, points := newTestTree(t, 16, 2, 3)

	h1 := mustAdd(t, points, []float32{0, 0})

	if _, err := tr.Insert(h1, 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := tr.Delete(h1, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if !tr.IsEmpty() {
		t.Fatal("expected tree to be empty after deleting its only point")
	}

	if tr.Mass() != 0 {
		t.Fatalf("expected mass 0 after delete, got %d", tr.Mass())
	}
}

func TestDeleteThenReinsert(t *testing.T) {
	tr, points := newTestTree(t, 16, 2, 4)

	h1 := mustAdd(t, points, []float32{0, 0})
	h2 := mustAdd(t, points, []float32{100, 100})
	h3 := mustAdd(t, points, []float32{50, 50})

	for i, h := range []pointstore.Handle{h1, h2, h3} {
		if _, err := tr.Insert(h, uint64(i+1)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	if _, err := tr.Delete(h2, 2); err != nil {
		t.Fatalf("Delete h2: %v", err)
	}

	if tr.Mass() != 2 {
		t.Fatalf("expected mass 2 after delete, got %d", tr.Mass())
	}

	h4 := mustAdd(t, points, []float32{100, 100})
	if _, err := tr.Insert(h4, 4); err != nil {
		t.Fatalf("reinsert after delete: %v", err)
	}

	if tr.Mass() != 3 {
		t.Fatalf("expected mass 3 after reinsert, got %d", tr.Mass())
	}
}

// countingVisitor records how many internal ancestors Accept fires on
// and the leaf point it lands at, enough to sanity-check Traverse's
// walk shape without depending on scoring formulas the core doesn't own.
type countingVisitor struct {
	visitor.BaseVisitor[float32, int]
	ancestors int
	leaf      []float32
}

func (c *countingVisitor) AcceptLeaf(v *visitor.NodeView[float32]) {
	c.leaf = v.LeafPoint()
}

func (c *countingVisitor) Accept(*visitor.NodeView[float32]) {
	c.ancestors++
}

func (c *countingVisitor) Result() int { return c.ancestors }

func TestTraverseVisitsLeafThenAncestors(t *testing.T) {
	tr, points := newTestTree(t, 16, 2, 5)

	h1 := mustAdd(t, points, []float32{0, 0})
	h2 := mustAdd(t, points, []float32{10, 0})
	h3 := mustAdd(t, points, []float32{0, 10})

	for i, h := range []pointstore.Handle{h1, h2, h3} {
		if _, err := tr.Insert(h, uint64(i+1)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	cv := &countingVisitor{}

	n, err := Traverse[float32, int](tr, []float32{0, 0}, cv)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}

	if n != cv.ancestors {
		t.Fatalf("Result() should reflect ancestors visited, got %d vs %d", n, cv.ancestors)
	}

	if cv.leaf == nil {
		t.Fatal("expected AcceptLeaf to have fired")
	}

	if cv.ancestors < 1 || cv.ancestors > 2 {
		t.Fatalf("expected a 3-point tree to have 1 or 2 ancestors on any leaf path, got %d", cv.ancestors)
	}
}

func TestSamplerPlusTreeUpdateBoundsSize(t *testing.T) {
	points := pointstore.New[float32](1, 64, false)
	smp := sampler.New(8, 0.001, 42)
	tr := New[float32](Config{Capacity: 8, Dimensions: 1, Seed: 42, CacheFraction: 1.0, OutputAfter: 8}, points)

	st := NewSamplerPlusTree[float32](points, smp, tr)

	for seq := uint64(1); seq <= 200; seq++ {
		h := mustAdd(t, points, []float32{float32(seq)})

		if err := st.Update(h, seq); err != nil {
			t.Fatalf("Update seq=%d: %v", seq, err)
		}

		if err := points.DecRef(h); err != nil {
			t.Fatalf("DecRef seq=%d: %v", seq, err)
		}
	}

	if smp.Size() != 8 {
		t.Fatalf("expected sampler to stay at capacity 8, got %d", smp.Size())
	}

	if tr.Mass() != 8 {
		t.Fatalf("expected tree mass to track sampler size, got %d", tr.Mass())
	}

	if points.Len() != 8 {
		t.Fatalf("expected point store to hold exactly the sampled points, got %d", points.Len())
	}
}
