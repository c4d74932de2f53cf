package forest

import (
	"testing"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/visitor"
)

// separationVisitor sums ProbabilityOfSeparation along the ancestor
// path, a minimal stand-in for a real anomaly-score visitor: it is
// enough to exercise Forest.Score's fan-out and aggregation without
// the forest core owning a concrete scoring formula (spec.md section 1
// leaves that external).
type separationVisitor struct {
	visitor.BaseVisitor[float64, float64]
	point []float64
	sum   float64
}

func (v *separationVisitor) Accept(view *visitor.NodeView[float64]) {
	v.sum += view.ProbabilityOfSeparation(v.point)
}

func (v *separationVisitor) Result() float64 { return v.sum }

func newSeparationVisitor(point []float64) func() visitor.Visitor[float64, float64] {
	return func() visitor.Visitor[float64, float64] {
		return &separationVisitor{point: point}
	}
}

func TestForestUpdateAndScore(t *testing.T) {
	cfg := Config{
		SampleSize:               32,
		Dimensions:               2,
		NumTrees:                 4,
		Seed:                     7,
		TimeDecay:                0.0001,
		BoundingBoxCacheFraction: 1.0,
		OutputAfter:              1,
		ScoreCacheSize:           16,
	}

	f, err := New[float64](cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for seq := uint64(1); seq <= 300; seq++ {
		x := float64(seq%10) + 0.01*float64(seq)
		f.Update([]float64{x, -x}, seq)
	}

	mean, perTree, err := f.Score([]float64{1000, -1000}, newSeparationVisitor([]float64{1000, -1000}))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if len(perTree) != cfg.NumTrees {
		t.Fatalf("expected %d per-tree results, got %d", cfg.NumTrees, len(perTree))
	}

	if mean <= 0 {
		t.Fatalf("expected a far-away point to score above zero, got %v", mean)
	}

	meanAgain, perTreeAgain, err := f.Score([]float64{1000, -1000}, newSeparationVisitor([]float64{1000, -1000}))
	if err != nil {
		t.Fatalf("Score (cached): %v", err)
	}

	if meanAgain != mean {
		t.Fatalf("expected cached score to match, got %v want %v", meanAgain, mean)
	}

	if perTreeAgain != nil {
		t.Fatalf("expected a cache hit to skip per-tree computation, got %v", perTreeAgain)
	}
}

func TestForestSetCacheFraction(t *testing.T) {
	cfg := Config{SampleSize: 8, Dimensions: 1, NumTrees: 2, Seed: 1, OutputAfter: 1}

	f, err := New[float32](cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f.SetCacheFraction(0.5)

	for i := 0; i < f.NumTrees(); i++ {
		if got := f.Tree(i).Tree(); got == nil {
			t.Fatal("expected a non-nil tree")
		}
	}
}
