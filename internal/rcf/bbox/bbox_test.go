package bbox

import "testing"

func TestBoxSingleton(t *testing.T) {
	b := NewSingleton([]float32{1, 2})

	if b.RangeSum != 0 {
		t.Fatalf("expected range sum 0, got %v", b.RangeSum)
	}

	if !b.Contains([]float32{1, 2}) {
		t.Fatal("singleton box must contain its own point")
	}
}

func TestBoxAddPoint(t *testing.T) {
	b := NewSingleton([]float32{1, 1})

	t.Run("ExtendsBounds", func(t *testing.T) {
		if err := b.AddPoint([]float32{3, 0}); err != nil {
			t.Fatalf("AddPoint failed: %v", err)
		}

		if b.Min[0] != 1 || b.Max[0] != 3 {
			t.Fatalf("unexpected x-range: min=%v max=%v", b.Min[0], b.Max[0])
		}

		if b.Min[1] != 0 || b.Max[1] != 1 {
			t.Fatalf("unexpected y-range: min=%v max=%v", b.Min[1], b.Max[1])
		}

		if b.RangeSum != 3 {
			t.Fatalf("expected range sum 3, got %v", b.RangeSum)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		if err := b.AddPoint([]float32{1}); err == nil {
			t.Fatal("expected dimension mismatch error")
		}
	})
}

func TestBoxMergeDoesNotMutate(t *testing.T) {
	b := NewSingleton([]float64{0, 0})

	merged, err := b.MergePoint([]float64{2, 2})
	if err != nil {
		t.Fatalf("MergePoint failed: %v", err)
	}

	if b.RangeSum != 0 {
		t.Fatalf("Merge must not mutate the receiver, range sum changed to %v", b.RangeSum)
	}

	if merged.RangeSum != 4 {
		t.Fatalf("expected merged range sum 4, got %v", merged.RangeSum)
	}
}

func TestProbabilityOfCut(t *testing.T) {
	b := NewSingleton([]float32{0, 0})
	if err := b.AddPoint([]float32{1, 1}); err != nil {
		t.Fatalf("AddPoint failed: %v", err)
	}

	cases := []struct {
		name string
		p    []float32
		want float64
	}{
		{"InsideIsZero", []float32{0.5, 0.5}, 0},
		{"OnBoundaryIsZero", []float32{0, 1}, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := b.ProbabilityOfCut(c.p); got != c.want {
				t.Fatalf("ProbabilityOfCut(%v) = %v, want %v", c.p, got, c.want)
			}
		})
	}

	t.Run("OutsideIsBetweenZeroAndOne", func(t *testing.T) {
		p := b.ProbabilityOfCut([]float32{5, 0.5})
		if p <= 0 || p >= 1 {
			t.Fatalf("expected probability strictly between 0 and 1, got %v", p)
		}
	})

	t.Run("DegenerateBoxAlwaysCuts", func(t *testing.T) {
		single := NewSingleton([]float32{0, 0})
		if got := single.ProbabilityOfCut([]float32{1, 1}); got != 1 {
			t.Fatalf("expected probability 1 against a degenerate box, got %v", got)
		}
	})
}
