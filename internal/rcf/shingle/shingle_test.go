package shingle

import "testing"

func TestBufferFillsAndSlides(t *testing.T) {
	b, err := New(2, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if b.Dimensions() != 6 {
		t.Fatalf("expected 6 dimensions, got %d", b.Dimensions())
	}

	inputs := [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	var last []float64
	var lastOK bool

	for _, in := range inputs {
		p, ok, err := b.Add(in)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}

		last, lastOK = p, ok
	}

	if !lastOK {
		t.Fatal("expected the buffer to be full after 4 adds with shingle size 3")
	}

	want := []float64{3, 4, 5, 6, 7, 8}

	for i, v := range want {
		if last[i] != v {
			t.Fatalf("position %d: expected %v, got %v", i, v, last[i])
		}
	}
}

func TestBufferNotFullDuringWarmup(t *testing.T) {
	b, err := New(1, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, ok, err := b.Add([]float64{1})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if ok {
		t.Fatal("expected the buffer to report not-full before shingleSize adds")
	}
}

func TestBufferRejectsWrongWidth(t *testing.T) {
	b, err := New(2, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, _, err := b.Add([]float64{1}); err == nil {
		t.Fatal("expected Add to reject a mismatched input width")
	}
}

func TestBufferReset(t *testing.T) {
	b, err := New(1, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, _, err := b.Add([]float64{1}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b.Reset()

	if b.IsFull() {
		t.Fatal("expected Reset to clear the fill count")
	}
}
