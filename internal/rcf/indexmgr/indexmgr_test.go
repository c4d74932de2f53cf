package indexmgr

import "testing"

func TestManagerTakeRelease(t *testing.T) {
	m := New(3)

	a, err := m.Take()
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}

	b, err := m.Take()
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}

	if a == b {
		t.Fatalf("Take returned the same index twice: %d", a)
	}

	if m.Size() != 2 {
		t.Fatalf("expected size 2, got %d", m.Size())
	}

	m.Release(a)

	if m.Size() != 1 {
		t.Fatalf("expected size 1 after release, got %d", m.Size())
	}

	if m.Occupied(a) {
		t.Fatal("released index must not be occupied")
	}

	c, err := m.Take()
	if err != nil {
		t.Fatalf("Take after release failed: %v", err)
	}

	if c != a {
		t.Fatalf("expected Take to recycle released index %d, got %d", a, c)
	}
}

func TestManagerOutOfCapacity(t *testing.T) {
	m := New(1)

	if _, err := m.Take(); err != nil {
		t.Fatalf("first Take should succeed: %v", err)
	}

	if _, err := m.Take(); err == nil {
		t.Fatal("expected OutOfCapacity error")
	}
}
