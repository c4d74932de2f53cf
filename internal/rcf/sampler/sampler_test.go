package sampler

import "testing"

func TestProposeFillsBeforeEvicting(t *testing.T) {
	s := New(2, 0.01, 42)

	for seq := uint64(1); seq <= 2; seq++ {
		w, accepted := s.Propose(seq)
		if !accepted {
			t.Fatalf("expected acceptance while reservoir is not full, seq=%d", seq)
		}

		if _, ok := s.Evicted(); ok {
			t.Fatalf("did not expect an eviction while filling, seq=%d", seq)
		}

		s.Accept(uint32(seq), w, seq)
	}

	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}
}

func TestProposeAcceptRejectCycle(t *testing.T) {
	s := New(1, 0.0, 7)

	w, accepted := s.Propose(1)
	if !accepted {
		t.Fatal("first proposal into an empty reservoir must be accepted")
	}

	s.Accept(1, w, 1)

	// Run many proposals; every accepted one must report an eviction
	// (the reservoir is full), and size must stay at capacity.
	for seq := uint64(2); seq <= 200; seq++ {
		w, accepted := s.Propose(seq)
		if !accepted {
			continue
		}

		evicted, ok := s.Evicted()
		if !ok {
			t.Fatalf("accepted proposal into a full reservoir must report an eviction, seq=%d", seq)
		}

		s.Accept(uint32(seq), w, seq)

		if evicted.Handle == uint32(seq) {
			t.Fatalf("evicted entry must not be the one just accepted")
		}
	}

	if s.Size() != 1 {
		t.Fatalf("expected size to stay at capacity 1, got %d", s.Size())
	}
}

func TestDeterministicForFixedSeed(t *testing.T) {
	run := func() []Entry {
		s := New(4, 0.02, 99)

		for seq := uint64(1); seq <= 20; seq++ {
			w, accepted := s.Propose(seq)
			if !accepted {
				continue
			}

			s.Accept(uint32(seq), w, seq)
		}

		return s.Entries()
	}

	a := run()
	b := run()

	if len(a) != len(b) {
		t.Fatalf("expected identical entry counts across runs, got %d and %d", len(a), len(b))
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical entry at index %d across runs, got %+v and %+v", i, a[i], b[i])
		}
	}
}
