package rcfstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/config"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/forest"
)

func buildForest(t *testing.T, cfg config.Config) *forest.Forest[float64] {
	t.Helper()

	f, err := forest.New[float64](forest.FromConfig(cfg), nil)
	if err != nil {
		t.Fatalf("forest.New: %v", err)
	}

	for seq := uint64(1); seq <= 400; seq++ {
		x := float64(seq%17) + 0.001*float64(seq)
		f.Update([]float64{x, -x}, seq)
	}

	return f
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Dimensions = 2
	cfg.SampleSize = 64
	cfg.NumTrees = 3
	cfg.Seed = 11
	cfg.CenterOfMass = true
	cfg.StoreSequenceIndices = true

	f := buildForest(t, cfg)

	path := filepath.Join(t.TempDir(), "forest.json")

	if err := Save[float64](path, f, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored, err := Load[float64](path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if restored.NumTrees() != f.NumTrees() {
		t.Fatalf("expected %d trees, got %d", f.NumTrees(), restored.NumTrees())
	}

	for i := 0; i < f.NumTrees(); i++ {
		want := f.Tree(i).Tree().Mass()
		got := restored.Tree(i).Tree().Mass()

		if want != got {
			t.Fatalf("tree %d: expected mass %d, got %d", i, want, got)
		}

		if f.Tree(i).Sampler().Size() != restored.Tree(i).Sampler().Size() {
			t.Fatalf("tree %d: sampler size mismatch", i)
		}
	}
}

func TestLoadRejectsIncompatibleVersion(t *testing.T) {
	cfg := config.Default()
	cfg.Dimensions = 2
	cfg.SampleSize = 8
	cfg.NumTrees = 1
	cfg.OutputAfter = 1

	f := buildForest(t, cfg)

	path := filepath.Join(t.TempDir(), "forest.json")

	if err := Save[float64](path, f, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	var snap Snapshot[float64]
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	snap.Version = "2.0.0"

	rewritten, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := os.WriteFile(path, rewritten, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	if _, err := Load[float64](path, nil); err == nil {
		t.Fatal("expected Load to reject an incompatible major version")
	}
}
