// Package rcfstate implements the persisted state layout spec.md
// section 6 describes: a version tag, the forest-level scalar config,
// the one point store shared across every tree, and per-tree (sampler
// reservoir, NodeStore columns) state needed to reconstruct a running
// Forest bit-for-bit in its externally observable behavior (the
// cut-structure and sampler PRNGs are reseeded from the stored seed
// rather than resumed mid-stream; see tree.Restore and
// sampler.Restore).
//
// Save holds an advisory exclusive flock on the file while writing and
// Load a shared one while reading, the same unix syscall the teacher's zero-copy I/O paths use for
// coordinating with other processes touching the same fd.
package rcfstate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sys/unix"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/config"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/forest"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/nodestore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/pointstore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcflog"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rngseed"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/sampler"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/tree"
)

// FormatVersion is the semantic version tag stamped into every
// snapshot Save writes. Load accepts any snapshot whose major version
// matches the running binary's; a breaking layout change bumps major.
const FormatVersion = "1.0.0"

var compatible = mustConstraint("^" + FormatVersion)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}

	return c
}

// TreeState is one tree's persisted state: everything but the point
// store, which is forest-wide and lives in Snapshot.Points instead
// (spec.md section 5's "the PointStore is shared across trees" holds
// for the persisted layout too).
type TreeState[F bbox.Float] struct {
	Samples []sampler.Entry   `json:"samples"`
	Root    uint32            `json:"root"`
	Mass    uint64            `json:"mass"`
	Nodes   nodestore.Dump[F] `json:"nodes"`
}

// Snapshot is the full persisted state of a Forest: a version tag, the
// construction config, the one forest-wide point store (spec.md
// section 6's "for each point store slot: ..." top-level section), and
// every tree's remaining state.
type Snapshot[F bbox.Float] struct {
	Version string                 `json:"version"`
	Config  config.Config          `json:"config"`
	Points  []pointstore.Record[F] `json:"points"`
	Trees   []TreeState[F]         `json:"trees"`
}

// Capture builds a Snapshot of f's current state. cfg should be the
// same construction configuration f was built from (FromConfig's
// input), carried alongside since a Forest does not retain its own
// config.Config copy.
func Capture[F bbox.Float](f *forest.Forest[F], cfg config.Config) Snapshot[F] {
	snap := Snapshot[F]{Version: FormatVersion, Config: cfg, Points: f.Points().Snapshot()}

	for i := 0; i < f.NumTrees(); i++ {
		st := f.Tree(i)

		snap.Trees = append(snap.Trees, TreeState[F]{
			Samples: st.Sampler().Entries(),
			Root:    uint32(st.Tree().Root()),
			Mass:    st.Tree().Mass(),
			Nodes:   st.Tree().Store().Dump(),
		})
	}

	return snap
}

// Restore rebuilds a running Forest from snap, re-deriving every
// tree's PRNG seeds from snap.Config.Seed the same way forest.New
// does, so a restored forest's future PRNG draws follow the identical
// seed-derivation tree the original was built with. The point store
// is rebuilt once and shared across every reconstructed tree, matching
// how forest.New builds a fresh Forest.
func Restore[F bbox.Float](snap Snapshot[F], logger rcflog.Logger) (*forest.Forest[F], error) {
	fcfg := forest.FromConfig(snap.Config)

	points := pointstore.Restore[F](fcfg.Dimensions, fcfg.PointStoreCapacity(), fcfg.DedupPoints, snap.Points)

	trees := make([]*tree.SamplerPlusTree[F], len(snap.Trees))

	for i, ts := range snap.Trees {
		treeSeed := fcfg.TreeSeed(i)

		ns := nodestore.Load[F](ts.Nodes, rngseed.Derive(treeSeed, "nodestore-cache"))

		tr := tree.Restore[F](tree.Config{
			Capacity:             fcfg.SampleSize,
			Dimensions:           fcfg.Dimensions,
			Seed:                 treeSeed,
			CacheFraction:        fcfg.BoundingBoxCacheFraction,
			CenterOfMass:         fcfg.CenterOfMass,
			StoreSequenceIndices: fcfg.StoreSequenceIndices,
			OutputAfter:          fcfg.OutputAfter,
		}, points, ns, nodestore.NodeID(ts.Root), ts.Mass)

		smp := sampler.Restore(fcfg.SampleSize, fcfg.TimeDecay, rngseed.Derive(treeSeed, "sampler"), ts.Samples)

		trees[i] = tree.NewSamplerPlusTree[F](points, smp, tr)
	}

	return forest.Restore[F](fcfg, logger, points, trees)
}

// Save writes a Snapshot of f to path as indented JSON, under an
// advisory exclusive file lock held for the duration of the write.
func Save[F bbox.Float](path string, f *forest.Forest[F], cfg config.Config) error {
	snap := Capture[F](f, cfg)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("rcfstate: marshal snapshot: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("rcfstate: open %s: %w", path, err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("rcfstate: lock %s: %w", path, err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("rcfstate: write %s: %w", path, err)
	}

	return nil
}

// Load reads and validates a Snapshot previously written by Save,
// under a shared advisory file lock, and rebuilds a running Forest
// from it. It rejects a snapshot whose version tag is not compatible
// with FormatVersion before touching any tree state.
func Load[F bbox.Float](path string, logger rcflog.Logger) (*forest.Forest[F], error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rcfstate: open %s: %w", path, err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("rcfstate: lock %s: %w", path, err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	var snap Snapshot[F]
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("rcfstate: decode %s: %w", path, err)
	}

	v, err := semver.NewVersion(snap.Version)
	if err != nil {
		return nil, rcferrors.InvalidConfigf("rcfstate.Load", "unparseable snapshot version %q: %v", snap.Version, err)
	}

	if !compatible.Check(v) {
		return nil, rcferrors.InvalidConfigf("rcfstate.Load", "snapshot version %s is incompatible with this binary's %s", snap.Version, FormatVersion)
	}

	if err := snap.Config.Validate(); err != nil {
		return nil, fmt.Errorf("rcfstate: snapshot config: %w", err)
	}

	return Restore[F](snap, logger)
}
