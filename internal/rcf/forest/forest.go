// Package forest implements the Forest runtime: the façade spec.md
// declares out of the tree core's scope but which a runnable Random
// Cut Forest needs somewhere (SPEC_FULL.md section 6). A Forest owns N
// (sampler, tree) pairs sharing one forest-wide point store, fans
// Update out across them on a bounded worker pool, and aggregates
// Score/Forecast traversals across every tree that has accumulated
// enough mass to contribute.
package forest

import (
	"encoding/binary"
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/config"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/pointstore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcflog"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rngseed"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/sampler"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/tree"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/visitor"
)

// Config carries the construction options for a Forest, mirroring
// spec.md section 6's construction configuration table.
type Config struct {
	SampleSize               int
	Dimensions               int
	NumTrees                 int
	Seed                     int64
	TimeDecay                float64
	BoundingBoxCacheFraction float64
	StoreSequenceIndices     bool
	CenterOfMass             bool
	DedupPoints              bool
	OutputAfter              int

	// Workers bounds the goroutine fan-out for Update/Score/Forecast.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int

	// ScoreCacheSize bounds the per-point score cache. Zero disables it.
	ScoreCacheSize int
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}

	return runtime.GOMAXPROCS(0)
}

// FromConfig bridges a loaded config.Config (the on-disk construction
// configuration, SPEC_FULL.md section 9) to the runtime Forest
// constructor's options. Precision is deliberately not carried here:
// it picks which of New[float32]/New[float64] the caller instantiates,
// not a Forest field.
func FromConfig(c config.Config) Config {
	return Config{
		SampleSize:               c.SampleSize,
		Dimensions:               c.Dimensions,
		NumTrees:                 c.NumTrees,
		Seed:                     c.Seed,
		TimeDecay:                c.TimeDecay,
		BoundingBoxCacheFraction: c.BoundingBoxCacheFraction,
		StoreSequenceIndices:     c.StoreSequenceIndices,
		CenterOfMass:             c.CenterOfMass,
		DedupPoints:              c.DedupPoints,
		OutputAfter:              c.OutputAfter,
	}
}

// Forest is a Random Cut Forest over points of precision F: NumTrees
// trees, each with its own sampler and tree structure, all operating
// on one point store shared across the whole forest (spec.md section
// 1's "point store + reference-counting" component, section 5's "the
// PointStore is shared across trees").
type Forest[F bbox.Float] struct {
	cfg     Config
	points  *pointstore.Store[F]
	trees   []*tree.SamplerPlusTree[F]
	logger  rcflog.Logger
	workers int

	generation uint64 // bumped on every Update; see scoreKey.
	scoreCache *lru.Cache[string, float64]
}

// PointStoreCapacity returns the largest number of simultaneously live
// handles the forest-wide shared point store can ever need: every one
// of cfg.NumTrees trees may hold up to cfg.SampleSize distinct points,
// plus one transient slot for whichever point is currently being
// distributed across trees in Update.
func (c Config) PointStoreCapacity() int {
	return c.NumTrees*c.SampleSize + 1
}

// New builds a Forest of cfg.NumTrees independent trees, each with its
// own sampler and sub-seeded PRNGs (spec.md section 9), sharing one
// point store among them.
func New[F bbox.Float](cfg Config, logger rcflog.Logger) (*Forest[F], error) {
	if logger == nil {
		logger = rcflog.Noop()
	}

	points := pointstore.New[F](cfg.Dimensions, cfg.PointStoreCapacity(), cfg.DedupPoints)

	trees := make([]*tree.SamplerPlusTree[F], cfg.NumTrees)

	for i := 0; i < cfg.NumTrees; i++ {
		treeSeed := cfg.TreeSeed(i)

		smp := sampler.New(cfg.SampleSize, cfg.TimeDecay, rngseed.Derive(treeSeed, "sampler"))
		tr := tree.New[F](tree.Config{
			Capacity:             cfg.SampleSize,
			Dimensions:           cfg.Dimensions,
			Seed:                 treeSeed,
			CacheFraction:        cfg.BoundingBoxCacheFraction,
			CenterOfMass:         cfg.CenterOfMass,
			StoreSequenceIndices: cfg.StoreSequenceIndices,
			OutputAfter:          cfg.OutputAfter,
		}, points)

		trees[i] = tree.NewSamplerPlusTree[F](points, smp, tr)
	}

	f := &Forest[F]{
		cfg:     cfg,
		points:  points,
		trees:   trees,
		logger:  logger,
		workers: cfg.workers(),
	}

	if cfg.ScoreCacheSize > 0 {
		c, err := lru.New[string, float64](cfg.ScoreCacheSize)
		if err != nil {
			return nil, err
		}

		f.scoreCache = c
	}

	return f, nil
}

// TreeSeed derives the same per-tree seed New assigns to tree i, so a
// caller reconstructing a tree's PointSource/Sampler/Tree from a
// persisted snapshot can reseed their PRNGs identically.
func (c Config) TreeSeed(i int) int64 {
	return rngseed.Derive(c.Seed, "tree", strconv.Itoa(i))
}

// Restore rebuilds a Forest from cfg, the forest-wide shared point
// store, and a caller-supplied set of already-reconstructed per-tree
// units (one SamplerPlusTree per tree, in tree-index order, all built
// against that same store), bypassing New's fresh-construction path.
// The rcfstate package uses this to turn a persisted Snapshot back
// into a running Forest.
func Restore[F bbox.Float](cfg Config, logger rcflog.Logger, points *pointstore.Store[F], trees []*tree.SamplerPlusTree[F]) (*Forest[F], error) {
	if logger == nil {
		logger = rcflog.Noop()
	}

	f := &Forest[F]{
		cfg:     cfg,
		points:  points,
		trees:   trees,
		logger:  logger,
		workers: cfg.workers(),
	}

	if cfg.ScoreCacheSize > 0 {
		c, err := lru.New[string, float64](cfg.ScoreCacheSize)
		if err != nil {
			return nil, err
		}

		f.scoreCache = c
	}

	return f, nil
}

// NumTrees returns the configured tree count.
func (f *Forest[F]) NumTrees() int { return len(f.trees) }

// Tree exposes tree i's SamplerPlusTree directly, for serialization and
// diagnostics.
func (f *Forest[F]) Tree(i int) *tree.SamplerPlusTree[F] { return f.trees[i] }

// Points exposes the forest-wide shared point store, for serialization.
func (f *Forest[F]) Points() *pointstore.Store[F] { return f.points }

// Update adds point to the forest-wide shared store once, obtaining a
// single handle, then applies that handle (observed at seq) to every
// tree fanned out across the worker pool — spec.md section 2's data
// flow, "point -> PointStore.add (handle) -> for each tree: ...". The
// handle's initial reference (held by this call, not any one tree)
// keeps the point alive for the whole fan-out; it is released only
// once every tree has had its chance to take its own reference. Per
// SPEC_FULL.md section 7, a tree whose Update fails is logged and
// skipped rather than aborting the whole forest operation.
func (f *Forest[F]) Update(point []F, seq uint64) {
	h, err := f.points.Add(point)
	if err != nil {
		f.logger.Warn("forest: point store add failed at seq %d: %s", seq, err.Error())

		return
	}

	var wg sync.WaitGroup

	sem := make(chan struct{}, f.workers)
	var evictionCount int64

	for i, st := range f.trees {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, st *tree.SamplerPlusTree[F]) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := st.Update(h, seq); err != nil {
				f.logger.Warn("forest: tree %d update failed at seq %d: %s", i, seq, err.Error())

				return
			}

			if _, ok := st.Sampler().Evicted(); ok {
				atomic.AddInt64(&evictionCount, 1)
			}
		}(i, st)
	}

	wg.Wait()

	if err := f.points.DecRef(h); err != nil {
		f.logger.Warn("forest: point store release failed at seq %d: %s", seq, err.Error())
	}

	atomic.AddUint64(&f.generation, 1)

	if int(evictionCount) > len(f.trees)/2 {
		f.logger.Warn("forest: majority of trees evicted on this update (%d of %d)", evictionCount, len(f.trees))
	}
}

// scoreKey derives a cache key from point's content and the forest's
// current generation, so a stale entry simply misses (correctness is
// never at stake, only whether a recompute is skipped).
func (f *Forest[F]) scoreKey(point []F) string {
	buf := make([]byte, len(point)*8+8)

	for i, v := range point {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(float64(v)))
	}

	binary.LittleEndian.PutUint64(buf[len(point)*8:], atomic.LoadUint64(&f.generation))

	return string(buf)
}

// Score traverses every output-ready tree with a fresh visitor built
// by newVisitor, and returns the mean of their results alongside the
// raw per-tree values (0 where a tree was skipped or its traversal
// failed), per SPEC_FULL.md section 6's "expose the raw per-tree
// results" rule. On a score-cache hit the cached mean is returned with
// a nil perTree.
func (f *Forest[F]) Score(point []F, newVisitor func() visitor.Visitor[F, float64]) (mean float64, perTree []float64, err error) {
	if f.scoreCache != nil {
		key := f.scoreKey(point)
		if v, ok := f.scoreCache.Get(key); ok {
			return v, nil, nil
		}
	}

	perTree = make([]float64, len(f.trees))
	ready := make([]bool, len(f.trees))

	var wg sync.WaitGroup

	sem := make(chan struct{}, f.workers)

	for i, st := range f.trees {
		if !st.Tree().IsOutputReady() {
			continue
		}

		ready[i] = true

		wg.Add(1)
		sem <- struct{}{}

		go func(i int, st *tree.SamplerPlusTree[F]) {
			defer wg.Done()
			defer func() { <-sem }()

			v := newVisitor()

			r, terr := tree.Traverse[F, float64](st.Tree(), point, v)
			if terr != nil {
				f.logger.Warn("forest: tree %d score failed: %s", i, terr.Error())
				ready[i] = false

				return
			}

			perTree[i] = r
		}(i, st)
	}

	wg.Wait()

	var sum float64

	var n int

	for i := range f.trees {
		if !ready[i] {
			continue
		}

		sum += perTree[i]
		n++
	}

	if n == 0 {
		return 0, perTree, nil
	}

	mean = sum / float64(n)

	if f.scoreCache != nil {
		f.scoreCache.Add(f.scoreKey(point), mean)
	}

	return mean, perTree, nil
}

// Forecast traverses every output-ready tree with a fresh MultiVisitor
// built by newVisitor, collecting each tree's result. Combining the
// per-tree forecasts into a single prediction (and any thresholding)
// is left to the caller, per SPEC_FULL.md section 6.
func (f *Forest[F]) Forecast(point []F, newVisitor func() visitor.MultiVisitor[F, []F]) ([][]F, error) {
	out := make([][]F, 0, len(f.trees))

	var mu sync.Mutex

	var wg sync.WaitGroup

	sem := make(chan struct{}, f.workers)

	for i, st := range f.trees {
		if !st.Tree().IsOutputReady() {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(i int, st *tree.SamplerPlusTree[F]) {
			defer wg.Done()
			defer func() { <-sem }()

			v := newVisitor()

			r, terr := tree.TraverseMulti[F, []F](st.Tree(), point, v)
			if terr != nil {
				f.logger.Warn("forest: tree %d forecast failed: %s", i, terr.Error())

				return
			}

			mu.Lock()
			out = append(out, r)
			mu.Unlock()
		}(i, st)
	}

	wg.Wait()

	return out, nil
}

// SetCacheFraction adjusts the bounding-box cache rate on every tree,
// one of the two fields SPEC_FULL.md section 9 allows a config
// hot-reload to change after construction.
func (f *Forest[F]) SetCacheFraction(frac float64) {
	for _, st := range f.trees {
		st.Tree().SetCacheFraction(frac)
	}
}
