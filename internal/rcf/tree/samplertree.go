package tree

import (
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/pointstore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/sampler"
)

// SamplerPlusTree is the fused unit a forest entry owns: a reservoir
// sampler that decides membership and a tree that holds the sampled
// points' structure, both operating on handles into the point store
// the whole forest shares (spec.md section 5). This is the five-step
// Update protocol from spec.md section 4.8.
type SamplerPlusTree[F bbox.Float] struct {
	points  *pointstore.Store[F]
	sampler *sampler.Sampler
	tree    *Tree[F]
}

// NewSamplerPlusTree assembles one forest entry from its three parts.
// points is the forest-wide store shared with every other tree, not a
// private one.
func NewSamplerPlusTree[F bbox.Float](points *pointstore.Store[F], smp *sampler.Sampler, tr *Tree[F]) *SamplerPlusTree[F] {
	return &SamplerPlusTree[F]{points: points, sampler: smp, tree: tr}
}

// Tree exposes the underlying tree for traversal-based queries.
func (st *SamplerPlusTree[F]) Tree() *Tree[F] { return st.tree }

// Sampler exposes the underlying reservoir, mainly for serialization.
func (st *SamplerPlusTree[F]) Sampler() *sampler.Sampler { return st.sampler }

// Points exposes the forest-wide shared point store this tree
// references, mainly for serialization.
func (st *SamplerPlusTree[F]) Points() *pointstore.Store[F] { return st.points }

// Update runs one point through the full accept/evict/insert/delete
// cycle, per spec.md section 4.8. h is a handle the caller already
// added to the point store shared across every tree in the forest
// (spec.md section 5); this tree takes its own reference to it rather
// than adding the vector again:
//
//  1. Take a reference on h for this tree.
//  2. Ask the sampler whether it accepts the point.
//  3. If rejected, release the reference and stop.
//  4. If accepted and the sampler reports an eviction, delete the
//     evicted point from the tree and release its handle.
//  5. Insert the new point into the tree, bind the sampler's pending
//     slot to whatever handle the insert actually settled on (which
//     may differ from h, if the tree collapsed it into an existing
//     duplicate leaf), and release the surplus reference if so.
func (st *SamplerPlusTree[F]) Update(h pointstore.Handle, seq uint64) error {
	if err := st.points.IncRef(h); err != nil {
		return err
	}

	weight, accepted := st.sampler.Propose(seq)
	if !accepted {
		return st.points.DecRef(h)
	}

	if evicted, ok := st.sampler.Evicted(); ok {
		if _, err := st.tree.Delete(pointstore.Handle(evicted.Handle), evicted.Seq); err != nil {
			return err
		}

		if err := st.points.DecRef(pointstore.Handle(evicted.Handle)); err != nil {
			return err
		}
	}

	settled, err := st.tree.Insert(h, seq)
	if err != nil {
		return err
	}

	if settled != h {
		if err := st.points.DecRef(h); err != nil {
			return err
		}
	}

	st.sampler.Accept(uint32(settled), weight, seq)

	return nil
}
