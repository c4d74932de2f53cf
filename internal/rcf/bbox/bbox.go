// Package bbox implements the n-dimensional axis-aligned bounding box
// used by the tree to decide cut planes and answer separation
// probability queries. It is generic over the two point precisions the
// forest supports, float32 and float64, since the cut generator's
// arithmetic is precision-sensitive (spec section 4.2/9) and must not
// be laundered through a wider type.
package bbox

import (
	"fmt"

	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"
)

// Float is the set of precisions a Box can hold points in.
type Float interface {
	~float32 | ~float64
}

// Box is an n-dimensional axis-aligned rectangle with a cached range
// sum (the sum of side lengths), used both for probability-of-cut
// weighting and as a cheap "is this cache slot trivial" check.
type Box[F Float] struct {
	Min      []F
	Max      []F
	RangeSum F
}

// NewSingleton builds the degenerate box containing exactly one point:
// Min == Max == p, RangeSum == 0.
func NewSingleton[F Float](p []F) *Box[F] {
	minCopy := make([]F, len(p))
	maxCopy := make([]F, len(p))
	copy(minCopy, p)
	copy(maxCopy, p)

	return &Box[F]{Min: minCopy, Max: maxCopy, RangeSum: 0}
}

// Copy returns a deep copy of b.
func (b *Box[F]) Copy() *Box[F] {
	out := &Box[F]{
		Min:      make([]F, len(b.Min)),
		Max:      make([]F, len(b.Max)),
		RangeSum: b.RangeSum,
	}
	copy(out.Min, b.Min)
	copy(out.Max, b.Max)

	return out
}

// Dimensions reports the box's dimensionality.
func (b *Box[F]) Dimensions() int { return len(b.Min) }

func (b *Box[F]) recomputeRangeSum() {
	var sum F
	for d := range b.Min {
		sum += b.Max[d] - b.Min[d]
	}

	b.RangeSum = sum
}

// AddPoint mutates b in place to include p, recomputing RangeSum.
func (b *Box[F]) AddPoint(p []F) error {
	if len(p) != len(b.Min) {
		return rcferrors.New(rcferrors.InvalidConfig, "Box.AddPoint",
			fmt.Sprintf("dimension mismatch: box has %d, point has %d", len(b.Min), len(p)), nil)
	}

	for d, v := range p {
		if v < b.Min[d] {
			b.Min[d] = v
		}

		if v > b.Max[d] {
			b.Max[d] = v
		}
	}

	b.recomputeRangeSum()

	return nil
}

// AddBox mutates b in place to include other, recomputing RangeSum.
func (b *Box[F]) AddBox(other *Box[F]) error {
	if len(other.Min) != len(b.Min) {
		return rcferrors.New(rcferrors.InvalidConfig, "Box.AddBox",
			fmt.Sprintf("dimension mismatch: box has %d, other has %d", len(b.Min), len(other.Min)), nil)
	}

	for d := range b.Min {
		if other.Min[d] < b.Min[d] {
			b.Min[d] = other.Min[d]
		}

		if other.Max[d] > b.Max[d] {
			b.Max[d] = other.Max[d]
		}
	}

	b.recomputeRangeSum()

	return nil
}

// Merge returns a new box equal to b extended to contain other, without
// mutating either operand.
func (b *Box[F]) Merge(other *Box[F]) (*Box[F], error) {
	out := b.Copy()
	if err := out.AddBox(other); err != nil {
		return nil, err
	}

	return out, nil
}

// MergePoint returns a new box equal to b extended to contain p,
// without mutating b.
func (b *Box[F]) MergePoint(p []F) (*Box[F], error) {
	out := b.Copy()
	if err := out.AddPoint(p); err != nil {
		return nil, err
	}

	return out, nil
}

// Contains reports whether p lies within b on every axis, inclusive of
// both boundaries.
func (b *Box[F]) Contains(p []F) bool {
	for d, v := range p {
		if v < b.Min[d] || v > b.Max[d] {
			return false
		}
	}

	return true
}

// ProbabilityOfCut computes the probability that a single random cut of
// b (extended, conceptually, to also cover p) separates p from b: let
// r be the total distance p sits outside b summed over every axis. If
// r is zero, p is inside b and the probability is 0. If b is itself a
// single point (RangeSum == 0), any cut separates it, so the answer is
// 1. Otherwise the answer is r / (r + RangeSum).
func (b *Box[F]) ProbabilityOfCut(p []F) float64 {
	var r F

	for d, v := range p {
		if b.Min[d]-v > 0 {
			r += b.Min[d] - v
		}

		if v-b.Max[d] > 0 {
			r += v - b.Max[d]
		}
	}

	if r == 0 {
		return 0
	}

	if b.RangeSum == 0 {
		return 1
	}

	return float64(r) / float64(r+b.RangeSum)
}
