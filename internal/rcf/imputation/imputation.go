// Package imputation implements the missing-dimension MultiVisitor
// SPEC_FULL.md section 6 describes: it branches at every internal node
// whose cut dimension falls inside the query's missing set, so both
// branches a missing coordinate could plausibly route through get
// explored, and keeps whichever leaf vector the caller's score
// function ranks best. The score function itself — nearest-neighbor
// distance, likelihood under some model, whatever the caller wants —
// is left external, per spec.md section 1's "numerical definitions are
// out of scope" rule; this package only decides which leaves are
// reachable candidates.
package imputation

import (
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/visitor"
)

// ScoreFunc ranks a candidate leaf vector against the original query;
// lower is better.
type ScoreFunc[F bbox.Float] func(candidate []F) float64

// Visitor is a MultiVisitor that imputes missing dimensions by
// exploring every leaf reachable once a missing cut dimension is
// allowed to branch both ways, then keeping the best-scoring leaf.
type Visitor[F bbox.Float] struct {
	visitor.BaseVisitor[F, []F]

	missing map[int]bool
	score   ScoreFunc[F]

	best      []F
	bestScore float64
	hasBest   bool
}

// New builds a Visitor over missingDims (the query's missing
// coordinate indices) and score (the caller's candidate-ranking rule).
func New[F bbox.Float](missingDims []int, score ScoreFunc[F]) *Visitor[F] {
	m := make(map[int]bool, len(missingDims))
	for _, d := range missingDims {
		m[d] = true
	}

	return &Visitor[F]{missing: m, score: score}
}

// Trigger branches whenever the node's cut dimension is one of the
// query's missing coordinates: a cut on a known coordinate routes
// deterministically, but a cut on a missing one could have gone either
// way, so both sides need exploring.
func (v *Visitor[F]) Trigger(view *visitor.NodeView[F]) bool {
	return v.missing[view.CutDimension()]
}

// AcceptLeaf scores the reached leaf and keeps it if it is the best
// candidate seen so far on this branch.
func (v *Visitor[F]) AcceptLeaf(view *visitor.NodeView[F]) {
	candidate := view.LeafPoint()
	s := v.score(candidate)

	if !v.hasBest || s < v.bestScore {
		v.hasBest = true
		v.bestScore = s
		v.best = candidate
	}
}

// Result returns the best-scoring candidate vector found across every
// explored branch, or nil if traversal never reached a leaf.
func (v *Visitor[F]) Result() []F { return v.best }

// NewCopy starts a fresh branch sharing the same missing set and score
// function but with its own best-candidate tracking.
func (v *Visitor[F]) NewCopy() visitor.MultiVisitor[F, []F] {
	return &Visitor[F]{missing: v.missing, score: v.score}
}

// Combine folds a completed branch's best candidate into this one,
// keeping whichever of the two scores lower.
func (v *Visitor[F]) Combine(other visitor.MultiVisitor[F, []F]) {
	o, ok := other.(*Visitor[F])
	if !ok {
		return
	}

	if o.hasBest && (!v.hasBest || o.bestScore < v.bestScore) {
		v.hasBest = true
		v.bestScore = o.bestScore
		v.best = o.best
	}
}
