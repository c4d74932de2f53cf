// Package visitor defines the traversal protocol every Random Cut Tree
// query (anomaly score, attribution, imputation, density, forecast)
// plugs into: a NodeView exposing the ancestry the traversal walks
// through, and Visitor/MultiVisitor interfaces a caller implements to
// aggregate over it. The pattern is the teacher AST's open/closed
// Visitor + BaseVisitor shape (internal/ast/visitor.go), generalized
// from a fixed node-kind switch to the tree's two-kind (leaf/internal)
// shape and parameterized over point precision and result type.
package visitor

import "github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"

// NodeView is what a traversal hands to a Visitor at each step. It is
// read-only: visitors observe the tree, they never mutate it.
type NodeView[F bbox.Float] struct {
	depth int

	mass        uint64
	cutDim      int
	cutValue    float32
	box         *bbox.Box[F]
	siblingBox  *bbox.Box[F]
	isLeaf      bool
	leafPoint   []F
	leafHandle  uint32
	sequenceIDs map[uint64]uint32
}

// NewLeafView builds the NodeView presented at a leaf.
func NewLeafView[F bbox.Float](depth int, mass uint64, point []F, handle uint32, seqIDs map[uint64]uint32) *NodeView[F] {
	return &NodeView[F]{
		depth:       depth,
		mass:        mass,
		isLeaf:      true,
		leafPoint:   point,
		leafHandle:  handle,
		sequenceIDs: seqIDs,
	}
}

// NewInternalView builds the NodeView presented at an internal node,
// with box the node's own (possibly freshly rebuilt) bounding box and
// siblingBox the bounding box of the branch the traversal did not
// descend into.
func NewInternalView[F bbox.Float](depth int, mass uint64, cutDim int, cutValue float32, box, siblingBox *bbox.Box[F]) *NodeView[F] {
	return &NodeView[F]{
		depth:      depth,
		mass:       mass,
		cutDim:     cutDim,
		cutValue:   cutValue,
		box:        box,
		siblingBox: siblingBox,
	}
}

func (v *NodeView[F]) Depth() int               { return v.depth }
func (v *NodeView[F]) Mass() uint64             { return v.mass }
func (v *NodeView[F]) IsLeaf() bool             { return v.isLeaf }
func (v *NodeView[F]) CutDimension() int        { return v.cutDim }
func (v *NodeView[F]) CutValue() float32        { return v.cutValue }
func (v *NodeView[F]) BoundingBox() *bbox.Box[F] { return v.box }
func (v *NodeView[F]) SiblingBoundingBox() *bbox.Box[F] { return v.siblingBox }
func (v *NodeView[F]) LeafPoint() []F           { return v.leafPoint }
func (v *NodeView[F]) LeafHandle() uint32       { return v.leafHandle }

// SequenceIndices returns the leaf's recorded sequence-number
// multiplicities, or nil away from a leaf or when the tree does not
// track them.
func (v *NodeView[F]) SequenceIndices() map[uint64]uint32 { return v.sequenceIDs }

// ProbabilityOfSeparation estimates, at an internal node, how unlikely
// it would be for a single random cut to route point down the same
// branch the traversal took, by merging this node's box with its
// sibling's and asking the merged box's cut probability against
// point. This is the "sibling path" computation spec.md section 4.7
// leaves to the node view; the actual scoring formulas that consume it
// (anomaly score, attribution, density) stay external per the core's
// scope.
func (v *NodeView[F]) ProbabilityOfSeparation(point []F) float64 {
	if v.isLeaf || v.box == nil || v.siblingBox == nil {
		return 0
	}

	merged, err := v.box.Merge(v.siblingBox)
	if err != nil {
		return 0
	}

	return merged.ProbabilityOfCut(point)
}

// Visitor is the single-path traversal protocol: AcceptLeaf fires once
// at the leaf the traversal reaches, then Accept fires bottom-up at
// every ancestor. Result is read once traversal completes.
// HasConverged lets a visitor request early exit once it has enough
// information (e.g. a density estimate that has stabilized).
type Visitor[F bbox.Float, R any] interface {
	AcceptLeaf(view *NodeView[F])
	Accept(view *NodeView[F])
	Result() R
	HasConverged() bool
}

// BaseVisitor is an embeddable no-op Visitor implementation, so a
// concrete visitor only has to override the methods it cares about —
// the same composition idiom as the teacher AST's BaseVisitor.
type BaseVisitor[F bbox.Float, R any] struct{}

func (BaseVisitor[F, R]) AcceptLeaf(*NodeView[F]) {}
func (BaseVisitor[F, R]) Accept(*NodeView[F])     {}
func (BaseVisitor[F, R]) HasConverged() bool      { return false }

func (BaseVisitor[F, R]) Result() R {
	var zero R

	return zero
}

// MultiVisitor additionally supports branching traversal: at any
// internal node where Trigger reports true, the tree duplicates the
// visitor via NewCopy, visits both children independently, and folds
// the two results together with Combine before visiting the parent.
type MultiVisitor[F bbox.Float, R any] interface {
	Visitor[F, R]
	Trigger(view *NodeView[F]) bool
	NewCopy() MultiVisitor[F, R]
	Combine(other MultiVisitor[F, R])
}
