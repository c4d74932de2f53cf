package tree

import (
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/bbox"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/nodestore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/pointstore"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"
	"github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/visitor"
)

// Traverse runs a single-path visitor over t against point: AcceptLeaf
// fires once at the leaf the stored cuts route point to, then Accept
// fires bottom-up at every ancestor, per spec.md section 4.7. A Go
// method cannot introduce the extra type parameter R, so this lives as
// a package-level function rather than a *Tree method.
func Traverse[F bbox.Float, R any](t *Tree[F], point []F, v visitor.Visitor[F, R]) (R, error) {
	var zero R

	if t.IsEmpty() {
		return zero, rcferrors.InvalidConfigf("Traverse", "tree is empty")
	}

	path, leaf := t.descend(point)

	leafHandle := t.store.LeafHandle(leaf)

	leafVec, err := t.points.Get(pointstore.Handle(leafHandle))
	if err != nil {
		return zero, err
	}

	lv := visitor.NewLeafView[F](len(path), t.store.LeafMass(leafHandle), leafVec, uint32(leafHandle), t.store.SequenceIndices(leafHandle))
	v.AcceptLeaf(lv)

	if v.HasConverged() {
		return v.Result(), nil
	}

	for i := len(path) - 1; i >= 0; i-- {
		node := path[i]

		var child nodestore.NodeID
		if i == len(path)-1 {
			child = leaf
		} else {
			child = path[i+1]
		}

		sibling := t.store.Sibling(child, node)

		box := t.store.GetBox(node, func() *bbox.Box[F] { return t.rebuildBox(node) })
		sibBox := t.store.GetBox(sibling, func() *bbox.Box[F] { return t.rebuildBox(sibling) })

		nv := visitor.NewInternalView[F](i, t.store.Mass(node), t.store.CutDimension(node), t.store.CutValue(node), box, sibBox)
		v.Accept(nv)

		if v.HasConverged() {
			break
		}
	}

	return v.Result(), nil
}

// TraverseMulti runs a branching MultiVisitor traversal over t against
// point, per spec.md section 4.7: at any internal node where Trigger
// reports true, the visitor is duplicated, both children are visited
// independently, and the two results are folded together with Combine
// before the parent itself is visited.
func TraverseMulti[F bbox.Float, R any](t *Tree[F], point []F, v visitor.MultiVisitor[F, R]) (R, error) {
	var zero R

	if t.IsEmpty() {
		return zero, rcferrors.InvalidConfigf("TraverseMulti", "tree is empty")
	}

	if err := traverseMultiNode(t, t.root, 0, point, v); err != nil {
		return zero, err
	}

	return v.Result(), nil
}

func traverseMultiNode[F bbox.Float, R any](t *Tree[F], node nodestore.NodeID, depth int, point []F, v visitor.MultiVisitor[F, R]) error {
	if t.store.IsLeaf(node) {
		h := t.store.LeafHandle(node)

		vec, err := t.points.Get(pointstore.Handle(h))
		if err != nil {
			return err
		}

		lv := visitor.NewLeafView[F](depth, t.store.LeafMass(h), vec, uint32(h), t.store.SequenceIndices(h))
		v.AcceptLeaf(lv)

		return nil
	}

	cutDim := t.store.CutDimension(node)
	cutVal := t.store.CutValue(node)
	left, right := t.store.Left(node), t.store.Right(node)

	var primary, other nodestore.NodeID
	if goesLeft(point, cutDim, cutVal) {
		primary, other = left, right
	} else {
		primary, other = right, left
	}

	box := t.store.GetBox(node, func() *bbox.Box[F] { return t.rebuildBox(node) })
	trigger := visitor.NewInternalView[F](depth, t.store.Mass(node), cutDim, cutVal, box, nil)

	if v.Trigger(trigger) {
		branch := v.NewCopy()

		if err := traverseMultiNode(t, primary, depth+1, point, v); err != nil {
			return err
		}

		if err := traverseMultiNode(t, other, depth+1, point, branch); err != nil {
			return err
		}

		v.Combine(branch)
	} else {
		if err := traverseMultiNode(t, primary, depth+1, point, v); err != nil {
			return err
		}
	}

	otherBox := t.store.GetBox(other, func() *bbox.Box[F] { return t.rebuildBox(other) })
	nv := visitor.NewInternalView[F](depth, t.store.Mass(node), cutDim, cutVal, box, otherBox)
	v.Accept(nv)

	return nil
}
