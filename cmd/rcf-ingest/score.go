package main

import "github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/visitor"

// separationScore is the default scoring visitor this daemon writes
// back for every streamed point: the sum, over every ancestor of the
// point's descent path, of ProbabilityOfSeparation — a simple,
// concrete stand-in for whatever threshold model a real deployment
// layers on top, per SPEC_FULL.md's "threshold/forecast
// post-processors are left external" rule. A caller embedding the
// forest package directly is free to supply a different visitor
// entirely; this one only exists because the CLI needs something
// concrete to send over the wire.
type separationScore struct {
	visitor.BaseVisitor[float64, float64]
	point []float64
	sum   float64
}

func newSeparationScore(point []float64) func() visitor.Visitor[float64, float64] {
	return func() visitor.Visitor[float64, float64] {
		return &separationScore{point: point}
	}
}

func (v *separationScore) Accept(view *visitor.NodeView[float64]) {
	v.sum += view.ProbabilityOfSeparation(v.point)
}

func (v *separationScore) Result() float64 { return v.sum }
