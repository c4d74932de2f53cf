// Package shingle implements the fixed-size ring buffer that turns a
// scalar or small-vector stream into the dimensions-wide shingled
// points a Forest expects (SPEC_FULL.md section 6). It is a thin
// preprocessor the forest runtime can optionally wrap; the tree core
// itself never knows a point was shingled.
package shingle

import "github.com/aws/random-cut-forest-by-aws-sub000/internal/rcf/rcferrors"

// Buffer accumulates fixed-width input vectors into a sliding window of
// size shingleSize, emitting the concatenated window as one
// shingleSize*inputWidth-dimensional point each time it fills.
type Buffer struct {
	inputWidth  int
	shingleSize int

	window []float64 // ring of the last shingleSize input vectors, oldest first.
	filled int        // number of input vectors accumulated so far, caps at shingleSize.
}

// New creates a Buffer over inputs of inputWidth dimensions, shingled
// shingleSize deep (so it emits points of inputWidth*shingleSize
// dimensions). shingleSize of 1 is a valid degenerate case: every input
// vector passes straight through unshingled.
func New(inputWidth, shingleSize int) (*Buffer, error) {
	if inputWidth <= 0 {
		return nil, rcferrors.InvalidConfigf("shingle.New", "input width must be positive, got %d", inputWidth)
	}

	if shingleSize <= 0 {
		return nil, rcferrors.InvalidConfigf("shingle.New", "shingle size must be positive, got %d", shingleSize)
	}

	return &Buffer{
		inputWidth:  inputWidth,
		shingleSize: shingleSize,
		window:      make([]float64, inputWidth*shingleSize),
	}, nil
}

// Dimensions returns the width of the point Add emits once full:
// inputWidth * shingleSize.
func (b *Buffer) Dimensions() int { return b.inputWidth * b.shingleSize }

// IsFull reports whether the window holds shingleSize input vectors,
// i.e. whether Add reports ok for the point it emits.
func (b *Buffer) IsFull() bool { return b.filled >= b.shingleSize }

// Add slides in, dropping the oldest input vector and appending next.
// It reports the concatenated window and whether the window is full
// once next has been added (a false ok means the emitted point is still
// zero-padded in its oldest slots and should typically be discarded by
// the caller, per spec.md's "warm-up" convention for shingled input).
func (b *Buffer) Add(next []float64) (point []float64, ok bool, err error) {
	if len(next) != b.inputWidth {
		return nil, false, rcferrors.InvalidConfigf("Buffer.Add", "input has %d dimensions, buffer expects %d", len(next), b.inputWidth)
	}

	copy(b.window, b.window[b.inputWidth:])
	copy(b.window[len(b.window)-b.inputWidth:], next)

	if b.filled < b.shingleSize {
		b.filled++
	}

	out := make([]float64, len(b.window))
	copy(out, b.window)

	return out, b.IsFull(), nil
}

// Reset clears the window, as if no input had ever been added.
func (b *Buffer) Reset() {
	for i := range b.window {
		b.window[i] = 0
	}

	b.filled = 0
}
