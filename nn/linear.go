// Package nn builds small classifiers out of autograd Values.
//
// Nothing here computes gradients by hand: every layer is ordinary arithmetic
// on Values, so the backward pass is whatever autograd derives from it.
package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"micrograd-explorer/autograd"
)

// Initializer returns the starting value of weight [row, col].
type Initializer func(row, col int) float64

// Constant initializes every weight to c.
func Constant(c float64) Initializer {
	return func(int, int) float64 { return c }
}

// Kaiming draws weights from N(0, 2/fanIn).
func Kaiming(rng *rand.Rand, fanIn int) Initializer {
	scale := math.Sqrt(2.0 / float64(fanIn))
	return func(int, int) float64 { return rng.NormFloat64() * scale }
}

// FromSlice replays weights stored row-major, as returned by Linear.Weights.
func FromSlice(w []float64, inDim int) Initializer {
	return func(row, col int) float64 { return w[row*inDim+col] }
}

// Linear computes y = W*x with W of shape [OutDim][InDim].
type Linear struct {
	InDim   int
	OutDim  int
	g       *autograd.Graph
	weights []autograd.Value // row-major: weights[row*InDim+col]
}

// NewLinear creates the layer's parameters as leaves of g.
func NewLinear(g *autograd.Graph, inDim, outDim int, init Initializer) *Linear {
	if inDim <= 0 || outDim <= 0 {
		panic(fmt.Sprintf("nn: invalid linear shape %dx%d", outDim, inDim))
	}
	weights := make([]autograd.Value, 0, inDim*outDim)
	for row := 0; row < outDim; row++ {
		for col := 0; col < inDim; col++ {
			weights = append(weights, g.NewValue(init(row, col)))
		}
	}
	return &Linear{InDim: inDim, OutDim: outDim, g: g, weights: weights}
}

// Forward computes one output per row: sum over columns of x[col] * w[row, col].
// It panics if len(x) != InDim.
func (l *Linear) Forward(x []autograd.Value) []autograd.Value {
	if len(x) != l.InDim {
		panic(fmt.Sprintf("nn: linear layer expects %d inputs, got %d", l.InDim, len(x)))
	}
	out := make([]autograd.Value, l.OutDim)
	for row := range out {
		sum := l.g.NewValue(0)
		w := l.weights[row*l.InDim : (row+1)*l.InDim]
		for col, xi := range x {
			sum = sum.Add(xi.Mul(w[col]))
		}
		out[row] = sum
	}
	return out
}

// Parameters returns the weights in row-major order, ready for Step.
func (l *Linear) Parameters() []autograd.Value {
	return l.weights
}

// Weights copies the current weight values, row-major.
func (l *Linear) Weights() []float64 {
	w := make([]float64, len(l.weights))
	for i, p := range l.weights {
		w[i] = p.Data()
	}
	return w
}

// Matrix snapshots the weights as an OutDim x InDim dense matrix.
func (l *Linear) Matrix() *mat.Dense {
	return mat.NewDense(l.OutDim, l.InDim, l.Weights())
}

// mulVec computes W*x on plain floats.
func mulVec(w *mat.Dense, x []float64) []float64 {
	var y mat.VecDense
	y.MulVec(w, mat.NewVecDense(len(x), x))
	return y.RawVector().Data
}
