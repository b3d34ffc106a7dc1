package nn

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"micrograd-explorer/autograd"
)

// MLP is a stack of Linear layers with ReLU between them (not after the last).
type MLP struct {
	Graph  *autograd.Graph
	Layers []*Linear
}

// NewMLP creates layers of sizes dims[0] -> dims[1] -> ... -> dims[n-1].
// newInit picks the initializer for each layer given its fan-in and fan-out.
func NewMLP(g *autograd.Graph, dims []int, newInit func(fanIn, fanOut int) Initializer) *MLP {
	if len(dims) < 2 {
		panic(fmt.Sprintf("nn: MLP needs at least two sizes, got %v", dims))
	}
	m := &MLP{Graph: g}
	for i := 0; i+1 < len(dims); i++ {
		m.Layers = append(m.Layers, NewLinear(g, dims[i], dims[i+1], newInit(dims[i], dims[i+1])))
	}
	return m
}

// Dims returns the layer sizes, input first.
func (m *MLP) Dims() []int {
	dims := []int{m.Layers[0].InDim}
	for _, l := range m.Layers {
		dims = append(dims, l.OutDim)
	}
	return dims
}

// Forward returns the logits for x.
func (m *MLP) Forward(x []autograd.Value) []autograd.Value {
	for i, l := range m.Layers {
		x = l.Forward(x)
		if i < len(m.Layers)-1 {
			for j := range x {
				x[j] = x[j].Relu()
			}
		}
	}
	return x
}

// Inputs turns plain features into leaves of the model's graph.
func (m *MLP) Inputs(features []float64) []autograd.Value {
	x := make([]autograd.Value, len(features))
	for i, f := range features {
		x[i] = m.Graph.NewValue(f)
	}
	return x
}

// Parameters returns every weight of every layer, layer by layer.
func (m *MLP) Parameters() []autograd.Value {
	var params []autograd.Value
	for _, l := range m.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// NumParams counts the trainable weights.
func (m *MLP) NumParams() int {
	n := 0
	for _, l := range m.Layers {
		n += l.InDim * l.OutDim
	}
	return n
}

// Replicate copies the current weights into fresh leaves of g. The replica
// shares no nodes with m, so it can be trained on another goroutine.
func (m *MLP) Replicate(g *autograd.Graph) *MLP {
	r := &MLP{Graph: g}
	for _, l := range m.Layers {
		r.Layers = append(r.Layers, NewLinear(g, l.InDim, l.OutDim, FromSlice(l.Weights(), l.InDim)))
	}
	return r
}

// Inference is a read-only copy of an MLP's weights, one dense matrix per
// layer. It does not follow later updates of the model.
type Inference struct {
	weights []*mat.Dense
}

// Freeze copies the current weights once so that many samples can be
// inferred without touching the graph.
func (m *MLP) Freeze() *Inference {
	f := &Inference{weights: make([]*mat.Dense, len(m.Layers))}
	for i, l := range m.Layers {
		f.weights[i] = l.Matrix()
	}
	return f
}

// Predict runs the network on plain floats and returns class probabilities.
func (f *Inference) Predict(features []float64) []float64 {
	if _, in := f.weights[0].Dims(); len(features) != in {
		panic(fmt.Sprintf("nn: network expects %d inputs, got %d", in, len(features)))
	}
	x := features
	for i, w := range f.weights {
		x = mulVec(w, x)
		if i < len(f.weights)-1 {
			for j, v := range x {
				if v <= 0 {
					x[j] = 0
				}
			}
		}
	}
	return SoftmaxFloats(x)
}

// Classify returns the most probable class and the full distribution.
func (f *Inference) Classify(features []float64) (int, []float64) {
	probs := f.Predict(features)
	return floats.MaxIdx(probs), probs
}

// Predict is Freeze().Predict for a single sample.
func (m *MLP) Predict(features []float64) []float64 {
	return m.Freeze().Predict(features)
}

// Classify is Freeze().Classify for a single sample.
func (m *MLP) Classify(features []float64) (int, []float64) {
	return m.Freeze().Classify(features)
}
