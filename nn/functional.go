package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"micrograd-explorer/autograd"
)

// Softmax converts logits into probabilities that sum to 1.
//
// The max logit is subtracted first as a constant for numerical stability; it
// shifts every logit equally, so the gradient is unchanged.
func Softmax(logits []autograd.Value) []autograd.Value {
	if len(logits) == 0 {
		return nil
	}
	g := logits[0].Graph()
	maxVal := math.Inf(-1)
	for _, l := range logits {
		maxVal = math.Max(maxVal, l.Data())
	}

	shift := g.NewValue(-maxVal)
	exps := make([]autograd.Value, len(logits))
	total := g.NewValue(0)
	for i, l := range logits {
		exps[i] = l.Add(shift).Exp()
		total = total.Add(exps[i])
	}

	probs := make([]autograd.Value, len(logits))
	for i, e := range exps {
		probs[i] = e.Div(total)
	}
	return probs
}

// MSE is the mean squared error between probabilities and a one-hot label.
func MSE(probs []autograd.Value, label int) autograd.Value {
	checkLabel(label, len(probs))
	g := probs[0].Graph()
	sum := g.NewValue(0)
	for i, p := range probs {
		target := 0.0
		if i == label {
			target = 1
		}
		diff := p.Sub(g.NewValue(target))
		sum = sum.Add(diff.Mul(diff))
	}
	return sum.Div(g.NewValue(float64(len(probs))))
}

// CrossEntropy is -ln(probs[label]).
func CrossEntropy(probs []autograd.Value, label int) autograd.Value {
	checkLabel(label, len(probs))
	return probs[label].Log().Neg()
}

// LossFunc scores class probabilities against the true label.
type LossFunc func(probs []autograd.Value, label int) autograd.Value

// Loss looks up a loss function by its config name.
func Loss(name string) (LossFunc, bool) {
	switch name {
	case "mse":
		return MSE, true
	case "xent":
		return CrossEntropy, true
	}
	return nil, false
}

func checkLabel(label, classes int) {
	if label < 0 || label >= classes {
		panic(fmt.Sprintf("nn: label %d out of range for %d classes", label, classes))
	}
}

// SoftmaxFloats is Softmax on plain floats, for inference.
func SoftmaxFloats(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	out := make([]float64, len(logits))
	maxVal := floats.Max(logits)
	for i, l := range logits {
		out[i] = math.Exp(l - maxVal)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// Argmax returns the index of the largest value of xs, by data.
func Argmax(xs []autograd.Value) int {
	best := 0
	for i, x := range xs {
		if x.Data() > xs[best].Data() {
			best = i
		}
	}
	return best
}
