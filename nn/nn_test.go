package nn

import (
	"bytes"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"micrograd-explorer/autograd"
)

func leaves(g *autograd.Graph, xs ...float64) []autograd.Value {
	out := make([]autograd.Value, len(xs))
	for i, x := range xs {
		out[i] = g.NewValue(x)
	}
	return out
}

func TestLinearForward(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	// W = [[0 1 2] [3 4 5]] (row = output unit)
	l := NewLinear(g, 3, 2, func(row, col int) float64 { return float64(row*3 + col) })
	y := l.Forward(leaves(g, 1, 2, 3))
	if len(y) != 2 {
		t.Fatalf("got %d outputs, want 2", len(y))
	}
	if y[0].Data() != 8 || y[1].Data() != 26 {
		t.Errorf("y = [%g %g], want [8 26]", y[0].Data(), y[1].Data())
	}
	if n := len(l.Parameters()); n != 6 {
		t.Errorf("got %d parameters, want 6", n)
	}
}

func TestLinearConstantInit(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	l := NewLinear(g, 4, 3, Constant(1))
	for i, p := range l.Parameters() {
		if p.Data() != 1 || !p.IsLeaf() {
			t.Fatalf("param %d = %v, want leaf with value 1", i, p)
		}
	}
	y := l.Forward(leaves(g, 0.25, 0.5, 0.75, 1))
	for i, yi := range y {
		if yi.Data() != 2.5 {
			t.Errorf("y[%d] = %g, want 2.5", i, yi.Data())
		}
	}
}

func TestLinearShapeMismatchPanics(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	l := NewLinear(g, 3, 2, Constant(1))
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for wrong input length")
		}
		if msg, _ := r.(string); !strings.Contains(msg, "expects 3 inputs") {
			t.Errorf("panic = %v", r)
		}
	}()
	l.Forward(leaves(g, 1, 2))
}

func TestLinearGradients(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	l := NewLinear(g, 2, 2, func(row, col int) float64 { return float64(row + 2*col + 1) })
	x := leaves(g, 0.5, -2)
	y := l.Forward(x)
	y[0].Add(y[1]).Backward()

	// d(sum y)/dw[row,col] = x[col]; d(sum y)/dx[col] = sum_row w[row,col].
	params := l.Parameters()
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			if got := params[row*2+col].Grad(); got != x[col].Data() {
				t.Errorf("grad w[%d,%d] = %g, want %g", row, col, got, x[col].Data())
			}
		}
	}
	w := l.Weights()
	for col := 0; col < 2; col++ {
		if want := w[col] + w[2+col]; x[col].Grad() != want {
			t.Errorf("grad x[%d] = %g, want %g", col, x[col].Grad(), want)
		}
	}
}

func TestInferMatchesForward(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	m := NewMLP(g, []int{5, 4, 3}, func(fanIn, _ int) Initializer {
		return Kaiming(rand.New(rand.NewSource(7)), fanIn)
	})
	features := []float64{0.1, 0.9, 0.4, 0, 0.7}

	probs := Softmax(m.Forward(m.Inputs(features)))
	predicted := m.Predict(features)
	for i := range probs {
		if math.Abs(probs[i].Data()-predicted[i]) > 1e-12 {
			t.Errorf("class %d: graph %g, inference %g", i, probs[i].Data(), predicted[i])
		}
	}
	label, _ := m.Classify(features)
	if label != Argmax(probs) {
		t.Errorf("Classify = %d, graph argmax = %d", label, Argmax(probs))
	}
}

func TestFreezeIsSnapshot(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	m := NewMLP(g, []int{3, 4, 2}, func(fanIn, _ int) Initializer {
		return Kaiming(rand.New(rand.NewSource(3)), fanIn)
	})
	features := []float64{0.2, 0.5, 0.9}
	frozen := m.Freeze()
	before := frozen.Predict(features)
	if !floats.EqualApprox(before, m.Predict(features), 1e-15) {
		t.Fatalf("frozen %v, live %v", before, m.Predict(features))
	}

	for _, p := range m.Parameters() {
		p.AccumulateGrad(-0.3)
		p.Step(1)
	}
	if !floats.Equal(frozen.Predict(features), before) {
		t.Error("frozen weights followed a parameter update")
	}
	if floats.Equal(m.Predict(features), before) {
		t.Error("live prediction ignored a parameter update")
	}
}

func TestSoftmax(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	probs := Softmax(leaves(g, 1000, 1001, 999))
	sum := 0.0
	for _, p := range probs {
		if math.IsNaN(p.Data()) {
			t.Fatal("softmax overflowed")
		}
		sum += p.Data()
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("probabilities sum to %g", sum)
	}
	if Argmax(probs) != 1 {
		t.Errorf("argmax = %d, want 1", Argmax(probs))
	}
	if !floats.EqualApprox(SoftmaxFloats([]float64{1000, 1001, 999}), []float64{probs[0].Data(), probs[1].Data(), probs[2].Data()}, 1e-12) {
		t.Error("SoftmaxFloats disagrees with Softmax")
	}
}

func TestCrossEntropyGradient(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	logits := leaves(g, 0.5, -1, 2)
	probs := Softmax(logits)
	CrossEntropy(probs, 0).Backward()

	// d(-ln softmax_k)/d logit_i = p_i - [i == k]
	for i, l := range logits {
		want := probs[i].Data()
		if i == 0 {
			want--
		}
		if math.Abs(l.Grad()-want) > 1e-12 {
			t.Errorf("grad logit %d = %g, want %g", i, l.Grad(), want)
		}
	}
}

func TestMSEMatchesFiniteDifferences(t *testing.T) {
	t.Parallel()
	x := []float64{0.3, -0.2, 1.4, 0.05}
	const label = 2
	loss := func(x []float64) float64 {
		g := autograd.NewGraph()
		return MSE(Softmax(leaves(g, x...)), label).Data()
	}

	g := autograd.NewGraph()
	logits := leaves(g, x...)
	MSE(Softmax(logits), label).Backward()
	numeric := fd.Gradient(nil, loss, x, &fd.Settings{Formula: fd.Central, Step: 1e-6})
	for i, l := range logits {
		if math.Abs(l.Grad()-numeric[i]) > 1e-7 {
			t.Errorf("grad logit %d = %g, finite difference %g", i, l.Grad(), numeric[i])
		}
	}
}

func TestLossLookup(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"mse", "xent"} {
		if _, ok := Loss(name); !ok {
			t.Errorf("Loss(%q) not found", name)
		}
	}
	if _, ok := Loss("hinge"); ok {
		t.Error("unknown loss accepted")
	}
}

func TestReplicateIsIndependent(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	m := NewMLP(g, []int{2, 2}, func(int, int) Initializer { return Constant(0.5) })
	r := m.Replicate(autograd.NewGraph())

	out := r.Forward(r.Inputs([]float64{1, 1}))
	out[0].Backward()
	for _, p := range r.Parameters() {
		p.Step(1)
	}
	for i, p := range m.Parameters() {
		if p.Data() != 0.5 || p.Grad() != 0 {
			t.Errorf("master param %d changed: %v", i, p)
		}
	}
	if r.Parameters()[0].Data() == 0.5 {
		t.Error("replica did not train")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	g := autograd.NewGraph()
	m := NewMLP(g, []int{3, 2, 2}, func(fanIn, _ int) Initializer {
		return Kaiming(rand.New(rand.NewSource(1)), fanIn)
	})
	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveFile(path, m); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	loaded, err := LoadFile(path, autograd.NewGraph())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !floats.Equal(intsToFloats(loaded.Dims()), intsToFloats(m.Dims())) {
		t.Fatalf("dims = %v, want %v", loaded.Dims(), m.Dims())
	}
	features := []float64{0.2, 0.4, 0.6}
	if !floats.EqualApprox(loaded.Predict(features), m.Predict(features), 1e-15) {
		t.Error("loaded model predicts differently")
	}
}

func TestCheckpointRejectsBadShapes(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"empty":      `{"layers":[]}`,
		"short":      `{"layers":[{"in_dim":2,"out_dim":2,"weights":[1,2,3]}]}`,
		"mismatched": `{"layers":[{"in_dim":1,"out_dim":2,"weights":[1,2]},{"in_dim":3,"out_dim":1,"weights":[1,2,3]}]}`,
		"garbage":    `{"layers":`,
	}
	for name, body := range cases {
		if _, err := ReadCheckpoint(bytes.NewBufferString(body), autograd.NewGraph()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func intsToFloats(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
