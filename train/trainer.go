// Package train drives the classifier: per-sample forward and backward
// passes, gradient accumulation over a batch, a plain SGD step and
// progress reporting.
package train

import (
	"context"
	"io"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/pkg/errors"

	"micrograd-explorer/autograd"
	"micrograd-explorer/nn"
)

// ErrDiverged is returned when a loss turns NaN or infinite.
var ErrDiverged = errors.New("training diverged")

// Dataset is anything that serves labelled feature vectors. Sample may be
// called from several goroutines when Config.Workers > 1.
type Dataset interface {
	Len() int
	Sample(i int) ([]float64, int)
}

// Summary describes the samples processed by one Run call.
type Summary struct {
	Step     int     `json:"step"`
	Updates  int     `json:"updates"`
	Samples  int     `json:"samples"`
	Loss     float64 `json:"loss"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
	LR       float64 `json:"lr"`
}

// Trainer owns a model and walks a dataset in a seeded random order.
// It is not safe for concurrent use.
type Trainer struct {
	Config Config
	Model  *nn.MLP
	Logger *log.Logger

	data  Dataset
	loss  nn.LossFunc
	sched Schedule
	rng   *rand.Rand
	order []int
	pos   int

	step    int // samples processed
	updates int // optimizer steps taken
	pending int // samples accumulated since the last step
	lr      float64

	window struct {
		loss    float64
		correct int
		seen    int
	}
}

// New builds a fresh model from cfg. When cfg.Checkpoint names an existing
// file the weights are loaded from it instead.
func New(cfg Config, data Dataset, logger *log.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	g := autograd.NewGraph()

	var model *nn.MLP
	if cfg.Checkpoint != "" {
		if _, err := os.Stat(cfg.Checkpoint); err == nil {
			m, err := nn.LoadFile(cfg.Checkpoint, g)
			if err != nil {
				return nil, err
			}
			if !sameDims(m.Dims(), cfg.Dims()) {
				return nil, errors.Errorf("checkpoint %s has layers %v, config wants %v", cfg.Checkpoint, m.Dims(), cfg.Dims())
			}
			model = m
		}
	}
	if model == nil {
		model = nn.NewMLP(g, cfg.Dims(), func(fanIn, _ int) nn.Initializer {
			if cfg.Init == "constant" {
				return nn.Constant(cfg.InitValue)
			}
			return nn.Kaiming(rng, fanIn)
		})
	}
	return NewWithModel(cfg, model, data, logger)
}

// NewWithModel trains an existing model. The model's parameters must be
// the oldest nodes of its graph.
func NewWithModel(cfg Config, model *nn.MLP, data Dataset, logger *log.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data == nil || data.Len() == 0 {
		return nil, errors.New("training set is empty")
	}
	if features, _ := data.Sample(0); len(features) != cfg.InputDim {
		return nil, errors.Errorf("samples have %d features, input_dim is %d", len(features), cfg.InputDim)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	loss, _ := nn.Loss(cfg.Loss)
	t := &Trainer{
		Config: cfg,
		Model:  model,
		Logger: logger,
		data:   data,
		loss:   loss,
		sched:  schedules[cfg.Schedule],
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		lr:     cfg.LearningRate,
	}
	logger.Printf("model %v: %d parameters, %d training samples", model.Dims(), model.NumParams(), data.Len())
	return t, nil
}

func sameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Step returns the number of samples processed so far.
func (t *Trainer) Step() int { return t.step }

// Updates returns the number of optimizer steps taken so far.
func (t *Trainer) Updates() int { return t.updates }

// totalUpdates is the length of the schedule in optimizer steps.
func (t *Trainer) totalUpdates() int {
	return (t.Config.Steps + t.Config.BatchSize - 1) / t.Config.BatchSize
}

// next returns the index of the next sample, reshuffling at each epoch.
func (t *Trainer) next() int {
	if t.pos == len(t.order) {
		t.order = t.rng.Perm(t.data.Len())
		t.pos = 0
	}
	i := t.order[t.pos]
	t.pos++
	return i
}

// sampleResult is the outcome of one forward and backward pass.
type sampleResult struct {
	loss    float64
	correct bool
}

// learn runs one sample through m and leaves the gradients of the loss on
// m's parameters. Every node it creates is released before it returns.
func (t *Trainer) learn(m *nn.MLP, i int) (sampleResult, error) {
	features, label := t.data.Sample(i)
	if label < 0 || label >= t.Config.Classes {
		return sampleResult{}, errors.Errorf("sample %d: label %d out of range", i, label)
	}
	g := m.Graph
	mark := g.Mark()
	defer g.Release(mark)

	probs := nn.Softmax(m.Forward(m.Inputs(features)))
	loss := t.loss(probs, label)
	l := loss.Data()
	if math.IsNaN(l) || math.IsInf(l, 0) {
		return sampleResult{}, errors.Wrapf(ErrDiverged, "sample %d: loss %g", i, l)
	}
	loss.Backward()
	return sampleResult{loss: l, correct: nn.Argmax(probs) == label}, nil
}

// Run processes n samples. Gradients are summed over Config.BatchSize
// samples, then every parameter takes one step at the scheduled rate and
// its gradient is reset. A partial batch carries over to the next call.
func (t *Trainer) Run(ctx context.Context, n int) (Summary, error) {
	sum := Summary{}
	for n > 0 {
		if err := ctx.Err(); err != nil {
			return t.finish(sum), err
		}
		k := t.Config.BatchSize - t.pending
		if k > n {
			k = n
		}
		idx := make([]int, k)
		for j := range idx {
			idx[j] = t.next()
		}

		var (
			results []sampleResult
			err     error
		)
		if t.Config.Workers > 1 && k > 1 {
			results, err = t.accumulateParallel(ctx, idx)
		} else {
			results, err = t.accumulate(ctx, idx)
		}
		for _, r := range results {
			t.record(&sum, r)
		}
		t.pending += len(results)
		n -= len(results)
		if err != nil {
			return t.finish(sum), err
		}
		if t.pending == t.Config.BatchSize {
			t.update()
		}
	}
	return t.finish(sum), nil
}

func (t *Trainer) accumulate(ctx context.Context, idx []int) ([]sampleResult, error) {
	results := make([]sampleResult, 0, len(idx))
	for _, i := range idx {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := t.learn(t.Model, i)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (t *Trainer) record(sum *Summary, r sampleResult) {
	t.step++
	sum.Samples++
	sum.Loss += r.loss
	t.window.loss += r.loss
	t.window.seen++
	if r.correct {
		sum.Correct++
		t.window.correct++
	}
	if t.Config.LogEvery > 0 && t.window.seen >= t.Config.LogEvery {
		t.Logger.Printf("[ %d / %d ]:  Loss: %.6f  Acc: %d / %d  LR: %g",
			t.step, t.data.Len(), t.window.loss/float64(t.window.seen), t.window.correct, t.window.seen, t.lr)
		t.window.loss, t.window.correct, t.window.seen = 0, 0, 0
	}
}

func (t *Trainer) update() {
	t.updates++
	t.lr = t.sched(t.Config, t.updates, t.totalUpdates())
	for _, p := range t.Model.Parameters() {
		p.Step(t.lr)
	}
	t.pending = 0
}

func (t *Trainer) finish(sum Summary) Summary {
	sum.Step = t.step
	sum.Updates = t.updates
	sum.LR = t.lr
	if sum.Samples > 0 {
		sum.Loss /= float64(sum.Samples)
		sum.Accuracy = float64(sum.Correct) / float64(sum.Samples)
	}
	return sum
}

// Evaluate returns the accuracy of the current model on the first n samples
// of ds (all of them when n <= 0). It does not touch the graph.
func (t *Trainer) Evaluate(ds Dataset, n int) (float64, int) {
	return Evaluate(t.Model, ds, n)
}

// Evaluate scores m on the first n samples of ds.
func Evaluate(m *nn.MLP, ds Dataset, n int) (float64, int) {
	if n <= 0 || n > ds.Len() {
		n = ds.Len()
	}
	if n == 0 {
		return 0, 0
	}
	inf := m.Freeze()
	correct := 0
	for i := 0; i < n; i++ {
		features, label := ds.Sample(i)
		if c, _ := inf.Classify(features); c == label {
			correct++
		}
	}
	return float64(correct) / float64(n), n
}

// Save writes the model to Config.Checkpoint, if set.
func (t *Trainer) Save() error {
	if t.Config.Checkpoint == "" {
		return nil
	}
	if err := nn.SaveFile(t.Config.Checkpoint, t.Model); err != nil {
		return err
	}
	t.Logger.Printf("checkpoint written to %s", t.Config.Checkpoint)
	return nil
}
