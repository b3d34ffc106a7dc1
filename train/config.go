package train

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"micrograd-explorer/mnist"
	"micrograd-explorer/nn"
)

// Config contains every knob of a training run.
//
// - input_dim / hidden_dims / classes: layer sizes of the classifier
// - learning_rate: step size; min_learning_rate is the floor of the cosine schedule
// - batch_size: samples whose gradients are summed before one Step
// - steps: number of samples processed
// - workers: >1 splits each batch across replica graphs
type Config struct {
	InputDim        int     `json:"input_dim"`
	HiddenDims      []int   `json:"hidden_dims"`
	Classes         int     `json:"classes"`
	LearningRate    float64 `json:"learning_rate"`
	MinLearningRate float64 `json:"min_learning_rate"`
	Schedule        string  `json:"schedule"`
	WarmupSteps     int     `json:"warmup_steps"`
	BatchSize       int     `json:"batch_size"`
	Steps           int     `json:"steps"`
	LogEvery        int     `json:"log_every"`
	Init            string  `json:"init"`
	InitValue       float64 `json:"init_value"`
	Loss            string  `json:"loss"`
	Workers         int     `json:"workers"`
	Seed            int64   `json:"seed"`
	DataDir         string  `json:"data_dir"`
	Fetch           bool    `json:"fetch"`
	BaseURL         string  `json:"base_url"`
	EvalSamples     int     `json:"eval_samples"`
	Checkpoint      string  `json:"checkpoint"`
}

// DefaultConfig returns the settings of the reference MNIST run:
// 784 -> 256 -> 10, plain SGD at 0.01, a step every 16 samples.
func DefaultConfig() Config {
	return Config{
		InputDim:        28 * 28,
		HiddenDims:      []int{256},
		Classes:         mnist.Classes,
		LearningRate:    0.01,
		MinLearningRate: 0.001,
		Schedule:        "constant",
		BatchSize:       16,
		Steps:           10000,
		LogEvery:        16,
		Init:            "kaiming",
		InitValue:       1,
		Loss:            "mse",
		Workers:         1,
		Seed:            1,
		DataDir:         "data",
		BaseURL:         mnist.DefaultBaseURL,
		EvalSamples:     1000,
	}
}

// LoadConfig reads a JSON file over the defaults. Unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Dims returns the layer sizes, input first.
func (c Config) Dims() []int {
	dims := append([]int{c.InputDim}, c.HiddenDims...)
	return append(dims, c.Classes)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.InputDim <= 0:
		return errors.Errorf("input_dim must be positive, got %d", c.InputDim)
	case c.Classes < 2:
		return errors.Errorf("classes must be at least 2, got %d", c.Classes)
	case c.LearningRate <= 0:
		return errors.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.Steps < 0:
		return errors.Errorf("steps must not be negative, got %d", c.Steps)
	case c.Workers <= 0:
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	case c.WarmupSteps < 0:
		return errors.Errorf("warmup_steps must not be negative, got %d", c.WarmupSteps)
	}
	for _, h := range c.HiddenDims {
		if h <= 0 {
			return errors.Errorf("hidden_dims must be positive, got %v", c.HiddenDims)
		}
	}
	if _, ok := schedules[c.Schedule]; !ok {
		return errors.Errorf("unknown schedule %q", c.Schedule)
	}
	if c.Init != "constant" && c.Init != "kaiming" {
		return errors.Errorf("unknown init %q", c.Init)
	}
	if _, ok := nn.Loss(c.Loss); !ok {
		return errors.Errorf("unknown loss %q", c.Loss)
	}
	return nil
}
