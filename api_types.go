package main

import "micrograd-explorer/train"

// InitRequest is the payload for /api/init.
//
// It covers the model and optimizer settings only. Data location, downloads
// and checkpoint paths stay as the server was started with; a body naming
// them is rejected as unknown fields. Omitted fields keep the base value.
type InitRequest struct {
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
	EvalSamples     int     `json:"eval_samples"`
}

// newInitRequest prefills a request with the tunable fields of base.
func newInitRequest(base train.Config) InitRequest {
	return InitRequest{
		InputDim:        base.InputDim,
		HiddenDims:      append([]int(nil), base.HiddenDims...),
		Classes:         base.Classes,
		LearningRate:    base.LearningRate,
		MinLearningRate: base.MinLearningRate,
		Schedule:        base.Schedule,
		WarmupSteps:     base.WarmupSteps,
		BatchSize:       base.BatchSize,
		Steps:           base.Steps,
		LogEvery:        base.LogEvery,
		Init:            base.Init,
		InitValue:       base.InitValue,
		Loss:            base.Loss,
		Workers:         base.Workers,
		Seed:            base.Seed,
		EvalSamples:     base.EvalSamples,
	}
}

// apply returns base with the request's fields copied over it.
func (r InitRequest) apply(base train.Config) train.Config {
	cfg := base
	cfg.InputDim = r.InputDim
	cfg.HiddenDims = r.HiddenDims
	cfg.Classes = r.Classes
	cfg.LearningRate = r.LearningRate
	cfg.MinLearningRate = r.MinLearningRate
	cfg.Schedule = r.Schedule
	cfg.WarmupSteps = r.WarmupSteps
	cfg.BatchSize = r.BatchSize
	cfg.Steps = r.Steps
	cfg.LogEvery = r.LogEvery
	cfg.Init = r.Init
	cfg.InitValue = r.InitValue
	cfg.Loss = r.Loss
	cfg.Workers = r.Workers
	cfg.Seed = r.Seed
	cfg.EvalSamples = r.EvalSamples
	return cfg
}

// InitResponse describes the freshly built classifier.
type InitResponse struct {
	Status       string `json:"status"`
	Dims         []int  `json:"dims"`
	Params       int    `json:"params"`
	TrainSamples int    `json:"train_samples"`
	TestSamples  int    `json:"test_samples"`
}

// TrainRequest controls how much work /api/train performs in one call.
//
// Steps counts samples, not optimizer steps. When omitted one batch is run.
type TrainRequest struct {
	Steps int `json:"steps"`
}

// TrainResponse reports the samples processed by one call.
type TrainResponse = train.Summary

// EvaluateRequest limits evaluation to the first Samples test examples.
// Zero means the configured eval_samples.
type EvaluateRequest struct {
	Samples int `json:"samples"`
}

// EvaluateResponse is returned by /api/evaluate.
type EvaluateResponse struct {
	Step     int     `json:"step"`
	Samples  int     `json:"samples"`
	Accuracy float64 `json:"accuracy"`
}

// PredictRequest carries one image.
//
// Features are already normalized to [0, 1]. Pixels are raw 0..255
// intensities and are normalized by the server. Exactly one must be set.
type PredictRequest struct {
	Features []float64 `json:"features,omitempty"`
	Pixels   []int     `json:"pixels,omitempty"`
}

// PredictResponse holds the most probable class and the full distribution.
type PredictResponse struct {
	Label int       `json:"label"`
	Probs []float64 `json:"probs"`
}
