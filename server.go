package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"micrograd-explorer/train"
)

// DataLoader returns the training and test sets for a configuration.
type DataLoader func(ctx context.Context, cfg train.Config) (trainSet, testSet train.Dataset, err error)

// session is one initialized training run.
type session struct {
	mu      sync.Mutex
	trainer *train.Trainer
	test    train.Dataset
}

// Server owns HTTP handlers and the active training run.
type Server struct {
	base   train.Config
	load   DataLoader
	logger *log.Logger

	mu   sync.RWMutex
	sess *session
}

// NewServer creates an API server without an active run. base is the
// configuration /api/init requests are merged over; its data, fetch and
// checkpoint settings cannot be changed over HTTP.
func NewServer(base train.Config, load DataLoader, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{base: base, load: load, logger: logger}
}

// RegisterRoutes attaches all endpoints to the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/init", s.handleInit)
	mux.HandleFunc("POST /api/train", s.handleTrain)
	mux.HandleFunc("POST /api/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /api/predict", s.handlePredict)
}

// snapshot reads the current run with a shared lock.
func (s *Server) snapshot() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// setSession swaps the active run with an exclusive lock.
func (s *Server) setSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
}

// writeJSON is a helper to consistently send JSON responses.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeOptionalJSON decodes JSON when body is present.
// Empty bodies are treated as "use defaults" rather than errors.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	req := newInitRequest(s.base)
	if err := decodeOptionalJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg := req.apply(s.base)
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	trainSet, testSet, err := s.load(r.Context(), cfg)
	if err != nil {
		s.logger.Printf("init: %v", err)
		http.Error(w, errors.Wrap(err, "load data").Error(), http.StatusInternalServerError)
		return
	}
	trainer, err := train.New(cfg, trainSet, s.logger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.setSession(&session{trainer: trainer, test: testSet})

	resp := InitResponse{
		Status:       "initialized",
		Dims:         trainer.Model.Dims(),
		Params:       trainer.Model.NumParams(),
		TrainSamples: trainSet.Len(),
	}
	if testSet != nil {
		resp.TestSamples = testSet.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	sess := s.snapshot()
	if sess == nil {
		http.Error(w, "Model not initialized", http.StatusBadRequest)
		return
	}

	req := TrainRequest{}
	if err := decodeOptionalJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// One run at a time; training mutates every parameter.
	sess.mu.Lock()
	defer sess.mu.Unlock()

	steps := req.Steps
	if steps <= 0 {
		steps = sess.trainer.Config.BatchSize
	}
	resp, err := sess.trainer.Run(r.Context(), steps)
	switch {
	case errors.Cause(err) == train.ErrDiverged:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		s.logger.Printf("train: %v", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	sess := s.snapshot()
	if sess == nil {
		http.Error(w, "Model not initialized", http.StatusBadRequest)
		return
	}
	if sess.test == nil || sess.test.Len() == 0 {
		http.Error(w, "No test set loaded", http.StatusBadRequest)
		return
	}

	req := EvaluateRequest{}
	if err := decodeOptionalJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	n := req.Samples
	if n <= 0 {
		n = sess.trainer.Config.EvalSamples
	}
	acc, seen := sess.trainer.Evaluate(sess.test, n)
	writeJSON(w, http.StatusOK, EvaluateResponse{
		Step:     sess.trainer.Step(),
		Samples:  seen,
		Accuracy: acc,
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	sess := s.snapshot()
	if sess == nil {
		http.Error(w, "Model not initialized", http.StatusBadRequest)
		return
	}

	req := PredictRequest{}
	if err := decodeOptionalJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	features, err := req.features()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if want := sess.trainer.Config.InputDim; len(features) != want {
		http.Error(w, errors.Errorf("expected %d features, got %d", want, len(features)).Error(), http.StatusBadRequest)
		return
	}
	label, probs := sess.trainer.Model.Classify(features)
	writeJSON(w, http.StatusOK, PredictResponse{Label: label, Probs: probs})
}

// features normalizes whichever input form the request used.
func (p PredictRequest) features() ([]float64, error) {
	switch {
	case len(p.Features) > 0 && len(p.Pixels) > 0:
		return nil, errors.New("set either features or pixels, not both")
	case len(p.Features) > 0:
		return p.Features, nil
	case len(p.Pixels) > 0:
		out := make([]float64, len(p.Pixels))
		for i, px := range p.Pixels {
			if px < 0 || px > 255 {
				return nil, errors.Errorf("pixel %d out of range: %d", i, px)
			}
			out[i] = float64(px) / 255
		}
		return out, nil
	}
	return nil, errors.New("no features or pixels given")
}
