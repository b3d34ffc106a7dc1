package nn

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"micrograd-explorer/autograd"
)

// Checkpoint holds parameter values only; the graph is never persisted.
type Checkpoint struct {
	Layers []LayerWeights `json:"layers"`
}

// LayerWeights is one Linear layer, weights row-major.
type LayerWeights struct {
	InDim   int       `json:"in_dim"`
	OutDim  int       `json:"out_dim"`
	Weights []float64 `json:"weights"`
}

// Snapshot copies the current parameter values of m.
func (m *MLP) Snapshot() Checkpoint {
	var cp Checkpoint
	for _, l := range m.Layers {
		cp.Layers = append(cp.Layers, LayerWeights{InDim: l.InDim, OutDim: l.OutDim, Weights: l.Weights()})
	}
	return cp
}

// Build creates a model in g whose leaves start at the checkpointed values.
func (cp Checkpoint) Build(g *autograd.Graph) (*MLP, error) {
	if len(cp.Layers) == 0 {
		return nil, errors.New("checkpoint has no layers")
	}
	m := &MLP{Graph: g}
	for i, lw := range cp.Layers {
		if lw.InDim <= 0 || lw.OutDim <= 0 || len(lw.Weights) != lw.InDim*lw.OutDim {
			return nil, errors.Errorf("layer %d: %d weights for shape %dx%d", i, len(lw.Weights), lw.OutDim, lw.InDim)
		}
		if i > 0 && cp.Layers[i-1].OutDim != lw.InDim {
			return nil, errors.Errorf("layer %d: input %d does not match previous output %d", i, lw.InDim, cp.Layers[i-1].OutDim)
		}
		m.Layers = append(m.Layers, NewLinear(g, lw.InDim, lw.OutDim, FromSlice(lw.Weights, lw.InDim)))
	}
	return m, nil
}

// WriteCheckpoint encodes m's parameters as JSON.
func WriteCheckpoint(w io.Writer, m *MLP) error {
	return errors.Wrap(json.NewEncoder(w).Encode(m.Snapshot()), "encode checkpoint")
}

// ReadCheckpoint decodes a checkpoint and builds the model in g.
func ReadCheckpoint(r io.Reader, g *autograd.Graph) (*MLP, error) {
	var cp Checkpoint
	if err := json.NewDecoder(r).Decode(&cp); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	return cp.Build(g)
}

// SaveFile writes a checkpoint to path, replacing it atomically.
func SaveFile(path string, m *MLP) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	if err := WriteCheckpoint(f, m); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close checkpoint")
	}
	return errors.Wrap(os.Rename(tmp, path), "install checkpoint")
}

// LoadFile reads a checkpoint written by SaveFile.
func LoadFile(path string, g *autograd.Graph) (*MLP, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()
	m, err := ReadCheckpoint(f, g)
	return m, errors.Wrapf(err, "load %s", path)
}
