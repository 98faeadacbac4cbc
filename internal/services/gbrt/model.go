// Package gbrt implements a deterministic gradient-boosted regression tree ensemble
// with squared-error loss, exact greedy splits and L2-regularized leaf weights.
package gbrt

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrEmptyTrainingSet = errors.New("gbrt: empty training set")
	ErrInvalidParams    = errors.New("gbrt: invalid params")
)

// Params are the boosting hyperparameters.
type Params struct {
	LearningRate   float64 `json:"learning_rate"`
	NumTrees       int     `json:"n_estimators"`
	MaxDepth       int     `json:"max_depth"`
	Lambda         float64 `json:"lambda"`
	MinChildWeight float64 `json:"min_child_weight"`
}

// DefaultParams mirrors the conventional boosting defaults for small tabular data.
func DefaultParams() Params {
	return Params{LearningRate: 0.1, NumTrees: 100, MaxDepth: 3, Lambda: 1, MinChildWeight: 1}
}

func (p Params) String() string {
	return fmt.Sprintf("lr=%g trees=%d depth=%d", p.LearningRate, p.NumTrees, p.MaxDepth)
}

func (p Params) validate() error {
	if p.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidParams, p.LearningRate)
	}
	if p.NumTrees <= 0 {
		return fmt.Errorf("%w: tree count must be positive, got %d", ErrInvalidParams, p.NumTrees)
	}
	if p.MaxDepth <= 0 {
		return fmt.Errorf("%w: max depth must be positive, got %d", ErrInvalidParams, p.MaxDepth)
	}
	if p.Lambda < 0 {
		return fmt.Errorf("%w: lambda must be non-negative, got %g", ErrInvalidParams, p.Lambda)
	}
	return nil
}

// Model is a fitted ensemble. It is immutable and safe for concurrent prediction.
type Model struct {
	params    Params
	base      float64
	trees     []*tree
	nFeatures int
}

// Fit trains an ensemble on rows x (all of equal width) and targets y.
func Fit(x [][]float64, y []float64, p Params) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("gbrt: %d rows but %d targets", len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return nil, fmt.Errorf("gbrt: rows have no features")
	}
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("gbrt: row %d has %d features, want %d", i, len(row), width)
		}
	}
	minChild := p.MinChildWeight
	if minChild <= 0 {
		minChild = 1
	}

	m := &Model{params: p, base: stat.Mean(y, nil), nFeatures: width, trees: make([]*tree, 0, p.NumTrees)}
	g := newGrower(x, p.Lambda, minChild)

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = m.base
	}
	grad := make([]float64, len(y))
	for t := 0; t < p.NumTrees; t++ {
		for i := range grad {
			grad[i] = pred[i] - y[i]
		}
		tr, leaf := g.grow(grad, p.MaxDepth)
		for i := range tr.nodes {
			if tr.nodes[i].leaf {
				tr.nodes[i].value *= p.LearningRate
			}
		}
		for i := range pred {
			pred[i] += p.LearningRate * leaf[i]
		}
		m.trees = append(m.trees, tr)
	}
	return m, nil
}

// Params returns the hyperparameters the model was fitted with.
func (m *Model) Params() Params { return m.params }

// Predict scores one row.
func (m *Model) Predict(x []float64) float64 {
	out := m.base
	for _, t := range m.trees {
		out += t.predict(x)
	}
	return out
}

// PredictBatch scores many rows. Rows of the wrong width are an error.
func (m *Model) PredictBatch(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != m.nFeatures {
			return nil, fmt.Errorf("gbrt: row %d has %d features, model expects %d", i, len(row), m.nFeatures)
		}
		out[i] = m.Predict(row)
	}
	return out, nil
}
