package forecast

import (
	"fmt"
	"math"

	"DeskCast/internal/domain/models"
	"DeskCast/internal/services/features"
	"DeskCast/internal/services/gbrt"
)

// SearchResult is the winning grid point, its held-out error and the model refit on all rows.
type SearchResult struct {
	Params    gbrt.Params
	Error     float64 // MAPE as a fraction
	Model     *gbrt.Model
	Evaluated int
}

// Search scores every grid point on the trailing evaluation window, keeps the first
// point with the strictly lowest MAPE and refits it on the full feature set.
// Feature sets not longer than the window yield ErrInsufficientFeatures with Error 1.
func Search(rows []models.FeatureRow, cfg Config) (SearchResult, error) {
	if len(rows) <= cfg.EvalWindow {
		return SearchResult{Error: 1}, ErrInsufficientFeatures
	}

	cut := len(rows) - cfg.EvalWindow
	xTrain, yTrain := features.Matrix(rows[:cut])
	xTest, yTest := features.Matrix(rows[cut:])

	best := math.Inf(1)
	var (
		bestParams gbrt.Params
		found      bool
		evaluated  int
	)
	for _, p := range cfg.Grid.Combinations(cfg.Lambda) {
		m, err := gbrt.Fit(xTrain, yTrain, p)
		if err != nil {
			return SearchResult{}, fmt.Errorf("fit %s: %w", p, err)
		}
		pred, err := m.PredictBatch(xTest)
		if err != nil {
			return SearchResult{}, fmt.Errorf("score %s: %w", p, err)
		}
		clampNonNegative(pred)
		evaluated++

		if e := MAPE(yTest, pred); e < best {
			best = e
			bestParams = p
			found = true
		}
	}
	if !found {
		bestParams = cfg.FallbackParams
		best = 1
	}

	x, y := features.Matrix(rows)
	final, err := gbrt.Fit(x, y, bestParams)
	if err != nil {
		return SearchResult{}, fmt.Errorf("refit %s: %w", bestParams, err)
	}
	return SearchResult{Params: bestParams, Error: best, Model: final, Evaluated: evaluated}, nil
}
