package forecast

import (
	"DeskCast/internal/services/features"
	"DeskCast/internal/services/gbrt"
)

// Grid is the ordered hyperparameter search space. Combinations enumerate
// learning rate outermost and depth innermost.
type Grid struct {
	LearningRates []float64
	TreeCounts    []int
	MaxDepths     []int
}

// Combinations returns every grid point in search order.
func (g Grid) Combinations(lambda float64) []gbrt.Params {
	out := make([]gbrt.Params, 0, len(g.LearningRates)*len(g.TreeCounts)*len(g.MaxDepths))
	for _, lr := range g.LearningRates {
		for _, n := range g.TreeCounts {
			for _, d := range g.MaxDepths {
				out = append(out, gbrt.Params{LearningRate: lr, NumTrees: n, MaxDepth: d, Lambda: lambda, MinChildWeight: 1})
			}
		}
	}
	return out
}

// Config holds every tunable of the forecasting engine.
type Config struct {
	ModelID            string
	Horizons           []int
	EvalWindow         int
	ColdStartThreshold int
	SafetyCeiling      float64
	P90Multiplier      float64
	AccuracyTarget     float64 // percent
	Lambda             float64
	Grid               Grid
	FallbackParams     gbrt.Params
	Holidays           features.Holidays
}

// Option configures Config.
type Option func(*Config)

// NewConfig returns the production defaults with opts applied.
func NewConfig(opts ...Option) Config {
	c := Config{
		ModelID:            "gbrt_grid_v1",
		Horizons:           []int{7, 14, 30},
		EvalWindow:         30,
		ColdStartThreshold: 30,
		SafetyCeiling:      5000,
		P90Multiplier:      1.2,
		AccuracyTarget:     15,
		Lambda:             1,
		Grid: Grid{
			LearningRates: []float64{0.05, 0.1, 0.2},
			TreeCounts:    []int{100, 300, 500},
			MaxDepths:     []int{3, 5},
		},
		FallbackParams: gbrt.DefaultParams(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// MaxHorizon is the single forecast length every group is projected over.
func (c Config) MaxHorizon() int {
	m := 0
	for _, h := range c.Horizons {
		if h > m {
			m = h
		}
	}
	return m
}

// WithModelID sets the model identifier written to the metrics artifact.
func WithModelID(id string) Option {
	return func(c *Config) {
		if id != "" {
			c.ModelID = id
		}
	}
}

// WithHorizons sets the reported horizons in days.
func WithHorizons(h ...int) Option {
	return func(c *Config) {
		if len(h) > 0 {
			c.Horizons = h
		}
	}
}

// WithEvalWindow sets the held-out tail length used to score grid points.
func WithEvalWindow(n int) Option {
	return func(c *Config) {
		c.EvalWindow = n
	}
}

// WithColdStartThreshold sets the minimum densified length for a group to be modeled.
func WithColdStartThreshold(n int) Option {
	return func(c *Config) {
		c.ColdStartThreshold = n
	}
}

// WithSafetyCeiling sets the clip applied to every output volume.
func WithSafetyCeiling(v float64) Option {
	return func(c *Config) {
		c.SafetyCeiling = v
	}
}

// WithP90Multiplier sets the fixed P90/P50 ratio.
func WithP90Multiplier(m float64) Option {
	return func(c *Config) {
		c.P90Multiplier = m
	}
}

// WithAccuracyTarget sets the MAPE percentage a group must not exceed to pass.
func WithAccuracyTarget(pct float64) Option {
	return func(c *Config) {
		c.AccuracyTarget = pct
	}
}

// WithGrid replaces the search space. Lambda applies to every grid point.
func WithGrid(g Grid, lambda float64) Option {
	return func(c *Config) {
		c.Grid = g
		c.Lambda = lambda
		c.FallbackParams.Lambda = lambda
	}
}

// WithHolidays sets the calendar used for future holiday flags.
func WithHolidays(h features.Holidays) Option {
	return func(c *Config) {
		c.Holidays = h
	}
}
