package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	"DeskCast/internal/services/features"
	"DeskCast/internal/services/gbrt"
	applogger "DeskCast/pkg/logger"
)

// GroupResult is what the engine did with one group.
type GroupResult struct {
	Group    models.GroupKey
	Kind     models.OutcomeKind
	Err      error
	Rows     int     // densified length
	MAPE     float64 // fraction
	Params   gbrt.Params
	Forecast []models.ForecastPoint

	evaluated bool
}

// Result is the outcome of one engine run.
type Result struct {
	Rows    []models.OutputRow
	Metrics []models.GroupMetric
	Groups  []GroupResult
}

// Count returns how many groups ended with the given kind.
func (r Result) Count(kind models.OutcomeKind) int {
	n := 0
	for _, g := range r.Groups {
		if g.Kind == kind {
			n++
		}
	}
	return n
}

// MeanMAPE averages the metric rows, in percent. Zero when there are none.
func (r Result) MeanMAPE() float64 {
	if len(r.Metrics) == 0 {
		return 0
	}
	v := make([]float64, len(r.Metrics))
	for i, m := range r.Metrics {
		v[i] = m.MAPE
	}
	return stat.Mean(v, nil)
}

// Outcomes converts the per-group results for reporting.
func (r Result) Outcomes() []models.GroupOutcome {
	out := make([]models.GroupOutcome, len(r.Groups))
	for i, g := range r.Groups {
		o := models.GroupOutcome{Group: g.Group, Kind: g.Kind, Rows: g.Rows}
		if g.Err != nil {
			o.Reason = g.Err.Error()
		}
		if g.evaluated {
			o.MAPE = g.MAPE * 100
		}
		out[i] = o
	}
	return out
}

// AssemblerOption configures Assembler.
type AssemblerOption func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) AssemblerOption {
	return func(a *Assembler) {
		if l != nil {
			a.l = l
		}
	}
}

// WithMetrics records per-group outcomes and accuracy.
func WithMetrics(m domrepo.Metrics) AssemblerOption {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// Assembler runs the per-group pipeline and builds the unified output table.
type Assembler struct {
	cfg     Config
	l       *applogger.Logger
	metrics domrepo.Metrics
}

func NewAssembler(cfg Config, opts ...AssemblerOption) *Assembler {
	a := &Assembler{cfg: cfg, l: applogger.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the engine configuration.
func (a *Assembler) Config() Config { return a.cfg }

// Run densifies facts, models every eligible group and assembles history and
// forecast rows. Groups are processed independently; a failing group is recorded
// and the run goes on. ErrNoGroupsModeled is returned, together with the partial
// result, when no group produced a forecast.
func (a *Assembler) Run(facts []models.DailyFact) (Result, error) {
	series, err := features.Densify(facts)
	if err != nil {
		return Result{}, fmt.Errorf("densify: %w", err)
	}
	keys, byGroup := features.SplitByGroup(series)

	var res Result
	for _, k := range keys {
		gr := a.runGroup(k, byGroup[k])
		res.Groups = append(res.Groups, gr)
		a.record(gr)

		switch {
		case gr.Kind == models.OutcomeModeled:
			res.Metrics = append(res.Metrics, a.metric(k, gr.MAPE*100))
		case errors.Is(gr.Err, ErrInsufficientFeatures):
			res.Metrics = append(res.Metrics, a.metric(k, 100))
		}
	}

	if res.Count(models.OutcomeModeled) == 0 {
		return res, ErrNoGroupsModeled
	}
	res.Rows = a.assemble(facts, res.Groups)
	return res, nil
}

func (a *Assembler) runGroup(k models.GroupKey, points []models.SeriesPoint) (gr GroupResult) {
	gr = GroupResult{Group: k, Rows: len(points)}
	defer func() {
		if r := recover(); r != nil {
			gr.Kind = models.OutcomeFailed
			gr.Err = fmt.Errorf("panic: %v", r)
			gr.Forecast = nil
			a.l.Error("forecast group panicked", applogger.String("group", k.String()), applogger.Any("panic", r))
		}
	}()

	if len(points) < a.cfg.ColdStartThreshold {
		gr.Kind = models.OutcomeSkipped
		gr.Err = ErrColdStart
		a.l.Warn("forecast group skipped", applogger.String("group", k.String()), applogger.Int("rows", len(points)), applogger.Error(ErrColdStart))
		return gr
	}

	rows := features.BuildGroup(points)
	sr, err := Search(rows, a.cfg)
	if err != nil {
		if errors.Is(err, ErrInsufficientFeatures) {
			gr.Kind = models.OutcomeSkipped
			gr.MAPE = sr.Error
			gr.evaluated = true
			a.l.Warn("forecast group skipped", applogger.String("group", k.String()), applogger.Int("feature_rows", len(rows)), applogger.Error(err))
		} else {
			gr.Kind = models.OutcomeFailed
			a.l.Error("forecast group search failed", applogger.String("group", k.String()), applogger.Error(err))
		}
		gr.Err = err
		return gr
	}

	fc, err := Project(sr.Model, rows[len(rows)-1], a.cfg.MaxHorizon(), a.cfg)
	if err != nil {
		gr.Kind = models.OutcomeFailed
		gr.Err = err
		a.l.Error("forecast group projection failed", applogger.String("group", k.String()), applogger.Error(err))
		return gr
	}

	gr.Kind = models.OutcomeModeled
	gr.MAPE = sr.Error
	gr.evaluated = true
	gr.Params = sr.Params
	gr.Forecast = fc
	a.l.Info("forecast group modeled",
		applogger.String("group", k.String()),
		applogger.String("params", sr.Params.String()),
		applogger.Float64("mape_pct", sr.Error*100),
		applogger.Int("grid_points", sr.Evaluated),
	)
	return gr
}

func (a *Assembler) record(gr GroupResult) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordGroupOutcome(gr.Kind)
	if gr.Kind == models.OutcomeModeled {
		a.metrics.RecordGroupMAPE(gr.Group.Category, gr.MAPE*100)
	}
}

func (a *Assembler) metric(k models.GroupKey, pct float64) models.GroupMetric {
	status := models.StatusFail
	if pct <= a.cfg.AccuracyTarget {
		status = models.StatusPass
	}
	return models.GroupMetric{
		Group:   k,
		ModelID: a.cfg.ModelID,
		Horizon: a.cfg.MaxHorizon(),
		MAPE:    pct,
		Status:  status,
	}
}

// assemble lays out, per modeled group in key order, the observed history
// followed by the forecast rows of each horizon. Skipped and failed groups
// contribute no rows. TTR is then forward-filled down the whole table.
func (a *Assembler) assemble(facts []models.DailyFact, groups []GroupResult) []models.OutputRow {
	forecasts := make(map[models.GroupKey][]models.ForecastPoint)
	for _, g := range groups {
		if g.Kind == models.OutcomeModeled {
			forecasts[g.Group] = g.Forecast
		}
	}
	history := make(map[models.GroupKey][]models.DailyFact)
	for _, f := range facts {
		if _, ok := forecasts[f.Group]; ok {
			history[f.Group] = append(history[f.Group], f)
		}
	}

	keys := make([]models.GroupKey, 0, len(history))
	for k := range history {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	var out []models.OutputRow
	for _, k := range keys {
		hist := history[k]
		sort.SliceStable(hist, func(i, j int) bool { return hist[i].Date.Before(hist[j].Date) })
		for _, f := range hist {
			v := math.Min(f.Volume, a.cfg.SafetyCeiling)
			n := a.normalize(f.Volume)
			out = append(out, models.OutputRow{
				Date:        f.Date,
				Group:       k,
				VolumeReal:  &v,
				P50:         n,
				P90:         n,
				AvgTTRHours: f.AvgTTRHours,
			})
		}

		fc := forecasts[k]
		if len(fc) == 0 {
			continue
		}
		for _, h := range a.cfg.Horizons {
			for _, p := range Slice(fc, h) {
				out = append(out, models.OutputRow{
					Date:    p.Date,
					Group:   k,
					Horizon: h,
					P50:     a.normalize(p.P50),
					P90:     a.normalize(p.P90),
				})
			}
		}
	}

	forwardFillTTR(out)
	return out
}

// Slice returns the forecast points dated within h days of the first one.
func Slice(fc []models.ForecastPoint, h int) []models.ForecastPoint {
	if len(fc) == 0 {
		return nil
	}
	end := fc[0].Date.AddDate(0, 0, h-1)
	var out []models.ForecastPoint
	for _, p := range fc {
		if !p.Date.After(end) {
			out = append(out, p)
		}
	}
	return out
}

// normalize maps a volume to a reportable integer: missing values become 0, the
// value is clipped to [0, ceiling] and rounded half to even.
func (a *Assembler) normalize(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(0, math.Min(v, a.cfg.SafetyCeiling))
	return int(math.RoundToEven(v))
}

func forwardFillTTR(rows []models.OutputRow) {
	var last *float64
	for i := range rows {
		if rows[i].AvgTTRHours != nil {
			v := *rows[i].AvgTTRHours
			last = &v
			continue
		}
		if last != nil {
			v := *last
			rows[i].AvgTTRHours = &v
		}
	}
}
