package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	"DeskCast/internal/services/forecast"
	applogger "DeskCast/pkg/logger"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("forecast run already in progress")

// Run statuses reported to metrics.
const (
	RunStatusOK         = "ok"
	RunStatusNoGroups   = "no_groups"
	RunStatusFailed     = "failed"
	RunStatusOnFallback = "fallback"
)

// Mirror receives a copy of both artifacts. A failing mirror never fails the run.
type Mirror interface {
	domrepo.ForecastWriter
	domrepo.MetricsWriter
}

// PipelineOption configures Pipeline.
type PipelineOption func(*Pipeline)

func WithMirror(m Mirror) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.mirrors = append(p.mirrors, m)
		}
	}
}

func WithLedger(l domrepo.RunLedger) PipelineOption {
	return func(p *Pipeline) { p.ledger = l }
}

func WithEventPublisher(e domrepo.EventPublisher) PipelineOption {
	return func(p *Pipeline) { p.events = e }
}

func WithPipelineMetrics(m domrepo.Metrics) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.l = l
		}
	}
}

// Pipeline runs one end-to-end forecast: load facts, model every group,
// persist the artifacts and report the run.
type Pipeline struct {
	source      domrepo.FactSource
	engine      *forecast.Assembler
	output      domrepo.ForecastWriter
	metricsOut  domrepo.MetricsWriter
	metricsPath string
	mirrors     []Mirror
	ledger      domrepo.RunLedger
	events      domrepo.EventPublisher
	metrics     domrepo.Metrics
	l           *applogger.Logger

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

func NewPipeline(
	source domrepo.FactSource,
	engine *forecast.Assembler,
	output domrepo.ForecastWriter,
	metricsOut domrepo.MetricsWriter,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		source:     source,
		engine:     engine,
		output:     output,
		metricsOut: metricsOut,
		metrics:    nopMetrics{},
		l:          applogger.Nop(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if pp, ok := metricsOut.(interface{ Path() string }); ok {
		p.metricsPath = pp.Path()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one pipeline run. The report is returned on every path, with
// Error set when the run did not complete; it is recorded in the ledger either way.
func (p *Pipeline) Run(ctx context.Context) (models.RunReport, error) {
	if !p.mu.TryLock() {
		return models.RunReport{}, ErrRunInProgress
	}
	defer p.mu.Unlock()

	cfg := p.engine.Config()
	report := models.RunReport{
		RunID:          p.newID(),
		StartedAt:      p.now().UTC(),
		AccuracyTarget: cfg.AccuracyTarget,
	}
	l := p.l.With(applogger.String("run_id", report.RunID))
	l.Info("forecast run started")

	status, err := p.run(ctx, l, &report)
	if err != nil {
		report.Error = err.Error()
	}
	report.FinishedAt = p.now().UTC()
	elapsed := report.FinishedAt.Sub(report.StartedAt)

	if p.ledger != nil {
		// Record even when the caller gave up on the run.
		if lerr := p.ledger.RecordRun(context.WithoutCancel(ctx), report); lerr != nil {
			p.metrics.RecordError("ledger")
			l.Error("record run failed", applogger.Error(lerr))
		}
	}
	p.metrics.RecordRun(status, elapsed.Seconds())

	if err != nil {
		l.Error("forecast run aborted",
			applogger.String("status", status),
			applogger.Int("modeled", report.Modeled),
			applogger.Int("skipped", report.Skipped),
			applogger.Int("failed", report.Failed),
			applogger.Duration("duration_ms", elapsed),
			applogger.Error(err),
		)
		return report, err
	}

	if p.events != nil {
		ev := models.RunEvent{
			RunID:      report.RunID,
			OutputPath: report.OutputPath,
			Rows:       report.Rows,
			MeanMAPE:   report.MeanMAPE,
			FinishedAt: report.FinishedAt,
		}
		if perr := p.events.PublishRunCompleted(ctx, ev, report.Outcomes); perr != nil {
			p.metrics.RecordError("publish_run")
			l.Warn("publish run event failed", applogger.Error(perr))
		}
	}

	l.Info("forecast run completed",
		applogger.String("status", status),
		applogger.String("output", report.OutputPath),
		applogger.Bool("fallback", report.UsedFallback),
		applogger.Int("rows", report.Rows),
		applogger.Int("modeled", report.Modeled),
		applogger.Int("skipped", report.Skipped),
		applogger.Int("failed", report.Failed),
		applogger.Float64("mean_mape_pct", report.MeanMAPE),
		applogger.Float64("accuracy_target_pct", report.AccuracyTarget),
		applogger.Bool("target_met", report.TargetMet),
		applogger.Duration("duration_ms", elapsed),
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, l *applogger.Logger, report *models.RunReport) (string, error) {
	start := time.Now()
	facts, err := p.source.LoadFacts(ctx)
	p.metrics.RecordLatency("load_facts", time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordError("load_facts")
		return RunStatusFailed, fmt.Errorf("load facts: %w", err)
	}
	l.Info("facts loaded", applogger.Int("facts", len(facts)))

	start = time.Now()
	res, err := p.engine.Run(facts)
	p.metrics.RecordLatency("model_groups", time.Since(start).Seconds())
	report.Modeled = res.Count(models.OutcomeModeled)
	report.Skipped = res.Count(models.OutcomeSkipped)
	report.Failed = res.Count(models.OutcomeFailed)
	report.Outcomes = res.Outcomes()
	report.MeanMAPE = res.MeanMAPE()
	if errors.Is(err, forecast.ErrNoGroupsModeled) {
		return RunStatusNoGroups, err
	}
	if err != nil {
		p.metrics.RecordError("model_groups")
		return RunStatusFailed, fmt.Errorf("model groups: %w", err)
	}
	report.TargetMet = report.MeanMAPE <= report.AccuracyTarget

	if err := ctx.Err(); err != nil {
		return RunStatusFailed, err
	}

	start = time.Now()
	wr, err := p.output.WriteForecast(ctx, res.Rows)
	p.metrics.RecordLatency("write_forecast", time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordError("write_forecast")
		return RunStatusFailed, fmt.Errorf("write forecast: %w", err)
	}
	report.OutputPath = wr.Path
	report.UsedFallback = wr.Fallback
	report.Rows = len(res.Rows)

	if err := p.metricsOut.WriteMetrics(ctx, res.Metrics); err != nil {
		p.metrics.RecordError("write_metrics")
		return RunStatusFailed, fmt.Errorf("write metrics: %w", err)
	}
	report.MetricsPath = p.metricsPath

	for _, m := range p.mirrors {
		if _, err := m.WriteForecast(ctx, res.Rows); err != nil {
			p.metrics.RecordError("mirror_forecast")
			l.Warn("mirror forecast write failed", applogger.Error(err))
			continue
		}
		if err := m.WriteMetrics(ctx, res.Metrics); err != nil {
			p.metrics.RecordError("mirror_metrics")
			l.Warn("mirror metrics write failed", applogger.Error(err))
		}
	}

	if report.UsedFallback {
		return RunStatusOnFallback, nil
	}
	return RunStatusOK, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordGroupOutcome(models.OutcomeKind) {}
func (nopMetrics) RecordGroupMAPE(string, float64)       {}
func (nopMetrics) RecordRun(string, float64)             {}
func (nopMetrics) RecordError(string)                    {}
func (nopMetrics) RecordLatency(string, float64)         {}
