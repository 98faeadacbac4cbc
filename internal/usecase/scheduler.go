package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"DeskCast/internal/domain/models"
	applogger "DeskCast/pkg/logger"
)

// Runner is one schedulable pipeline run.
type Runner interface {
	Run(ctx context.Context) (models.RunReport, error)
}

// Scheduler triggers the pipeline on a cron spec. A tick that fires while a run
// is still going is skipped.
type Scheduler struct {
	spec   string
	runner Runner
	cron   *cron.Cron
	l      *applogger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates spec, a standard five-field cron expression or a
// descriptor such as @daily.
func NewScheduler(spec string, runner Runner, l *applogger.Logger) (*Scheduler, error) {
	if l == nil {
		l = applogger.Nop()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{
		spec:   spec,
		runner: runner,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		l:      l,
	}, nil
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		s.cancel()
		s.cancel = nil
		return fmt.Errorf("add job: %w", err)
	}
	s.cron.Start()
	s.l.Info("scheduler started", applogger.String("spec", s.spec))
	return nil
}

// Tick runs the job once, as a scheduled firing would.
func (s *Scheduler) Tick() { s.tick() }

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	rep, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.l.Warn("scheduled run skipped", applogger.String("reason", err.Error()))
	case err != nil:
		s.l.Error("scheduled run failed", applogger.String("run_id", rep.RunID), applogger.Error(err))
	default:
		s.l.Info("scheduled run finished",
			applogger.String("run_id", rep.RunID),
			applogger.Int("modeled", rep.Modeled),
			applogger.Float64("mean_mape_pct", rep.MeanMAPE),
		)
	}
}

// Stop halts the cron loop, cancels an in-flight run and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.l.Info("scheduler stopped")
}
