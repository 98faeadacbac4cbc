package server

import (
	"context"
	"errors"
	"fmt"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	"DeskCast/internal/usecase"
	"DeskCast/pkg/config"
	xhttp "DeskCast/pkg/http"
	pkgkafka "DeskCast/pkg/kafka"
	applogger "DeskCast/pkg/logger"
)

// ErrETLDisabled is returned by RunETL when no GLPI source is configured.
var ErrETLDisabled = errors.New("etl disabled: glpi.dsn is not set")

// App holds the wired components and drives the batch and serve lifecycles.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	pipeline   *usecase.Pipeline
	etl        *usecase.ETL
	dataset    *usecase.Dataset
	ledger     domrepo.RunLedger
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	scheduler  *usecase.Scheduler
}

// Components groups everything App needs. Optional parts may be nil.
type Components struct {
	Pipeline   *usecase.Pipeline
	ETL        *usecase.ETL
	Dataset    *usecase.Dataset
	Ledger     domrepo.RunLedger
	HTTPServer *xhttp.Server
	Consumer   *pkgkafka.Consumer
	Scheduler  *usecase.Scheduler
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		l:          l,
		pipeline:   c.Pipeline,
		etl:        c.ETL,
		dataset:    c.Dataset,
		ledger:     c.Ledger,
		httpServer: c.HTTPServer,
		consumer:   c.Consumer,
		scheduler:  c.Scheduler,
	}
}

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.l }

// RunForecast executes one forecast pipeline run.
func (a *App) RunForecast(ctx context.Context) (models.RunReport, error) {
	return a.pipeline.Run(ctx)
}

// RunETL rebuilds the daily fact table from GLPI.
func (a *App) RunETL(ctx context.Context) (usecase.ETLReport, error) {
	if a.etl == nil {
		return usecase.ETLReport{}, ErrETLDisabled
	}
	return a.etl.Run(ctx)
}

// RecentRuns lists the newest ledger entries.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	return a.ledger.RecentRuns(ctx, limit)
}

// Serve runs the read API until ctx is cancelled. With withScheduler the
// cron scheduler runs in the same process.
func (a *App) Serve(ctx context.Context, withScheduler bool) error {
	if a.httpServer == nil {
		return fmt.Errorf("serve: http server not configured")
	}

	if err := a.dataset.Reload(ctx, ""); err != nil {
		// The API answers 503 until the first artifact appears.
		a.l.Warn("initial dataset load failed", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}
	if withScheduler {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		// Consumer and scheduler may already be running.
		return errors.Join(err, a.shutdown(withScheduler))
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown(withScheduler)
}

// Schedule runs the cron scheduler alone until ctx is cancelled.
func (a *App) Schedule(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.l.Info("scheduler running", applogger.String("cron", a.cfg.Schedule.Cron))
	<-ctx.Done()
	a.scheduler.Stop()
	a.l.Info("scheduler stopped")
	return nil
}

// shutdown gracefully stops all services.
func (a *App) shutdown(withScheduler bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if withScheduler {
		a.scheduler.Stop()
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
