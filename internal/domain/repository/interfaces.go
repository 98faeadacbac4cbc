package repository

import (
	"context"
	"time"

	"DeskCast/internal/domain/models"
)

// FactSource loads the daily fact table.
type FactSource interface {
	LoadFacts(ctx context.Context) ([]models.DailyFact, error)
}

// FactSink persists the daily fact table produced by the ETL.
type FactSink interface {
	SaveFacts(ctx context.Context, facts []models.DailyFact) error
}

// TicketSource extracts raw tickets opened at or after since.
type TicketSource interface {
	ExtractTickets(ctx context.Context, since time.Time) ([]models.Ticket, error)
}

// WriteResult tells where an artifact ended up.
type WriteResult struct {
	Path     string
	Fallback bool
}

// ForecastWriter replaces the unified forecast artifact.
type ForecastWriter interface {
	WriteForecast(ctx context.Context, rows []models.OutputRow) (WriteResult, error)
}

// ForecastReader loads the most recent unified forecast artifact.
type ForecastReader interface {
	ReadForecast(ctx context.Context) ([]models.OutputRow, string, error)
}

// MetricsWriter replaces the per-group accuracy artifact.
type MetricsWriter interface {
	WriteMetrics(ctx context.Context, metrics []models.GroupMetric) error
}

// MetricsReader loads the per-group accuracy artifact.
type MetricsReader interface {
	ReadMetrics(ctx context.Context) ([]models.GroupMetric, error)
}

// Locker guards a shared artifact location. pkg/cache.Service satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RunLedger keeps the history of pipeline runs.
type RunLedger interface {
	RecordRun(ctx context.Context, report models.RunReport) error
	RecentRuns(ctx context.Context, limit int) ([]models.RunReport, error)
	Close() error
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, ev models.RunEvent, outcomes []models.GroupOutcome) error
}

// Metrics records pipeline and read-side telemetry.
type Metrics interface {
	RecordGroupOutcome(kind models.OutcomeKind)
	RecordGroupMAPE(category string, mape float64)
	RecordRun(status string, seconds float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
