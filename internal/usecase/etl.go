package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	"DeskCast/internal/services/etl"
	applogger "DeskCast/pkg/logger"
	"DeskCast/pkg/util"
)

// ErrNoTickets is returned when extraction yields nothing to aggregate.
var ErrNoTickets = errors.New("no tickets extracted")

// ETLReport summarizes one extraction.
type ETLReport struct {
	Since   time.Time
	Tickets int
	Facts   int
	Groups  int
}

// ETL extracts tickets, aggregates them into daily facts and stores the facts.
type ETL struct {
	source        domrepo.TicketSource
	transformer   *etl.Transformer
	sinks         []domrepo.FactSink
	historyMonths int
	metrics       domrepo.Metrics
	l             *applogger.Logger
	now           func() time.Time
}

// NewETL wires the extraction. The first sink is authoritative; the rest are mirrors.
func NewETL(source domrepo.TicketSource, transformer *etl.Transformer, historyMonths int, metrics domrepo.Metrics, l *applogger.Logger, sinks ...domrepo.FactSink) *ETL {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ETL{
		source:        source,
		transformer:   transformer,
		sinks:         sinks,
		historyMonths: historyMonths,
		metrics:       metrics,
		l:             l,
		now:           time.Now,
	}
}

// Since is the first day extracted: 30 days per configured month before today.
func (e *ETL) Since() time.Time {
	return util.Day(e.now().UTC()).AddDate(0, 0, -30*e.historyMonths)
}

func (e *ETL) Run(ctx context.Context) (ETLReport, error) {
	rep := ETLReport{Since: e.Since()}
	if len(e.sinks) == 0 {
		return rep, fmt.Errorf("etl: no fact sink configured")
	}

	start := time.Now()
	tickets, err := e.source.ExtractTickets(ctx, rep.Since)
	e.metrics.RecordLatency("extract_tickets", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordError("extract_tickets")
		return rep, fmt.Errorf("extract: %w", err)
	}
	rep.Tickets = len(tickets)
	if len(tickets) == 0 {
		return rep, ErrNoTickets
	}

	facts := e.transformer.Transform(tickets)
	rep.Facts = len(facts)
	rep.Groups = countGroups(facts)

	if err := e.sinks[0].SaveFacts(ctx, facts); err != nil {
		e.metrics.RecordError("save_facts")
		return rep, fmt.Errorf("save facts: %w", err)
	}
	for _, s := range e.sinks[1:] {
		if err := s.SaveFacts(ctx, facts); err != nil {
			e.metrics.RecordError("mirror_facts")
			e.l.Warn("mirror fact save failed", applogger.Error(err))
		}
	}

	e.l.Info("etl completed",
		applogger.Date("since", rep.Since),
		applogger.Int("tickets", rep.Tickets),
		applogger.Int("facts", rep.Facts),
		applogger.Int("groups", rep.Groups),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return rep, nil
}

func countGroups(facts []models.DailyFact) int {
	seen := make(map[models.GroupKey]struct{})
	for _, f := range facts {
		seen[f.Group] = struct{}{}
	}
	return len(seen)
}
