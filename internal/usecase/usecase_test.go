package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	"DeskCast/internal/repository"
	"DeskCast/internal/services/etl"
	"DeskCast/internal/services/forecast"
	"DeskCast/internal/services/kpi"
	"DeskCast/pkg/cache"
)

var day0 = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func series(n int, cat string) []models.DailyFact {
	out := make([]models.DailyFact, n)
	for i := range out {
		v := 10.0
		if i%7 == 0 {
			v = 15
		}
		out[i] = models.DailyFact{
			Date:   day0.AddDate(0, 0, i),
			Group:  models.GroupKey{Category: cat, EntityID: 1},
			Volume: v,
		}
	}
	return out
}

func smallEngine() *forecast.Assembler {
	return forecast.NewAssembler(forecast.NewConfig(
		forecast.WithGrid(forecast.Grid{LearningRates: []float64{0.1}, TreeCounts: []int{20}, MaxDepths: []int{3}}, 1),
	))
}

type staticFacts struct {
	facts []models.DailyFact
	err   error
}

func (s staticFacts) LoadFacts(context.Context) ([]models.DailyFact, error) { return s.facts, s.err }

type recordingMetrics struct {
	nopMetrics
	mu   sync.Mutex
	runs []string
	errs []string
}

func (m *recordingMetrics) RecordRun(status string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, status)
}

func (m *recordingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, kind)
}

type recordingEvents struct {
	events   []models.RunEvent
	outcomes int
}

func (r *recordingEvents) PublishRunCompleted(_ context.Context, ev models.RunEvent, outcomes []models.GroupOutcome) error {
	r.events = append(r.events, ev)
	r.outcomes += len(outcomes)
	return nil
}

type failingMirror struct{}

func (failingMirror) WriteForecast(context.Context, []models.OutputRow) (domrepo.WriteResult, error) {
	return domrepo.WriteResult{}, errors.New("mirror down")
}

func (failingMirror) WriteMetrics(context.Context, []models.GroupMetric) error { return nil }

type fixture struct {
	dir      string
	output   *repository.CSVForecastStore
	metrics  *repository.CSVMetricsStore
	ledger   *repository.SQLiteLedger
	events   *recordingEvents
	recorder *recordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	ledger, err := repository.NewSQLiteLedger(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return &fixture{
		dir:      dir,
		output:   repository.NewCSVForecastStore(filepath.Join(dir, "out.csv"), filepath.Join(dir, "out_v2.csv")),
		metrics:  repository.NewCSVMetricsStore(filepath.Join(dir, "metrics.csv")),
		ledger:   ledger,
		events:   &recordingEvents{},
		recorder: &recordingMetrics{},
	}
}

func (f *fixture) pipeline(source staticFacts, opts ...PipelineOption) *Pipeline {
	opts = append([]PipelineOption{
		WithLedger(f.ledger),
		WithEventPublisher(f.events),
		WithPipelineMetrics(f.recorder),
	}, opts...)
	p := NewPipeline(source, smallEngine(), f.output, f.metrics, opts...)
	p.newID = func() string { return "run-1" }
	return p
}

func TestPipelineRunWritesArtifactsAndRecords(t *testing.T) {
	f := newFixture(t)
	facts := append(series(100, "A"), series(100, "B")...)
	p := f.pipeline(staticFacts{facts: facts}, WithMirror(failingMirror{}))

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, 2, rep.Modeled)
	assert.Equal(t, 2*(100+7+14+30), rep.Rows)
	assert.Equal(t, filepath.Join(f.dir, "out.csv"), rep.OutputPath)
	assert.False(t, rep.UsedFallback)
	assert.Equal(t, filepath.Join(f.dir, "metrics.csv"), rep.MetricsPath)
	assert.Equal(t, rep.MeanMAPE <= 15, rep.TargetMet)
	assert.Empty(t, rep.Error)

	rows, _, err := f.output.ReadForecast(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, rep.Rows)
	ms, err := f.metrics.ReadMetrics(context.Background())
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, "run-1", f.events.events[0].RunID)
	assert.Equal(t, 2, f.events.outcomes)

	runs, err := f.ledger.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Outcomes, 2)

	assert.Equal(t, []string{RunStatusOK}, f.recorder.runs)
	assert.Contains(t, f.recorder.errs, "mirror_forecast")
}

func TestPipelineNoGroupsModeledWritesNothing(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticFacts{facts: append(series(10, "A"), series(10, "B")...)})

	rep, err := p.Run(context.Background())
	require.ErrorIs(t, err, forecast.ErrNoGroupsModeled)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, "no groups modeled", rep.Error)

	_, err = os.Stat(filepath.Join(f.dir, "out.csv"))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, f.events.events)

	runs, err := f.ledger.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "no groups modeled", runs[0].Error)
	assert.Equal(t, []string{RunStatusNoGroups}, f.recorder.runs)
}

func TestPipelineLoadFailure(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticFacts{err: os.ErrNotExist})

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, []string{RunStatusFailed}, f.recorder.runs)
	assert.Contains(t, f.recorder.errs, "load_facts")
}

func TestPipelineRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(staticFacts{})
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
}

type staticTickets struct {
	tickets []models.Ticket
	since   time.Time
}

func (s *staticTickets) ExtractTickets(_ context.Context, since time.Time) ([]models.Ticket, error) {
	s.since = since
	return s.tickets, nil
}

type failingSink struct{}

func (failingSink) SaveFacts(context.Context, []models.DailyFact) error { return errors.New("sink down") }

func TestETLRunAggregatesAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.csv")
	hrs := 2.0
	src := &staticTickets{tickets: []models.Ticket{
		{ID: 1, OpenedAt: day0.Add(9 * time.Hour), CategoryPath: "Hardware > Printer", EntityID: 1, HoursToSolve: &hrs},
		{ID: 2, OpenedAt: day0.Add(11 * time.Hour), CategoryPath: "Hardware > Printer", EntityID: 1, HoursToSolve: &hrs},
		{ID: 3, OpenedAt: day0.AddDate(0, 0, 1), CategoryPath: "unknown", EntityID: 2},
	}}
	rec := &recordingMetrics{}
	job := NewETL(src, etl.NewTransformer(etl.NewCategoryMapper(etl.DefaultMapping(), ""), nil, nil), 12, rec, nil,
		repository.NewCSVFactStore(path, nil), failingSink{})
	job.now = func() time.Time { return time.Date(2025, 6, 30, 15, 0, 0, 0, time.UTC) }

	rep, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC), src.since)
	assert.Equal(t, 3, rep.Tickets)
	assert.Equal(t, 2, rep.Facts)
	assert.Equal(t, 2, rep.Groups)
	assert.Contains(t, rec.errs, "mirror_facts")

	facts, err := repository.NewCSVFactStore(path, nil).LoadFacts(context.Background())
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, 2.0, facts[0].Volume)
	assert.Equal(t, "OTHER", facts[1].Group.Category)
}

func TestETLNoTickets(t *testing.T) {
	job := NewETL(&staticTickets{}, etl.NewTransformer(nil, nil, nil), 1, nil, nil, failingSink{})
	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoTickets)
}

func writeArtifacts(t *testing.T, dir string, rows []models.OutputRow, ms []models.GroupMetric) (*repository.CSVForecastStore, *repository.CSVMetricsStore) {
	t.Helper()
	out := repository.NewCSVForecastStore(filepath.Join(dir, "out.csv"), filepath.Join(dir, "out_v2.csv"))
	met := repository.NewCSVMetricsStore(filepath.Join(dir, "metrics.csv"))
	if rows != nil {
		_, err := out.WriteForecast(context.Background(), rows)
		require.NoError(t, err)
	}
	if ms != nil {
		require.NoError(t, met.WriteMetrics(context.Background(), ms))
	}
	return out, met
}

func outputRows() []models.OutputRow {
	v := 4.0
	a := models.GroupKey{Category: "A", EntityID: 1}
	b := models.GroupKey{Category: "B", EntityID: 2}
	return []models.OutputRow{
		{Date: day0, Group: a, VolumeReal: &v, P50: 4, P90: 4},
		{Date: day0.AddDate(0, 0, 1), Group: a, Horizon: 7, P50: 5, P90: 6},
		{Date: day0.AddDate(0, 0, 1), Group: a, Horizon: 30, P50: 5, P90: 6},
		{Date: day0, Group: b, VolumeReal: &v, P50: 4, P90: 4},
		{Date: day0.AddDate(0, 0, 2), Group: b, Horizon: 30, P50: 3, P90: 4},
		{Date: day0.AddDate(0, 0, 3), Group: b, Horizon: 30, P50: 3, P90: 4},
	}
}

func TestDatasetNotLoaded(t *testing.T) {
	out, _ := writeArtifacts(t, t.TempDir(), nil, nil)
	d := NewDataset(out)

	st, err := d.Status(context.Background())
	assert.ErrorIs(t, err, ErrDatasetNotLoaded)
	assert.Equal(t, "not_loaded", st.Status)
	_, err = d.Query(context.Background(), models.ForecastQuery{})
	assert.ErrorIs(t, err, ErrDatasetNotLoaded)
	_, err = d.KPIs(context.Background())
	assert.ErrorIs(t, err, ErrDatasetNotLoaded)
}

func TestDatasetServesLoadedArtifact(t *testing.T) {
	dir := t.TempDir()
	ms := []models.GroupMetric{{MAPE: 10}, {MAPE: 20}}
	out, met := writeArtifacts(t, dir, outputRows(), ms)
	mc := cache.NewMemoryCache()
	defer mc.Close()
	d := NewDataset(out,
		WithMetricsReader(met),
		WithKPIProvider(kpi.NewStaticProvider(95.5, 5.2)),
		WithResponseCache(mc, time.Minute),
	)

	st, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", st.Status)
	assert.Equal(t, 6, st.RecordsLoaded)
	assert.Equal(t, 15.0, st.ModelMAPE)
	assert.Equal(t, "2025-01-09", st.LastDate)

	all, err := d.Query(context.Background(), models.ForecastQuery{})
	require.NoError(t, err)
	assert.Equal(t, 6, all.Metadata.Count)

	h := 30
	filtered, err := d.Query(context.Background(), models.ForecastQuery{Category: "B", Horizon: &h, Limit: 1})
	require.NoError(t, err)
	require.Len(t, filtered.Data, 1)
	assert.Equal(t, day0.AddDate(0, 0, 2), filtered.Data[0].Date)

	sample, err := d.Sample(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, sample.Data, 5)
	big, err := d.Sample(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, big.Data, 6)

	k, err := d.KPIs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.KPISummary{SLACompliance: 95.5, TTRAverage: 5.2, ModelMAPE: 15}, k)
	// Served from cache the second time.
	k2, err := d.KPIs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, k, k2)
}

func TestDatasetRefreshesOnNewerArtifact(t *testing.T) {
	dir := t.TempDir()
	out, _ := writeArtifacts(t, dir, outputRows()[:2], nil)
	d := NewDataset(out)
	events, cancel := d.Subscribe()
	defer cancel()

	st, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.RecordsLoaded)
	ev := <-events
	assert.Equal(t, 2, ev.Rows)

	_, err = out.WriteForecast(context.Background(), outputRows())
	require.NoError(t, err)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "out.csv"), future, future))

	st, err = d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, st.RecordsLoaded)
	ev = <-events
	assert.Equal(t, 6, ev.Rows)
}

func TestDatasetReloadHandler(t *testing.T) {
	out, _ := writeArtifacts(t, t.TempDir(), outputRows(), nil)
	d := NewDataset(out)
	h := NewDatasetReloadHandler("deskcast.runs", d, nil)
	assert.Equal(t, "deskcast.runs", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"run_id":"r-42","rows":6}`)))
	res, err := d.Query(context.Background(), models.ForecastQuery{})
	require.NoError(t, err)
	assert.Equal(t, "r-42", res.Metadata.RunID)

	assert.Error(t, h.Handle(context.Background(), []byte("{")))
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
}

func (c *countingRunner) Run(context.Context) (models.RunReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return models.RunReport{RunID: "x"}, nil
}

func TestSchedulerValidatesSpec(t *testing.T) {
	_, err := NewScheduler("every tuesday", &countingRunner{}, nil)
	assert.Error(t, err)
}

func TestSchedulerTickAndLifecycle(t *testing.T) {
	r := &countingRunner{}
	s, err := NewScheduler("0 3 * * *", r, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Tick()
	s.Stop()
	assert.Equal(t, 1, r.calls)

	// A stopped scheduler no longer runs the job.
	s.Tick()
	assert.Equal(t, 1, r.calls)
}
