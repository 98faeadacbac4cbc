package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeskCast/internal/domain/models"
	"DeskCast/pkg/cache"
	pkgkafka "DeskCast/pkg/kafka"
)

var day0 = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

func sampleRows() []models.OutputRow {
	g := models.GroupKey{Category: "NETWORK_GENERAL", EntityID: 3}
	return []models.OutputRow{
		{Date: day0, Group: g, VolumeReal: fptr(4), P50: 4, P90: 4, AvgTTRHours: fptr(2.5)},
		{Date: day0.AddDate(0, 0, 1), Group: g, Horizon: 7, P50: 5, P90: 6, AvgTTRHours: fptr(2.5)},
		{Date: day0.AddDate(0, 0, 2), Group: g, Horizon: 7, P50: 3, P90: 4},
	}
}

func TestCSVFactStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts", "daily.csv")
	store := NewCSVFactStore(path, nil)
	facts := []models.DailyFact{
		{
			Date: day0, Group: models.GroupKey{Category: "LARK_GENERAL", EntityID: 0}, Volume: 3,
			AvgTTRHours: fptr(1.5), Calendar: models.Calendar{DayOfWeek: 0, Month: 1, Year: 2025}, IsHoliday: true,
		},
		{
			Date: day0.AddDate(0, 0, 5), Group: models.GroupKey{Category: "LARK_GENERAL", EntityID: 0}, Volume: 1,
			Calendar: models.Calendar{DayOfWeek: 5, IsWeekend: true, Month: 1, Year: 2025},
		},
	}
	require.NoError(t, store.SaveFacts(context.Background(), facts))

	got, err := store.LoadFacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, facts, got)
}

func TestCSVFactStoreAcceptsPandasExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily.csv")
	content := "date,normalized_category,entities_id,volume,avg_ttr_hours,day_of_week,is_weekend,month,year,is_holiday\n" +
		"2025-01-06 00:00:00,SOFTWARE_ERROR,2.0,7,,0,0,1,2025,0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := NewCSVFactStore(path, nil).LoadFacts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, day0, got[0].Date)
	assert.Equal(t, models.GroupKey{Category: "SOFTWARE_ERROR", EntityID: 2}, got[0].Group)
	assert.Equal(t, 7.0, got[0].Volume)
	assert.Nil(t, got[0].AvgTTRHours)
}

func TestCSVFactStoreMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,volume\n2025-01-06,1\n"), 0o644))
	_, err := NewCSVFactStore(path, nil).LoadFacts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category")
}

func TestCSVForecastStoreWritesPrimary(t *testing.T) {
	dir := t.TempDir()
	locker := cache.NewMemoryCache()
	defer locker.Close()
	store := NewCSVForecastStore(filepath.Join(dir, "out.csv"), filepath.Join(dir, "out_v2.csv"), WithLocker(locker, time.Minute))

	res, err := store.WriteForecast(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, filepath.Join(dir, "out.csv"), res.Path)

	got, path, err := store.ReadForecast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Path, path)
	assert.Equal(t, sampleRows(), got)

	// Lock released after the write.
	ok, err := locker.TryLock(context.Background(), store.lockKey(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCSVForecastStoreFallsBackWhenLocked(t *testing.T) {
	dir := t.TempDir()
	locker := cache.NewMemoryCache()
	defer locker.Close()
	primary := filepath.Join(dir, "out.csv")
	store := NewCSVForecastStore(primary, filepath.Join(dir, "out_v2.csv"), WithLocker(locker, time.Minute))

	ok, err := locker.TryLock(context.Background(), store.lockKey(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := store.WriteForecast(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, filepath.Join(dir, "out_v2.csv"), res.Path)
	_, err = os.Stat(primary)
	assert.True(t, os.IsNotExist(err))

	got, path, err := store.ReadForecast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Path, path)
	assert.Len(t, got, 3)
}

func TestCSVForecastStoreReadsNewestArtifact(t *testing.T) {
	dir := t.TempDir()
	primary, fallback := filepath.Join(dir, "out.csv"), filepath.Join(dir, "out_v2.csv")
	require.NoError(t, writeOutputCSV(context.Background(), primary, sampleRows()))
	require.NoError(t, writeOutputCSV(context.Background(), fallback, sampleRows()[:1]))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(primary, old, old))

	store := NewCSVForecastStore(primary, fallback)
	got, path, err := store.ReadForecast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fallback, path)
	assert.Len(t, got, 1)
}

func TestCSVForecastStoreMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	store := NewCSVForecastStore(filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv"))
	_, _, err := store.ReadForecast(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCSVMetricsStoreRoundTrip(t *testing.T) {
	store := NewCSVMetricsStore(filepath.Join(t.TempDir(), "metrics.csv"))
	in := []models.GroupMetric{
		{Group: models.GroupKey{Category: "A", EntityID: 1}, ModelID: "gbrt_grid_v1", Horizon: 30, MAPE: 12.34, Status: models.StatusPass},
		{Group: models.GroupKey{Category: "B", EntityID: 2}, ModelID: "gbrt_grid_v1", Horizon: 30, MAPE: 100, Status: models.StatusFail},
	}
	require.NoError(t, store.WriteMetrics(context.Background(), in))
	got, err := store.ReadMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestSQLiteLedgerRecordsRuns(t *testing.T) {
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger", "runs.db"))
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	first := models.RunReport{
		RunID:      "run-1",
		StartedAt:  day0,
		FinishedAt: day0.Add(time.Minute),
		OutputPath: "out.csv",
		Modeled:    1,
		Skipped:    1,
		MeanMAPE:   8.5,
		TargetMet:  true,
		Outcomes: []models.GroupOutcome{
			{Group: models.GroupKey{Category: "B", EntityID: 1}, Kind: models.OutcomeSkipped, Reason: "insufficient history for modeling", Rows: 10},
			{Group: models.GroupKey{Category: "A", EntityID: 1}, Kind: models.OutcomeModeled, Rows: 100, MAPE: 8.5},
		},
	}
	second := models.RunReport{
		RunID:        "run-2",
		StartedAt:    day0.Add(24 * time.Hour),
		FinishedAt:   day0.Add(25 * time.Hour),
		UsedFallback: true,
		Error:        "no groups modeled",
	}
	require.NoError(t, ledger.RecordRun(ctx, first))
	require.NoError(t, ledger.RecordRun(ctx, second))

	runs, err := ledger.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.True(t, runs[0].UsedFallback)
	assert.Equal(t, "no groups modeled", runs[0].Error)
	assert.Empty(t, runs[0].Outcomes)

	got := runs[1]
	assert.Equal(t, first.StartedAt, got.StartedAt)
	assert.True(t, got.TargetMet)
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, "A", got.Outcomes[0].Group.Category)
	assert.Equal(t, models.OutcomeModeled, got.Outcomes[0].Kind)
	assert.Equal(t, models.OutcomeSkipped, got.Outcomes[1].Kind)

	// Re-recording replaces instead of duplicating.
	require.NoError(t, ledger.RecordRun(ctx, first))
	runs, err = ledger.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].RunID)
}

type fakeProducer struct {
	published []string
	batches   map[string][]pkgkafka.Message
	headers   map[string]string
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, _ interface{}, headers map[string]string) error {
	f.published = append(f.published, topic+"|"+string(key))
	f.headers = headers
	return nil
}

func (f *fakeProducer) PublishBatch(_ context.Context, topic string, messages []pkgkafka.Message) error {
	if f.batches == nil {
		f.batches = map[string][]pkgkafka.Message{}
	}
	f.batches[topic] = append(f.batches[topic], messages...)
	f.published = append(f.published, topic)
	return nil
}

func TestKafkaEventPublisherOrdersOutcomesFirst(t *testing.T) {
	fp := &fakeProducer{}
	pub := newKafkaEventPublisher(fp, "deskcast.runs")
	outcomes := []models.GroupOutcome{
		{Group: models.GroupKey{Category: "A", EntityID: 1}, Kind: models.OutcomeModeled},
		{Group: models.GroupKey{Category: "B", EntityID: 2}, Kind: models.OutcomeFailed, Reason: "boom"},
	}

	err := pub.PublishRunCompleted(context.Background(), models.RunEvent{RunID: "r1"}, outcomes)
	require.NoError(t, err)
	assert.Equal(t, []string{"deskcast.runs.outcomes", "deskcast.runs|r1"}, fp.published)
	require.Len(t, fp.batches["deskcast.runs.outcomes"], 2)
	assert.Equal(t, []byte("B/2"), fp.batches["deskcast.runs.outcomes"][1].Key)
	assert.Equal(t, "r1", fp.headers[pkgkafka.HeaderRunID])
}

func TestNumericPtrDropsTimestamps(t *testing.T) {
	assert.Nil(t, numericPtr(sql.NullString{String: "2025-01-06 10:00:00", Valid: true}))
	assert.Nil(t, numericPtr(sql.NullString{}))
	assert.Equal(t, 3600.0, *numericPtr(sql.NullString{String: " 3600 ", Valid: true}))
}

func TestSchemaCoversEveryTable(t *testing.T) {
	stmts := Schema("deskcast")
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[1], "deskcast."+TableDailyFacts)
	assert.Contains(t, stmts[2], "deskcast."+TableForecastOutput)
	assert.Contains(t, stmts[3], "deskcast."+TableModelMetrics)
}

func TestSQLiteLedgerRejectsCorruptTimestamp(t *testing.T) {
	ledger, err := NewSQLiteLedger(":memory:")
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	_, err = ledger.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, finished_at) VALUES (?, ?, ?)`,
		"run-bad", "yesterday", day0.Format(time.RFC3339Nano))
	require.NoError(t, err)

	runs, err := ledger.RecentRuns(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-bad")
	assert.Contains(t, err.Error(), "started_at")
	assert.Nil(t, runs)
}
