package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeskCast/internal/domain/models"
	"DeskCast/internal/repository"
	"DeskCast/internal/service/ratelimit"
	"DeskCast/internal/services/kpi"
	"DeskCast/internal/usecase"
)

var day0 = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

type envelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func testRows() []models.OutputRow {
	v := 4.0
	ttr := 2.5
	g := models.GroupKey{Category: "NETWORK_GENERAL", EntityID: 3}
	rows := []models.OutputRow{{Date: day0, Group: g, VolumeReal: &v, P50: 4, P90: 4, AvgTTRHours: &ttr}}
	for i := 1; i <= 7; i++ {
		rows = append(rows, models.OutputRow{Date: day0.AddDate(0, 0, i), Group: g, Horizon: 7, P50: 5, P90: 6, AvgTTRHours: &ttr})
	}
	return rows
}

func newDataset(t *testing.T, rows []models.OutputRow) *usecase.Dataset {
	t.Helper()
	dir := t.TempDir()
	store := repository.NewCSVForecastStore(filepath.Join(dir, "out.csv"), filepath.Join(dir, "out_v2.csv"))
	metrics := repository.NewCSVMetricsStore(filepath.Join(dir, "metrics.csv"))
	if rows != nil {
		_, err := store.WriteForecast(context.Background(), rows)
		require.NoError(t, err)
		require.NoError(t, metrics.WriteMetrics(context.Background(), []models.GroupMetric{
			{Group: rows[0].Group, ModelID: "gbrt_grid_v1", Horizon: 30, MAPE: 12.5, Status: models.StatusPass},
		}))
	}
	return usecase.NewDataset(store,
		usecase.WithMetricsReader(metrics),
		usecase.WithKPIProvider(kpi.NewStaticProvider(95.5, 5.2)),
	)
}

func newEcho(h *ForecastHandler) *echo.Echo {
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRootIsOnline(t *testing.T) {
	e := newEcho(NewForecastHandler(nil, newDataset(t, nil)))
	rec := get(e, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "online")
}

func TestUnloadedDatasetIs503(t *testing.T) {
	e := newEcho(NewForecastHandler(nil, newDataset(t, nil)))
	for _, path := range []string{"/status", "/forecast", "/forecast/sample", "/kpis"} {
		rec := get(e, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "ERR_UNAVAILABLE", path)
	}
}

func TestStatusReportsLoadedDataset(t *testing.T) {
	e := newEcho(NewForecastHandler(nil, newDataset(t, testRows())))
	rec := get(e, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope[models.StatusResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Data.Status)
	assert.Equal(t, 8, body.Data.RecordsLoaded)
	assert.Equal(t, 12.5, body.Data.ModelMAPE)
	assert.Equal(t, "2025-01-13", body.Data.LastDate)
}

func TestForecastListsAndFilters(t *testing.T) {
	e := newEcho(NewForecastHandler(nil, newDataset(t, testRows())))

	rec := get(e, "/forecast")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=15", rec.Header().Get(echo.HeaderCacheControl))
	var body envelope[models.DatasetResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 8, body.Data.Metadata.Count)
	require.Len(t, body.Data.Data, 8)
	assert.Equal(t, day0, body.Data.Data[0].Date)
	assert.Contains(t, rec.Body.String(), `"date":"2025-01-06"`)
	assert.Contains(t, rec.Body.String(), `"volume_real":null`)

	rec = get(e, "/forecast?horizon=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Metadata.Count)

	rec = get(e, "/forecast?category=OTHER")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Data.Data)
}

func TestForecastRejectsBadQuery(t *testing.T) {
	e := newEcho(NewForecastHandler(nil, newDataset(t, testRows())))

	rec := get(e, "/forecast?horizon=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_INVALID_PARAM")

	rec = get(e, "/forecast?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_GTE")
}

func TestSampleAndKPIs(t *testing.T) {
	e := newEcho(NewForecastHandler(nil, newDataset(t, testRows())))

	rec := get(e, "/forecast/sample")
	require.Equal(t, http.StatusOK, rec.Code)
	var sample envelope[models.DatasetResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sample))
	assert.Len(t, sample.Data.Data, 5)

	rec = get(e, "/kpis")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"status":200,"message":"OK","data":{"SLA_COMPLIANCE":95.5,"TTR_AVERAGE":5.2,"MODEL_MAPE":12.5}}`,
		rec.Body.String())
}

func TestRateLimitPerClient(t *testing.T) {
	e := newEcho(NewForecastHandler(nil, newDataset(t, testRows()), WithRateLimiter(ratelimit.New(0.001, 1))))

	assert.Equal(t, http.StatusOK, get(e, "/status").Code)
	rec := get(e, "/status")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_RATE_LIMITED")
	// The root route is not limited.
	assert.Equal(t, http.StatusOK, get(e, "/").Code)
}

func TestRunsListsLedger(t *testing.T) {
	ledger, err := repository.NewSQLiteLedger(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer ledger.Close()
	require.NoError(t, ledger.RecordRun(context.Background(), models.RunReport{RunID: "r1", StartedAt: day0, FinishedAt: day0}))

	e := newEcho(NewForecastHandler(nil, newDataset(t, nil), WithRunLedger(ledger)))
	rec := get(e, "/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"r1"`)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	assert.Equal(t, http.StatusBadRequest, get(e, "/runs?limit=0").Code)
}

func TestUpdatesFeedPushesReloads(t *testing.T) {
	ds := newDataset(t, testRows())
	require.NoError(t, ds.Reload(context.Background(), "run-6"))
	hub := NewUpdatesHub(ds, nil)
	srv := httptest.NewServer(newEcho(NewForecastHandler(nil, ds, WithUpdates(hub))))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/updates"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg UpdateMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	require.NotNil(t, msg.Status)
	assert.Equal(t, 8, msg.Status.RecordsLoaded)

	require.NoError(t, ds.Reload(context.Background(), "run-7"))
	msg = UpdateMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "reload", msg.Type)
	require.NotNil(t, msg.Reload)
	assert.Equal(t, "run-7", msg.Reload.RunID)
	assert.Equal(t, 8, msg.Reload.Rows)
}
