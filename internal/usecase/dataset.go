package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	domsvc "DeskCast/internal/domain/service"
	"DeskCast/pkg/cache"
	applogger "DeskCast/pkg/logger"
)

// ErrDatasetNotLoaded is returned by every read while no artifact has been loaded.
var ErrDatasetNotLoaded = errors.New("forecast dataset not loaded")

const kpiCachePrefix = "deskcast:kpis"

// artifactStat reports the mod time and path of the newest artifact without reading it.
type artifactStat interface {
	ModTime() (time.Time, string, error)
}

// ReloadEvent is pushed to subscribers after a successful reload.
type ReloadEvent struct {
	RunID    string    `json:"run_id,omitempty"`
	Path     string    `json:"artifact_path"`
	Rows     int       `json:"records_loaded"`
	LastDate string    `json:"last_date"`
	LoadedAt time.Time `json:"loaded_at"`
}

type snapshot struct {
	rows      []models.OutputRow
	path      string
	modTime   time.Time
	loadedAt  time.Time
	runID     string
	modelMAPE float64
	lastDate  time.Time
}

// DatasetOption configures Dataset.
type DatasetOption func(*Dataset)

// WithMetricsReader lets the dataset report the mean MAPE of the metrics artifact.
func WithMetricsReader(r domrepo.MetricsReader) DatasetOption {
	return func(d *Dataset) { d.metricsIn = r }
}

// WithKPIProvider sets where SLA and TTR figures come from.
func WithKPIProvider(p domsvc.KPIProvider) DatasetOption {
	return func(d *Dataset) { d.kpis = p }
}

// WithResponseCache caches KPI payloads for ttl.
func WithResponseCache(c cache.Service, ttl time.Duration) DatasetOption {
	return func(d *Dataset) {
		d.cache = c
		d.cacheTTL = ttl
	}
}

func WithDatasetLogger(l *applogger.Logger) DatasetOption {
	return func(d *Dataset) {
		if l != nil {
			d.l = l
		}
	}
}

func WithDatasetMetrics(m domrepo.Metrics) DatasetOption {
	return func(d *Dataset) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dataset is the in-memory read model of the forecast artifact.
type Dataset struct {
	reader    domrepo.ForecastReader
	stat      artifactStat
	metricsIn domrepo.MetricsReader
	kpis      domsvc.KPIProvider
	cache     cache.Service
	cacheTTL  time.Duration
	metrics   domrepo.Metrics
	l         *applogger.Logger

	reloadMu sync.Mutex
	mu       sync.RWMutex
	snap     *snapshot

	subMu sync.Mutex
	subs  map[chan ReloadEvent]struct{}
}

func NewDataset(reader domrepo.ForecastReader, opts ...DatasetOption) *Dataset {
	d := &Dataset{
		reader:  reader,
		metrics: nopMetrics{},
		l:       applogger.Nop(),
		subs:    make(map[chan ReloadEvent]struct{}),
	}
	if s, ok := reader.(artifactStat); ok {
		d.stat = s
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reload reads the newest artifact and swaps it in. runID tags the snapshot
// when the reload was triggered by a run event. On failure the previous
// snapshot stays served.
func (d *Dataset) Reload(ctx context.Context, runID string) error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()
	return d.reload(ctx, runID)
}

func (d *Dataset) reload(ctx context.Context, runID string) error {
	start := time.Now()
	var modTime time.Time
	if d.stat != nil {
		if mt, _, err := d.stat.ModTime(); err == nil {
			modTime = mt
		}
	}

	rows, path, err := d.reader.ReadForecast(ctx)
	d.metrics.RecordLatency("dataset_reload", time.Since(start).Seconds())
	if err != nil {
		d.metrics.RecordError("dataset_reload")
		d.l.Warn("dataset reload failed", applogger.Error(err))
		return fmt.Errorf("reload dataset: %w", err)
	}

	s := &snapshot{
		rows:     rows,
		path:     path,
		modTime:  modTime,
		loadedAt: time.Now().UTC(),
		runID:    runID,
	}
	for _, r := range rows {
		if r.Date.After(s.lastDate) {
			s.lastDate = r.Date
		}
	}
	if d.metricsIn != nil {
		if ms, err := d.metricsIn.ReadMetrics(ctx); err == nil {
			s.modelMAPE = meanMAPE(ms)
		} else {
			d.l.Warn("metrics artifact unavailable", applogger.Error(err))
		}
	}

	d.mu.Lock()
	d.snap = s
	d.mu.Unlock()

	if d.cache != nil {
		if err := d.cache.DeleteByPattern(ctx, cache.BuildPattern(kpiCachePrefix)); err != nil {
			d.l.Warn("kpi cache invalidation failed", applogger.Error(err))
		}
	}

	ev := ReloadEvent{RunID: runID, Path: path, Rows: len(rows), LastDate: formatDay(s.lastDate), LoadedAt: s.loadedAt}
	d.broadcast(ev)
	d.l.Info("dataset reloaded",
		applogger.String("path", path),
		applogger.String("run_id", runID),
		applogger.Int("rows", len(rows)),
		applogger.Float64("model_mape_pct", s.modelMAPE),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

// Refresh reloads when the artifact on disk is newer than the loaded one, or
// when nothing is loaded yet.
func (d *Dataset) Refresh(ctx context.Context) error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	d.mu.RLock()
	cur := d.snap
	d.mu.RUnlock()

	if cur != nil {
		if d.stat == nil {
			return nil
		}
		mt, path, err := d.stat.ModTime()
		if err != nil || (!mt.After(cur.modTime) && path == cur.path) {
			return nil
		}
	}
	return d.reload(ctx, "")
}

func (d *Dataset) current(ctx context.Context) (*snapshot, error) {
	_ = d.Refresh(ctx)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.snap == nil {
		return nil, ErrDatasetNotLoaded
	}
	return d.snap, nil
}

// Status describes the loaded dataset.
func (d *Dataset) Status(ctx context.Context) (models.StatusResponse, error) {
	s, err := d.current(ctx)
	if err != nil {
		return models.StatusResponse{Status: "not_loaded"}, err
	}
	return models.StatusResponse{
		Status:        "ready",
		RecordsLoaded: len(s.rows),
		ModelMAPE:     s.modelMAPE,
		LastDate:      formatDay(s.lastDate),
		ArtifactPath:  s.path,
	}, nil
}

// Query returns the rows matching q, in artifact order.
func (d *Dataset) Query(ctx context.Context, q models.ForecastQuery) (models.DatasetResponse, error) {
	s, err := d.current(ctx)
	if err != nil {
		return models.DatasetResponse{}, err
	}
	out := make([]models.OutputRow, 0, len(s.rows))
	for _, r := range s.rows {
		if q.Category != "" && r.Group.Category != q.Category {
			continue
		}
		if q.EntityID != nil && r.Group.EntityID != *q.EntityID {
			continue
		}
		if q.Horizon != nil && r.Horizon != *q.Horizon {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return models.DatasetResponse{
		Metadata: models.DatasetMetadata{Description: "Unified history and forecast", Count: len(out), RunID: s.runID},
		Data:     out,
	}, nil
}

// Sample returns the first n rows of the artifact.
func (d *Dataset) Sample(ctx context.Context, n int) (models.DatasetResponse, error) {
	s, err := d.current(ctx)
	if err != nil {
		return models.DatasetResponse{}, err
	}
	if n > len(s.rows) {
		n = len(s.rows)
	}
	if n < 0 {
		n = 0
	}
	rows := make([]models.OutputRow, n)
	copy(rows, s.rows[:n])
	return models.DatasetResponse{
		Metadata: models.DatasetMetadata{Description: "Sample rows", Count: n, RunID: s.runID},
		Data:     rows,
	}, nil
}

// KPIs merges the service-level figures with the loaded model MAPE.
func (d *Dataset) KPIs(ctx context.Context) (models.KPISummary, error) {
	s, err := d.current(ctx)
	if err != nil {
		return models.KPISummary{}, err
	}
	key := cache.GenerateKey(kpiCachePrefix, s.path, s.loadedAt.UnixNano())
	var out models.KPISummary
	if d.cache != nil {
		if err := d.cache.Get(ctx, key, &out); err == nil {
			return out, nil
		}
	}

	if d.kpis != nil {
		out, err = d.kpis.KPIs(ctx)
		if err != nil {
			d.metrics.RecordError("kpi_provider")
			d.l.Warn("kpi provider failed", applogger.Error(err))
		}
	}
	out.ModelMAPE = s.modelMAPE

	if d.cache != nil && err == nil {
		if cerr := d.cache.Set(ctx, key, out, d.cacheTTL); cerr != nil {
			d.l.Warn("kpi cache write failed", applogger.Error(cerr))
		}
	}
	return out, nil
}

// Subscribe registers for reload events. The returned cancel func must be called.
func (d *Dataset) Subscribe() (<-chan ReloadEvent, func()) {
	ch := make(chan ReloadEvent, 4)
	d.subMu.Lock()
	d.subs[ch] = struct{}{}
	d.subMu.Unlock()
	return ch, func() {
		d.subMu.Lock()
		if _, ok := d.subs[ch]; ok {
			delete(d.subs, ch)
			close(ch)
		}
		d.subMu.Unlock()
	}
}

// broadcast drops the event for subscribers whose buffer is full.
func (d *Dataset) broadcast(ev ReloadEvent) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func meanMAPE(ms []models.GroupMetric) float64 {
	if len(ms) == 0 {
		return 0
	}
	v := make([]float64, len(ms))
	for i, m := range ms {
		v[i] = m.MAPE
	}
	return stat.Mean(v, nil)
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}
